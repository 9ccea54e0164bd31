// Catalog and audit HTTP handlers.
//
//   - POST /catalog/prune/plan   (what a prune would delete)
//   - POST /catalog/prune/apply  (delete in one transaction)
//   - GET  /audits/{kind}        (latest stored run)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-catalog-ingest/internal/catalog"
	"github.com/tbourn/go-catalog-ingest/internal/jobs"
)

// PruneRequest names the legacy records to remove.
type PruneRequest struct {
	ProductIDs []string `json:"productIds" example:"p-legacy-1"`
	PlantIDs   []string `json:"plantIds"   example:"plant-legacy-1"`
	OfferIDs   []string `json:"offerIds"   example:"o-legacy-1"`
}

func (r PruneRequest) targets() catalog.PruneTargets {
	return catalog.PruneTargets{ProductIDs: r.ProductIDs, PlantIDs: r.PlantIDs, OfferIDs: r.OfferIDs}
}

// bindPrune decodes and validates a prune request through the same rules
// the catalog.legacy_prune job applies.
func bindPrune(c *gin.Context) (catalog.PruneTargets, bool) {
	var req PruneRequest
	if !bindJSON(c, &req) {
		return catalog.PruneTargets{}, false
	}
	p := jobs.LegacyPrune{ProductIDs: req.ProductIDs, PlantIDs: req.PlantIDs, OfferIDs: req.OfferIDs}
	if err := p.Validate(); err != nil {
		failFrom(c, err)
		return catalog.PruneTargets{}, false
	}
	return req.targets(), true
}

// PlanPrune godoc
// @ID          planLegacyPrune
// @Summary     Plan a legacy prune
// @Description Expands the targets against the offer table without changing anything.
// @Tags        Catalog
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.PruneRequest  true  "Targets"
// @Success     200  {object} catalog.LegacyPrunePlan
// @Failure     400  {object} handlers.ErrorResponse "Validation failed"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /catalog/prune/plan [post]
func (h *Handlers) PlanPrune(c *gin.Context) {
	targets, good := bindPrune(c)
	if !good {
		return
	}
	plan, err := h.catalog.PlanLegacyPrune(c.Request.Context(), targets)
	if err != nil {
		failFrom(c, err)
		return
	}
	ok(c, http.StatusOK, plan)
}

// ApplyPrune godoc
// @ID          applyLegacyPrune
// @Summary     Apply a legacy prune
// @Description Deletes offers, products and plants in one transaction and refreshes the summaries of surviving products.
// @Tags        Catalog
// @Accept      json
// @Produce     json
// @Param       X-Actor  header  string  false "Operator name"  example(ops)
// @Param       body     body    handlers.PruneRequest  true  "Targets"
// @Success     200  {object} services.PruneResult
// @Failure     400  {object} handlers.ErrorResponse "Validation failed"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /catalog/prune/apply [post]
func (h *Handlers) ApplyPrune(c *gin.Context) {
	targets, good := bindPrune(c)
	if !good {
		return
	}
	res, err := h.catalog.ApplyLegacyPrune(c.Request.Context(), targets)
	if err != nil {
		failFrom(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}

// LatestAudit godoc
// @ID          latestAudit
// @Summary     Latest audit run
// @Tags        Audits
// @Produce     json
// @Param       kind  path  string  true  "Audit kind"  Enums(provenance, quality, regression)
// @Success     200  {object} domain.AuditRun
// @Failure     404  {object} handlers.ErrorResponse "Unknown kind or no run yet"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /audits/{kind} [get]
func (h *Handlers) LatestAudit(c *gin.Context) {
	run, err := h.audits.Latest(c.Request.Context(), jobs.AuditKind(c.Param("kind")))
	if err != nil {
		failFrom(c, err)
		return
	}
	ok(c, http.StatusOK, run)
}
