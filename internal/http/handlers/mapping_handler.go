// Mapping HTTP handlers.
//
//   - POST   /ingestion/{id}/mapping   (pin to a canonical record)
//   - DELETE /ingestion/{id}/mapping   (unmap and keep unmapped)
//   - GET    /ingestion/{id}/overrides (override history)
//
// The actor defaults to the X-Actor header; a reason is always required.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-catalog-ingest/internal/domain"
)

// MapEntityRequest is the JSON payload for a manual mapping.
type MapEntityRequest struct {
	CanonicalType string `json:"canonical_type" example:"offer"`
	CanonicalID   string `json:"canonical_id"   example:"0f8d7f7e-2c4b-4a7e-8a55-1a2b3c4d5e6f"`
	Actor         string `json:"actor,omitempty" example:"ops"`
	Reason        string `json:"reason"         example:"duplicate listing"`
}

// UnmapEntityRequest is the JSON payload for a manual unmap.
type UnmapEntityRequest struct {
	Actor  string `json:"actor,omitempty" example:"ops"`
	Reason string `json:"reason"          example:"wrong product"`
}

// OverrideHistoryResponse lists an entity's overrides, oldest first.
type OverrideHistoryResponse struct {
	Overrides []domain.MappingOverride `json:"overrides"`
}

// MapEntity godoc
// @ID          mapIngestionEntity
// @Summary     Pin an ingestion entity to a canonical record
// @Description Records a manual override and sets the entity's mapping. Later ingests keep it.
// @Tags        Mapping
// @Accept      json
// @Produce     json
//
// @Param       X-Actor  header  string  false "Operator name (default actor)"  example(ops)
// @Param       id       path    string  true  "Ingestion entity ID"
// @Param       body     body    handlers.MapEntityRequest  true  "Target"
//
// @Success     200  {object} domain.IngestionEntity
// @Failure     400  {object} handlers.ErrorResponse "Validation failed"
// @Failure     404  {object} handlers.ErrorResponse "Entity or target not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /ingestion/{id}/mapping [post]
func (h *Handlers) MapEntity(c *gin.Context) {
	var req MapEntityRequest
	if !bindJSON(c, &req) {
		return
	}
	e, err := h.mapping.MapIngestionEntityToCanonical(
		c.Request.Context(),
		c.Param("id"),
		strings.TrimSpace(req.CanonicalType),
		req.CanonicalID,
		actorOr(c, req.Actor),
		req.Reason,
	)
	if err != nil {
		failFrom(c, err)
		return
	}
	ok(c, http.StatusOK, e)
}

// UnmapEntity godoc
// @ID          unmapIngestionEntity
// @Summary     Unmap an ingestion entity
// @Description Clears the mapping and keeps the entity unmapped until it is mapped again. The reason may be sent as JSON or as the reason query parameter.
// @Tags        Mapping
// @Accept      json
// @Produce     json
//
// @Param       X-Actor  header  string  false "Operator name (default actor)"  example(ops)
// @Param       id       path    string  true  "Ingestion entity ID"
// @Param       reason   query   string  false "Reason when no body is sent"
// @Param       body     body    handlers.UnmapEntityRequest  false  "Reason"
//
// @Success     200  {object} domain.IngestionEntity
// @Failure     400  {object} handlers.ErrorResponse "Validation failed"
// @Failure     404  {object} handlers.ErrorResponse "Entity not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /ingestion/{id}/mapping [delete]
func (h *Handlers) UnmapEntity(c *gin.Context) {
	var req UnmapEntityRequest
	if c.Request.ContentLength > 0 {
		if !bindJSON(c, &req) {
			return
		}
	}
	if strings.TrimSpace(req.Reason) == "" {
		req.Reason = c.Query("reason")
	}
	e, err := h.mapping.UnmapIngestionEntity(c.Request.Context(), c.Param("id"), actorOr(c, req.Actor), req.Reason)
	if err != nil {
		failFrom(c, err)
		return
	}
	ok(c, http.StatusOK, e)
}

// OverrideHistory godoc
// @ID          overrideHistory
// @Summary     Manual override history
// @Tags        Mapping
// @Produce     json
// @Param       id  path  string  true  "Ingestion entity ID"
// @Success     200  {object} handlers.OverrideHistoryResponse
// @Failure     404  {object} handlers.ErrorResponse "Entity not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /ingestion/{id}/overrides [get]
func (h *Handlers) OverrideHistory(c *gin.Context) {
	items, err := h.mapping.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		failFrom(c, err)
		return
	}
	if items == nil {
		items = []domain.MappingOverride{}
	}
	ok(c, http.StatusOK, OverrideHistoryResponse{Overrides: items})
}
