// Package services – CatalogService
//
// This file implements CatalogService, which applies the pure catalog policy
// to stored rows: recomputing product and plant visibility together with the
// cached offer summary, recording offer reachability checks, and planning or
// applying legacy prunes in a single transaction.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-catalog-ingest/internal/catalog"
	"github.com/tbourn/go-catalog-ingest/internal/domain"
	"github.com/tbourn/go-catalog-ingest/internal/jobs"
	"github.com/tbourn/go-catalog-ingest/internal/observability"
	"github.com/tbourn/go-catalog-ingest/internal/repo"
)

// CatalogService owns catalog writes derived from policy decisions.
type CatalogService struct {
	DB  *gorm.DB
	Now func() time.Time
}

// NewCatalogService constructs a CatalogService.
func NewCatalogService(db *gorm.DB) *CatalogService {
	return &CatalogService{DB: db, Now: time.Now}
}

func (s *CatalogService) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func (s *CatalogService) tracer() trace.Tracer {
	return observability.Tracer("services/CatalogService")
}

// VisibilityChange lists ids whose activation flag flipped.
type VisibilityChange struct {
	Activated   []string `json:"activated"`
	Deactivated []string `json:"deactivated"`
}

func (v *VisibilityChange) record(id string, was, now bool) {
	switch {
	case now && !was:
		v.Activated = append(v.Activated, id)
	case was && !now:
		v.Deactivated = append(v.Deactivated, id)
	}
}

func newVisibilityChange() VisibilityChange {
	return VisibilityChange{Activated: []string{}, Deactivated: []string{}}
}

// RecomputeProductVisibility refreshes the offer summary and activation flag
// of each listed product. Unknown ids are skipped.
func (s *CatalogService) RecomputeProductVisibility(ctx context.Context, productIDs []string) (VisibilityChange, error) {
	ctx, span := s.tracer().Start(ctx, "RecomputeProductVisibility",
		trace.WithAttributes(attribute.Int("products", len(productIDs))),
	)
	defer span.End()

	var out VisibilityChange
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		out, err = recomputeProducts(ctx, tx, productIDs)
		return err
	})
	if err != nil {
		return VisibilityChange{}, observability.RecordError(span, err)
	}
	return out, nil
}

// recomputeProducts is shared by every write path that can change a
// product's offers. db may be a transaction.
func recomputeProducts(ctx context.Context, db *gorm.DB, productIDs []string) (VisibilityChange, error) {
	out := newVisibilityChange()
	if len(productIDs) == 0 {
		return out, nil
	}
	products, err := repo.GetProducts(ctx, db, productIDs)
	if err != nil {
		return out, err
	}
	states, err := repo.OfferStatesByProduct(ctx, db, productIDs)
	if err != nil {
		return out, err
	}
	for _, p := range products {
		offers := states[p.ID]
		active := catalog.ShouldProductBeActive(catalog.ProductPolicyInput{
			InStockPricedOffers: catalog.CountInStockPricedOffers(offers),
			Specs:               p.Specs,
		})
		if err := repo.UpdateProductSummary(ctx, db, p.ID, catalog.SummarizeOffers(offers), active); err != nil {
			return out, err
		}
		out.record(p.ID, p.Active, active)
	}
	observability.CatalogChanges.WithLabelValues("product", "activated").Add(float64(len(out.Activated)))
	observability.CatalogChanges.WithLabelValues("product", "deactivated").Add(float64(len(out.Deactivated)))
	return out, nil
}

// RecomputePlantVisibility re-evaluates the plant policy for each listed
// plant. Unknown ids are skipped.
func (s *CatalogService) RecomputePlantVisibility(ctx context.Context, plantIDs []string) (VisibilityChange, error) {
	ctx, span := s.tracer().Start(ctx, "RecomputePlantVisibility",
		trace.WithAttributes(attribute.Int("plants", len(plantIDs))),
	)
	defer span.End()

	out := newVisibilityChange()
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		plants, err := repo.GetPlants(ctx, tx, plantIDs)
		if err != nil {
			return err
		}
		for _, p := range plants {
			active := catalog.ShouldPlantBeActive(plantInput(p))
			if active == p.Active {
				continue
			}
			if err := repo.SetPlantActive(ctx, tx, p.ID, active); err != nil {
				return err
			}
			out.record(p.ID, p.Active, active)
		}
		return nil
	})
	if err != nil {
		return VisibilityChange{}, observability.RecordError(span, err)
	}
	observability.CatalogChanges.WithLabelValues("plant", "activated").Add(float64(len(out.Activated)))
	observability.CatalogChanges.WithLabelValues("plant", "deactivated").Add(float64(len(out.Deactivated)))
	return out, nil
}

func plantInput(p domain.Plant) catalog.PlantPolicyInput {
	return catalog.PlantPolicyInput{
		ImageURL:    p.ImageURL,
		ImageURLs:   p.ImageURLs,
		Sources:     p.Sources,
		Description: p.Description,
	}
}

// OfferCheck is the observation from one reachability or detail fetch.
// Nil Stock or PriceCents keep the stored values.
type OfferCheck struct {
	StatusCode int
	Stock      catalog.StockSignal
	PriceCents *int64
}

// RefreshOffer merges a fetch observation into the offer and recomputes
// the owning product's visibility.
func (s *CatalogService) RefreshOffer(ctx context.Context, offerID string, chk OfferCheck) (*domain.Offer, error) {
	ctx, span := s.tracer().Start(ctx, "RefreshOffer",
		trace.WithAttributes(attribute.String("offer.id", offerID), attribute.Int("http.status_code", chk.StatusCode)),
	)
	defer span.End()

	var updated *domain.Offer
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		o, err := repo.GetOffer(ctx, tx, offerID)
		if errors.Is(err, repo.ErrNotFound) {
			return ErrOfferNotFound
		}
		if err != nil {
			return err
		}
		price := o.PriceCents
		if chk.PriceCents != nil {
			price = chk.PriceCents
		}
		obs := repo.OfferObservation{
			PriceCents: price,
			InStock:    catalog.MergeStock(o.InStock, chk.Stock),
			LastStatus: chk.StatusCode,
			CheckedAt:  s.now(),
		}
		if err := repo.UpdateOfferObservation(ctx, tx, o.ID, obs); err != nil {
			return err
		}
		if _, err := recomputeProducts(ctx, tx, []string{o.ProductID}); err != nil {
			return err
		}
		updated, err = repo.GetOffer(ctx, tx, o.ID)
		return err
	})
	if err != nil {
		return nil, observability.RecordError(span, err)
	}
	return updated, nil
}

// GetOffer fetches one canonical offer.
func (s *CatalogService) GetOffer(ctx context.Context, offerID string) (*domain.Offer, error) {
	o, err := repo.GetOffer(ctx, s.DB, offerID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrOfferNotFound
	}
	return o, err
}

// StaleOffers lists offers not checked within staleAfter, never-checked first.
func (s *CatalogService) StaleOffers(ctx context.Context, staleAfter time.Duration, limit int) ([]string, error) {
	return repo.StaleOfferIDs(ctx, s.DB, s.now().Add(-staleAfter), limit)
}

// VisibilityBatches splits every product and plant id into recompute
// payloads of at most size ids each, products first.
func (s *CatalogService) VisibilityBatches(ctx context.Context, size int) ([]jobs.RecomputeVisibility, error) {
	if size < 1 {
		size = 200
	}
	var out []jobs.RecomputeVisibility
	err := repo.EachProduct(ctx, s.DB, size, func(ps []domain.Product) error {
		ids := make([]string, 0, len(ps))
		for _, p := range ps {
			ids = append(ids, p.ID)
		}
		out = append(out, jobs.RecomputeVisibility{ProductIDs: ids})
		return nil
	})
	if err != nil {
		return nil, err
	}
	err = repo.EachPlant(ctx, s.DB, size, func(ps []domain.Plant) error {
		ids := make([]string, 0, len(ps))
		for _, p := range ps {
			ids = append(ids, p.ID)
		}
		out = append(out, jobs.RecomputeVisibility{PlantIDs: ids})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PlanLegacyPrune computes what a prune of targets would delete.
func (s *CatalogService) PlanLegacyPrune(ctx context.Context, targets catalog.PruneTargets) (catalog.LegacyPrunePlan, error) {
	ctx, span := s.tracer().Start(ctx, "PlanLegacyPrune")
	defer span.End()

	offers, err := repo.OfferRefs(ctx, s.DB, targets.ProductIDs, targets.OfferIDs)
	if err != nil {
		return catalog.LegacyPrunePlan{}, observability.RecordError(span, err)
	}
	return catalog.BuildLegacyPrunePlan(targets, offers), nil
}

// PruneResult reports an applied prune.
type PruneResult struct {
	Plan            catalog.LegacyPrunePlan `json:"plan"`
	DeletedOffers   int64                   `json:"deletedOffers"`
	DeletedProducts int64                   `json:"deletedProducts"`
	DeletedPlants   int64                   `json:"deletedPlants"`
	Visibility      VisibilityChange        `json:"visibility"`
}

// ApplyLegacyPrune plans and executes a prune in one transaction: offers,
// then products, then plants are deleted, and the surviving products that
// lost offers get their summary and visibility recomputed. The plan is
// rebuilt inside the transaction so it reflects the rows actually deleted.
func (s *CatalogService) ApplyLegacyPrune(ctx context.Context, targets catalog.PruneTargets) (PruneResult, error) {
	ctx, span := s.tracer().Start(ctx, "ApplyLegacyPrune")
	defer span.End()

	var res PruneResult
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		offers, err := repo.OfferRefs(ctx, tx, targets.ProductIDs, targets.OfferIDs)
		if err != nil {
			return err
		}
		plan := catalog.BuildLegacyPrunePlan(targets, offers)
		res = PruneResult{Plan: plan}
		if plan.Empty() {
			res.Visibility = newVisibilityChange()
			return nil
		}
		if res.DeletedOffers, err = repo.DeleteOffers(ctx, tx, plan.OfferIDsToDelete); err != nil {
			return err
		}
		if res.DeletedProducts, err = repo.DeleteProducts(ctx, tx, plan.ProductIDsToDelete); err != nil {
			return err
		}
		if res.DeletedPlants, err = repo.DeletePlants(ctx, tx, plan.PlantIDsToDelete); err != nil {
			return err
		}
		res.Visibility, err = recomputeProducts(ctx, tx, plan.RefreshOfferSummaryProductIDs)
		return err
	})
	if err != nil {
		return PruneResult{}, observability.RecordError(span, err)
	}

	observability.CatalogChanges.WithLabelValues("offer", "pruned").Add(float64(res.DeletedOffers))
	observability.CatalogChanges.WithLabelValues("product", "pruned").Add(float64(res.DeletedProducts))
	observability.CatalogChanges.WithLabelValues("plant", "pruned").Add(float64(res.DeletedPlants))
	log.Ctx(ctx).Info().
		Int64("offers", res.DeletedOffers).
		Int64("products", res.DeletedProducts).
		Int64("plants", res.DeletedPlants).
		Msg("legacy prune applied")
	return res, nil
}
