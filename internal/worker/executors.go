package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-catalog-ingest/internal/catalog"
	"github.com/tbourn/go-catalog-ingest/internal/domain"
	"github.com/tbourn/go-catalog-ingest/internal/fetch"
	"github.com/tbourn/go-catalog-ingest/internal/jobs"
	"github.com/tbourn/go-catalog-ingest/internal/services"
)

// Fetcher performs the outbound listing checks.
type Fetcher interface {
	Head(ctx context.Context, url string) (fetch.Result, error)
	Detail(ctx context.Context, url string) (fetch.Result, error)
}

// Deps are the services executors call into.
type Deps struct {
	Queue   *services.QueueService
	Catalog *services.CatalogService
	Ingest  *services.IngestService
	Audit   *services.AuditService
	Fetch   Fetcher

	// BulkLimit caps the fan-out of one bulk refresh job.
	BulkLimit int
}

// Executors returns an executor for every registered job kind.
func Executors(d Deps) map[jobs.Kind]Executor {
	return map[jobs.Kind]Executor{
		jobs.KindHeadRefreshOne:      d.headRefreshOne,
		jobs.KindDetailRefreshOne:    d.detailRefreshOne,
		jobs.KindHeadRefreshBulk:     d.headRefreshBulk,
		jobs.KindDetailRefreshBulk:   d.detailRefreshBulk,
		jobs.KindIngestOffer:         d.ingestOffer,
		jobs.KindRecomputeVisibility: d.recomputeVisibility,
		jobs.KindLegacyPrune:         d.legacyPrune,
		jobs.KindAudit:               d.audit,
	}
}

func decode[T jobs.Payload](job *domain.Job) (T, error) {
	var zero T
	p, err := jobs.DecodePayload(job.Kind, job.Payload)
	if err != nil {
		return zero, err
	}
	v, ok := p.(T)
	if !ok {
		return zero, fmt.Errorf("payload for %s has type %T", job.Kind, p)
	}
	return v, nil
}

func (d Deps) headRefreshOne(ctx context.Context, job *domain.Job) error {
	p, err := decode[jobs.HeadRefreshOne](job)
	if err != nil {
		return err
	}
	return d.refresh(ctx, p.OfferID, d.Fetch.Head)
}

func (d Deps) detailRefreshOne(ctx context.Context, job *domain.Job) error {
	p, err := decode[jobs.DetailRefreshOne](job)
	if err != nil {
		return err
	}
	return d.refresh(ctx, p.OfferID, d.Fetch.Detail)
}

// refresh fetches the offer URL and records the observation. A failed fetch
// is still recorded, with unknown stock, before the error is returned.
func (d Deps) refresh(ctx context.Context, offerID string, get func(context.Context, string) (fetch.Result, error)) error {
	o, err := d.Catalog.GetOffer(ctx, offerID)
	if err != nil {
		return err
	}
	res, fetchErr := get(ctx, o.URL)
	chk := services.OfferCheck{StatusCode: res.StatusCode, Stock: res.Stock, PriceCents: res.PriceCents}
	if fetchErr != nil {
		chk.Stock, chk.PriceCents = nil, nil
	}
	updated, err := d.Catalog.RefreshOffer(ctx, offerID, chk)
	if err != nil {
		return err
	}
	if fetchErr != nil {
		return fetchErr
	}
	zerolog.Ctx(ctx).Debug().
		Str("offer_id", offerID).
		Int("status", res.StatusCode).
		Str("reachability", catalog.ClassifyStatus(res.StatusCode).String()).
		Bool("in_stock_known", updated.InStock != nil).
		Msg("offer refreshed")
	return nil
}

func (d Deps) headRefreshBulk(ctx context.Context, job *domain.Job) error {
	p, err := decode[jobs.HeadRefreshBulk](job)
	if err != nil {
		return err
	}
	return d.fanOut(ctx, jobs.BulkRefresh(p), jobs.KindHeadRefreshOne, func(id string) jobs.Payload {
		return jobs.HeadRefreshOne{OfferID: id}
	})
}

func (d Deps) detailRefreshBulk(ctx context.Context, job *domain.Job) error {
	p, err := decode[jobs.DetailRefreshBulk](job)
	if err != nil {
		return err
	}
	return d.fanOut(ctx, jobs.BulkRefresh(p), jobs.KindDetailRefreshOne, func(id string) jobs.Payload {
		return jobs.DetailRefreshOne{OfferID: id}
	})
}

// fanOut enqueues one single-offer job per stale offer. Keys are bucketed
// per offer, so overlapping bulk runs collapse onto the same jobs.
func (d Deps) fanOut(ctx context.Context, p jobs.BulkRefresh, kind jobs.Kind, payload func(string) jobs.Payload) error {
	limit := p.Limit
	if d.BulkLimit > 0 && limit > d.BulkLimit {
		limit = d.BulkLimit
	}
	ids, err := d.Catalog.StaleOffers(ctx, time.Duration(p.StaleAfterHours)*time.Hour, limit)
	if err != nil {
		return err
	}
	created := 0
	for _, id := range ids {
		res, err := d.Queue.Enqueue(ctx, services.EnqueueRequest{
			Kind:           kind,
			Payload:        payload(id),
			IdempotencyKey: d.Queue.KeyFor(kind, id),
		})
		if err != nil {
			return fmt.Errorf("enqueue %s for %s: %w", kind, id, err)
		}
		if !res.Deduped {
			created++
		}
	}
	zerolog.Ctx(ctx).Info().
		Str("child_kind", string(kind)).
		Int("selected", len(ids)).
		Int("enqueued", created).
		Msg("bulk refresh fanned out")
	return nil
}

func (d Deps) ingestOffer(ctx context.Context, job *domain.Job) error {
	p, err := decode[jobs.IngestOffer](job)
	if err != nil {
		return err
	}
	_, err = d.Ingest.ResolveOffer(ctx, p)
	return err
}

func (d Deps) recomputeVisibility(ctx context.Context, job *domain.Job) error {
	p, err := decode[jobs.RecomputeVisibility](job)
	if err != nil {
		return err
	}
	products, err := d.Catalog.RecomputeProductVisibility(ctx, p.ProductIDs)
	if err != nil {
		return err
	}
	plants, err := d.Catalog.RecomputePlantVisibility(ctx, p.PlantIDs)
	if err != nil {
		return err
	}
	zerolog.Ctx(ctx).Info().
		Int("products_activated", len(products.Activated)).
		Int("products_deactivated", len(products.Deactivated)).
		Int("plants_activated", len(plants.Activated)).
		Int("plants_deactivated", len(plants.Deactivated)).
		Msg("visibility recomputed")
	return nil
}

func (d Deps) legacyPrune(ctx context.Context, job *domain.Job) error {
	p, err := decode[jobs.LegacyPrune](job)
	if err != nil {
		return err
	}
	targets := catalog.PruneTargets{ProductIDs: p.ProductIDs, PlantIDs: p.PlantIDs, OfferIDs: p.OfferIDs}
	if p.DryRun {
		plan, err := d.Catalog.PlanLegacyPrune(ctx, targets)
		if err != nil {
			return err
		}
		zerolog.Ctx(ctx).Info().
			Strs("offers", plan.OfferIDsToDelete).
			Strs("products", plan.ProductIDsToDelete).
			Strs("plants", plan.PlantIDsToDelete).
			Msg("legacy prune planned (dry run)")
		return nil
	}
	_, err = d.Catalog.ApplyLegacyPrune(ctx, targets)
	return err
}

// audit succeeds whenever the report was produced and stored; violations
// are findings, not job failures.
func (d Deps) audit(ctx context.Context, job *domain.Job) error {
	p, err := decode[jobs.Audit](job)
	if err != nil {
		return err
	}
	_, err = d.Audit.Run(ctx, p.Report)
	return err
}
