// Package handlers exposes the admin API over the queue, mapping, catalog
// and audit services.
//
// Handlers are transport-thin: they validate input, call application
// services, and translate results into HTTP responses.
package handlers

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-catalog-ingest/internal/catalog"
	"github.com/tbourn/go-catalog-ingest/internal/domain"
	"github.com/tbourn/go-catalog-ingest/internal/http/middleware"
	"github.com/tbourn/go-catalog-ingest/internal/jobs"
	"github.com/tbourn/go-catalog-ingest/internal/repo"
	"github.com/tbourn/go-catalog-ingest/internal/services"
	"github.com/tbourn/go-catalog-ingest/internal/utils"
)

//
// Service contracts (context-aware)
//

// QueueService is the job queue as seen by the API.
type QueueService interface {
	Enqueue(ctx context.Context, req services.EnqueueRequest) (services.EnqueueResult, error)
	Get(ctx context.Context, jobID string) (*domain.Job, error)
	List(ctx context.Context, f repo.JobFilter, page, pageSize int) ([]domain.Job, int64, error)
	Stats(ctx context.Context) (repo.QueueStats, error)
	Sweep(ctx context.Context, opts services.SweepOptions) (services.SweepReport, error)
}

// MappingService manages manual overrides of ingestion mappings.
type MappingService interface {
	MapIngestionEntityToCanonical(ctx context.Context, entityID, canonicalType, canonicalID, actor, reason string) (*domain.IngestionEntity, error)
	UnmapIngestionEntity(ctx context.Context, entityID, actor, reason string) (*domain.IngestionEntity, error)
	History(ctx context.Context, entityID string) ([]domain.MappingOverride, error)
}

// CatalogService plans and applies legacy prunes.
type CatalogService interface {
	PlanLegacyPrune(ctx context.Context, targets catalog.PruneTargets) (catalog.LegacyPrunePlan, error)
	ApplyLegacyPrune(ctx context.Context, targets catalog.PruneTargets) (services.PruneResult, error)
}

// AuditService reads stored audit runs.
type AuditService interface {
	Latest(ctx context.Context, kind jobs.AuditKind) (*domain.AuditRun, error)
}

//
// Handler wiring
//

// Handlers groups the admin endpoints.
type Handlers struct {
	queue   QueueService
	mapping MappingService
	catalog CatalogService
	audits  AuditService
}

// New constructs a Handlers bound to the given services.
func New(queue QueueService, mapping MappingService, cat CatalogService, audits AuditService) *Handlers {
	return &Handlers{queue: queue, mapping: mapping, catalog: cat, audits: audits}
}

// actorOr returns v, or the X-Actor header value when v is blank.
func actorOr(c *gin.Context, v string) string {
	if s := strings.TrimSpace(v); s != "" {
		return s
	}
	return middleware.ActorFrom(c)
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	pages := utils.TotalPages(total, pageSize)
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: pages,
		HasNext:    page < pages,
	}
}
