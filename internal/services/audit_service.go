// Package services – AuditService
//
// This file implements AuditService, which loads every product and plant
// into audit records, runs one of the catalog audits over them and persists
// the outcome: an AuditRun row in the database and the full report in the
// snapshot store. The regression audit also rotates the stored baseline of
// active ids that the next regression run compares against, after the run
// itself has been stored.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
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
	"github.com/tbourn/go-catalog-ingest/internal/snapshot"
)

// BaselineKey is where the regression audit keeps the last active-id set.
const BaselineKey = "active/latest.json"

const auditBatch = 200

// AuditService runs catalog audits.
type AuditService struct {
	DB    *gorm.DB
	Store snapshot.Store
	Now   func() time.Time

	// HoldBaseline keeps the regression baseline in place while a run still
	// reports regressions, so every later run reports them again until the
	// records come back or the baseline is accepted by a clean run.
	HoldBaseline bool
}

// NewAuditService constructs an AuditService.
func NewAuditService(db *gorm.DB, store snapshot.Store) *AuditService {
	return &AuditService{DB: db, Store: store, Now: time.Now}
}

func (s *AuditService) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

// AuditResult is a finished audit: the stored run and the report itself.
type AuditResult struct {
	Run    domain.AuditRun                 `json:"run"`
	Report catalog.Report[catalog.Record] `json:"report"`
}

// Run executes the audit named by kind.
func (s *AuditService) Run(ctx context.Context, kind jobs.AuditKind) (*AuditResult, error) {
	ctx, span := observability.Tracer("services/AuditService").Start(ctx, "Run",
		trace.WithAttributes(attribute.String("audit.kind", string(kind))),
	)
	defer span.End()

	if !kind.Known() {
		return nil, ErrUnknownAudit
	}
	records, err := s.loadRecords(ctx)
	if err != nil {
		return nil, observability.RecordError(span, err)
	}

	var (
		report   catalog.Report[catalog.Record]
		baseline []byte
	)
	switch kind {
	case jobs.AuditProvenance:
		report, err = catalog.RunAudit(string(kind), records, catalog.ProvenanceRules()...)
	case jobs.AuditQuality:
		report, err = catalog.RunAudit(string(kind), records, catalog.QualityRules()...)
	case jobs.AuditRegression:
		report, baseline, err = s.regression(ctx, records)
	}
	if err != nil {
		return nil, observability.RecordError(span, err)
	}

	at := s.now()
	key := fmt.Sprintf("reports/%s/%s.json", kind, at.Format("20060102T150405.000000000Z"))
	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, observability.RecordError(span, err)
	}
	if err := s.Store.Put(ctx, key, body); err != nil {
		return nil, observability.RecordError(span, fmt.Errorf("store audit report: %w", err))
	}

	run := domain.AuditRun{
		Kind:           string(kind),
		Checked:        report.Checked,
		ViolationCount: len(report.Violations),
		HasViolations:  report.HasViolations(),
		ReportHash:     report.Hash,
		SnapshotKey:    key,
		CreatedAt:      at,
	}
	if err := repo.CreateAuditRun(ctx, s.DB, &run); err != nil {
		return nil, observability.RecordError(span, err)
	}

	// The baseline only moves once the run is on record.
	if baseline != nil && !(s.HoldBaseline && run.HasViolations) {
		if err := s.Store.Put(ctx, BaselineKey, baseline); err != nil {
			return nil, observability.RecordError(span, fmt.Errorf("store active baseline: %w", err))
		}
	}

	span.SetAttributes(attribute.Int("audit.violations", run.ViolationCount))
	ev := log.Ctx(ctx).Info()
	if run.HasViolations {
		ev = log.Ctx(ctx).Warn()
	}
	ev.Str("kind", run.Kind).
		Int("checked", run.Checked).
		Int("violations", run.ViolationCount).
		Str("report", key).
		Msg("audit finished")
	return &AuditResult{Run: run, Report: report}, nil
}

// Latest returns the most recent stored run of kind.
func (s *AuditService) Latest(ctx context.Context, kind jobs.AuditKind) (*domain.AuditRun, error) {
	if !kind.Known() {
		return nil, ErrUnknownAudit
	}
	return repo.LatestAuditRun(ctx, s.DB, string(kind))
}

// regression compares records to the stored baseline and returns the
// report together with the encoded next baseline. The caller stores the
// baseline. A missing baseline yields an empty report.
func (s *AuditService) regression(ctx context.Context, records []catalog.Record) (catalog.Report[catalog.Record], []byte, error) {
	var prior catalog.ActiveSnapshot
	raw, err := s.Store.Get(ctx, BaselineKey)
	switch {
	case errors.Is(err, snapshot.ErrNotFound):
		log.Ctx(ctx).Info().Msg("no active baseline; regression audit starts fresh")
	case err != nil:
		return catalog.Report[catalog.Record]{}, nil, fmt.Errorf("load active baseline: %w", err)
	default:
		if err := json.Unmarshal(raw, &prior); err != nil {
			return catalog.Report[catalog.Record]{}, nil, fmt.Errorf("decode active baseline: %w", err)
		}
	}

	report, err := catalog.RunAudit(string(jobs.AuditRegression), catalog.RegressionRows(prior, records), catalog.RegressionRules()...)
	if err != nil {
		return report, nil, err
	}
	next, err := json.Marshal(catalog.SnapshotOf(records))
	if err != nil {
		return report, nil, err
	}
	return report, next, nil
}

// loadRecords builds audit records for every product and plant, products
// first.
func (s *AuditService) loadRecords(ctx context.Context) ([]catalog.Record, error) {
	var out []catalog.Record
	err := repo.EachProduct(ctx, s.DB, auditBatch, func(batch []domain.Product) error {
		ids := make([]string, len(batch))
		for i, p := range batch {
			ids[i] = p.ID
		}
		states, err := repo.OfferStatesByProduct(ctx, s.DB, ids)
		if err != nil {
			return err
		}
		for _, p := range batch {
			out = append(out, productRecord(p, states[p.ID]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	err = repo.EachPlant(ctx, s.DB, auditBatch, func(batch []domain.Plant) error {
		for _, p := range batch {
			out = append(out, plantRecord(p))
		}
		return nil
	})
	return out, err
}

func productRecord(p domain.Product, offers []catalog.OfferState) catalog.Record {
	in := catalog.ProductPolicyInput{
		InStockPricedOffers: catalog.CountInStockPricedOffers(offers),
		Specs:               p.Specs,
	}
	r := catalog.Record{Type: catalog.RecordProduct, ID: p.ID, Name: p.Name, Active: p.Active, Product: &in}
	if src := strings.TrimSpace(p.SourceURL); src != "" {
		r.SourceURLs = []string{src}
	}
	return r
}

func plantRecord(p domain.Plant) catalog.Record {
	in := plantInput(p)
	return catalog.Record{
		Type:       catalog.RecordPlant,
		ID:         p.ID,
		Name:       p.CommonName,
		Active:     p.Active,
		SourceURLs: append([]string(nil), p.Sources...),
		Plant:      &in,
	}
}
