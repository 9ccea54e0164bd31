package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/datatypes"

	"github.com/tbourn/go-catalog-ingest/internal/domain"
)

func TestIngestionEntity_Lifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	e := &domain.IngestionEntity{
		Source: "feed-a", ExternalID: "sku-1", EntityType: domain.CanonicalOffer,
		Payload: datatypes.JSON(`{"a":1}`), PayloadHash: "h1",
	}
	if err := CreateIngestionEntity(ctx, db, e); err != nil {
		t.Fatalf("CreateIngestionEntity: %v", err)
	}
	if e.ID == "" {
		t.Fatalf("id not assigned")
	}
	dup := &domain.IngestionEntity{Source: "feed-a", ExternalID: "sku-1", EntityType: domain.CanonicalOffer, PayloadHash: "h"}
	if err := CreateIngestionEntity(ctx, db, dup); !IsUniqueViolation(err) {
		t.Fatalf("expected (source, external id) violation, got %v", err)
	}

	got, err := FindIngestionEntity(ctx, db, "feed-a", "sku-1")
	if err != nil || got.ID != e.ID {
		t.Fatalf("FindIngestionEntity: %+v err=%v", got, err)
	}
	if _, err := FindIngestionEntity(ctx, db, "feed-b", "sku-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}

	if err := UpdateIngestionPayload(ctx, db, e.ID, []byte(`{"a":2}`), "h2"); err != nil {
		t.Fatalf("UpdateIngestionPayload: %v", err)
	}
	typ, id := domain.CanonicalOffer, "o1"
	if err := SetIngestionMapping(ctx, db, e.ID, Mapping{CanonicalType: &typ, CanonicalID: &id, Method: "identifier_exact", Confidence: 1}); err != nil {
		t.Fatalf("SetIngestionMapping: %v", err)
	}
	got, _ = GetIngestionEntity(ctx, db, e.ID)
	if got.PayloadHash != "h2" || got.CanonicalID == nil || *got.CanonicalID != "o1" || got.MatchConfidence != 1 {
		t.Fatalf("entity not updated: %+v", got)
	}

	if err := SetIngestionMapping(ctx, db, e.ID, Mapping{Manual: true}); err != nil {
		t.Fatalf("unmap: %v", err)
	}
	got, _ = GetIngestionEntity(ctx, db, e.ID)
	if got.CanonicalID != nil || got.CanonicalType != nil || !got.ManualOverride {
		t.Fatalf("unmap did not clear pointer: %+v", got)
	}
	if err := SetIngestionMapping(ctx, db, "ghost", Mapping{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestMappingOverrides_AppendOnlyHistory(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for _, action := range []string{domain.ActionMap, domain.ActionUnmap} {
		o := &domain.MappingOverride{IngestionEntityID: "e1", Action: action, Actor: "ops", Reason: "fix"}
		if err := CreateMappingOverride(ctx, db, o); err != nil {
			t.Fatalf("CreateMappingOverride(%s): %v", action, err)
		}
		time.Sleep(2 * time.Millisecond)
	}
	bad := &domain.MappingOverride{IngestionEntityID: "e1", Action: "merge", Actor: "ops", Reason: "x"}
	if err := CreateMappingOverride(ctx, db, bad); err == nil {
		t.Fatalf("expected action check constraint to reject %q", bad.Action)
	}

	hist, err := ListMappingOverrides(ctx, db, "e1")
	if err != nil || len(hist) != 2 || hist[0].Action != domain.ActionMap || hist[1].Action != domain.ActionUnmap {
		t.Fatalf("history = %+v err=%v", hist, err)
	}
}

func TestAuditRuns_Latest(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	t0 := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	if _, err := LatestAuditRun(ctx, db, "quality"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	for i, hash := range []string{"old", "new"} {
		r := &domain.AuditRun{Kind: "quality", ReportHash: hash, CreatedAt: t0.Add(time.Duration(i) * time.Hour)}
		if err := CreateAuditRun(ctx, db, r); err != nil {
			t.Fatalf("CreateAuditRun: %v", err)
		}
	}
	if err := CreateAuditRun(ctx, db, &domain.AuditRun{Kind: "provenance", ReportHash: "other", CreatedAt: t0.Add(5 * time.Hour)}); err != nil {
		t.Fatalf("CreateAuditRun: %v", err)
	}
	r, err := LatestAuditRun(ctx, db, "quality")
	if err != nil || r.ReportHash != "new" {
		t.Fatalf("LatestAuditRun = %+v err=%v", r, err)
	}
}
