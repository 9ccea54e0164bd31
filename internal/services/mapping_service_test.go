package services

import (
	"context"
	"errors"
	"testing"

	"github.com/tbourn/go-catalog-ingest/internal/catalog"
	"github.com/tbourn/go-catalog-ingest/internal/domain"
	"github.com/tbourn/go-catalog-ingest/internal/jobs"
	"github.com/tbourn/go-catalog-ingest/internal/repo"
)

func TestMapping_RecordsOverrideHistory(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedProduct(t, db, "p1", map[string]any{"height": "30cm"})
	seedProduct(t, db, "p2", map[string]any{"height": "40cm"})

	res, err := NewIngestService(db).ResolveOffer(ctx, jobs.IngestOffer{
		Source: "feed", ExternalID: "x1", ProductID: "p1", RetailerID: "shop",
		URL: "https://shop.example.com/a", PriceCents: price(100), InStock: catalog.Bool(true),
	})
	if err != nil {
		t.Fatalf("ResolveOffer: %v", err)
	}

	svc := NewMappingService(db)
	e, err := svc.MapIngestionEntityToCanonical(ctx, res.EntityID, domain.CanonicalProduct, "p2", " ops@example.com ", "wrong product in feed")
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if e.CanonicalType == nil || *e.CanonicalType != domain.CanonicalProduct || *e.CanonicalID != "p2" ||
		!e.ManualOverride || e.MatchMethod != MethodManual || e.MatchConfidence != 1 {
		t.Fatalf("mapped entity = %+v", e)
	}

	e, err = svc.UnmapIngestionEntity(ctx, res.EntityID, "ops@example.com", "feed row retired")
	if err != nil {
		t.Fatalf("Unmap: %v", err)
	}
	if e.CanonicalType != nil || e.CanonicalID != nil || !e.ManualOverride {
		t.Fatalf("unmapped entity = %+v", e)
	}

	hist, err := svc.History(ctx, res.EntityID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("history len = %d; want 2", len(hist))
	}
	if hist[0].Action != domain.ActionMap || hist[0].Actor != "ops@example.com" || *hist[0].CanonicalID != "p2" {
		t.Fatalf("first override = %+v", hist[0])
	}
	if hist[1].Action != domain.ActionUnmap || hist[1].CanonicalID != nil || hist[1].Reason != "feed row retired" {
		t.Fatalf("second override = %+v", hist[1])
	}
}

func TestMapping_Rejections(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedProduct(t, db, "p1", map[string]any{"height": "30cm"})
	entity := &domain.IngestionEntity{Source: "feed", ExternalID: "x", EntityType: domain.CanonicalOffer, PayloadHash: "h"}
	if err := repo.CreateIngestionEntity(ctx, db, entity); err != nil {
		t.Fatalf("CreateIngestionEntity: %v", err)
	}
	svc := NewMappingService(db)

	cases := []struct {
		name                   string
		entity, typ, id, actor string
		reason                 string
		want                   error
	}{
		{"no actor", entity.ID, domain.CanonicalProduct, "p1", " ", "r", ErrActorRequired},
		{"no reason", entity.ID, domain.CanonicalProduct, "p1", "ops", "", ErrReasonRequired},
		{"bad type", entity.ID, "retailer", "p1", "ops", "r", ErrInvalidCanonicalType},
		{"missing canonical", entity.ID, domain.CanonicalOffer, "nope", "ops", "r", ErrCanonicalNotFound},
		{"missing entity", "nope", domain.CanonicalProduct, "p1", "ops", "r", ErrEntityNotFound},
	}
	for _, tc := range cases {
		if _, err := svc.MapIngestionEntityToCanonical(ctx, tc.entity, tc.typ, tc.id, tc.actor, tc.reason); !errors.Is(err, tc.want) {
			t.Fatalf("%s: got %v; want %v", tc.name, err, tc.want)
		}
	}
	if _, err := svc.UnmapIngestionEntity(ctx, "nope", "ops", "r"); !errors.Is(err, ErrEntityNotFound) {
		t.Fatalf("unmap missing entity: %v", err)
	}

	hist, err := repo.ListMappingOverrides(ctx, db, entity.ID)
	if err != nil || len(hist) != 0 {
		t.Fatalf("rejected overrides must not be logged: %v, %v", hist, err)
	}
	got, _ := repo.GetIngestionEntity(ctx, db, entity.ID)
	if got.ManualOverride || got.CanonicalID != nil {
		t.Fatalf("rejected overrides must not change the entity: %+v", got)
	}
}
