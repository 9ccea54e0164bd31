package services

import (
	"context"
	"errors"
	"testing"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-catalog-ingest/internal/catalog"
	"github.com/tbourn/go-catalog-ingest/internal/domain"
	"github.com/tbourn/go-catalog-ingest/internal/jobs"
	"github.com/tbourn/go-catalog-ingest/internal/matching"
	"github.com/tbourn/go-catalog-ingest/internal/repo"
)

func seedProduct(t *testing.T, db *gorm.DB, id string, specs map[string]any) {
	t.Helper()
	p := &domain.Product{ID: id, Name: "Product " + id, Specs: datatypes.JSONMap(specs), SourceURL: "https://source.example/" + id}
	if err := repo.SaveProduct(context.Background(), db, p); err != nil {
		t.Fatalf("SaveProduct: %v", err)
	}
}

func price(c int64) *int64 { return &c }

func getProduct(t *testing.T, db *gorm.DB, id string) *domain.Product {
	t.Helper()
	p, err := repo.GetProduct(context.Background(), db, id)
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	return p
}

func countOffers(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&domain.Offer{}).Count(&n).Error; err != nil {
		t.Fatalf("count offers: %v", err)
	}
	return n
}

func TestResolveOffer_CreatesThenReplaysUnchanged(t *testing.T) {
	db := newTestDB(t)
	seedProduct(t, db, "p1", map[string]any{"height": "30cm"})
	svc := NewIngestService(db)
	ctx := context.Background()

	in := jobs.IngestOffer{
		Source: "feed", ExternalID: "x1", ProductID: "p1", RetailerID: "shop",
		URL: "https://Shop.example.com/item/1/?b=2&a=1", PriceCents: price(1299), InStock: catalog.Bool(true),
	}
	res, err := svc.ResolveOffer(ctx, in)
	if err != nil {
		t.Fatalf("ResolveOffer: %v", err)
	}
	if !res.Created || res.Method != matching.MethodNewCanonical || res.OfferID == "" {
		t.Fatalf("first resolve = %+v", res)
	}
	o, err := repo.GetOffer(ctx, db, res.OfferID)
	if err != nil {
		t.Fatalf("GetOffer: %v", err)
	}
	if o.NormalizedURL != "https://shop.example.com/item/1?a=1&b=2" {
		t.Fatalf("normalized url = %q", o.NormalizedURL)
	}
	p := getProduct(t, db, "p1")
	if !p.Active || p.InStockCount != 1 || p.MinPriceCents == nil || *p.MinPriceCents != 1299 {
		t.Fatalf("product after ingest = %+v", p)
	}

	replay, err := svc.ResolveOffer(ctx, in)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !replay.Unchanged || replay.Created || replay.OfferID != res.OfferID || replay.EntityID != res.EntityID {
		t.Fatalf("replay = %+v", replay)
	}
	if got := countOffers(t, db); got != 1 {
		t.Fatalf("offers = %d; want 1", got)
	}
}

func TestResolveOffer_IdentifierThenFingerprint(t *testing.T) {
	db := newTestDB(t)
	seedProduct(t, db, "p1", map[string]any{"height": "30cm"})
	svc := NewIngestService(db)
	ctx := context.Background()

	base := jobs.IngestOffer{
		Source: "feed", ExternalID: "x1", ProductID: "p1", RetailerID: "shop",
		URL: "https://shop.example.com/item/1", PriceCents: price(1500), InStock: catalog.Bool(true),
	}
	created, err := svc.ResolveOffer(ctx, base)
	if err != nil {
		t.Fatalf("ResolveOffer: %v", err)
	}

	// Same entity, new price: identifier match updates the offer.
	changed := base
	changed.PriceCents = price(900)
	changed.InStock = nil
	upd, err := svc.ResolveOffer(ctx, changed)
	if err != nil {
		t.Fatalf("ResolveOffer changed: %v", err)
	}
	if upd.Method != matching.MethodIdentifierExact || upd.OfferID != created.OfferID || upd.Created {
		t.Fatalf("changed resolve = %+v", upd)
	}
	o, _ := repo.GetOffer(ctx, db, created.OfferID)
	if o.PriceCents == nil || *o.PriceCents != 900 || o.InStock == nil || !*o.InStock {
		t.Fatalf("offer after update = %+v (unknown stock must keep the stored value)", o)
	}

	// Another feed, equivalent URL: fingerprint match.
	other := base
	other.Source, other.ExternalID = "crawler", "c-77"
	other.URL = "https://SHOP.example.com:443/item/1/#reviews"
	fp, err := svc.ResolveOffer(ctx, other)
	if err != nil {
		t.Fatalf("ResolveOffer other: %v", err)
	}
	if fp.Method != matching.MethodProductRetailerURLFingerprint || fp.OfferID != created.OfferID || fp.Confidence != matching.ConfidenceProductRetailerURLFingerprint {
		t.Fatalf("fingerprint resolve = %+v", fp)
	}
	if fp.EntityID == created.EntityID {
		t.Fatalf("a new source/external id must get its own entity")
	}
	if got := countOffers(t, db); got != 1 {
		t.Fatalf("offers = %d; want 1", got)
	}

	e, err := repo.GetIngestionEntity(ctx, db, fp.EntityID)
	if err != nil {
		t.Fatalf("GetIngestionEntity: %v", err)
	}
	if e.CanonicalID == nil || *e.CanonicalID != created.OfferID || e.MatchMethod != string(matching.MethodProductRetailerURLFingerprint) {
		t.Fatalf("entity mapping = %+v", e)
	}
}

func TestResolveOffer_OutOfStockDeactivates(t *testing.T) {
	db := newTestDB(t)
	seedProduct(t, db, "p1", map[string]any{"height": "30cm"})
	svc := NewIngestService(db)
	ctx := context.Background()

	in := jobs.IngestOffer{Source: "feed", ExternalID: "x1", ProductID: "p1", RetailerID: "shop", URL: "https://shop.example.com/a", PriceCents: price(100), InStock: catalog.Bool(true)}
	if _, err := svc.ResolveOffer(ctx, in); err != nil {
		t.Fatalf("ResolveOffer: %v", err)
	}
	in.InStock = catalog.Bool(false)
	if _, err := svc.ResolveOffer(ctx, in); err != nil {
		t.Fatalf("ResolveOffer: %v", err)
	}
	if p := getProduct(t, db, "p1"); p.Active || p.InStockCount != 0 || p.MinPriceCents != nil {
		t.Fatalf("product = %+v", p)
	}
}

func TestResolveOffer_Errors(t *testing.T) {
	db := newTestDB(t)
	svc := NewIngestService(db)
	ctx := context.Background()

	_, err := svc.ResolveOffer(ctx, jobs.IngestOffer{Source: "feed", ExternalID: "x", ProductID: "p", RetailerID: "r", URL: "not a url"})
	if !errors.Is(err, jobs.ErrValidation) {
		t.Fatalf("bad url: %v", err)
	}

	_, err = svc.ResolveOffer(ctx, jobs.IngestOffer{Source: "feed", ExternalID: "x", ProductID: "ghost", RetailerID: "r", URL: "https://r.example/a"})
	if !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("unknown product: %v", err)
	}
	// The failed transaction must not leave an entity behind.
	if _, err := repo.FindIngestionEntity(ctx, db, "feed", "x"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("entity leaked: %v", err)
	}
}

func TestResolveOffer_ManualOverridesWin(t *testing.T) {
	db := newTestDB(t)
	seedProduct(t, db, "p1", map[string]any{"height": "30cm"})
	ingest := NewIngestService(db)
	mapping := NewMappingService(db)
	ctx := context.Background()

	a := jobs.IngestOffer{Source: "feed", ExternalID: "a", ProductID: "p1", RetailerID: "shop", URL: "https://shop.example.com/a", PriceCents: price(100), InStock: catalog.Bool(true)}
	b := jobs.IngestOffer{Source: "feed", ExternalID: "b", ProductID: "p1", RetailerID: "shop", URL: "https://shop.example.com/b", PriceCents: price(200), InStock: catalog.Bool(true)}
	ra, err := ingest.ResolveOffer(ctx, a)
	if err != nil {
		t.Fatalf("ResolveOffer a: %v", err)
	}
	rb, err := ingest.ResolveOffer(ctx, b)
	if err != nil {
		t.Fatalf("ResolveOffer b: %v", err)
	}

	// Pin b's entity onto a's offer; the next ingest of b keeps that pin.
	if _, err := mapping.MapIngestionEntityToCanonical(ctx, rb.EntityID, domain.CanonicalOffer, ra.OfferID, "ops@example.com", "duplicate listing"); err != nil {
		t.Fatalf("Map: %v", err)
	}
	b.PriceCents = price(250)
	again, err := ingest.ResolveOffer(ctx, b)
	if err != nil {
		t.Fatalf("ResolveOffer pinned: %v", err)
	}
	if again.OfferID != ra.OfferID {
		t.Fatalf("pinned entity resolved to %s; want %s", again.OfferID, ra.OfferID)
	}
	e, _ := repo.GetIngestionEntity(ctx, db, rb.EntityID)
	if !e.ManualOverride || e.MatchMethod != MethodManual {
		t.Fatalf("pinned entity lost its override: %+v", e)
	}

	// Unmapped entities are skipped.
	if _, err := mapping.UnmapIngestionEntity(ctx, rb.EntityID, "ops@example.com", "bad feed row"); err != nil {
		t.Fatalf("Unmap: %v", err)
	}
	b.PriceCents = price(300)
	skipped, err := ingest.ResolveOffer(ctx, b)
	if err != nil {
		t.Fatalf("ResolveOffer unmapped: %v", err)
	}
	if !skipped.Skipped || skipped.OfferID != "" {
		t.Fatalf("unmapped resolve = %+v", skipped)
	}
}
