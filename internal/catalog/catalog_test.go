package catalog

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-catalog-ingest/internal/hashing"
)

func i64(v int64) *int64 { return &v }

func TestShouldProductBeActive(t *testing.T) {
	specs := map[string]any{"wattage": "650W"}
	tests := []struct {
		name string
		in   ProductPolicyInput
		want bool
	}{
		{"no offers, specs", ProductPolicyInput{InStockPricedOffers: 0, Specs: specs}, false},
		{"offers, nil specs", ProductPolicyInput{InStockPricedOffers: 3}, false},
		{"offers, empty specs", ProductPolicyInput{InStockPricedOffers: 3, Specs: map[string]any{}}, false},
		{"offers, blank-only specs", ProductPolicyInput{InStockPricedOffers: 1, Specs: map[string]any{
			"a": "  ", "b": nil, "c": []any{}, "d": map[string]any{},
		}}, false},
		{"offers and specs", ProductPolicyInput{InStockPricedOffers: 1, Specs: specs}, true},
		{"zero is a populated number", ProductPolicyInput{InStockPricedOffers: 1, Specs: map[string]any{"fans": 0}}, true},
		{"false is a populated flag", ProductPolicyInput{InStockPricedOffers: 1, Specs: map[string]any{"rgb": false}}, true},
		{"non-empty list", ProductPolicyInput{InStockPricedOffers: 1, Specs: map[string]any{"ports": []any{"usb"}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldProductBeActive(tt.in))
		})
	}
}

func TestShouldPlantBeActive(t *testing.T) {
	full := PlantPolicyInput{
		ImageURL:    "https://img.test/fern.jpg",
		Sources:     []string{"https://botany.test/fern"},
		Description: "A shade-loving fern.",
	}
	assert.True(t, ShouldPlantBeActive(full))

	gallery := full
	gallery.ImageURL = ""
	gallery.ImageURLs = []string{"", "https://img.test/2.jpg"}
	assert.True(t, ShouldPlantBeActive(gallery), "gallery image is enough")

	noImage := full
	noImage.ImageURL = "  "
	assert.False(t, ShouldPlantBeActive(noImage))

	noSource := full
	noSource.Sources = []string{" "}
	assert.False(t, ShouldPlantBeActive(noSource))

	noDesc := full
	noDesc.Description = "\n\t"
	assert.False(t, ShouldPlantBeActive(noDesc))
}

func TestOfferCountsAndSummary(t *testing.T) {
	offers := []OfferState{
		{PriceCents: i64(1500), InStock: Bool(true)},
		{PriceCents: i64(900), InStock: Bool(true)},
		{PriceCents: i64(500), InStock: Bool(false)},
		{PriceCents: i64(100), InStock: nil},
		{PriceCents: nil, InStock: Bool(true)},
	}
	assert.Equal(t, 2, CountInStockPricedOffers(offers))

	s := SummarizeOffers(offers)
	require.NotNil(t, s.MinPriceCents)
	assert.Equal(t, int64(900), *s.MinPriceCents)
	assert.Equal(t, 3, s.InStockCount)

	empty := SummarizeOffers(nil)
	assert.Nil(t, empty.MinPriceCents)
	assert.Zero(t, empty.InStockCount)
}

func TestBuildLegacyPrunePlan_Golden(t *testing.T) {
	offers := []OfferRef{
		{ID: "offer-direct", ProductID: "product-keep"},
		{ID: "offer-linked", ProductID: "product-legacy"},
		{ID: "offer-untouched", ProductID: "product-keep"},
	}
	plan := BuildLegacyPrunePlan(PruneTargets{
		ProductIDs: []string{"product-legacy"},
		OfferIDs:   []string{"offer-direct"},
	}, offers)

	out, err := hashing.StableJSONStringify(plan)
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "legacy_prune_plan", []byte(out))
}

func TestBuildLegacyPrunePlan_KeepIsAlsoDeleted(t *testing.T) {
	offers := []OfferRef{
		{ID: "offer-direct", ProductID: "product-keep"},
		{ID: "offer-linked", ProductID: "product-legacy"},
	}
	plan := BuildLegacyPrunePlan(PruneTargets{
		ProductIDs: []string{"product-legacy", "product-keep"},
		OfferIDs:   []string{"offer-direct"},
	}, offers)

	assert.Equal(t, []string{"product-keep", "product-legacy"}, plan.ProductIDsToDelete)
	assert.Equal(t, []string{"offer-direct", "offer-linked"}, plan.OfferIDsToDelete)
	assert.Empty(t, plan.RefreshOfferSummaryProductIDs)
}

func TestBuildLegacyPrunePlan_DedupSortAndBlank(t *testing.T) {
	plan := BuildLegacyPrunePlan(PruneTargets{
		ProductIDs: []string{"p2", "p1", "p2", " "},
		PlantIDs:   []string{"z", "a", "z"},
		OfferIDs:   []string{"o9", "o9", "unknown-offer"},
	}, []OfferRef{
		{ID: "o1", ProductID: "p1"},
		{ID: "o9", ProductID: "p3"},
		{ID: "o2", ProductID: "p1"},
	})

	assert.Equal(t, []string{"p1", "p2"}, plan.ProductIDsToDelete)
	assert.Equal(t, []string{"a", "z"}, plan.PlantIDsToDelete)
	assert.Equal(t, []string{"o1", "o2", "o9", "unknown-offer"}, plan.OfferIDsToDelete)
	assert.Equal(t, []string{"p3"}, plan.RefreshOfferSummaryProductIDs)
	assert.False(t, plan.Empty())

	assert.True(t, BuildLegacyPrunePlan(PruneTargets{}, nil).Empty())
}

func TestStockTriState(t *testing.T) {
	assert.Equal(t, Gone, ClassifyStatus(404))
	assert.Equal(t, Gone, ClassifyStatus(410))
	assert.Equal(t, Live, ClassifyStatus(200))
	for _, code := range []int{0, 301, 403, 429, 500, 503} {
		assert.Equal(t, Ambiguous, ClassifyStatus(code), code)
		assert.Nil(t, StockFromStatus(code), code)
	}
	assert.Nil(t, StockFromStatus(200))
	require.NotNil(t, StockFromStatus(410))
	assert.False(t, *StockFromStatus(410))

	cur := Bool(true)
	assert.Same(t, cur, MergeStock(cur, nil), "ambiguous keeps current")
	assert.Nil(t, MergeStock(nil, nil))
	got := MergeStock(cur, Bool(false))
	require.NotNil(t, got)
	assert.False(t, *got)
	assert.Equal(t, "ambiguous", Ambiguous.String())
}

func TestRunAudit_Provenance(t *testing.T) {
	rows := []Record{
		{Type: RecordProduct, ID: "p-ok", Active: true, SourceURLs: []string{"https://shop.test/p"}},
		{Type: RecordProduct, ID: "p-none", Active: true},
		{Type: RecordPlant, ID: "pl-bad", Active: true, SourceURLs: []string{"ftp://x.test/a", "notaurl"}},
		{Type: RecordPlant, ID: "pl-hidden", Active: false},
	}
	r, err := RunAudit("provenance", rows, ProvenanceRules()...)
	require.NoError(t, err)

	assert.Equal(t, 4, r.Checked)
	require.Len(t, r.Violations, 2)
	assert.Equal(t, "p-none", r.Violations[0].Subject.ID)
	assert.Equal(t, "pl-bad", r.Violations[1].Subject.ID)
	assert.True(t, r.HasViolations())
	assert.Len(t, r.Hash, 64)

	again, err := RunAudit("provenance", rows, ProvenanceRules()...)
	require.NoError(t, err)
	assert.Equal(t, r.Hash, again.Hash)
}

func TestRunAudit_Quality(t *testing.T) {
	goodPlant := &PlantPolicyInput{ImageURL: "i", Sources: []string{"https://s.test"}, Description: "Real text"}
	placeholder := &PlantPolicyInput{ImageURL: "i", Sources: []string{"https://s.test"}, Description: "  Coming SOON. "}
	rows := []Record{
		{Type: RecordProduct, ID: "p-good", Active: true, Product: &ProductPolicyInput{InStockPricedOffers: 1, Specs: map[string]any{"k": "v"}}},
		{Type: RecordProduct, ID: "p-bad", Active: true, Product: &ProductPolicyInput{InStockPricedOffers: 0, Specs: map[string]any{"k": "v"}}},
		{Type: RecordPlant, ID: "pl-good", Active: true, Plant: goodPlant},
		{Type: RecordPlant, ID: "pl-placeholder", Active: true, Plant: placeholder},
		{Type: RecordPlant, ID: "pl-hidden", Active: false, Plant: &PlantPolicyInput{}},
	}
	r, err := RunAudit("quality", rows, QualityRules()...)
	require.NoError(t, err)

	require.Len(t, r.Violations, 2)
	assert.Equal(t, "active_fails_policy", r.Violations[0].Rule)
	assert.Equal(t, "p-bad", r.Violations[0].Subject.ID)
	assert.Equal(t, "placeholder_description", r.Violations[1].Rule)
	assert.Equal(t, "pl-placeholder", r.Violations[1].Subject.ID)
}

func TestRunAudit_Regression(t *testing.T) {
	prior := ActiveSnapshot{ProductIDs: []string{"p1", "p2", "p3"}, PlantIDs: []string{"pl1"}}
	current := []Record{
		{Type: RecordProduct, ID: "p1", Active: true},
		{Type: RecordProduct, ID: "p2", Active: false},
		{Type: RecordProduct, ID: "p4", Active: true},
		{Type: RecordPlant, ID: "pl1", Active: true},
	}

	rows := RegressionRows(prior, current)
	r, err := RunAudit("regression", rows, RegressionRules()...)
	require.NoError(t, err)

	require.Len(t, r.Violations, 2)
	assert.Equal(t, "p2", r.Violations[0].Subject.ID)
	assert.Equal(t, "p3", r.Violations[1].Subject.ID)
	assert.True(t, r.Violations[1].Subject.Missing)

	snap := SnapshotOf(current)
	assert.Equal(t, []string{"p1", "p4"}, snap.ProductIDs)
	assert.Equal(t, []string{"pl1"}, snap.PlantIDs)
}

func TestRunAudit_Clean(t *testing.T) {
	r, err := RunAudit[Record]("provenance", nil, ProvenanceRules()...)
	require.NoError(t, err)
	assert.False(t, r.HasViolations())
	assert.NotNil(t, r.Violations)
}
