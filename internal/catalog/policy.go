// Package catalog decides which catalog records may be displayed, plans
// safe deletion of legacy records, tracks tri-state stock signals and runs
// read-only audits over catalog state. Everything here is pure; the caller
// performs the writes.
package catalog

import (
	"reflect"
	"strings"
)

// ProductPolicyInput is what the product activation rule looks at.
type ProductPolicyInput struct {
	InStockPricedOffers int
	Specs               map[string]any
}

// ShouldProductBeActive holds only when the product has at least one
// in-stock priced offer and at least one populated spec.
func ShouldProductBeActive(in ProductPolicyInput) bool {
	return in.InStockPricedOffers > 0 && hasPopulatedSpec(in.Specs)
}

// PlantPolicyInput is what the plant activation rule looks at.
type PlantPolicyInput struct {
	ImageURL    string
	ImageURLs   []string
	Sources     []string
	Description string
}

// ShouldPlantBeActive requires an image (primary or gallery), a citation
// source and a non-blank description. Partial data keeps the plant hidden.
func ShouldPlantBeActive(in PlantPolicyInput) bool {
	hasImage := strings.TrimSpace(in.ImageURL) != "" || anyNonBlank(in.ImageURLs)
	return hasImage && anyNonBlank(in.Sources) && strings.TrimSpace(in.Description) != ""
}

// OfferState is the part of an offer that feeds policy and summaries.
type OfferState struct {
	PriceCents *int64
	InStock    *bool
}

// CountInStockPricedOffers counts offers known to be in stock with a price.
// Offers with unknown stock do not count.
func CountInStockPricedOffers(offers []OfferState) int {
	n := 0
	for _, o := range offers {
		if o.InStock != nil && *o.InStock && o.PriceCents != nil {
			n++
		}
	}
	return n
}

// OfferSummary is the cached per-product offer rollup.
type OfferSummary struct {
	MinPriceCents *int64 `json:"minPriceCents"`
	InStockCount  int    `json:"inStockCount"`
}

// SummarizeOffers computes the lowest in-stock price and the in-stock count.
func SummarizeOffers(offers []OfferState) OfferSummary {
	var s OfferSummary
	for _, o := range offers {
		if o.InStock == nil || !*o.InStock {
			continue
		}
		s.InStockCount++
		if o.PriceCents == nil {
			continue
		}
		if s.MinPriceCents == nil || *o.PriceCents < *s.MinPriceCents {
			p := *o.PriceCents
			s.MinPriceCents = &p
		}
	}
	return s
}

func hasPopulatedSpec(specs map[string]any) bool {
	for _, v := range specs {
		if populated(v) {
			return true
		}
	}
	return false
}

func populated(v any) bool {
	if v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) != ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return false
		}
		return populated(rv.Elem().Interface())
	}
	return true
}

func anyNonBlank(vals []string) bool {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return true
		}
	}
	return false
}
