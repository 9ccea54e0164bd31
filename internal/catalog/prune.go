package catalog

import (
	"sort"
	"strings"
)

// PruneTargets are the legacy ids an operator asked to remove.
type PruneTargets struct {
	ProductIDs []string `json:"productIds"`
	PlantIDs   []string `json:"plantIds"`
	OfferIDs   []string `json:"offerIds"`
}

// OfferRef links an offer to its product.
type OfferRef struct {
	ID        string
	ProductID string
}

// LegacyPrunePlan lists what a prune deletes and which surviving products
// need their offer summary recomputed afterwards. Every list is sorted and
// free of duplicates.
type LegacyPrunePlan struct {
	ProductIDsToDelete            []string `json:"productIdsToDelete"`
	PlantIDsToDelete              []string `json:"plantIdsToDelete"`
	OfferIDsToDelete              []string `json:"offerIdsToDelete"`
	RefreshOfferSummaryProductIDs []string `json:"refreshOfferSummaryProductIds"`
}

// Empty reports whether the plan deletes nothing.
func (p LegacyPrunePlan) Empty() bool {
	return len(p.ProductIDsToDelete) == 0 && len(p.PlantIDsToDelete) == 0 && len(p.OfferIDsToDelete) == 0
}

// BuildLegacyPrunePlan expands targets against the offer table. Offers of a
// deleted product are deleted with it. Products that lose offers but survive
// are listed for a summary refresh. Blank ids are ignored.
func BuildLegacyPrunePlan(targets PruneTargets, offers []OfferRef) LegacyPrunePlan {
	products := newIDSet(targets.ProductIDs...)
	plants := newIDSet(targets.PlantIDs...)
	offerSet := newIDSet(targets.OfferIDs...)

	productOf := make(map[string]string, len(offers))
	for _, o := range offers {
		productOf[o.ID] = o.ProductID
		if products.has(o.ProductID) {
			offerSet.add(o.ID)
		}
	}

	refresh := newIDSet()
	for id := range offerSet {
		pid, ok := productOf[id]
		if !ok || products.has(pid) {
			continue
		}
		refresh.add(pid)
	}

	return LegacyPrunePlan{
		ProductIDsToDelete:            products.sorted(),
		PlantIDsToDelete:              plants.sorted(),
		OfferIDsToDelete:              offerSet.sorted(),
		RefreshOfferSummaryProductIDs: refresh.sorted(),
	}
}

type idSet map[string]struct{}

func newIDSet(ids ...string) idSet {
	s := idSet{}
	for _, id := range ids {
		s.add(id)
	}
	return s
}

func (s idSet) add(id string) {
	if id = strings.TrimSpace(id); id != "" {
		s[id] = struct{}{}
	}
}

func (s idSet) has(id string) bool {
	_, ok := s[id]
	return ok
}

func (s idSet) sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
