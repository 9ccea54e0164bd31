// Package jobs defines the closed set of job kinds the queue accepts, their
// payload shapes and validation, idempotency key derivation, and the pure
// recovery classifier used by the operational sweep.
package jobs

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Kind names a unit of work.
type Kind string

const (
	KindHeadRefreshOne      Kind = "offers.head_refresh.one"
	KindHeadRefreshBulk     Kind = "offers.head_refresh.bulk"
	KindDetailRefreshOne    Kind = "offers.detail_refresh.one"
	KindDetailRefreshBulk   Kind = "offers.detail_refresh.bulk"
	KindIngestOffer         Kind = "ingest.offer"
	KindRecomputeVisibility Kind = "catalog.recompute_visibility"
	KindLegacyPrune         Kind = "catalog.legacy_prune"
	KindAudit               Kind = "catalog.audit"
)

// MaxBulkLimit caps how many offers one bulk job may fan out to.
const MaxBulkLimit = 1000

// Status is the lifecycle state of a job row.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Active reports whether s is non-terminal. At most one active job may hold
// a given idempotency key.
func (s Status) Active() bool { return s == StatusQueued || s == StatusRunning }

// ErrValidation is matched by every *ValidationError.
var ErrValidation = errors.New("jobs: validation failed")

// ValidationError rejects an unknown kind or a payload that does not match
// its kind's shape.
type ValidationError struct {
	Kind   Kind
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("job %q: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("job %q: %s: %s", e.Kind, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(k Kind, field, reason string) error {
	return &ValidationError{Kind: k, Field: field, Reason: reason}
}

// Payload is implemented by every known payload type.
type Payload interface {
	Kind() Kind
	Validate() error
}

// HeadRefreshOne re-checks a single offer URL for reachability.
type HeadRefreshOne struct {
	OfferID string `json:"offerId"`
}

func (HeadRefreshOne) Kind() Kind { return KindHeadRefreshOne }

func (p HeadRefreshOne) Validate() error { return requireID(p.Kind(), "offerId", p.OfferID) }

// DetailRefreshOne re-fetches price and stock for a single offer.
type DetailRefreshOne struct {
	OfferID string `json:"offerId"`
}

func (DetailRefreshOne) Kind() Kind { return KindDetailRefreshOne }

func (p DetailRefreshOne) Validate() error { return requireID(p.Kind(), "offerId", p.OfferID) }

// BulkRefresh selects up to Limit offers not checked within StaleAfterHours
// and enqueues one refresh job for each.
type BulkRefresh struct {
	Limit           int `json:"limit"`
	StaleAfterHours int `json:"staleAfterHours"`
}

func validateBulk(k Kind, p BulkRefresh) error {
	if p.Limit < 1 || p.Limit > MaxBulkLimit {
		return invalid(k, "limit", fmt.Sprintf("must be between 1 and %d", MaxBulkLimit))
	}
	if p.StaleAfterHours < 0 {
		return invalid(k, "staleAfterHours", "must be >= 0")
	}
	return nil
}

// HeadRefreshBulk fans out HeadRefreshOne jobs.
type HeadRefreshBulk BulkRefresh

func (HeadRefreshBulk) Kind() Kind { return KindHeadRefreshBulk }

func (p HeadRefreshBulk) Validate() error { return validateBulk(p.Kind(), BulkRefresh(p)) }

// DetailRefreshBulk fans out DetailRefreshOne jobs.
type DetailRefreshBulk BulkRefresh

func (DetailRefreshBulk) Kind() Kind { return KindDetailRefreshBulk }

func (p DetailRefreshBulk) Validate() error { return validateBulk(p.Kind(), BulkRefresh(p)) }

// IngestOffer carries one parsed retailer offer to be resolved against the
// canonical catalog.
type IngestOffer struct {
	Source     string `json:"source"`
	ExternalID string `json:"externalId"`
	ProductID  string `json:"productId"`
	RetailerID string `json:"retailerId"`
	URL        string `json:"url"`
	PriceCents *int64 `json:"priceCents,omitempty"`
	InStock    *bool  `json:"inStock,omitempty"`
}

func (IngestOffer) Kind() Kind { return KindIngestOffer }

func (p IngestOffer) Validate() error {
	k := p.Kind()
	for _, f := range []struct{ name, v string }{
		{"source", p.Source},
		{"externalId", p.ExternalID},
		{"productId", p.ProductID},
		{"retailerId", p.RetailerID},
	} {
		if err := requireID(k, f.name, f.v); err != nil {
			return err
		}
	}
	u, err := url.Parse(strings.TrimSpace(p.URL))
	if err != nil || u.Host == "" || (!strings.EqualFold(u.Scheme, "http") && !strings.EqualFold(u.Scheme, "https")) {
		return invalid(k, "url", "must be an absolute http(s) URL")
	}
	if p.PriceCents != nil && *p.PriceCents < 0 {
		return invalid(k, "priceCents", "must be >= 0")
	}
	return nil
}

// RecomputeVisibility re-evaluates the activation policy for the listed
// products and plants.
type RecomputeVisibility struct {
	ProductIDs []string `json:"productIds,omitempty"`
	PlantIDs   []string `json:"plantIds,omitempty"`
}

func (RecomputeVisibility) Kind() Kind { return KindRecomputeVisibility }

func (p RecomputeVisibility) Validate() error {
	if len(p.ProductIDs)+len(p.PlantIDs) == 0 {
		return invalid(p.Kind(), "", "at least one productId or plantId is required")
	}
	return nonBlank(p.Kind(), map[string][]string{"productIds": p.ProductIDs, "plantIds": p.PlantIDs})
}

// LegacyPrune deletes legacy catalog records, or only plans the deletion
// when DryRun is set.
type LegacyPrune struct {
	ProductIDs []string `json:"productIds,omitempty"`
	PlantIDs   []string `json:"plantIds,omitempty"`
	OfferIDs   []string `json:"offerIds,omitempty"`
	DryRun     bool     `json:"dryRun"`
}

func (LegacyPrune) Kind() Kind { return KindLegacyPrune }

func (p LegacyPrune) Validate() error {
	if len(p.ProductIDs)+len(p.PlantIDs)+len(p.OfferIDs) == 0 {
		return invalid(p.Kind(), "", "at least one target id is required")
	}
	return nonBlank(p.Kind(), map[string][]string{
		"productIds": p.ProductIDs, "plantIds": p.PlantIDs, "offerIds": p.OfferIDs,
	})
}

// AuditKind names one of the catalog audit reports.
type AuditKind string

const (
	AuditProvenance AuditKind = "provenance"
	AuditQuality    AuditKind = "quality"
	AuditRegression AuditKind = "regression"
)

// Known reports whether a is a recognised audit.
func (a AuditKind) Known() bool {
	switch a {
	case AuditProvenance, AuditQuality, AuditRegression:
		return true
	}
	return false
}

// Audit runs one catalog audit and stores its report.
type Audit struct {
	Report AuditKind `json:"kind"`
}

func (Audit) Kind() Kind { return KindAudit }

func (p Audit) Validate() error {
	if !p.Report.Known() {
		return invalid(p.Kind(), "kind", "must be one of provenance, quality, regression")
	}
	return nil
}

var registry = map[Kind]func() Payload{
	KindHeadRefreshOne:      func() Payload { return &HeadRefreshOne{} },
	KindHeadRefreshBulk:     func() Payload { return &HeadRefreshBulk{} },
	KindDetailRefreshOne:    func() Payload { return &DetailRefreshOne{} },
	KindDetailRefreshBulk:   func() Payload { return &DetailRefreshBulk{} },
	KindIngestOffer:         func() Payload { return &IngestOffer{} },
	KindRecomputeVisibility: func() Payload { return &RecomputeVisibility{} },
	KindLegacyPrune:         func() Payload { return &LegacyPrune{} },
	KindAudit:               func() Payload { return &Audit{} },
}

// Known reports whether k is a registered kind.
func Known(k Kind) bool {
	_, ok := registry[k]
	return ok
}

// Kinds lists registered kinds in lexical order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DecodePayload parses raw into the payload type registered for kind and
// validates it. Unknown kinds, unknown fields and shape violations all
// return a *ValidationError.
func DecodePayload(kind Kind, raw []byte) (Payload, error) {
	newPayload, ok := registry[kind]
	if !ok {
		return nil, invalid(kind, "", "unknown kind")
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("{}")
	}
	p := newPayload()
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(p); err != nil {
		return nil, invalid(kind, "payload", err.Error())
	}
	p = deref(p)
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Check validates a typed payload against the kind it is enqueued under.
func Check(kind Kind, p Payload) error {
	if !Known(kind) {
		return invalid(kind, "", "unknown kind")
	}
	if p == nil {
		return invalid(kind, "payload", "missing")
	}
	if p.Kind() != kind {
		return invalid(kind, "payload", fmt.Sprintf("shape belongs to %q", p.Kind()))
	}
	return p.Validate()
}

// deref returns payloads by value so callers can type-switch on the plain
// struct types.
func deref(p Payload) Payload {
	switch v := p.(type) {
	case *HeadRefreshOne:
		return *v
	case *HeadRefreshBulk:
		return *v
	case *DetailRefreshOne:
		return *v
	case *DetailRefreshBulk:
		return *v
	case *IngestOffer:
		return *v
	case *RecomputeVisibility:
		return *v
	case *LegacyPrune:
		return *v
	case *Audit:
		return *v
	}
	return p
}

func requireID(k Kind, field, v string) error {
	if strings.TrimSpace(v) == "" {
		return invalid(k, field, "must not be empty")
	}
	return nil
}

func nonBlank(k Kind, lists map[string][]string) error {
	names := make([]string, 0, len(lists))
	for name := range lists {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, id := range lists[name] {
			if strings.TrimSpace(id) == "" {
				return invalid(k, name, "must not contain empty ids")
			}
		}
	}
	return nil
}
