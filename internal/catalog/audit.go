package catalog

import (
	"net/url"
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"github.com/tbourn/go-catalog-ingest/internal/hashing"
)

// Rule flags a single row. Check returns a detail message when the row
// violates the rule.
type Rule[T any] struct {
	Name  string
	Check func(T) (string, bool)
}

// Violation is one failed rule for one row.
type Violation[T any] struct {
	Rule    string `json:"rule" yaml:"rule"`
	Detail  string `json:"detail" yaml:"detail"`
	Subject T      `json:"subject" yaml:"subject"`
}

// Report is the shared shape of every audit.
type Report[T any] struct {
	Kind       string         `json:"kind" yaml:"kind"`
	Checked    int            `json:"checked" yaml:"checked"`
	Violations []Violation[T] `json:"violations" yaml:"violations"`
	Hash       string         `json:"hash" yaml:"hash"`
}

// HasViolations drives the non-zero exit of audit tooling.
func (r Report[T]) HasViolations() bool { return len(r.Violations) > 0 }

// RunAudit applies every rule to every row in order. Hash fingerprints the
// violations so unchanged findings produce the same hash across runs.
func RunAudit[T any](kind string, rows []T, rules ...Rule[T]) (Report[T], error) {
	r := Report[T]{Kind: kind, Checked: len(rows), Violations: []Violation[T]{}}
	for _, row := range rows {
		for _, rule := range rules {
			if detail, bad := rule.Check(row); bad {
				r.Violations = append(r.Violations, Violation[T]{Rule: rule.Name, Detail: detail, Subject: row})
			}
		}
	}
	h, err := hashing.Fingerprint(r.Violations)
	if err != nil {
		return r, err
	}
	r.Hash = h
	return r, nil
}

// RecordType distinguishes products from plants in audit rows.
type RecordType string

const (
	RecordProduct RecordType = "product"
	RecordPlant   RecordType = "plant"
)

// Record is the audit view of one product or plant.
type Record struct {
	Type       RecordType `json:"type" yaml:"type"`
	ID         string     `json:"id" yaml:"id"`
	Name       string     `json:"name" yaml:"name"`
	Active     bool       `json:"active" yaml:"active"`
	Missing    bool       `json:"missing,omitempty" yaml:"missing,omitempty"`
	SourceURLs []string   `json:"sourceUrls,omitempty" yaml:"sourceUrls,omitempty"`

	Product *ProductPolicyInput `json:"-" yaml:"-"`
	Plant   *PlantPolicyInput   `json:"-" yaml:"-"`
}

// EligibleNow re-evaluates the activation policy for the record.
func (r Record) EligibleNow() bool {
	switch {
	case r.Product != nil:
		return ShouldProductBeActive(*r.Product)
	case r.Plant != nil:
		return ShouldPlantBeActive(*r.Plant)
	}
	return false
}

// ProvenanceRules flag displayed records without a usable http(s) source.
func ProvenanceRules() []Rule[Record] {
	return []Rule[Record]{{
		Name: "active_without_provenance",
		Check: func(r Record) (string, bool) {
			if !r.Active {
				return "", false
			}
			for _, s := range r.SourceURLs {
				if validSourceURL(s) {
					return "", false
				}
			}
			return "active " + string(r.Type) + " has no valid source url", true
		},
	}}
}

var placeholderDescriptions = []string{
	"n/a", "na", "none", "tbd", "todo", "todo: description", "lorem ipsum",
	"description coming soon", "coming soon", "no description", "placeholder",
}

// QualityRules flag displayed records that no longer pass the activation
// policy and displayed plants whose description is placeholder text.
func QualityRules() []Rule[Record] {
	return []Rule[Record]{
		{
			Name: "active_fails_policy",
			Check: func(r Record) (string, bool) {
				if r.Active && !r.EligibleNow() {
					return "active " + string(r.Type) + " fails activation policy", true
				}
				return "", false
			},
		},
		{
			Name: "placeholder_description",
			Check: func(r Record) (string, bool) {
				if !r.Active || r.Plant == nil {
					return "", false
				}
				fold := cases.Fold()
				desc := strings.TrimRight(strings.TrimSpace(fold.String(r.Plant.Description)), ".!")
				for _, p := range placeholderDescriptions {
					if desc == fold.String(p) {
						return "description is placeholder text", true
					}
				}
				return "", false
			},
		},
	}
}

// ActiveSnapshot is the set of displayed ids captured by a previous audit.
type ActiveSnapshot struct {
	ProductIDs []string `json:"productIds"`
	PlantIDs   []string `json:"plantIds"`
}

// SnapshotOf captures the active ids of records, sorted.
func SnapshotOf(records []Record) ActiveSnapshot {
	s := ActiveSnapshot{ProductIDs: []string{}, PlantIDs: []string{}}
	for _, r := range records {
		if !r.Active || r.Missing {
			continue
		}
		switch r.Type {
		case RecordProduct:
			s.ProductIDs = append(s.ProductIDs, r.ID)
		case RecordPlant:
			s.PlantIDs = append(s.PlantIDs, r.ID)
		}
	}
	sort.Strings(s.ProductIDs)
	sort.Strings(s.PlantIDs)
	return s
}

// RegressionRows pairs current records with a prior snapshot. Only records
// that were active before are returned; ids that disappeared come back as
// Missing rows.
func RegressionRows(prior ActiveSnapshot, current []Record) []Record {
	type key struct {
		t  RecordType
		id string
	}
	byKey := make(map[key]Record, len(current))
	for _, r := range current {
		byKey[key{r.Type, r.ID}] = r
	}
	var out []Record
	add := func(t RecordType, ids []string) {
		for _, id := range ids {
			if r, ok := byKey[key{t, id}]; ok {
				out = append(out, r)
				continue
			}
			out = append(out, Record{Type: t, ID: id, Missing: true})
		}
	}
	add(RecordProduct, prior.ProductIDs)
	add(RecordPlant, prior.PlantIDs)
	return out
}

// RegressionRules flag previously displayed records that are now hidden or
// gone. Rows must come from RegressionRows.
func RegressionRules() []Rule[Record] {
	return []Rule[Record]{{
		Name: "regressed_from_active",
		Check: func(r Record) (string, bool) {
			switch {
			case r.Missing:
				return string(r.Type) + " was active and no longer exists", true
			case !r.Active:
				return string(r.Type) + " was active and is now hidden", true
			}
			return "", false
		},
	}}
}

func validSourceURL(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
