package matching

// Method names the rule that produced a match.
type Method string

const (
	MethodIdentifierExact               Method = "identifier_exact"
	MethodProductRetailerURLFingerprint Method = "product_retailer_url_fingerprint"
	MethodNewCanonical                  Method = "new_canonical"
)

// Confidence per method, ordered identifier > fingerprint > new.
const (
	ConfidenceIdentifierExact               = 1.0
	ConfidenceProductRetailerURLFingerprint = 0.8
	ConfidenceNewCanonical                  = 0.0
)

// Confidence returns the fixed confidence for m.
func (m Method) Confidence() float64 {
	switch m {
	case MethodIdentifierExact:
		return ConfidenceIdentifierExact
	case MethodProductRetailerURLFingerprint:
		return ConfidenceProductRetailerURLFingerprint
	default:
		return ConfidenceNewCanonical
	}
}

// ExistingOffer is the subset of a canonical offer the matcher reads.
type ExistingOffer struct {
	ID         string
	ProductID  string
	RetailerID string
	URL        string
}

// Result is the outcome of MatchCanonicalOffer. CanonicalID is empty when
// Method is MethodNewCanonical.
type Result struct {
	CanonicalID string  `json:"canonicalId,omitempty"`
	Method      Method  `json:"matchMethod"`
	Confidence  float64 `json:"confidence"`
}

// IsNew reports whether the caller must create a canonical offer.
func (r Result) IsNew() bool { return r.Method == MethodNewCanonical }

// LowConfidence reports whether r falls below threshold and should be
// surfaced for review.
func (r Result) LowConfidence(threshold float64) bool { return r.Confidence < threshold }

// MatchCanonicalOffer resolves an incoming offer. Rules run in order and the
// first hit wins:
//
//  1. existingCanonicalID is set and still present in existing;
//  2. an offer with the same product and retailer has an equal normalized URL
//     (first in input order);
//  3. otherwise a new canonical is required.
//
// existing is never modified. An incoming URL that does not normalize can
// only match by identifier.
func MatchCanonicalOffer(existingCanonicalID, productID, retailerID, rawURL string, existing []ExistingOffer) Result {
	if existingCanonicalID != "" {
		for _, o := range existing {
			if o.ID == existingCanonicalID {
				return Result{CanonicalID: o.ID, Method: MethodIdentifierExact, Confidence: ConfidenceIdentifierExact}
			}
		}
	}

	if want, err := NormalizeOfferURL(rawURL); err == nil {
		for _, o := range existing {
			if o.ProductID != productID || o.RetailerID != retailerID {
				continue
			}
			got, err := NormalizeOfferURL(o.URL)
			if err != nil {
				continue
			}
			if got == want {
				return Result{
					CanonicalID: o.ID,
					Method:      MethodProductRetailerURLFingerprint,
					Confidence:  ConfidenceProductRetailerURLFingerprint,
				}
			}
		}
	}

	return Result{Method: MethodNewCanonical, Confidence: ConfidenceNewCanonical}
}
