package catalog

import "net/http"

// Reachability classifies the HTTP status of a retailer listing.
type Reachability int

const (
	// Ambiguous statuses (rate limits, server errors, blocks, transport
	// failures) carry no information about the listing.
	Ambiguous Reachability = iota
	// Live means the listing answered successfully.
	Live
	// Gone means the retailer reports the listing removed.
	Gone
)

func (r Reachability) String() string {
	switch r {
	case Live:
		return "live"
	case Gone:
		return "gone"
	default:
		return "ambiguous"
	}
}

// ClassifyStatus maps an HTTP status code to a Reachability. A code of 0
// stands for a request that never got a response.
func ClassifyStatus(code int) Reachability {
	switch {
	case code == http.StatusNotFound || code == http.StatusGone:
		return Gone
	case code >= 200 && code < 300:
		return Live
	default:
		return Ambiguous
	}
}

// StockSignal is a tri-state stock observation; nil means unknown.
type StockSignal = *bool

// StockFromStatus derives a stock signal from a reachability check. Only a
// gone listing is known to be out of stock; everything else is unknown (nil)
// because a successful HEAD says nothing about stock.
func StockFromStatus(code int) StockSignal {
	if ClassifyStatus(code) == Gone {
		return Bool(false)
	}
	return nil
}

// MergeStock applies a stock signal. A nil signal keeps the current value so
// a transient failure never marks a listing out of stock.
func MergeStock(current *bool, signal StockSignal) *bool {
	if signal == nil {
		return current
	}
	v := *signal
	return &v
}

// Bool returns a pointer to b.
func Bool(b bool) *bool { return &b }
