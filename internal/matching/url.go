// Package matching resolves ingested retailer offers to canonical offer
// identities using deterministic rules: an existing mapping first, then a
// product+retailer+normalized URL fingerprint, otherwise a new canonical.
package matching

import (
	"errors"
	"net"
	"net/url"
	"sort"
	"strings"
)

// ErrInvalidURL is returned for empty or non-absolute URLs.
var ErrInvalidURL = errors.New("matching: url must be absolute")

// NormalizeOfferURL canonicalizes a retailer link so superficial variants
// compare equal: scheme and host are lowercased, default ports (80 for http,
// 443 for https) and the fragment are dropped, query parameters are sorted by
// key (equal keys keep their relative order) and a trailing slash on a
// non-root path is removed. An empty path becomes "/". Path case is kept.
func NormalizeOfferURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", ErrInvalidURL
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	} else if len(path) > 1 {
		path = strings.TrimRight(path, "/")
		if path == "" {
			path = "/"
		}
	}

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	if u.User != nil {
		b.WriteString(u.User.String())
		b.WriteByte('@')
	}
	b.WriteString(host)
	b.WriteString(path)
	if q := sortQuery(u.RawQuery); q != "" {
		b.WriteByte('?')
		b.WriteString(q)
	}
	return b.String(), nil
}

// sortQuery orders raw "k=v" pairs by decoded key with a stable sort, keeping
// the original encoding of each pair.
func sortQuery(raw string) string {
	if raw == "" {
		return ""
	}
	type pair struct{ key, raw string }
	var pairs []pair
	for _, part := range strings.Split(raw, "&") {
		if part == "" {
			continue
		}
		k, _, _ := strings.Cut(part, "=")
		if dk, err := url.QueryUnescape(k); err == nil {
			k = dk
		}
		pairs = append(pairs, pair{key: k, raw: part})
	}
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].key < pairs[j].key })
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.raw
	}
	return strings.Join(out, "&")
}
