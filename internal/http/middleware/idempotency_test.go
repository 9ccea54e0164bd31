package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

type idemProbe struct {
	key    string
	has    bool
	replay bool
	bypass bool
}

func newIdemRouter(opts IdempotencyOptions, lookup IdempotencyLookup, probe *idemProbe) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), IdempotencyValidator(opts, lookup))
	h := func(c *gin.Context) {
		probe.key, probe.has = GetIdempotencyKey(c)
		probe.replay = IsReplay(c)
		probe.bypass = IsRateBypass(c)
		c.Status(http.StatusNoContent)
	}
	r.GET("/jobs", h)
	r.POST("/jobs", h)
	return r
}

func TestIdempotencyValidator_StashesKeyOnUnsafeMethods(t *testing.T) {
	var looked []string
	lookup := func(_ context.Context, key string) (bool, error) {
		looked = append(looked, key)
		return false, nil
	}
	var p idemProbe
	r := newIdemRouter(IdempotencyOptions{}, lookup, &p)

	req := httptest.NewRequest(http.MethodPost, "/jobs", nil)
	req.Header.Set(HeaderIdempotencyKey, "refresh:offer-1:2025-06-01")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent || !p.has || p.key != "refresh:offer-1:2025-06-01" || p.replay {
		t.Fatalf("code=%d probe=%+v", w.Code, p)
	}
	if len(looked) != 1 {
		t.Fatalf("lookups = %v", looked)
	}

	// GET ignores the header entirely.
	p = idemProbe{}
	req = httptest.NewRequest(http.MethodGet, "/jobs", nil)
	req.Header.Set(HeaderIdempotencyKey, "not valid!")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent || p.has {
		t.Fatalf("GET code=%d probe=%+v", w.Code, p)
	}

	// No header, no lookup.
	p = idemProbe{}
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/jobs", nil))
	if p.has || len(looked) != 1 {
		t.Fatalf("probe=%+v lookups=%v", p, looked)
	}
}

func TestIdempotencyValidator_RejectsMalformedKeys(t *testing.T) {
	var p idemProbe
	r := newIdemRouter(IdempotencyOptions{MaxLen: 10, Pattern: regexp.MustCompile(`^[a-z]+$`)}, nil, &p)

	for _, key := range []string{"UPPER", "abcdefghijk", "has space"} {
		req := httptest.NewRequest(http.MethodPost, "/jobs", nil)
		req.Header.Set(HeaderIdempotencyKey, key)
		req.Header.Set(requestIDHeader, "rid-1")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("key %q: code=%d", key, w.Code)
		}
		var body map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("json: %v", err)
		}
		if body["code"] != "bad_idempotency_key" || body["request_id"] != "rid-1" {
			t.Fatalf("body = %v", body)
		}
	}
	if p.has {
		t.Fatalf("handler must not run for rejected keys")
	}
}

func TestIdempotencyValidator_ReplayMarksBypass(t *testing.T) {
	var p idemProbe
	active := func(_ context.Context, key string) (bool, error) { return strings.HasPrefix(key, "held"), nil }
	r := newIdemRouter(IdempotencyOptions{}, active, &p)

	req := httptest.NewRequest(http.MethodPost, "/jobs", nil)
	req.Header.Set(HeaderIdempotencyKey, "held-1")
	r.ServeHTTP(httptest.NewRecorder(), req)
	if !p.replay || !p.bypass {
		t.Fatalf("held key probe = %+v", p)
	}

	failing := func(context.Context, string) (bool, error) { return true, errors.New("db down") }
	r = newIdemRouter(IdempotencyOptions{}, failing, &p)
	p = idemProbe{}
	req = httptest.NewRequest(http.MethodPost, "/jobs", nil)
	req.Header.Set(HeaderIdempotencyKey, "held-2")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent || p.replay || !p.has {
		t.Fatalf("lookup error must not block: code=%d probe=%+v", w.Code, p)
	}
}
