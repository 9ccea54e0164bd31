// Package fetch performs outbound requests against retailer listings: a HEAD
// reachability check and a detail fetch that reads price and stock from a
// JSON document. Results are expressed as catalog stock signals so callers
// can merge them without guessing.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"

	"github.com/tbourn/go-catalog-ingest/internal/catalog"
	"github.com/tbourn/go-catalog-ingest/internal/config"
)

// Result is one observation of a listing. StatusCode is zero when the
// request never got a response.
type Result struct {
	StatusCode int
	Stock      catalog.StockSignal
	PriceCents *int64
}

// Client wraps a resty client configured for retailer requests.
type Client struct {
	http *resty.Client
}

// New builds a Client from configuration. Transport errors, 429 and 5xx
// responses are retried RetryCount times.
func New(cfg config.FetchConfig) *Client {
	c := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			code := r.StatusCode()
			return code == http.StatusTooManyRequests || code >= 500
		})
	if cfg.UserAgent != "" {
		c.SetHeader("User-Agent", cfg.UserAgent)
	}
	return &Client{http: c}
}

// Head checks whether url is still reachable. Only 404 and 410 yield a
// definite out-of-stock signal.
func (c *Client) Head(ctx context.Context, url string) (Result, error) {
	resp, err := c.http.R().SetContext(ctx).Head(url)
	if err != nil {
		return Result{}, fmt.Errorf("head %s: %w", url, err)
	}
	code := resp.StatusCode()
	return Result{StatusCode: code, Stock: catalog.StockFromStatus(code)}, nil
}

type detailBody struct {
	PriceCents *int64 `json:"price_cents"`
	InStock    *bool  `json:"in_stock"`
}

// Detail fetches url and decodes {price_cents, in_stock}. Non-2xx responses
// are classified like Head; a 2xx body that does not decode is an error.
func (c *Client) Detail(ctx context.Context, url string) (Result, error) {
	var body detailBody
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		Get(url)
	if err != nil {
		return Result{}, fmt.Errorf("get %s: %w", url, err)
	}

	code := resp.StatusCode()
	if code < 200 || code > 299 {
		return Result{StatusCode: code, Stock: catalog.StockFromStatus(code)}, nil
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return Result{StatusCode: code}, fmt.Errorf("decode detail %s: %w", url, err)
	}
	if body.PriceCents != nil && *body.PriceCents < 0 {
		return Result{StatusCode: code}, fmt.Errorf("decode detail %s: negative price", url)
	}
	return Result{StatusCode: code, Stock: body.InStock, PriceCents: body.PriceCents}, nil
}
