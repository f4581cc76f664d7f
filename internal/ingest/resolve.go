package ingest

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"
)

// Resolver follows tracking redirects to the final URL.
type Resolver struct {
	client  *http.Client
	timeout time.Duration
}

// NewResolver builds a resolver with a per-link timeout.
func NewResolver(timeout time.Duration, client *http.Client) *Resolver {
	if client == nil {
		client = &http.Client{}
	}
	return &Resolver{client: client, timeout: timeout}
}

// Resolve issues a HEAD request (GET when HEAD is refused) and returns the
// URL of the final response after redirects.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (string, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	final, status, err := r.do(ctx, http.MethodHead, rawURL)
	if err == nil && (status == http.StatusMethodNotAllowed || status == http.StatusForbidden) {
		final, _, err = r.do(ctx, http.MethodGet, rawURL)
	}
	if err != nil {
		return rawURL, err
	}
	return final, nil
}

func (r *Resolver) do(ctx context.Context, method, rawURL string) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return "", 0, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", 0, err
	}
	resp.Body.Close()
	return resp.Request.URL.String(), resp.StatusCode, nil
}

// budget caps how many links one run may resolve.
type budget struct {
	remaining atomic.Int64
}

func newBudget(limit int) *budget {
	b := &budget{}
	b.remaining.Store(int64(limit))
	return b
}

func (b *budget) take() bool {
	return b.remaining.Add(-1) >= 0
}
