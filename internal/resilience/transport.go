package resilience

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Transport is an http.RoundTripper that consults a Breaker before every
// request. Transport errors and 5xx responses count as failures; 4xx
// responses are business answers and count as successes.
type Transport struct {
	Base    http.RoundTripper
	Breaker *Breaker
	// Timeout bounds a single round trip when the request context has no
	// earlier deadline.
	Timeout time.Duration
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	ctx := req.Context()
	if t.Breaker != nil && !t.Breaker.Allow(ctx) {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Host, ErrOpenCircuit)
	}
	if t.Timeout > 0 {
		if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > t.Timeout {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, t.Timeout)
			req = req.WithContext(ctx)
			resp, err := base.RoundTrip(req)
			t.report(ctx, resp, err)
			if err != nil {
				cancel()
				return nil, err
			}
			resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
			return resp, nil
		}
	}
	resp, err := base.RoundTrip(req)
	t.report(ctx, resp, err)
	return resp, err
}

func (t *Transport) report(ctx context.Context, resp *http.Response, err error) {
	if t.Breaker == nil {
		return
	}
	t.Breaker.Report(ctx, err == nil && resp != nil && resp.StatusCode < 500)
}

type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
