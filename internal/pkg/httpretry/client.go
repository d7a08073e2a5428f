// Package httpretry wraps an HTTP client with bounded retries, exponential
// backoff and full jitter. The webhook uses it to confirm SNS subscriptions.
package httpretry

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/ignite/listserv/internal/pkg/logger"
)

// Doer executes HTTP requests. *http.Client and *Client both satisfy it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options controls retry behaviour. Zero values take defaults.
type Options struct {
	MaxRetries int           // default 3
	BaseDelay  time.Duration // default 500ms
	MaxDelay   time.Duration // default 10s
}

// Client retries transient failures: network errors and 429/5xx responses.
// Client errors and context cancellation are returned immediately.
type Client struct {
	doer Doer
	opts Options
}

// New wraps doer. A nil doer gets an http.Client with a 15s timeout.
func New(doer Doer, opts Options) *Client {
	if doer == nil {
		doer = &http.Client{Timeout: 15 * time.Second}
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 500 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 10 * time.Second
	}
	return &Client{doer: doer, opts: opts}
}

// Do sends req, retrying as described on Client. The final response is
// returned as-is so callers can inspect a persistent error status.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	var lastErr error
	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("httpretry: reset body: %w", err)
				}
				req.Body = body
			}
			delay := c.backoff(attempt)
			logger.Debug("http retry", "attempt", attempt, "host", req.URL.Host, "path", req.URL.Path, "delay", delay.String())
			if err := sleep(ctx, delay); err != nil {
				return nil, firstErr(lastErr, err)
			}
		}

		resp, err := c.doer.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			lastErr = err
			continue
		}
		if !retryable(resp.StatusCode) || attempt == c.opts.MaxRetries {
			return resp, nil
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("httpretry: retryable status %d", resp.StatusCode)
	}
	return nil, lastErr
}

// Get fetches url and fails on any non-2xx final status.
func (c *Client) Get(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("httpretry: GET %s: status %d", req.URL.Host, resp.StatusCode)
	}
	return nil
}

// backoff returns a jittered delay in [BaseDelay/2, min(MaxDelay, BaseDelay*2^(attempt-1))].
func (c *Client) backoff(attempt int) time.Duration {
	d := c.opts.BaseDelay << (attempt - 1)
	if d <= 0 || d > c.opts.MaxDelay {
		d = c.opts.MaxDelay
	}
	floor := c.opts.BaseDelay / 2
	if d <= floor {
		return d
	}
	return floor + rand.N(d-floor)
}

func retryable(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
