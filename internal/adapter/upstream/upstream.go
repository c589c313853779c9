// Package upstream holds the HTTP call policy shared by the NOTAM source
// adapters: timeouts, identifying User-Agent, status classification and
// request metrics.
package upstream

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/couchcryptid/notam-watch/internal/domain"
	"github.com/couchcryptid/notam-watch/internal/observability"
)

// maxBodyBytes caps how much of an upstream response is read.
const maxBodyBytes = 16 << 20

// Outcome labels for notam_upstream_requests_total.
const (
	OutcomeSuccess     = "success"
	OutcomeEmpty       = "empty"
	OutcomeClientError = "client_error"
	OutcomeRateLimited = "rate_limited"
	OutcomeUnavailable = "unavailable"
)

// Requester performs GET requests against one upstream.
type Requester struct {
	name       string
	userAgent  string
	httpClient *http.Client
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewRequester creates a Requester. name is the adapter label used in errors,
// logs and metrics.
func NewRequester(name string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Requester {
	return &Requester{
		name:      name,
		userAgent: "notam-watch/" + name,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		metrics: metrics,
		logger:  logger,
	}
}

// Name returns the adapter label.
func (r *Requester) Name() string { return r.name }

// Get fetches fullURL. It returns the body for 2xx responses and (nil, nil)
// for other statuses below 500, which callers treat as an empty result.
// 429 yields a *domain.RateLimitError; 5xx and transport failures wrap
// domain.ErrUpstreamUnavailable.
func (r *Requester) Get(ctx context.Context, fullURL string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("User-Agent", r.userAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := r.httpClient.Do(req)
	r.metrics.UpstreamDuration.WithLabelValues(r.name).Observe(time.Since(start).Seconds())
	if err != nil {
		r.Observe(OutcomeUnavailable)
		return nil, fmt.Errorf("%s request: %w: %w", r.name, domain.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		r.Observe(OutcomeRateLimited)
		return nil, &domain.RateLimitError{
			Adapter:    r.name,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	case resp.StatusCode >= http.StatusInternalServerError:
		r.Observe(OutcomeUnavailable)
		return nil, fmt.Errorf("%s: %w: status %d", r.name, domain.ErrUpstreamUnavailable, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		r.Observe(OutcomeClientError)
		r.logger.Warn("upstream rejected request, treating as empty",
			"adapter", r.name, "status", resp.StatusCode, "body", string(snippet))
		return nil, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		r.Observe(OutcomeUnavailable)
		return nil, fmt.Errorf("%s read body: %w: %w", r.name, domain.ErrUpstreamUnavailable, err)
	}
	return body, nil
}

// Observe records the final outcome of one adapter call.
func (r *Requester) Observe(outcome string) {
	r.metrics.UpstreamRequests.WithLabelValues(r.name, outcome).Inc()
}

// parseRetryAfter accepts delta-seconds or an HTTP date. Unknown values yield 0.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}
