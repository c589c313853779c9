package upstream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/notam-watch/internal/domain"
	"github.com/couchcryptid/notam-watch/internal/observability"
)

func testRequester(metrics *observability.Metrics) *Requester {
	return NewRequester("primary", 2*time.Second, metrics, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRequester_Get(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		header     map[string]string
		wantBody   bool
		wantErr    error
		wantRetry  time.Duration
		wantResult string
	}{
		{name: "ok", status: http.StatusOK, wantBody: true, wantResult: OutcomeSuccess},
		{name: "rate limited", status: http.StatusTooManyRequests, header: map[string]string{"Retry-After": "30"}, wantErr: domain.ErrRateLimited, wantRetry: 30 * time.Second, wantResult: OutcomeRateLimited},
		{name: "server error", status: http.StatusBadGateway, wantErr: domain.ErrUpstreamUnavailable, wantResult: OutcomeUnavailable},
		{name: "client error is empty", status: http.StatusNotFound, wantResult: OutcomeClientError},
		{name: "unauthorized is empty", status: http.StatusUnauthorized, wantResult: OutcomeClientError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "notam-watch/primary", r.Header.Get("User-Agent"))
				assert.Equal(t, "application/json", r.Header.Get("Accept"))
				assert.Equal(t, "abc", r.Header.Get("X-Test"))
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"ok":true}`))
			}))
			defer srv.Close()

			metrics := observability.NewMetricsForTesting()
			r := testRequester(metrics)
			body, err := r.Get(context.Background(), srv.URL, http.Header{"X-Test": {"abc"}})
			if tt.status == http.StatusOK {
				r.Observe(OutcomeSuccess)
			}

			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				var rl *domain.RateLimitError
				if errors.As(err, &rl) {
					assert.Equal(t, tt.wantRetry, rl.RetryAfter)
					assert.Equal(t, "primary", rl.Adapter)
				}
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantBody, body != nil)
			assert.Equal(t, 1.0, testutil.ToFloat64(metrics.UpstreamRequests.WithLabelValues("primary", tt.wantResult)))
		})
	}
}

func TestRequester_Get_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := testRequester(observability.NewMetricsForTesting()).Get(context.Background(), url, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

func TestRequester_Get_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	r := NewRequester("secondary", 50*time.Millisecond, observability.NewMetricsForTesting(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := r.Get(context.Background(), srv.URL, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, 120*time.Second, parseRetryAfter("120", now))
	assert.Equal(t, 90*time.Second, parseRetryAfter(now.Add(90*time.Second).Format(http.TimeFormat), now))
	assert.Zero(t, parseRetryAfter("", now))
	assert.Zero(t, parseRetryAfter("soon", now))
	assert.Zero(t, parseRetryAfter(now.Add(-time.Minute).Format(http.TimeFormat), now))
}
