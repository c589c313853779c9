package faa

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/notam-watch/internal/domain"
	"github.com/couchcryptid/notam-watch/internal/observability"
)

const (
	testClientID     = "test-id"
	testClientSecret = "test-secret"
)

func testClient(baseURL string, metrics *observability.Metrics) *Client {
	return NewClient(baseURL, testClientID, testClientSecret, 5*time.Second, metrics, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func loadFixture(t *testing.T) []byte {
	t.Helper()
	data, err := os.ReadFile("testdata/kjfk.json")
	require.NoError(t, err)
	return data
}

func TestClient_FetchRaw_Success(t *testing.T) {
	fixture := loadFixture(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/notams", r.URL.Path)
		assert.Equal(t, "KJFK", r.URL.Query().Get("icaoLocation"))
		assert.Equal(t, "geoJson", r.URL.Query().Get("responseFormat"))
		assert.Equal(t, "1000", r.URL.Query().Get("pageSize"))
		assert.Equal(t, testClientID, r.Header.Get("client_id"))
		assert.Equal(t, testClientSecret, r.Header.Get("client_secret"))
		assert.Equal(t, "notam-watch/primary", r.Header.Get("User-Agent"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(fixture)
	}))
	defer srv.Close()

	metrics := observability.NewMetricsForTesting()
	items, err := testClient(srv.URL, metrics).FetchRaw(context.Background(), "kjfk")
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "01/234", items[0].Get("number"))
	assert.Equal(t, "NOTAM_1_73849211", items[0].Get("faaId"))
	assert.False(t, items[0].HasAny("id"))
	assert.Equal(t, "Q) KZNY/QMRLC/IV/NBO/A/000/999/\nE) RWY 04L/22R CLSD", items[0].Get("fullText"))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.UpstreamRequests.WithLabelValues("primary", "success")))
}

func TestClient_FetchRaw_RunwayClosureNormalizes(t *testing.T) {
	items, err := ParsePayload(loadFixture(t))
	require.NoError(t, err)

	n, ok := domain.Normalize(items[0], "KJFK", 0, domain.SourcePrimary)
	require.True(t, ok)
	assert.Equal(t, "KJFK-01/234", n.ID)
	assert.Equal(t, domain.ClassRunway, n.Classification)
	assert.Contains(t, n.Summary, "RUNWAY")
	assert.Equal(t, "Q) KZNY/QMRLC/IV/NBO/A/000/999/", n.QLine)
	assert.LessOrEqual(t, n.ValidFrom, n.ValidTo)

	perm, ok := domain.Normalize(items[1], "KJFK", 1, domain.SourcePrimary)
	require.True(t, ok)
	assert.Equal(t, domain.ClassTaxiway, perm.Classification)
	assert.Empty(t, perm.ValidTo)
}

func TestClient_FetchRaw_InvalidICAO(t *testing.T) {
	_, err := testClient("http://unused", observability.NewMetricsForTesting()).FetchRaw(context.Background(), "JFK")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidICAO)
}

func TestClient_FetchRaw_StatusHandling(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"rate limited", http.StatusTooManyRequests, domain.ErrRateLimited},
		{"server error", http.StatusServiceUnavailable, domain.ErrUpstreamUnavailable},
		{"bad request is empty", http.StatusBadRequest, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			items, err := testClient(srv.URL, observability.NewMetricsForTesting()).FetchRaw(context.Background(), "KJFK")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Empty(t, items)
		})
	}
}

func TestClient_FetchRaw_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"items": [`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL, observability.NewMetricsForTesting()).FetchRaw(context.Background(), "KJFK")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

func TestParsePayload(t *testing.T) {
	t.Run("no items", func(t *testing.T) {
		items, err := ParsePayload([]byte(`{"pageSize":1000,"items":[]}`))
		require.NoError(t, err)
		assert.Empty(t, items)
	})

	t.Run("numbers preserved as text", func(t *testing.T) {
		items, err := ParsePayload([]byte(`{"items":[{"properties":{"coreNOTAMData":{"notam":{"number":1234,"text":"OBST"}}}}]}`))
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, "1234", items[0].Get("number"))
	})
}
