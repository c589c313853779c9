// Package faa is the primary NOTAM source: the FAA NOTAM API, queried per
// ICAO location in GeoJSON form.
package faa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/couchcryptid/notam-watch/internal/adapter/upstream"
	"github.com/couchcryptid/notam-watch/internal/domain"
	"github.com/couchcryptid/notam-watch/internal/observability"
)

// Client fetches raw NOTAM items from the FAA NOTAM API.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	req          *upstream.Requester
	logger       *slog.Logger
}

// NewClient creates an FAA client. Credentials are sent as the client_id and
// client_secret headers on every request.
func NewClient(baseURL, clientID, clientSecret string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		baseURL:      baseURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		req:          upstream.NewRequester("primary", timeout, metrics, logger),
		logger:       logger,
	}
}

// Source identifies records produced by this client.
func (c *Client) Source() domain.Source { return domain.SourcePrimary }

// FetchRaw returns the flattened items for icao. An empty list with a nil
// error means the upstream had nothing usable (or rejected the request with a
// 4xx other than 429).
func (c *Client) FetchRaw(ctx context.Context, icao string) ([]domain.RawItem, error) {
	code, err := domain.NormalizeICAO(icao)
	if err != nil {
		return nil, err
	}

	params := url.Values{
		"icaoLocation":   {code},
		"responseFormat": {"geoJson"},
		"pageSize":       {"1000"},
	}
	header := http.Header{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}

	body, err := c.req.Get(ctx, c.baseURL+"/notams?"+params.Encode(), header)
	if err != nil || body == nil {
		return nil, err
	}

	items, err := ParsePayload(body)
	if err != nil {
		c.req.Observe(upstream.OutcomeUnavailable)
		return nil, fmt.Errorf("primary payload for %s: %w: %w", code, domain.ErrUpstreamUnavailable, err)
	}
	if len(items) == 0 {
		c.req.Observe(upstream.OutcomeEmpty)
	} else {
		c.req.Observe(upstream.OutcomeSuccess)
	}
	c.logger.Debug("primary fetch complete", "icao", code, "items", len(items))
	return items, nil
}

// ParsePayload flattens a GeoJSON NOTAM response. Each feature's
// properties.coreNOTAMData.notam object becomes one RawItem; the first
// translation contributes "simpleText" and "fullText". The FAA's internal id
// is kept as "faaId" so the published NOTAM number is used for identity.
func ParsePayload(data []byte) ([]domain.RawItem, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var resp response
	if err := dec.Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	items := make([]domain.RawItem, 0, len(resp.Items))
	for _, f := range resp.Items {
		core := f.Properties.CoreNOTAMData
		if len(core.Notam) == 0 {
			continue
		}

		item := make(domain.RawItem, len(core.Notam)+2)
		for k, v := range core.Notam {
			item[k] = v
		}
		if id, ok := item["id"]; ok {
			item["faaId"] = id
			delete(item, "id")
		}
		if len(core.NotamTranslation) > 0 {
			tr := core.NotamTranslation[0]
			if v, ok := tr["simpleText"]; ok {
				item["simpleText"] = v
			}
			if v, ok := tr["formattedText"]; ok {
				item["fullText"] = v
			}
		}
		items = append(items, item)
	}
	return items, nil
}

// FAA API response types.

type response struct {
	Items []feature `json:"items"`
}

type feature struct {
	Properties struct {
		CoreNOTAMData struct {
			Notam            map[string]any   `json:"notam"`
			NotamTranslation []map[string]any `json:"notamTranslation"`
		} `json:"coreNOTAMData"`
	} `json:"properties"`
}
