// Package navcan is the secondary NOTAM source: NAV CANADA's CFPS alpha
// endpoint. Its payload shape is undocumented and has changed over time, so
// items are located by probing a sequence of known layouts.
package navcan

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/couchcryptid/notam-watch/internal/adapter/upstream"
	"github.com/couchcryptid/notam-watch/internal/domain"
	"github.com/couchcryptid/notam-watch/internal/observability"
)

// Client fetches raw NOTAM items from NAV CANADA.
type Client struct {
	baseURL string
	req     *upstream.Requester
	logger  *slog.Logger
}

// NewClient creates a NAV CANADA client. The endpoint is anonymous.
func NewClient(baseURL string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		req:     upstream.NewRequester("secondary", timeout, metrics, logger),
		logger:  logger,
	}
}

// Source identifies records produced by this client.
func (c *Client) Source() domain.Source { return domain.SourceSecondary }

// FetchRaw returns the items found in the alpha response for icao. A payload
// in which no items can be located is an empty result, not an error.
func (c *Client) FetchRaw(ctx context.Context, icao string) ([]domain.RawItem, error) {
	code, err := domain.NormalizeICAO(icao)
	if err != nil {
		return nil, err
	}

	params := url.Values{
		"site":  {code},
		"alpha": {"notam"},
	}
	body, err := c.req.Get(ctx, c.baseURL+"/weather/api/alpha/?"+params.Encode(), nil)
	if err != nil || body == nil {
		return nil, err
	}

	items := ExtractItems(body, code)
	if len(items) == 0 {
		c.req.Observe(upstream.OutcomeEmpty)
		c.logger.Info("secondary payload had no NOTAM items", "icao", code, "bytes", len(body))
		return nil, nil
	}
	c.req.Observe(upstream.OutcomeSuccess)
	c.logger.Debug("secondary fetch complete", "icao", code, "items", len(items))
	return items, nil
}

// ExtractItems locates the NOTAM objects in an alpha payload. Layouts are
// tried in order and the first that yields objects wins:
//
//  1. a top-level array
//  2. an "alpha", "notams" or "data" array
//  3. a "report" value: its "notams" or "alpha" array, the report itself
//     when it is an array, or the report object as a single item
//  4. a value keyed by the ICAO code: an array or its "notams" array
//  5. the first top-level array, in document order, whose first element
//     carries one of domain.NoticeFields
//
// Non-object array elements are skipped. Invalid JSON yields nil.
func ExtractItems(data []byte, icao string) []domain.RawItem {
	var root any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&root); err != nil {
		return nil
	}

	if arr, ok := root.([]any); ok {
		return unwrapText(objects(arr))
	}
	obj, ok := root.(map[string]any)
	if !ok {
		return nil
	}

	probes := []func() []domain.RawItem{
		func() []domain.RawItem { return firstArray(obj, "alpha", "notams", "data") },
		func() []domain.RawItem { return fromReport(obj["report"]) },
		func() []domain.RawItem { return fromICAOKey(obj, icao) },
		func() []domain.RawItem { return scanArrays(data, obj) },
	}
	for _, probe := range probes {
		if items := probe(); len(items) > 0 {
			return unwrapText(items)
		}
	}
	return nil
}

func firstArray(obj map[string]any, keys ...string) []domain.RawItem {
	for _, k := range keys {
		if arr, ok := obj[k].([]any); ok {
			if items := objects(arr); len(items) > 0 {
				return items
			}
		}
	}
	return nil
}

func fromReport(v any) []domain.RawItem {
	switch report := v.(type) {
	case []any:
		return objects(report)
	case map[string]any:
		if items := firstArray(report, "notams", "alpha"); len(items) > 0 {
			return items
		}
		if len(report) == 0 {
			return nil
		}
		return []domain.RawItem{domain.RawItem(report)}
	}
	return nil
}

func fromICAOKey(obj map[string]any, icao string) []domain.RawItem {
	switch v := obj[icao].(type) {
	case []any:
		return objects(v)
	case map[string]any:
		return firstArray(v, "notams")
	}
	return nil
}

// scanArrays walks the top-level keys in document order. Go maps are
// unordered, so the order is recovered from the raw token stream.
func scanArrays(data []byte, obj map[string]any) []domain.RawItem {
	for _, k := range topLevelKeys(data) {
		arr, ok := obj[k].([]any)
		if !ok || len(arr) == 0 {
			continue
		}
		first, ok := arr[0].(map[string]any)
		if !ok || !domain.RawItem(first).HasAny(domain.NoticeFields...) {
			continue
		}
		return objects(arr)
	}
	return nil
}

func topLevelKeys(data []byte) []string {
	dec := json.NewDecoder(bytes.NewReader(data))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil
	}

	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return keys
		}
		key, ok := tok.(string)
		if !ok {
			return keys
		}
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return keys
		}
		keys = append(keys, key)
	}
	return keys
}

func objects(arr []any) []domain.RawItem {
	out := make([]domain.RawItem, 0, len(arr))
	for _, el := range arr {
		if m, ok := el.(map[string]any); ok {
			out = append(out, domain.RawItem(m))
		}
	}
	return out
}

// unwrapText lifts CFPS's JSON-encoded "text" field. Newer payloads carry
// the NOTAM as a string like {"raw":"...","english":"..."}; the raw text is
// copied to "raw" when the item does not already have one.
func unwrapText(items []domain.RawItem) []domain.RawItem {
	for _, item := range items {
		s, ok := item["text"].(string)
		if !ok || !strings.HasPrefix(strings.TrimSpace(s), "{") || item.HasAny("raw") {
			continue
		}
		var inner map[string]any
		if err := json.Unmarshal([]byte(s), &inner); err != nil {
			continue
		}
		if raw, ok := inner["raw"].(string); ok && raw != "" {
			item["raw"] = raw
		}
	}
	return items
}
