package domain

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Candidate field names, in priority order. Upstream schemas are undocumented,
// so each canonical field is read from the first candidate that is non-empty.
var (
	idFields        = []string{"id", "notamId", "notamNumber", "number", "notam_id"}
	textFields      = []string{"raw", "text", "message", "fullText", "summary", "simpleText"}
	validFromFields = []string{"start", "validFrom", "effectiveStart", "startValidity", "issued"}
	validToFields   = []string{"end", "validTo", "effectiveEnd", "endValidity"}
	issuedFields    = []string{"issued", "issuedDate", "start"}
	locationFields  = []string{"site", "icao", "location", "icaoLocation"}

	// NoticeFields are the keys whose presence marks an object as a NOTAM
	// candidate during heuristic payload scans.
	NoticeFields = []string{"id", "notamId", "number", "text", "raw", "message", "summary", "start", "end", "issued", "site", "icao"}
)

// Get returns the first non-empty scalar value among keys.
func (r RawItem) Get(keys ...string) string {
	for _, k := range keys {
		if s := strings.TrimSpace(scalarString(r[k])); s != "" {
			return s
		}
	}
	return ""
}

// HasAny reports whether the item carries at least one of keys.
func (r RawItem) HasAny(keys ...string) bool {
	for _, k := range keys {
		if _, ok := r[k]; ok {
			return true
		}
	}
	return false
}

// scalarString renders JSON scalars as text. Objects, arrays and nulls are "".
func scalarString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	default:
		return ""
	}
}
