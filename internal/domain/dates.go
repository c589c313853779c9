package domain

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TimestampLayout is the single canonical format for every timestamp field.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

var (
	isoPrefixRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)
	compact10Re = regexp.MustCompile(`^\d{10}$`)
	compact12Re = regexp.MustCompile(`^\d{12}$`)

	isoLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05",
		"2006-01-02T15:04Z07:00",
		"2006-01-02T15:04",
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		"2006-01-02",
	}

	genericLayouts = []string{
		time.RFC1123Z,
		time.RFC1123,
		time.RFC850,
		time.ANSIC,
		time.UnixDate,
		"Jan 2, 2006 15:04",
		"Jan 2, 2006",
		"January 2, 2006 15:04",
		"January 2, 2006",
		"02 Jan 2006 15:04",
		"02 Jan 2006",
		"01/02/2006 15:04",
		"01/02/2006",
	}
)

// NormalizeDate converts an upstream timestamp into TimestampLayout (UTC).
// Accepted shapes, in order: 10-digit YYMMDDHHmm (year 2000+YY), 12-digit
// YYYYMMDDHHmm, ISO-prefixed strings, then a set of common textual layouts.
// Anything unparseable or out of range yields "".
func NormalizeDate(v any) string {
	s := strings.TrimSpace(scalarString(v))
	if s == "" {
		return ""
	}
	t, ok := parseTimestamp(s)
	if !ok {
		return ""
	}
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a value previously produced by NormalizeDate.
func ParseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(TimestampLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func parseTimestamp(s string) (time.Time, bool) {
	switch {
	case compact10Re.MatchString(s):
		year, _ := strconv.Atoi(s[:2])
		return parseCompact(2000+year, s[2:])
	case compact12Re.MatchString(s):
		year, _ := strconv.Atoi(s[:4])
		return parseCompact(year, s[4:])
	case isoPrefixRe.MatchString(s):
		return parseLayouts(s, isoLayouts)
	}
	return parseLayouts(s, genericLayouts)
}

// parseCompact reads "MMDDHHmm" for the given year. time.Date silently
// normalizes overflow (month 13, day 32), so every field is range-checked.
func parseCompact(year int, rest string) (time.Time, bool) {
	month, _ := strconv.Atoi(rest[0:2])
	day, _ := strconv.Atoi(rest[2:4])
	hour, _ := strconv.Atoi(rest[4:6])
	minute, _ := strconv.Atoi(rest[6:8])

	if month < 1 || month > 12 || day < 1 || hour > 23 || minute > 59 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, hour, minute, 0, 0, time.UTC)
	if t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

func parseLayouts(s string, layouts []string) (time.Time, bool) {
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
