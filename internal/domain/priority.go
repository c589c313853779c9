package domain

import (
	"regexp"
	"sort"
	"strings"
	"time"
)

var (
	closureRe = regexp.MustCompile(`\b(CLSD|CLOSED)\b`)
	rscRe     = regexp.MustCompile(`\bRSC\b`)
	crfiRe    = regexp.MustCompile(`\bCRFI\b`)
)

// Priority ranks a record for display: closures first, then runway surface
// condition reports, then friction reports, then everything else.
func Priority(n Notam) int {
	text := strings.ToUpper(n.Summary + " " + n.Body)
	switch {
	case closureRe.MatchString(text):
		return 0
	case rscRe.MatchString(text):
		return 1
	case crfiRe.MatchString(text):
		return 2
	}
	return 3
}

// FilterExpired drops records whose validTo is before now. Records with no
// or unparseable validTo are kept. It returns the kept records and how many
// were dropped.
func FilterExpired(records []Notam, now time.Time) ([]Notam, int) {
	kept := make([]Notam, 0, len(records))
	for _, n := range records {
		if to, ok := ParseTimestamp(n.ValidTo); ok && to.Before(now) {
			continue
		}
		kept = append(kept, n)
	}
	return kept, len(records) - len(kept)
}

// SortByPriority orders records in place by Priority, breaking ties with the
// most recent validFrom (or issued when validFrom is empty).
func SortByPriority(records []Notam) {
	sort.SliceStable(records, func(i, j int) bool {
		pi, pj := Priority(records[i]), Priority(records[j])
		if pi != pj {
			return pi < pj
		}
		return recency(records[i]) > recency(records[j])
	})
}

// recency compares as a string since TimestampLayout sorts lexically.
func recency(n Notam) string {
	if n.ValidFrom != "" {
		return n.ValidFrom
	}
	return n.Issued
}

// Limit truncates records to at most max entries. max <= 0 means no limit.
func Limit(records []Notam, max int) []Notam {
	if max <= 0 || len(records) <= max {
		return records
	}
	return records[:max]
}

// Finalize drops expired records, orders the rest by priority and caps the
// result at max. It returns the final records and the expired count.
func Finalize(records []Notam, max int) ([]Notam, int) {
	kept, filtered := FilterExpired(records, clock.Now())
	SortByPriority(kept)
	return Limit(kept, max), filtered
}
