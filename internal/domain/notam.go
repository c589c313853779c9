package domain

import "time"

// Source identifies which upstream adapter produced a record.
type Source string

const (
	SourcePrimary   Source = "PRIMARY"
	SourceSecondary Source = "SECONDARY"
)

// Classification is a short subject code from the fixed NOTAM taxonomy.
type Classification string

const (
	ClassRunway         Classification = "RW"
	ClassTaxiway        Classification = "TW"
	ClassNavaid         Classification = "AD"
	ClassService        Classification = "SVC"
	ClassAerodrome      Classification = "AA"
	ClassCommunications Classification = "AC"
	ClassDomestic       Classification = "DOM"
	ClassInternational  Classification = "INTL"
	ClassOther          Classification = "AO"
)

// RawItem is one loosely-typed upstream object. Values are whatever the JSON
// decoder produced (string, json.Number, bool, map, slice, nil).
type RawItem map[string]any

// Notam is the canonical record every upstream shape is normalized into.
type Notam struct {
	ID             string         `json:"id"`
	ICAO           string         `json:"icao"`
	Number         string         `json:"number"`
	Type           string         `json:"type"`
	Classification Classification `json:"classification"`
	Location       string         `json:"location,omitempty"`
	ValidFrom      string         `json:"validFrom"`
	ValidTo        string         `json:"validTo"`
	Issued         string         `json:"issued"`
	Summary        string         `json:"summary"`
	Body           string         `json:"body"`
	QLine          string         `json:"qLine"`
	Source         Source         `json:"source"`
}

// Metadata describes one poll of one airport.
type Metadata struct {
	ICAO             string    `json:"icao"`
	Total            int       `json:"total"`
	Filtered         int       `json:"filtered"`
	ProcessingTimeMs int64     `json:"processingTimeMs"`
	Source           Source    `json:"source"`
	FallbackReason   string    `json:"fallbackReason,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// Envelope is the outbound shape handed to consumers for each polled airport.
type Envelope struct {
	Data     []Notam  `json:"data"`
	Metadata Metadata `json:"metadata"`
}

// ChangeSet is the result of diffing two snapshots of one airport.
// Initial is set when there was no previous snapshot to diff against.
type ChangeSet struct {
	Added   []Notam `json:"added"`
	Removed []Notam `json:"removed"`
	Initial bool    `json:"initial,omitempty"`
}

// Empty reports whether the change set carries no additions or removals.
func (c ChangeSet) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0
}

// PollResult is everything a completed poll produces: the full snapshot plus
// the delta against the previous one.
type PollResult struct {
	Envelope Envelope  `json:"envelope"`
	Changes  ChangeSet `json:"changes"`
	Silent   bool      `json:"silent,omitempty"`
	PolledAt time.Time `json:"polledAt"`
}
