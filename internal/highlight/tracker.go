// Package highlight tracks which NOTAMs are newly added and should be
// emphasized, and keeps a short feed of change notifications.
package highlight

import (
	"container/heap"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/notam-watch/internal/domain"
	"github.com/couchcryptid/notam-watch/internal/observability"
)

// Entry is one highlighted NOTAM.
type Entry struct {
	ICAO      string       `json:"icao"`
	Key       string       `json:"key"`
	Notam     domain.Notam `json:"notam"`
	ExpiresAt time.Time    `json:"expiresAt"`

	index int
}

// Tracker holds the active highlight set. Entries expire ttl after they were
// last registered; expiry is applied by Sweep, which the scheduler loop calls
// on a single periodic tick.
type Tracker struct {
	clock   clockwork.Clock
	ttl     time.Duration
	metrics *observability.Metrics

	mu         sync.Mutex
	entries    map[string]*Entry
	byExpiry   expiryHeap
	perAirport map[string]int
}

// NewTracker creates a Tracker whose entries live for ttl.
func NewTracker(ttl time.Duration, clock clockwork.Clock, metrics *observability.Metrics) *Tracker {
	return &Tracker{
		clock:      clock,
		ttl:        ttl,
		metrics:    metrics,
		entries:    make(map[string]*Entry),
		perAirport: make(map[string]int),
	}
}

func entryKey(icao, key string) string { return icao + "|" + key }

// Register highlights records for icao. A record that is already highlighted
// has its expiry pushed out. It returns the number of new entries.
func (t *Tracker) Register(icao string, records []domain.Notam) int {
	if len(records) == 0 {
		return 0
	}
	expires := t.clock.Now().Add(t.ttl)

	t.mu.Lock()
	defer t.mu.Unlock()

	added := 0
	for _, n := range records {
		key := domain.IdentityKey(n)
		if key == "" {
			continue
		}
		if e, ok := t.entries[entryKey(icao, key)]; ok {
			e.Notam = n
			e.ExpiresAt = expires
			heap.Fix(&t.byExpiry, e.index)
			continue
		}
		e := &Entry{ICAO: icao, Key: key, Notam: n, ExpiresAt: expires}
		t.entries[entryKey(icao, key)] = e
		heap.Push(&t.byExpiry, e)
		t.perAirport[icao]++
		added++
	}
	t.metrics.HighlightsActive.Set(float64(len(t.entries)))
	return added
}

// Sweep evicts every entry whose expiry is at or before now and returns how
// many were evicted.
func (t *Tracker) Sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for len(t.byExpiry) > 0 && !t.byExpiry[0].ExpiresAt.After(now) {
		e := heap.Pop(&t.byExpiry).(*Entry)
		t.forget(e)
		n++
	}
	if n > 0 {
		t.metrics.HighlightsActive.Set(float64(len(t.entries)))
	}
	return n
}

// MarkViewed evicts one entry immediately.
func (t *Tracker) MarkViewed(icao, key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[entryKey(icao, key)]
	if !ok {
		return false
	}
	heap.Remove(&t.byExpiry, e.index)
	t.forget(e)
	t.metrics.HighlightsActive.Set(float64(len(t.entries)))
	return true
}

// MarkAirportViewed evicts every entry for icao.
func (t *Tracker) MarkAirportViewed(icao string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, e := range t.entries {
		if e.ICAO != icao {
			continue
		}
		heap.Remove(&t.byExpiry, e.index)
		t.forget(e)
		n++
	}
	t.metrics.HighlightsActive.Set(float64(len(t.entries)))
	return n
}

// forget drops e from the index maps. Caller holds t.mu and has already
// removed e from the heap.
func (t *Tracker) forget(e *Entry) {
	delete(t.entries, entryKey(e.ICAO, e.Key))
	t.perAirport[e.ICAO]--
	if t.perAirport[e.ICAO] <= 0 {
		delete(t.perAirport, e.ICAO)
	}
}

// HasNew reports whether icao has any highlighted entry.
func (t *Tracker) HasNew(icao string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.perAirport[icao] > 0
}

// Airports returns the codes that currently have highlights.
func (t *Tracker) Airports() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, 0, len(t.perAirport))
	for icao := range t.perAirport {
		out = append(out, icao)
	}
	sort.Strings(out)
	return out
}

// Active returns the highlighted entries for icao, or for every airport
// when icao is empty, soonest expiry first.
func (t *Tracker) Active(icao string) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		if icao == "" || e.ICAO == icao {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].ExpiresAt.Before(out[j].ExpiresAt)
		}
		if out[i].ICAO != out[j].ICAO {
			return out[i].ICAO < out[j].ICAO
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Remaining returns the time left before the entry expires, or zero when it
// is not highlighted.
func (t *Tracker) Remaining(icao, key string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[entryKey(icao, key)]
	if !ok {
		return 0
	}
	if d := e.ExpiresAt.Sub(t.clock.Now()); d > 0 {
		return d
	}
	return 0
}

// Len returns the number of highlighted entries.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// expiryHeap is a min-heap of entries ordered by ExpiresAt.
type expiryHeap []*Entry

func (h expiryHeap) Len() int           { return len(h) }
func (h expiryHeap) Less(i, j int) bool { return h[i].ExpiresAt.Before(h[j].ExpiresAt) }

func (h expiryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *expiryHeap) Push(x any) {
	e := x.(*Entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
