package highlight

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/notam-watch/internal/observability"
)

// Notification is one feed entry.
type Notification struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	ICAO      string    `json:"icao"`
	LatestKey string    `json:"latestKey,omitempty"`
	At        time.Time `json:"at"`
	Read      bool      `json:"read"`
}

// Feed keeps the most recent notifications, newest first. Posting beyond
// capacity drops the oldest entry.
type Feed struct {
	clock    clockwork.Clock
	capacity int
	metrics  *observability.Metrics

	mu      sync.Mutex
	entries []Notification
}

// NewFeed creates a Feed holding at most capacity entries.
func NewFeed(capacity int, clock clockwork.Clock, metrics *observability.Metrics) *Feed {
	if capacity < 1 {
		capacity = 1
	}
	return &Feed{
		clock:    clock,
		capacity: capacity,
		metrics:  metrics,
		entries:  make([]Notification, 0, capacity),
	}
}

// Post adds an unread notification and returns it.
func (f *Feed) Post(icao, text, latestKey string) Notification {
	n := Notification{
		ID:        uuid.NewString(),
		Text:      text,
		ICAO:      icao,
		LatestKey: latestKey,
		At:        f.clock.Now().UTC(),
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.entries = append([]Notification{n}, f.entries...)
	if len(f.entries) > f.capacity {
		f.entries = f.entries[:f.capacity]
	}
	f.metrics.NotificationsPosted.Inc()
	return n
}

// List returns every notification, newest first.
func (f *Feed) List() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Notification(nil), f.entries...)
}

// Unread returns the number of unread notifications.
func (f *Feed) Unread() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, e := range f.entries {
		if !e.Read {
			n++
		}
	}
	return n
}

// MarkRead flags one notification as read.
func (f *Feed) MarkRead(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.entries {
		if f.entries[i].ID == id {
			f.entries[i].Read = true
			return true
		}
	}
	return false
}

// MarkAllRead flags every notification as read.
func (f *Feed) MarkAllRead() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.entries {
		f.entries[i].Read = true
	}
}

// Clear empties the feed.
func (f *Feed) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = f.entries[:0]
}
