package highlight

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/notam-watch/internal/domain"
)

// DefaultRecentWindow bounds how old an added NOTAM may be and still trigger
// a "new" notification.
const DefaultRecentWindow = 4 * time.Hour

// Lifecycle turns poll results into highlights and feed notifications. It
// implements scheduler.Publisher.
type Lifecycle struct {
	tracker *Tracker
	feed    *Feed
	clock   clockwork.Clock
	recent  time.Duration
	logger  *slog.Logger
}

// NewLifecycle creates a Lifecycle.
func NewLifecycle(tracker *Tracker, feed *Feed, clock clockwork.Clock, logger *slog.Logger) *Lifecycle {
	return &Lifecycle{
		tracker: tracker,
		feed:    feed,
		clock:   clock,
		recent:  DefaultRecentWindow,
		logger:  logger,
	}
}

// Publish highlights every added record. Unless the poll is silent it also
// posts a notification for additions, when at least one of them is recent,
// and one for removals. Baseline polls are ignored.
func (l *Lifecycle) Publish(_ context.Context, result domain.PollResult) error {
	cs := result.Changes
	if cs.Initial || cs.Empty() {
		return nil
	}
	icao := result.Envelope.Metadata.ICAO

	if n := l.tracker.Register(icao, cs.Added); n > 0 {
		l.logger.Debug("highlights registered", "icao", icao, "count", n)
	}
	if result.Silent {
		return nil
	}

	if len(cs.Added) > 0 && l.anyRecent(cs.Added) {
		l.feed.Post(icao, AddedText(icao, len(cs.Added)), domain.IdentityKey(cs.Added[0]))
	}
	if len(cs.Removed) > 0 {
		l.feed.Post(icao, RemovedText(icao, len(cs.Removed)), domain.IdentityKey(cs.Removed[0]))
	}
	return nil
}

// anyRecent reports whether any record was issued (or became valid) within
// the recent window. Records with no usable date count as recent.
func (l *Lifecycle) anyRecent(records []domain.Notam) bool {
	cutoff := l.clock.Now().Add(-l.recent)
	for _, n := range records {
		ts := n.Issued
		if ts == "" {
			ts = n.ValidFrom
		}
		t, ok := domain.ParseTimestamp(ts)
		if !ok || t.After(cutoff) {
			return true
		}
	}
	return false
}

// AddedText is the notification for n new records.
func AddedText(icao string, n int) string {
	return fmt.Sprintf("%s: %d new NOTAM%s detected!", icao, n, plural(n))
}

// RemovedText is the notification for n records that disappeared.
func RemovedText(icao string, n int) string {
	return fmt.Sprintf("%s: %d NOTAM%s cancelled/expired", icao, n, plural(n))
}

func plural(n int) string {
	if n > 1 {
		return "s"
	}
	return ""
}
