package scheduler

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Window enforces the upstream call budget: at most max calls in any
// interval of length size. It keeps a log of call times and forgets a call
// once size has elapsed since it was made.
type Window struct {
	mu    sync.Mutex
	clock clockwork.Clock
	size  time.Duration
	max   int
	calls []time.Time
}

// NewWindow creates a Window allowing max calls per size.
func NewWindow(max int, size time.Duration, clock clockwork.Clock) *Window {
	return &Window{
		clock: clock,
		size:  size,
		max:   max,
	}
}

// Reserve records a call at the current time if the budget allows it.
func (w *Window) Reserve() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clock.Now()
	w.prune(now)
	if len(w.calls) >= w.max {
		return false
	}
	w.calls = append(w.calls, now)
	return true
}

// Available returns how many calls may be made right now.
func (w *Window) Available() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(w.clock.Now())
	return w.max - len(w.calls)
}

// Calls returns the number of calls counted in the current window.
func (w *Window) Calls() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(w.clock.Now())
	return len(w.calls)
}

// Start returns the time of the oldest call still counted, or the zero time
// when the window is empty.
func (w *Window) Start() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(w.clock.Now())
	if len(w.calls) == 0 {
		return time.Time{}
	}
	return w.calls[0]
}

// WaitTime returns how long until at least one call is available. It is zero
// when budget remains.
func (w *Window) WaitTime() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clock.Now()
	w.prune(now)
	if len(w.calls) < w.max {
		return 0
	}
	return w.calls[0].Add(w.size).Sub(now)
}

// Saturate spends the remaining budget of the current window, so no call is
// made until the oldest counted call expires. Used when the upstream says
// it is rate limiting regardless of our own count.
func (w *Window) Saturate() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clock.Now()
	w.prune(now)
	start := now
	if len(w.calls) > 0 {
		start = w.calls[0]
	}
	need := w.max - len(w.calls)
	if need <= 0 {
		return
	}
	filled := make([]time.Time, need, w.max)
	for i := range filled {
		filled[i] = start
	}
	w.calls = append(filled, w.calls...)
}

// prune drops calls made at least size ago. calls is kept in time order.
func (w *Window) prune(now time.Time) {
	i := 0
	for i < len(w.calls) && now.Sub(w.calls[i]) >= w.size {
		i++
	}
	if i > 0 {
		w.calls = append(w.calls[:0], w.calls[i:]...)
	}
}
