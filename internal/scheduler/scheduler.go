// Package scheduler drains a queue of airport codes through the fetch
// pipeline in rate-limited batches, keeps the last snapshot per airport and
// reports what changed between polls.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/notam-watch/internal/domain"
	"github.com/couchcryptid/notam-watch/internal/observability"
)

// Status is the poll status of one airport.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusLoading Status = "LOADING"
	StatusLoaded  Status = "LOADED"
	StatusError   Status = "ERROR"
)

// State is the drain state of the scheduler.
type State string

const (
	StateIdle     State = "IDLE"
	StateDraining State = "DRAINING"
	StateWaiting  State = "WAITING_FOR_WINDOW"
)

// Fetcher produces the current snapshot for one airport.
type Fetcher interface {
	Fetch(ctx context.Context, icao string) (domain.Envelope, error)
}

// Publisher receives every completed poll. Errors are logged and never
// affect scheduling.
type Publisher interface {
	Publish(ctx context.Context, result domain.PollResult) error
}

// SnapshotStore supplies a previously saved envelope so the first poll after
// a restart diffs against it instead of starting from a baseline.
type SnapshotStore interface {
	Load(ctx context.Context, icao string) (domain.Envelope, bool, error)
	Delete(ctx context.Context, icao string) error
}

// Sweeper evicts expired highlight entries. It runs on the scheduler loop.
type Sweeper interface {
	Sweep(now time.Time) int
}

// Options tunes the scheduler.
type Options struct {
	BatchSize       int
	WindowCalls     int
	WindowSize      time.Duration
	DrainInterval   time.Duration
	RefreshInterval time.Duration
	SweepInterval   time.Duration
	// MaxAttempts bounds consecutive failed polls per airport. Zero retries
	// forever.
	MaxAttempts int
}

// airportState is the per-airport poll state. It is only touched under
// Scheduler.mu.
type airportState struct {
	envelope    domain.Envelope
	keys        map[string]struct{}
	hasSnapshot bool
	status      Status
	attempts    int
	lastErr     string
	lastPolled  time.Time
	silent      bool
}

// AirportStatus is a read-only view of one tracked airport.
type AirportStatus struct {
	ICAO       string    `json:"icao"`
	Status     Status    `json:"status"`
	Queued     bool      `json:"queued"`
	Records    int       `json:"records"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"lastError,omitempty"`
	LastPolled time.Time `json:"lastPolled,omitempty"`
}

// Scheduler owns the queue, the per-airport state and the rate window.
type Scheduler struct {
	fetcher    Fetcher
	publishers []Publisher
	snapshots  SnapshotStore
	sweeper    Sweeper
	session    *Session
	window     *Window
	clock      clockwork.Clock
	opts       Options
	logger     *slog.Logger
	metrics    *observability.Metrics

	mu       sync.Mutex
	airports map[string]*airportState
	queue    []string
	queued   map[string]bool
	state    State

	wake  chan struct{}
	ready atomic.Bool
}

// New creates a Scheduler.
func New(fetcher Fetcher, session *Session, clock clockwork.Clock, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Scheduler {
	return &Scheduler{
		fetcher:  fetcher,
		session:  session,
		window:   NewWindow(opts.WindowCalls, opts.WindowSize, clock),
		clock:    clock,
		opts:     opts,
		logger:   logger,
		metrics:  metrics,
		airports: make(map[string]*airportState),
		queued:   make(map[string]bool),
		state:    StateIdle,
		wake:     make(chan struct{}, 1),
	}
}

// AddPublisher registers a consumer of poll results. Call before Run.
func (s *Scheduler) AddPublisher(p Publisher) {
	s.publishers = append(s.publishers, p)
}

// SetSnapshotStore enables warm start from saved snapshots. Call before Run.
func (s *Scheduler) SetSnapshotStore(store SnapshotStore) {
	s.snapshots = store
}

// SetSweeper attaches the highlight sweep to the scheduler loop. Call before Run.
func (s *Scheduler) SetSweeper(sw Sweeper) {
	s.sweeper = sw
}

// Window exposes the rate window for status reporting.
func (s *Scheduler) Window() *Window { return s.window }

// Track starts tracking codes, seeding each new airport from the snapshot
// store when one is configured, and queues them for polling.
func (s *Scheduler) Track(ctx context.Context, codes ...string) ([]string, error) {
	normalized, err := normalizeCodes(codes)
	if err != nil {
		return nil, err
	}

	if s.snapshots != nil {
		for _, code := range normalized {
			s.warmStart(ctx, code)
		}
	}
	s.enqueue(normalized, false)
	return normalized, nil
}

// Enqueue appends codes that are not already queued or in flight. Unknown
// codes start being tracked. A loaded or failed code is queued for a fresh
// poll.
func (s *Scheduler) Enqueue(codes ...string) error {
	normalized, err := normalizeCodes(codes)
	if err != nil {
		return err
	}
	s.enqueue(normalized, false)
	return nil
}

func (s *Scheduler) enqueue(codes []string, silent bool) int {
	s.mu.Lock()
	added := 0
	for _, code := range codes {
		st, ok := s.airports[code]
		if !ok {
			st = &airportState{status: StatusPending}
			s.airports[code] = st
		}
		if s.queued[code] {
			st.silent = st.silent && silent
			continue
		}
		if st.status == StatusLoading {
			continue
		}
		st.status = StatusPending
		st.attempts = 0
		st.silent = silent
		s.queue = append(s.queue, code)
		s.queued[code] = true
		added++
	}
	if added > 0 && s.state == StateIdle {
		s.state = StateDraining
	}
	s.metrics.QueueDepth.Set(float64(len(s.queue)))
	s.mu.Unlock()

	if added > 0 {
		s.signal()
	}
	return added
}

// Remove stops tracking code and forgets its state. A fetch already in
// flight for it completes but its result is discarded. A saved snapshot is
// deleted from the store.
func (s *Scheduler) Remove(ctx context.Context, code string) bool {
	code, err := domain.NormalizeICAO(code)
	if err != nil {
		return false
	}

	s.mu.Lock()
	if _, ok := s.airports[code]; !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.airports, code)
	if s.queued[code] {
		delete(s.queued, code)
		for i, c := range s.queue {
			if c == code {
				s.queue = append(s.queue[:i], s.queue[i+1:]...)
				break
			}
		}
	}
	s.metrics.QueueDepth.Set(float64(len(s.queue)))
	store := s.snapshots
	s.mu.Unlock()

	if store != nil {
		if err := store.Delete(ctx, code); err != nil {
			s.logger.Warn("snapshot delete failed", "icao", code, "error", err)
		}
	}
	return true
}

// Tick runs one drain step and returns the delay before the next one. A zero
// delay means there is nothing to do until more codes are enqueued or the
// session resumes.
func (s *Scheduler) Tick(ctx context.Context) time.Duration {
	if !s.session.Active() {
		return 0
	}

	s.mu.Lock()
	if len(s.queue) == 0 {
		s.state = StateIdle
		s.mu.Unlock()
		return 0
	}

	n := min(s.opts.BatchSize, s.window.Available(), len(s.queue))
	if n <= 0 {
		s.state = StateWaiting
		wait := s.window.WaitTime()
		s.mu.Unlock()
		s.logger.Debug("rate window exhausted, waiting", "wait", wait, "queued", len(s.queue))
		return wait
	}

	batch := s.popBatch(n)
	s.state = StateDraining
	s.metrics.QueueDepth.Set(float64(len(s.queue)))
	s.metrics.WindowCalls.Set(float64(s.window.Calls()))
	s.mu.Unlock()

	if len(batch) > 0 {
		s.runBatch(ctx, batch)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case len(s.queue) == 0:
		s.state = StateIdle
		return 0
	case s.window.Available() > 0:
		return s.opts.DrainInterval
	default:
		s.state = StateWaiting
		return s.window.WaitTime()
	}
}

// popBatch takes up to n pollable codes off the front of the queue and
// reserves a window call for each. Caller holds s.mu.
func (s *Scheduler) popBatch(n int) []string {
	batch := make([]string, 0, n)
	for len(batch) < n && len(s.queue) > 0 {
		code := s.queue[0]
		s.queue = s.queue[1:]
		delete(s.queued, code)

		st, ok := s.airports[code]
		if !ok || st.status == StatusLoaded || st.status == StatusLoading {
			continue
		}
		if !s.window.Reserve() {
			s.queue = append([]string{code}, s.queue...)
			s.queued[code] = true
			break
		}
		st.status = StatusLoading
		batch = append(batch, code)
	}
	return batch
}

func (s *Scheduler) runBatch(ctx context.Context, batch []string) {
	start := s.clock.Now()
	s.metrics.BatchSize.Observe(float64(len(batch)))

	var g errgroup.Group
	g.SetLimit(len(batch))
	for _, code := range batch {
		g.Go(func() error {
			s.poll(ctx, code)
			return nil
		})
	}
	_ = g.Wait()

	s.metrics.BatchDuration.Observe(s.clock.Since(start).Seconds())
	s.logger.Debug("batch complete", "codes", batch, "duration", s.clock.Since(start))
}

// poll fetches one airport, diffs against its previous snapshot and hands
// the result to every publisher.
func (s *Scheduler) poll(ctx context.Context, code string) {
	env, err := s.fetcher.Fetch(ctx, code)
	now := s.clock.Now()

	s.mu.Lock()
	st, ok := s.airports[code]
	if !ok {
		s.mu.Unlock()
		return
	}
	if err != nil {
		s.recordFailure(code, st, err)
		s.mu.Unlock()
		return
	}

	changes := domain.ChangeSet{Added: env.Data, Initial: true}
	if st.hasSnapshot {
		changes = domain.DiffKeyed(st.envelope.Data, st.keys, env.Data)
	}
	result := domain.PollResult{
		Envelope: env,
		Changes:  changes,
		Silent:   st.silent,
		PolledAt: now,
	}

	st.envelope = env
	st.keys = domain.KeySet(env.Data)
	st.hasSnapshot = true
	st.status = StatusLoaded
	st.attempts = 0
	st.lastErr = ""
	st.lastPolled = now
	st.silent = false
	s.mu.Unlock()

	s.ready.Store(true)
	s.metrics.Polls.WithLabelValues("success").Inc()
	if !changes.Initial {
		s.metrics.Changes.WithLabelValues("added").Add(float64(len(changes.Added)))
		s.metrics.Changes.WithLabelValues("removed").Add(float64(len(changes.Removed)))
	}
	s.logger.Info("poll complete",
		"icao", code,
		"records", len(env.Data),
		"added", len(changes.Added),
		"removed", len(changes.Removed),
		"initial", changes.Initial,
		"source", env.Metadata.Source,
	)

	for _, p := range s.publishers {
		if err := p.Publish(ctx, result); err != nil {
			s.logger.Warn("publish poll result failed", "icao", code, "error", err)
		}
	}
}

// recordFailure applies the retry policy. Rate limiting spends the rest of
// the window and requeues without counting an attempt; other failures
// requeue until MaxAttempts is reached. Caller holds s.mu.
func (s *Scheduler) recordFailure(code string, st *airportState, err error) {
	st.lastErr = err.Error()

	if errors.Is(err, domain.ErrRateLimited) {
		s.window.Saturate()
		s.metrics.Polls.WithLabelValues("rate_limited").Inc()
		s.logger.Warn("upstream rate limited, deferring to next window", "icao", code, "error", err)
		s.requeue(code, st)
		return
	}

	st.attempts++
	if s.opts.MaxAttempts > 0 && st.attempts >= s.opts.MaxAttempts {
		st.status = StatusError
		s.metrics.Polls.WithLabelValues("exhausted").Inc()
		s.logger.Error("poll failed, giving up until next refresh", "icao", code, "attempts", st.attempts, "error", err)
		return
	}
	s.metrics.Polls.WithLabelValues("error").Inc()
	s.logger.Warn("poll failed, requeued", "icao", code, "attempts", st.attempts, "error", err)
	s.requeue(code, st)
}

func (s *Scheduler) requeue(code string, st *airportState) {
	st.status = StatusPending
	if !s.queued[code] {
		s.queue = append(s.queue, code)
		s.queued[code] = true
	}
}

// Run drives the drain timer, the highlight sweep and the periodic refresh
// until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started",
		"batch_size", s.opts.BatchSize,
		"window_calls", s.opts.WindowCalls,
		"window", s.opts.WindowSize,
	)
	s.metrics.SchedulerRunning.Set(1)
	defer s.metrics.SchedulerRunning.Set(0)

	drain := s.clock.NewTimer(0)
	defer drain.Stop()
	armed := true

	sweep, stopSweep := s.ticker(s.opts.SweepInterval)
	defer stopSweep()
	refresh, stopRefresh := s.ticker(s.opts.RefreshInterval)
	defer stopRefresh()

	arm := func() {
		if !armed {
			drain.Reset(0)
			armed = true
		}
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping", "reason", ctx.Err())
			return nil
		case <-drain.Chan():
			armed = false
			if next := s.Tick(ctx); next > 0 {
				drain.Reset(next)
				armed = true
			}
		case <-s.wake:
			arm()
		case <-s.session.resumed:
			s.logger.Info("session resumed")
			arm()
		case <-sweep:
			if s.sweeper != nil && s.session.Active() {
				s.sweeper.Sweep(s.clock.Now())
			}
		case <-refresh:
			if s.session.Active() {
				s.Refresh()
			}
		}
	}
}

// Refresh queues every loaded or failed airport for a silent re-poll.
// Failed airports get a fresh attempt budget.
func (s *Scheduler) Refresh() int {
	s.mu.Lock()
	var codes []string
	for code, st := range s.airports {
		if s.queued[code] {
			continue
		}
		if st.status == StatusLoaded || st.status == StatusError {
			codes = append(codes, code)
		}
	}
	s.mu.Unlock()

	sort.Strings(codes)
	n := s.enqueue(codes, true)
	if n > 0 {
		s.logger.Info("refresh queued", "codes", n)
	}
	return n
}

func (s *Scheduler) warmStart(ctx context.Context, code string) {
	s.mu.Lock()
	st, ok := s.airports[code]
	seeded := ok && st.hasSnapshot
	s.mu.Unlock()
	if seeded {
		return
	}

	env, found, err := s.snapshots.Load(ctx, code)
	if err != nil {
		s.logger.Warn("snapshot load failed, starting cold", "icao", code, "error", err)
		return
	}
	if !found {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok = s.airports[code]
	if !ok {
		st = &airportState{status: StatusPending}
		s.airports[code] = st
	}
	if st.hasSnapshot {
		return
	}
	st.envelope = env
	st.keys = domain.KeySet(env.Data)
	st.hasSnapshot = true
	s.logger.Info("warm start from snapshot", "icao", code, "records", len(env.Data))
}

// ticker returns a tick channel for d, or a nil channel when d disables it.
func (s *Scheduler) ticker(d time.Duration) (<-chan time.Time, func()) {
	if d <= 0 {
		return nil, func() {}
	}
	t := s.clock.NewTicker(d)
	return t.Chan(), t.Stop
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Snapshot returns the latest envelope for icao.
func (s *Scheduler) Snapshot(icao string) (domain.Envelope, bool) {
	code, err := domain.NormalizeICAO(icao)
	if err != nil {
		return domain.Envelope{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.airports[code]
	if !ok || !st.hasSnapshot {
		return domain.Envelope{}, false
	}
	return st.envelope, true
}

// Statuses returns a view of every tracked airport, ordered by code.
func (s *Scheduler) Statuses() []AirportStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]AirportStatus, 0, len(s.airports))
	for code, st := range s.airports {
		out = append(out, AirportStatus{
			ICAO:       code,
			Status:     st.status,
			Queued:     s.queued[code],
			Records:    len(st.envelope.Data),
			Attempts:   st.attempts,
			LastError:  st.lastErr,
			LastPolled: st.lastPolled,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ICAO < out[j].ICAO })
	return out
}

// Tracked returns the tracked codes in order.
func (s *Scheduler) Tracked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.airports))
	for code := range s.airports {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// State returns the current drain state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// QueueLen returns the number of queued codes.
func (s *Scheduler) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// CheckReadiness reports ready once a poll has completed, or immediately
// when nothing is tracked.
func (s *Scheduler) CheckReadiness(_ context.Context) error {
	if s.ready.Load() {
		return nil
	}
	s.mu.Lock()
	tracked := len(s.airports)
	s.mu.Unlock()
	if tracked == 0 {
		return nil
	}
	return fmt.Errorf("no poll completed yet for %d tracked airports", tracked)
}

func normalizeCodes(codes []string) ([]string, error) {
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		code, err := domain.NormalizeICAO(c)
		if err != nil {
			return nil, err
		}
		out = append(out, code)
	}
	return out, nil
}
