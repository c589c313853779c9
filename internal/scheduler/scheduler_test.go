package scheduler_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/notam-watch/internal/domain"
	"github.com/couchcryptid/notam-watch/internal/observability"
	"github.com/couchcryptid/notam-watch/internal/scheduler"
)

// --- mocks ---

type fetchCall struct {
	icao string
	at   time.Time
}

type mockFetcher struct {
	clock clockwork.Clock

	mu      sync.Mutex
	calls   []fetchCall
	records map[string][]domain.Notam
	errs    map[string]error
	hook    func(icao string)
}

func newMockFetcher(clock clockwork.Clock) *mockFetcher {
	return &mockFetcher{
		clock:   clock,
		records: make(map[string][]domain.Notam),
		errs:    make(map[string]error),
	}
}

func (m *mockFetcher) Fetch(_ context.Context, icao string) (domain.Envelope, error) {
	m.mu.Lock()
	m.calls = append(m.calls, fetchCall{icao: icao, at: m.clock.Now()})
	records, err, hook := m.records[icao], m.errs[icao], m.hook
	m.mu.Unlock()

	if hook != nil {
		hook(icao)
	}
	if err != nil {
		return domain.Envelope{}, err
	}
	return domain.Envelope{
		Data:     records,
		Metadata: domain.Metadata{ICAO: icao, Total: len(records), Source: domain.SourcePrimary},
	}, nil
}

func (m *mockFetcher) set(icao string, records ...domain.Notam) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[icao] = records
	delete(m.errs, icao)
}

func (m *mockFetcher) fail(icao string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[icao] = err
}

func (m *mockFetcher) snapshot() []fetchCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]fetchCall(nil), m.calls...)
}

func (m *mockFetcher) count(icao string) int {
	n := 0
	for _, c := range m.snapshot() {
		if c.icao == icao {
			n++
		}
	}
	return n
}

type recordingPublisher struct {
	mu      sync.Mutex
	results []domain.PollResult
	err     error
}

func (p *recordingPublisher) Publish(_ context.Context, r domain.PollResult) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = append(p.results, r)
	return p.err
}

func (p *recordingPublisher) last(t *testing.T) domain.PollResult {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.results)
	return p.results[len(p.results)-1]
}

func (p *recordingPublisher) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.results)
}

type mapStore map[string]domain.Envelope

func (s mapStore) Load(_ context.Context, icao string) (domain.Envelope, bool, error) {
	env, ok := s[icao]
	return env, ok, nil
}

func (s mapStore) Delete(_ context.Context, icao string) error {
	delete(s, icao)
	return nil
}

type countingSweeper struct {
	mu    sync.Mutex
	calls int
}

func (c *countingSweeper) Sweep(time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return 0
}

func (c *countingSweeper) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// --- helpers ---

var defaultOpts = scheduler.Options{
	BatchSize:     10,
	WindowCalls:   30,
	WindowSize:    65 * time.Second,
	DrainInterval: 300 * time.Millisecond,
}

type fixture struct {
	clock   *clockwork.FakeClock
	fetcher *mockFetcher
	pub     *recordingPublisher
	session *scheduler.Session
	metrics *observability.Metrics
	sched   *scheduler.Scheduler
}

func newFixture(opts scheduler.Options) *fixture {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	f := &fixture{
		clock:   clock,
		fetcher: newMockFetcher(clock),
		pub:     &recordingPublisher{},
		session: scheduler.NewSession(),
		metrics: observability.NewMetricsForTesting(),
	}
	f.sched = scheduler.New(f.fetcher, f.session, clock, opts,
		slog.New(slog.NewTextHandler(io.Discard, nil)), f.metrics)
	f.sched.AddPublisher(f.pub)
	return f
}

// drain ticks until the queue is idle, advancing the fake clock by each
// returned delay.
func (f *fixture) drain(t *testing.T) {
	t.Helper()
	for i := 0; i < 1000; i++ {
		next := f.sched.Tick(context.Background())
		if next == 0 {
			return
		}
		f.clock.Advance(next)
	}
	t.Fatal("queue did not drain")
}

func codes(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("K%c%c%c", 'A'+i/676%26, 'A'+i/26%26, 'A'+i%26)
	}
	return out
}

func notam(id, summary string) domain.Notam {
	return domain.Notam{ID: id, Number: id, Summary: summary, Classification: domain.ClassOther}
}

func assertWithinBudget(t *testing.T, calls []fetchCall, max int, size time.Duration) {
	t.Helper()
	for i, c := range calls {
		n := 0
		for _, other := range calls[i:] {
			if other.at.Sub(c.at) < size {
				n++
			}
		}
		require.LessOrEqual(t, n, max, "calls in window starting %s", c.at)
	}
}

// --- tests ---

func TestScheduler_DrainWithinBudget(t *testing.T) {
	tests := []struct {
		name  string
		codes int
	}{
		{name: "fits one window", codes: 25},
		{name: "spans windows", codes: 75},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(defaultOpts)
			require.NoError(t, f.sched.Enqueue(codes(tt.codes)...))
			assert.Equal(t, scheduler.StateDraining, f.sched.State())

			f.drain(t)

			calls := f.fetcher.snapshot()
			require.Len(t, calls, tt.codes)
			assertWithinBudget(t, calls, defaultOpts.WindowCalls, defaultOpts.WindowSize)

			seen := make(map[string]int)
			for _, c := range calls {
				seen[c.icao]++
			}
			for _, code := range codes(tt.codes) {
				assert.Equal(t, 1, seen[code], code)
			}
			assert.Equal(t, scheduler.StateIdle, f.sched.State())
			assert.Zero(t, f.sched.QueueLen())
		})
	}
}

func TestScheduler_TickSchedule(t *testing.T) {
	f := newFixture(defaultOpts)
	require.NoError(t, f.sched.Enqueue(codes(35)...))
	ctx := context.Background()

	assert.Equal(t, 300*time.Millisecond, f.sched.Tick(ctx))
	assert.Len(t, f.fetcher.snapshot(), 10)
	f.clock.Advance(300 * time.Millisecond)

	assert.Equal(t, 300*time.Millisecond, f.sched.Tick(ctx))
	f.clock.Advance(300 * time.Millisecond)

	wait := f.sched.Tick(ctx)
	assert.Len(t, f.fetcher.snapshot(), 30)
	assert.Equal(t, 65*time.Second-600*time.Millisecond, wait)
	assert.Equal(t, scheduler.StateWaiting, f.sched.State())
	assert.Equal(t, 5, f.sched.QueueLen())

	// Ticking early does not spend budget.
	assert.Equal(t, wait, f.sched.Tick(ctx))
	assert.Len(t, f.fetcher.snapshot(), 30)

	f.clock.Advance(wait)
	assert.Zero(t, f.sched.Tick(ctx))
	assert.Len(t, f.fetcher.snapshot(), 35)
	assert.Equal(t, scheduler.StateIdle, f.sched.State())
}

func TestScheduler_EnqueueDedupes(t *testing.T) {
	f := newFixture(defaultOpts)
	require.NoError(t, f.sched.Enqueue("kjfk", "KJFK", " kjfk "))
	assert.Equal(t, 1, f.sched.QueueLen())

	f.drain(t)
	assert.Equal(t, 1, f.fetcher.count("KJFK"))

	require.NoError(t, f.sched.Enqueue("KJFK"))
	assert.Equal(t, 1, f.sched.QueueLen(), "loaded code is queued for a fresh poll")
}

func TestScheduler_EnqueueInvalid(t *testing.T) {
	f := newFixture(defaultOpts)
	err := f.sched.Enqueue("KJFK", "JF")
	require.ErrorIs(t, err, domain.ErrInvalidICAO)
	assert.Zero(t, f.sched.QueueLen())
}

func TestScheduler_ChangeDetection(t *testing.T) {
	f := newFixture(defaultOpts)
	a := notam("A1/24", "RWY 04L/22R CLOSED")
	b := notam("A2/24", "TWY B CLOSED")
	c := notam("A3/24", "ILS RWY 13 U/S")
	f.fetcher.set("KJFK", a, b)

	require.NoError(t, f.sched.Enqueue("KJFK"))
	f.drain(t)

	first := f.pub.last(t)
	assert.True(t, first.Changes.Initial)
	assert.Len(t, first.Changes.Added, 2)

	require.NoError(t, f.sched.Enqueue("KJFK"))
	f.drain(t)
	same := f.pub.last(t)
	assert.False(t, same.Changes.Initial)
	assert.True(t, same.Changes.Empty(), "identical poll yields no changes")

	f.fetcher.set("KJFK", b, c)
	require.NoError(t, f.sched.Enqueue("KJFK"))
	f.drain(t)
	changed := f.pub.last(t)
	require.Len(t, changed.Changes.Added, 1)
	require.Len(t, changed.Changes.Removed, 1)
	assert.Equal(t, "A3/24", changed.Changes.Added[0].ID)
	assert.Equal(t, "A1/24", changed.Changes.Removed[0].ID)

	env, ok := f.sched.Snapshot("kjfk")
	require.True(t, ok)
	assert.Len(t, env.Data, 2)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Changes.WithLabelValues("added")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Changes.WithLabelValues("removed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.Polls.WithLabelValues("success")))
}

func TestScheduler_PublisherErrorIgnored(t *testing.T) {
	f := newFixture(defaultOpts)
	f.pub.err = errors.New("sink down")
	second := &recordingPublisher{}
	f.sched.AddPublisher(second)

	require.NoError(t, f.sched.Enqueue("KJFK"))
	f.drain(t)

	assert.Equal(t, 1, second.len())
	st := f.sched.Statuses()
	require.Len(t, st, 1)
	assert.Equal(t, scheduler.StatusLoaded, st[0].Status)
}

func TestScheduler_RetryPolicy(t *testing.T) {
	tests := []struct {
		name        string
		maxAttempts int
		failures    int
		wantStatus  scheduler.Status
		wantCalls   int
	}{
		{name: "exhausted", maxAttempts: 3, failures: 10, wantStatus: scheduler.StatusError, wantCalls: 3},
		{name: "recovers", maxAttempts: 3, failures: 2, wantStatus: scheduler.StatusLoaded, wantCalls: 3},
		{name: "unbounded", maxAttempts: 0, failures: 6, wantStatus: scheduler.StatusLoaded, wantCalls: 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := defaultOpts
			opts.MaxAttempts = tt.maxAttempts
			f := newFixture(opts)

			var mu sync.Mutex
			remaining := tt.failures
			f.fetcher.fail("KJFK", fmt.Errorf("fetch KJFK: %w", domain.ErrUpstreamUnavailable))
			f.fetcher.hook = func(icao string) {
				mu.Lock()
				defer mu.Unlock()
				remaining--
				if remaining == 0 {
					f.fetcher.set(icao)
				}
			}

			require.NoError(t, f.sched.Enqueue("KJFK"))
			f.drain(t)

			assert.Equal(t, tt.wantCalls, f.fetcher.count("KJFK"))
			st := f.sched.Statuses()
			require.Len(t, st, 1)
			assert.Equal(t, tt.wantStatus, st[0].Status)
			assert.False(t, st[0].Queued)
			if tt.wantStatus == scheduler.StatusError {
				assert.Contains(t, st[0].LastError, "upstream unavailable")
				assert.Equal(t, tt.maxAttempts, st[0].Attempts)
			}
		})
	}
}

func TestScheduler_RateLimitedDefersToNextWindow(t *testing.T) {
	f := newFixture(defaultOpts)
	f.fetcher.fail("KJFK", &domain.RateLimitError{Adapter: "primary"})
	ctx := context.Background()

	require.NoError(t, f.sched.Enqueue("KJFK", "KLGA"))
	wait := f.sched.Tick(ctx)

	assert.Equal(t, 65*time.Second, wait)
	assert.Equal(t, 0, f.sched.Window().Available())
	assert.Equal(t, scheduler.StateWaiting, f.sched.State())

	st := f.sched.Statuses()
	require.Len(t, st, 2)
	assert.Equal(t, "KJFK", st[0].ICAO)
	assert.Equal(t, scheduler.StatusPending, st[0].Status)
	assert.True(t, st[0].Queued)
	assert.Zero(t, st[0].Attempts, "rate limiting is not an attempt")
	assert.Equal(t, scheduler.StatusLoaded, st[1].Status)

	f.fetcher.set("KJFK")
	f.clock.Advance(wait)
	assert.Zero(t, f.sched.Tick(ctx))
	assert.Equal(t, 2, f.fetcher.count("KJFK"))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Polls.WithLabelValues("rate_limited")))
}

func TestScheduler_PauseResume(t *testing.T) {
	f := newFixture(defaultOpts)
	ctx := context.Background()
	require.NoError(t, f.sched.Enqueue(codes(15)...))

	f.session.Pause()
	assert.Zero(t, f.sched.Tick(ctx))
	assert.Empty(t, f.fetcher.snapshot())
	assert.Equal(t, 15, f.sched.QueueLen())

	f.session.Resume()
	f.drain(t)
	assert.Len(t, f.fetcher.snapshot(), 15)
}

func TestScheduler_Remove(t *testing.T) {
	f := newFixture(defaultOpts)
	require.NoError(t, f.sched.Enqueue("KJFK", "KLGA", "KEWR"))

	assert.True(t, f.sched.Remove(context.Background(), "klga"))
	assert.False(t, f.sched.Remove(context.Background(), "KLGA"))
	assert.False(t, f.sched.Remove(context.Background(), "??"))
	f.drain(t)

	assert.Zero(t, f.fetcher.count("KLGA"))
	assert.Equal(t, []string{"KEWR", "KJFK"}, f.sched.Tracked())
}

func TestScheduler_RemoveInFlightDiscardsResult(t *testing.T) {
	f := newFixture(defaultOpts)
	f.fetcher.hook = func(icao string) {
		if icao == "KJFK" {
			f.sched.Remove(context.Background(), icao)
		}
	}
	require.NoError(t, f.sched.Enqueue("KJFK"))
	f.drain(t)

	assert.Equal(t, 1, f.fetcher.count("KJFK"))
	assert.Zero(t, f.pub.len())
	_, ok := f.sched.Snapshot("KJFK")
	assert.False(t, ok)
}

func TestScheduler_TrackWarmStart(t *testing.T) {
	f := newFixture(defaultOpts)
	a := notam("A1/24", "RWY 04L/22R CLOSED")
	b := notam("A2/24", "TWY B CLOSED")
	f.sched.SetSnapshotStore(mapStore{"KJFK": {Data: []domain.Notam{a}}})
	f.fetcher.set("KJFK", a, b)
	f.fetcher.set("KLGA", b)

	tracked, err := f.sched.Track(context.Background(), "kjfk", "KLGA")
	require.NoError(t, err)
	assert.Equal(t, []string{"KJFK", "KLGA"}, tracked)

	env, ok := f.sched.Snapshot("KJFK")
	require.True(t, ok, "snapshot is served before the first poll")
	assert.Len(t, env.Data, 1)

	f.drain(t)
	require.Equal(t, 2, f.pub.len())
	for _, r := range f.pub.results {
		switch r.Envelope.Metadata.ICAO {
		case "KJFK":
			assert.False(t, r.Changes.Initial)
			require.Len(t, r.Changes.Added, 1)
			assert.Equal(t, "A2/24", r.Changes.Added[0].ID)
		case "KLGA":
			assert.True(t, r.Changes.Initial)
		}
	}
}

func TestScheduler_RefreshIsSilent(t *testing.T) {
	f := newFixture(defaultOpts)
	require.NoError(t, f.sched.Enqueue("KJFK", "KLGA"))
	f.drain(t)
	assert.False(t, f.pub.last(t).Silent)

	assert.Equal(t, 2, f.sched.Refresh())
	assert.Zero(t, f.sched.Refresh(), "already queued")
	f.drain(t)
	assert.True(t, f.pub.last(t).Silent)

	// An explicit request overrides a pending silent refresh.
	f.sched.Refresh()
	require.NoError(t, f.sched.Enqueue("KJFK"))
	f.drain(t)
	for _, r := range f.pub.results[len(f.pub.results)-2:] {
		assert.Equal(t, r.Envelope.Metadata.ICAO == "KLGA", r.Silent, r.Envelope.Metadata.ICAO)
	}
}

func TestScheduler_CheckReadiness(t *testing.T) {
	f := newFixture(defaultOpts)
	ctx := context.Background()
	require.NoError(t, f.sched.CheckReadiness(ctx), "nothing tracked")

	require.NoError(t, f.sched.Enqueue("KJFK"))
	require.Error(t, f.sched.CheckReadiness(ctx))

	f.drain(t)
	require.NoError(t, f.sched.CheckReadiness(ctx))
}

func TestScheduler_Run(t *testing.T) {
	opts := defaultOpts
	opts.SweepInterval = time.Second
	opts.RefreshInterval = 5 * time.Minute
	f := newFixture(opts)
	sweeper := &countingSweeper{}
	f.sched.SetSweeper(sweeper)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.sched.Run(ctx) }()

	// Wait for the sweep and refresh tickers.
	require.NoError(t, f.clock.BlockUntilContext(ctx, 2))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SchedulerRunning))

	_, err := f.sched.Track(ctx, "KJFK", "KLGA")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.pub.len() == 2 }, 2*time.Second, 5*time.Millisecond)

	f.clock.Advance(time.Second)
	require.Eventually(t, func() bool { return sweeper.count() >= 1 }, 2*time.Second, 5*time.Millisecond)

	f.clock.Advance(5 * time.Minute)
	require.Eventually(t, func() bool { return f.pub.len() == 4 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, f.pub.last(t).Silent)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Zero(t, testutil.ToFloat64(f.metrics.SchedulerRunning))
}

func TestScheduler_RemoveDeletesSnapshot(t *testing.T) {
	f := newFixture(defaultOpts)
	store := mapStore{"KJFK": {Data: []domain.Notam{notam("A1/24", "RUNWAY 04L/22R CLOSED")}}}
	f.sched.SetSnapshotStore(store)

	_, err := f.sched.Track(context.Background(), "KJFK")
	require.NoError(t, err)
	require.True(t, f.sched.Remove(context.Background(), "KJFK"))
	assert.NotContains(t, store, "KJFK")
}

func TestScheduler_NeverOverrunsWindowUnderRandomLoad(t *testing.T) {
	f := newFixture(defaultOpts)
	rng := rand.New(rand.NewSource(42))
	pool := codes(60)
	ctx := context.Background()

	for step := 0; step < 400; step++ {
		if rng.Intn(3) == 0 {
			batch := make([]string, 1+rng.Intn(8))
			for i := range batch {
				batch[i] = pool[rng.Intn(len(pool))]
			}
			require.NoError(t, f.sched.Enqueue(batch...))
		}
		for i := 0; i < 3; i++ {
			code := pool[rng.Intn(len(pool))]
			switch r := rng.Intn(10); {
			case r < 2:
				f.fetcher.fail(code, fmt.Errorf("fetch %s: %w", code, domain.ErrUpstreamUnavailable))
			case r == 2:
				f.fetcher.fail(code, &domain.RateLimitError{Adapter: "primary"})
			default:
				f.fetcher.set(code, notam(code+"-1", "RUNWAY 04L/22R CLOSED"))
			}
		}

		next := f.sched.Tick(ctx)
		if next == 0 {
			next = time.Second
		}
		// Wake early now and then, as a resumed session or a new enqueue would.
		f.clock.Advance(time.Duration(rng.Int63n(int64(next)) + 1))
	}

	for _, code := range pool {
		f.fetcher.set(code)
	}
	f.drain(t)

	assertWithinBudget(t, f.fetcher.snapshot(), defaultOpts.WindowCalls, defaultOpts.WindowSize)
	for _, st := range f.sched.Statuses() {
		assert.Equal(t, scheduler.StatusLoaded, st.Status, st.ICAO)
	}
}

func TestScheduler_FailedPollKeepsSnapshot(t *testing.T) {
	f := newFixture(defaultOpts)
	f.fetcher.set("CYYZ", notam("A1/24", "RUNWAY 06L/24R CLOSED"), notam("A2/24", "TAXIWAY A CLOSED"))
	require.NoError(t, f.sched.Enqueue("CYYZ"))
	f.drain(t)
	require.Equal(t, 1, f.pub.len())

	f.fetcher.fail("CYYZ", fmt.Errorf("fetch CYYZ: primary empty, secondary failed: %w", domain.ErrUpstreamUnavailable))
	require.NoError(t, f.sched.Enqueue("CYYZ"))
	f.sched.Tick(context.Background())

	assert.Equal(t, 1, f.pub.len(), "a failed poll publishes nothing")
	env, ok := f.sched.Snapshot("CYYZ")
	require.True(t, ok)
	assert.Len(t, env.Data, 2)
	st := f.sched.Statuses()
	require.Len(t, st, 1)
	assert.True(t, st[0].Queued)
}
