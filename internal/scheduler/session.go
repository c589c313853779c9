package scheduler

import "sync/atomic"

// Session is the active-session flag. While inactive the scheduler stops
// starting new batches and skips highlight sweeps; queue and poll state are
// kept so draining resumes where it left off.
type Session struct {
	active  atomic.Bool
	resumed chan struct{}
}

// NewSession returns an active session.
func NewSession() *Session {
	s := &Session{resumed: make(chan struct{}, 1)}
	s.active.Store(true)
	return s
}

// Active reports whether the session is active.
func (s *Session) Active() bool { return s.active.Load() }

// Pause deactivates the session. In-flight fetches are not interrupted.
func (s *Session) Pause() { s.active.Store(false) }

// Resume reactivates the session and wakes the scheduler loop.
func (s *Session) Resume() {
	s.active.Store(true)
	select {
	case s.resumed <- struct{}{}:
	default:
	}
}
