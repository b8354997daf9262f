// Package timer implements the shared per-session countdown service
// (spec.md §4.7), keyed by session ID, one active timer per session.
package timer

import (
	"sync"
	"time"

	"github.com/asrhub/asrhub/internal/clock"
)

// Service manages one countdown timer per session. Callbacks run on a
// dedicated goroutine and must only dispatch actions, never mutate state
// directly (spec.md §4.7, §5 "Timer callbacks run on their own worker").
type Service struct {
	clock clock.Clock

	mu     sync.Mutex
	active map[string]clock.Timer
}

func New(c clock.Clock) *Service {
	if c == nil {
		c = clock.Real
	}
	return &Service{clock: c, active: make(map[string]clock.Timer)}
}

// StartCountdown starts (replacing any prior) a countdown for sessionID
// (spec.md §4.7 start_countdown). "Starting a new countdown cancels any
// prior" (spec.md §4.4 Timer semantics): single-slot per session.
func (s *Service) StartCountdown(sessionID string, d time.Duration, callback func()) {
	s.mu.Lock()
	if old, ok := s.active[sessionID]; ok {
		old.Stop()
	}
	t := s.clock.NewTimer(d)
	s.active[sessionID] = t
	s.mu.Unlock()

	go func() {
		select {
		case _, ok := <-t.C():
			if !ok {
				return
			}
			// Cancellation is racy by nature (spec.md §4.4 Timer
			// semantics): only fire the callback if this timer is still
			// the session's active one at fire time.
			s.mu.Lock()
			stillActive := s.active[sessionID] == t
			if stillActive {
				delete(s.active, sessionID)
			}
			s.mu.Unlock()
			if stillActive {
				callback()
			}
		}
	}()
}

// StopTimer cancels the session's active countdown, if any (spec.md
// §4.7 stop_timer). A racing fire that already dequeued is tolerated —
// the FSM guard at the action-handling boundary is the authority, not
// this cancellation (spec.md §9 "Timer after reset").
func (s *Service) StopTimer(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.active[sessionID]; ok {
		t.Stop()
		delete(s.active, sessionID)
	}
}

// IsActive reports whether sessionID has a running countdown (spec.md
// §4.7 is_active).
func (s *Service) IsActive(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[sessionID]
	return ok
}
