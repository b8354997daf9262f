package store

import (
	"sync"
	"time"

	"github.com/asrhub/asrhub/internal/clock"
)

// Notification is the (previous, next, action) tuple published to
// subscribers after every dispatch (spec.md §4.3 dispatch()).
type Notification struct {
	Previous State
	Next     State
	Action   Action
}

// IDFunc generates a new session ID; overridden in tests for determinism.
type IDFunc func() string

// Store is the single-threaded cooperative action queue plus the
// immutable state it produces (spec.md §4.3). One dispatcher goroutine
// applies reducers atomically to the current state, in FIFO order
// (spec.md §5 "Actions are serialized through the store").
type Store struct {
	clock  clock.Clock
	genID  IDFunc
	queue  chan Action
	reduce []Reducer

	mu    sync.RWMutex
	state State

	subMu sync.Mutex
	subs  []*subscription

	done chan struct{}
}

type subscription struct {
	ch        chan Notification
	dropOnFull bool
}

// New constructs a Store with the given reducers, applied in order for
// every dispatched action (sessions slice, then stats slice, matching
// spec.md §4.3's two named slices).
func New(c clock.Clock, genID IDFunc, reducers ...Reducer) *Store {
	if c == nil {
		c = clock.Real
	}
	if genID == nil {
		genID = func() string { return "" }
	}
	s := &Store{
		clock:  c,
		genID:  genID,
		queue:  make(chan Action, 256),
		reduce: reducers,
		state:  Empty(),
		done:   make(chan struct{}),
	}
	go s.loop()
	return s
}

// State returns the current immutable state (spec.md §4.3 state()).
// Callers must not mutate the returned maps.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Subscribe registers an observer that receives every notification
// (spec.md §4.3 subscribe()). Non-state-mutating "drop_oldest" overflow
// policy applies only when dropOnFull is true — effects that dispatch
// further actions should pass false so they never silently miss one
// (spec.md §9 "never for state-mutating actions").
func (s *Store) Subscribe(buffer int, dropOnFull bool) <-chan Notification {
	sub := &subscription{ch: make(chan Notification, buffer), dropOnFull: dropOnFull}
	s.subMu.Lock()
	s.subs = append(s.subs, sub)
	s.subMu.Unlock()
	return sub.ch
}

// Dispatch enqueues action for processing (spec.md §4.3 dispatch()).
// create_session actions without a pre-assigned SessionID have one
// generated here, at the queue boundary — the only I/O-adjacent step in
// the dispatch path, kept outside the reducers so they stay pure
// (spec.md §4.4(a): "Reducer creates the session record with a
// generated ID"; realized here as dispatch-time assignment so the
// reducer remains a deterministic function of its inputs).
func (s *Store) Dispatch(a Action) {
	if a.Kind == KindCreateSession && a.SessionID == "" {
		a.SessionID = s.genID()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = s.clock.Now()
	}
	s.queue <- a
}

// Close stops the dispatcher loop.
func (s *Store) Close() {
	close(s.queue)
	<-s.done
}

func (s *Store) loop() {
	defer close(s.done)
	for a := range s.queue {
		s.apply(a)
	}
}

func (s *Store) apply(a Action) {
	s.mu.Lock()
	prev := s.state
	next := prev
	for _, r := range s.reduce {
		next = r(next, a, a.Timestamp)
	}
	s.state = next
	s.mu.Unlock()

	notif := Notification{Previous: prev, Next: next, Action: a}
	s.subMu.Lock()
	subs := append([]*subscription(nil), s.subs...)
	s.subMu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- notif:
		default:
			if sub.dropOnFull {
				// drop_oldest: evict one buffered entry, then retry once.
				select {
				case <-sub.ch:
				default:
				}
				select {
				case sub.ch <- notif:
				default:
				}
			} else {
				sub.ch <- notif // blocks; reserved for effects that must see every action
			}
		}
	}
}

// WaitIdle blocks until the dispatch queue has drained, used by tests
// that need to observe state after a burst of dispatches.
func (s *Store) WaitIdle(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for len(s.queue) > 0 {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
	return true
}
