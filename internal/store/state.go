package store

import "github.com/asrhub/asrhub/internal/model"

// Stats is the aggregate-counters slice alongside the sessions slice
// (spec.md §4.3 "sessions slice + optional stats slice").
type Stats struct {
	SessionsCreated int64
	SessionsDeleted int64
	ChunksReceived  int64
	Errors          int64
}

// State is the immutable map the store holds (spec.md §3 Store state).
// Reducers never mutate a State value; they build a new one that shares
// unchanged branches (spec.md §4.3 Immutability) — here realized as a
// shallow copy-on-write of the sessions map, which is cheap at the
// "thousands of sessions" scale spec.md §9 names as acceptable.
type State struct {
	Sessions map[string]model.Session
	Stats    Stats
}

// Empty returns the store's initial state.
func Empty() State {
	return State{Sessions: make(map[string]model.Session)}
}

// clone returns a shallow copy of s with its own sessions map, so the
// caller can mutate one entry without aliasing the previous State value.
func (s State) clone() State {
	next := State{Sessions: make(map[string]model.Session, len(s.Sessions)), Stats: s.Stats}
	for k, v := range s.Sessions {
		next.Sessions[k] = v
	}
	return next
}

// Session is a pure selector over State (spec.md §9 "State reads are via
// pure selectors").
func (s State) Session(id string) (model.Session, bool) {
	sess, ok := s.Sessions[id]
	return sess, ok
}
