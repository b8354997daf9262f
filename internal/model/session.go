package model

import "time"

// Strategy selects a session's pipeline shape (spec.md Glossary).
type Strategy string

const (
	StrategyBatch         Strategy = "batch"
	StrategyNonStreaming  Strategy = "non_streaming"
	StrategyStreaming     Strategy = "streaming"
)

// Transcription is the minimal ASR result shape consumed by the core
// (spec.md §6.2 ASR provider contract).
type Transcription struct {
	FullText   string
	Language   string
	Duration   time.Duration
	Confidence float64
}

// Counters tracks per-session accounting (spec.md §3 Session attributes).
type Counters struct {
	ChunksReceived  int64
	ChunksProcessed int64
	Errors          int64
}

// Session is the store's per-session record. It is treated as immutable
// once produced by a reducer: coordinator effects read it via selectors
// and never mutate a Session value in place (spec.md §4.3 Immutability).
type Session struct {
	ID          string
	Strategy    Strategy
	Audio       AudioConfig
	State       string // current FSM state path, mirrored from the FSM by the reducer
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ExpiresAt   time.Time
	Counters    Counters
	LastResult  *Transcription
}

// WithState returns a copy of s with State (and UpdatedAt) replaced,
// the copy-on-write pattern reducers use to build the next immutable
// state value (spec.md §4.3).
func (s Session) WithState(state string, now time.Time) Session {
	s.State = state
	s.UpdatedAt = now
	return s
}
