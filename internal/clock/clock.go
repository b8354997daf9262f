// Package clock provides an injectable monotonic time source so the
// coordination core never reads wall-clock time directly (spec.md §9:
// "Use a monotonic clock for queue timestamps; do not use wall-clock").
package clock

import "time"

// Clock returns monotonic instants. time.Time values produced by the real
// implementation carry a monotonic reading, same as time.Now(); Since/Sub
// on them does not observe wall-clock adjustments.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	NewTimer(d time.Duration) Timer
}

// Timer mirrors the subset of *time.Timer the timer service needs, so a
// fake implementation can control firing deterministically in tests.
type Timer interface {
	C() <-chan time.Time
	Reset(d time.Duration) bool
	Stop() bool
}

type real struct{}

// Real is the production clock, backed by the standard library.
var Real Clock = real{}

func (real) Now() time.Time                         { return time.Now() }
func (real) After(d time.Duration) <-chan time.Time  { return time.After(d) }
func (real) NewTimer(d time.Duration) Timer          { return &realTimer{t: time.NewTimer(d)} }

type realTimer struct{ t *time.Timer }

func (r *realTimer) C() <-chan time.Time      { return r.t.C }
func (r *realTimer) Reset(d time.Duration) bool { return r.t.Reset(d) }
func (r *realTimer) Stop() bool                 { return r.t.Stop() }
