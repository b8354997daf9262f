// Package fsm implements the per-session hierarchical state machine
// (spec.md §4.2), built on github.com/looplab/fsm — the dependency the
// teacher declared (internal/domains/sys_manager/runtime/runtime.go)
// but never actually instantiated. This package is the first to wire it.
package fsm

import (
	"context"

	looplabfsm "github.com/looplab/fsm"
	"github.com/asrhub/asrhub/internal/model"
)

// Universal transitions applied to every strategy (spec.md §3).
const (
	EventSessionExpired = "session_expired"
	EventResetSession   = "reset_session"
	EventErrorOccurred  = "error_occurred"

	StateIdle       = "idle"
	StateProcessing = "processing"
	StateError      = "error"
)

// SessionFSM wraps a *looplab_fsm.FSM with the may/trigger contract
// spec.md §4.2 requires (may never panics; trigger never raises — a
// rejected transition is simply a no-op returning false).
type SessionFSM struct {
	inner *looplabfsm.FSM
}

// New constructs the FSM for a session using the transition table for
// its strategy (spec.md §4.2 "derived from ... a universal set ... and a
// strategy-specific set").
func New(strategy model.Strategy) *SessionFSM {
	events := append(universalEvents(), strategyEvents(strategy)...)
	return &SessionFSM{inner: looplabfsm.NewFSM(StateIdle, events, nil)}
}

func universalEvents() looplabfsm.Events {
	return looplabfsm.Events{
		{Name: EventSessionExpired, Src: []string{"*"}, Dst: StateIdle},
		{Name: EventResetSession, Src: []string{"*"}, Dst: StateIdle},
		{Name: EventErrorOccurred, Src: []string{"*"}, Dst: StateError},
	}
}

func strategyEvents(strategy model.Strategy) looplabfsm.Events {
	switch strategy {
	case model.StrategyBatch:
		return looplabfsm.Events{
			{Name: "start_listening", Src: []string{StateIdle}, Dst: "processing_uploading"},
			{Name: "upload_started", Src: []string{"processing_uploading"}, Dst: "processing_uploading"},
			{Name: "upload_completed", Src: []string{"processing_uploading"}, Dst: "processing_transcribing"},
			{Name: "transcribe_done", Src: []string{"processing_transcribing"}, Dst: StateIdle},
		}
	case model.StrategyStreaming:
		return looplabfsm.Events{
			{Name: "start_listening", Src: []string{StateIdle}, Dst: StateProcessing},
			{Name: "wake_activated", Src: []string{StateProcessing}, Dst: "processing_activated"},
			{Name: "wake_deactivated", Src: []string{"processing_activated"}, Dst: StateIdle},
			{Name: "asr_stream_started", Src: []string{"processing_activated"}, Dst: "processing_transcribing"},
			{Name: "asr_stream_stopped", Src: []string{"processing_transcribing"}, Dst: "processing_busy"},
			{Name: "transcribe_done", Src: []string{"processing_busy"}, Dst: "processing_activated"},
		}
	default: // model.StrategyNonStreaming
		return looplabfsm.Events{
			{Name: "start_listening", Src: []string{StateIdle}, Dst: StateProcessing},
			{Name: "wake_activated", Src: []string{StateProcessing}, Dst: "processing_activated"},
			{Name: "wake_deactivated", Src: []string{"processing_activated"}, Dst: StateIdle},
			{Name: "record_started", Src: []string{"processing_activated"}, Dst: "processing_recording"},
			{Name: "record_stopped", Src: []string{"processing_recording"}, Dst: "processing_transcribing"},
			{Name: "transcribe_started", Src: []string{"processing_transcribing"}, Dst: "processing_busy"},
			{Name: "transcribe_done", Src: []string{"processing_transcribing", "processing_busy"}, Dst: "processing_activated"},
		}
	}
}

// State returns the current hierarchical state path (spec.md §4.2 state()).
func (f *SessionFSM) State() string {
	return f.inner.Current()
}

// May reports whether action is a legal transition from the current
// state (spec.md §4.2 may()).
func (f *SessionFSM) May(action string) bool {
	return f.inner.Can(action)
}

// Trigger attempts the transition, returning whether the state changed.
// A rejected transition is a no-op returning false, never an error
// (spec.md §4.2 Failure: "not legal is a no-op returning false").
func (f *SessionFSM) Trigger(ctx context.Context, action string, args ...interface{}) bool {
	before := f.inner.Current()
	if err := f.inner.Event(ctx, action, args...); err != nil {
		// Any rejection (unknown event, invalid source state, etc.) is a
		// no-op per spec.md §4.2 Failure — never propagated as an error.
		return false
	}
	return f.inner.Current() != before
}

// InProcessing reports whether the current state is any processing_*
// substate (spec.md §4.2 Hierarchy semantics).
func (f *SessionFSM) InProcessing() bool {
	cur := f.inner.Current()
	return cur == StateProcessing || (len(cur) > len(StateProcessing) && cur[:len(StateProcessing)+1] == StateProcessing+"_")
}

// InState reports whether the current state equals exactly s.
func (f *SessionFSM) InState(s string) bool {
	return f.inner.Current() == s
}
