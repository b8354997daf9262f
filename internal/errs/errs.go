// Package errs defines the closed set of error kinds the core
// distinguishes (spec.md §7) as sentinel errors, wrapped with
// fmt.Errorf("...: %w", ...) at the call site the way the teacher wraps
// errors throughout internal/server and internal/domains.
package errs

import "errors"

var (
	// ErrConfig marks a fatal configuration problem at init.
	ErrConfig = errors.New("config_error")
	// ErrSession marks a reference to an unknown or invalid session.
	ErrSession = errors.New("session_error")
	// ErrAudio marks a malformed or undeclared audio chunk; the chunk is dropped.
	ErrAudio = errors.New("audio_error")
	// ErrDetection marks a detector inference failure.
	ErrDetection = errors.New("detection_error")
	// ErrTimeout marks a provider lease or inference timeout.
	ErrTimeout = errors.New("timeout_error")
	// ErrTransport marks a transport-layer rejection that never reaches core state.
	ErrTransport = errors.New("transport_error")
)
