// Package collab defines the collaborator interfaces the core consumes
// (spec.md §6.2). Concrete wake-word models, VAD models, file-format
// conversion, and ASR engines are explicitly out of this module's scope
// (spec.md §1 "Out of scope") — only the contracts live here, plus
// deterministic stub implementations used by the coordinator's own
// tests (SPEC_FULL.md §8).
package collab

import (
	"context"
	"time"
)

// WakeDetection is one keyword hit returned by a wake-word pass.
type WakeDetection struct {
	Keyword    string
	Confidence float64
}

// WakeWordDetector matches spec.md §6.2: detect(frame[1280]) -> [{keyword, confidence}].
type WakeWordDetector interface {
	Detect(ctx context.Context, frame []float32) ([]WakeDetection, error)
}

// VADState is the two-valued result spec.md §6.2 describes.
type VADState string

const (
	VADSpeech  VADState = "speech"
	VADSilence VADState = "silence"
)

// VADResult is the per-frame VAD verdict.
type VADResult struct {
	State       VADState
	Probability float64
}

// VAD matches spec.md §6.2: stateful per session (e.g. LSTM hidden state).
type VAD interface {
	Detect(ctx context.Context, frame []float32, sessionID string) (VADResult, error)
	// Reset clears any per-session hidden state, called on reset_session/delete_session.
	Reset(sessionID string)
}

// RecordingInfo is returned by StopRecording (spec.md §6.2).
type RecordingInfo struct {
	Filepath     string
	StartTime    time.Time
	EndTime      time.Time
	BytesWritten int64
}

// RecordingService matches spec.md §6.2. It registers itself as reader
// "recording" on the timestamped queue with the given start timestamp;
// the coordinator does not register that reader itself.
type RecordingService interface {
	StartRecording(ctx context.Context, sessionID string, sampleRate int32, channels int16, format string, filename string, metadata map[string]string, startTimestamp time.Time) (bool, error)
	StopRecording(ctx context.Context, sessionID string) (RecordingInfo, error)
}

// AudioConverter is a pure function over bytes (spec.md §6.2).
type AudioConverter interface {
	Convert(data []byte, srcRate int32, srcChannels int16, srcFormat string, dstRate int32, dstChannels int16, dstFormat string) ([]byte, error)
}

// ASRProvider matches spec.md §6.2's minimum contract.
type ASRProvider interface {
	TranscribeFile(ctx context.Context, path string) (TranscriptionResult, error)
	// Healthy reports whether the provider is still usable; the pool
	// marks a provider unhealthy after a transcription-time exception
	// (spec.md §4.5 Policy) and replaces it on next lease.
	Healthy() bool
	// Close releases any provider-held resources on replacement.
	Close() error
}

// TranscriptionResult is the provider-facing twin of model.Transcription;
// kept separate so collab has no dependency on the model package.
type TranscriptionResult struct {
	FullText   string
	Language   string
	Duration   time.Duration
	Confidence float64
}
