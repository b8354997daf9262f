package collab

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// EnergyVAD is a deterministic, dependency-free VAD used by tests and as
// a safe default, grounded on the teacher's energyBasedVAD fallback in
// pkg/io/stt/vad/silero.go (RMS-over-threshold with per-session state).
type EnergyVAD struct {
	Threshold float64

	mu    sync.Mutex
	state map[string]VADState
}

func NewEnergyVAD(threshold float64) *EnergyVAD {
	return &EnergyVAD{Threshold: threshold, state: make(map[string]VADState)}
}

func (e *EnergyVAD) Detect(_ context.Context, frame []float32, sessionID string) (VADResult, error) {
	if len(frame) == 0 {
		return VADResult{State: VADSilence}, nil
	}
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(frame)))

	e.mu.Lock()
	defer e.mu.Unlock()
	state := VADSilence
	if rms > e.Threshold {
		state = VADSpeech
	}
	e.state[sessionID] = state
	prob := rms / (e.Threshold + 1e-9)
	if prob > 1 {
		prob = 1
	}
	return VADResult{State: state, Probability: prob}, nil
}

func (e *EnergyVAD) Reset(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.state, sessionID)
}

// KeywordWakeDetector fires when a frame's peak amplitude crosses a
// fixed threshold, labelling the hit with Label. It exists purely so
// end-to-end tests can feed a synthetic "burst" and observe wake_activated
// without a real model (spec.md §8 scenario 1).
type KeywordWakeDetector struct {
	Threshold float32
	Label     string
}

func NewKeywordWakeDetector(threshold float32, label string) *KeywordWakeDetector {
	return &KeywordWakeDetector{Threshold: threshold, Label: label}
}

func (k *KeywordWakeDetector) Detect(_ context.Context, frame []float32) ([]WakeDetection, error) {
	var peak float32
	for _, s := range frame {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	if peak >= k.Threshold {
		return []WakeDetection{{Keyword: k.Label, Confidence: float64(peak)}}, nil
	}
	return nil, nil
}

// NopConverter passes bytes through unchanged; real resampling/downmixing
// is out of this module's scope (spec.md §1).
type NopConverter struct{}

func (NopConverter) Convert(data []byte, _ int32, _ int16, _ string, _ int32, _ int16, _ string) ([]byte, error) {
	return data, nil
}

// MemoryRecorder is an in-memory stand-in for a real file-backed
// recording service, used by coordinator tests so scenarios don't touch
// disk. It does not register a "recording" reader on the queue:
// StartRecording only remembers the start timestamp and calls OnStart,
// if set. StopRecording returns an empty Filepath.
type MemoryRecorder struct {
	mu      sync.Mutex
	active  map[string]*memoryRecording
	OnStart func(sessionID string, startTimestamp time.Time)
}

type memoryRecording struct {
	start time.Time
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{active: make(map[string]*memoryRecording)}
}

func (m *MemoryRecorder) StartRecording(_ context.Context, sessionID string, _ int32, _ int16, _ string, _ string, _ map[string]string, startTimestamp time.Time) (bool, error) {
	m.mu.Lock()
	m.active[sessionID] = &memoryRecording{start: startTimestamp}
	m.mu.Unlock()
	if m.OnStart != nil {
		m.OnStart(sessionID, startTimestamp)
	}
	return true, nil
}

func (m *MemoryRecorder) StopRecording(_ context.Context, sessionID string) (RecordingInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.active[sessionID]
	if !ok {
		return RecordingInfo{}, fmt.Errorf("no active recording for session %s", sessionID)
	}
	delete(m.active, sessionID)
	return RecordingInfo{StartTime: rec.start, EndTime: time.Now()}, nil
}

// StubASRProvider returns a fixed transcription, grounded on spec.md §8
// scenario 1's "deterministic stub returning HELLO".
type StubASRProvider struct {
	Text    string
	healthy bool
}

func NewStubASRProvider(text string) *StubASRProvider {
	return &StubASRProvider{Text: text, healthy: true}
}

func (s *StubASRProvider) TranscribeFile(_ context.Context, _ string) (TranscriptionResult, error) {
	if !s.healthy {
		return TranscriptionResult{}, fmt.Errorf("provider unhealthy")
	}
	return TranscriptionResult{FullText: s.Text, Language: "en", Confidence: 0.99}, nil
}

func (s *StubASRProvider) Healthy() bool { return s.healthy }
func (s *StubASRProvider) Close() error  { s.healthy = false; return nil }

// MarkUnhealthy lets tests simulate a provider-exception path (spec.md §4.5 Policy).
func (s *StubASRProvider) MarkUnhealthy() { s.healthy = false }
