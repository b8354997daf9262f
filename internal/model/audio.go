package model

import "time"

// SampleFormat is the closed enum of PCM encodings the core accepts at
// ingest (SPEC_FULL.md §3 expansion). Everything is normalized to
// FormatS16LE/16kHz/mono before it reaches the timestamped queue.
type SampleFormat string

const (
	FormatS16LE SampleFormat = "pcm_s16le"
	FormatF32LE SampleFormat = "pcm_f32le"
	FormatS16BE SampleFormat = "pcm_s16be"
)

// CanonicalSampleRate and CanonicalChannels are the normalized target
// format the audio converter collaborator produces (spec.md §4.4(b)).
const (
	CanonicalSampleRate = 16000
	CanonicalChannels   = 1
	CanonicalFormat     = FormatS16LE
)

// AudioConfig describes the declared shape of a session's incoming audio.
type AudioConfig struct {
	SampleRate int32
	Channels   int16
	Format     SampleFormat
}

// IsCanonical reports whether this config already matches the queue's
// required 16kHz/mono/s16le shape, letting the coordinator skip the
// converter call entirely (spec.md §4.4(b): "if sample rate ≠ 16 kHz or
// channels ≠ 1, invoke the audio-converter collaborator").
func (c AudioConfig) IsCanonical() bool {
	return c.SampleRate == CanonicalSampleRate &&
		c.Channels == CanonicalChannels &&
		c.Format == CanonicalFormat
}

// AudioChunk is an immutable, timestamped PCM payload (spec.md §3).
type AudioChunk struct {
	Data       []byte
	Timestamp  time.Time
	Duration   time.Duration
	SampleRate int32
	Channels   int16
	Format     SampleFormat
}

// Timestamped pairs a chunk with its assigned queue timestamp and the
// configured chunk_duration used for queue accounting (spec.md §4.1,
// §6.4 chunk_duration). Timestamp and Chunk.Timestamp are always equal;
// Timestamped is the public shape returned by queue reads.
type Timestamped struct {
	Timestamp time.Time
	Chunk     AudioChunk
	Duration  time.Duration
}
