// Package buffer implements the frame/window slicing utility detector
// workers use to carve a pulled byte stream into model-appropriate
// frames (spec.md §4.6), grounded on github.com/smallnest/ringbuffer —
// the same library the teacher used for its audio ring adapter
// (pkg/io/stt/audioRing/rb_adapter.go).
package buffer

import (
	"errors"
	"fmt"

	"github.com/smallnest/ringbuffer"
)

// Mode selects the windowing behavior (spec.md §4.6 table).
type Mode int

const (
	Fixed Mode = iota
	Sliding
	Dynamic
)

// Config describes one Manager's windowing parameters. Sizes are in
// bytes unless noted; duration fields are milliseconds (spec.md §4.6).
type Config struct {
	Mode Mode

	FrameSize int // required > 0, all modes

	StepSize int // Sliding only: 0 < StepSize <= FrameSize

	MinDurationBytes int // Dynamic only
	MaxDurationBytes int // Dynamic only: must be >= MinDurationBytes if both set

	MaxBufferBytes int // overflow bound; oldest bytes dropped past this
}

// Validate enforces spec.md §4.6's invariants.
func (c Config) Validate() error {
	if c.FrameSize <= 0 {
		return errors.New("buffer: frame_size must be > 0")
	}
	switch c.Mode {
	case Sliding:
		if c.StepSize <= 0 || c.StepSize > c.FrameSize {
			return fmt.Errorf("buffer: sliding requires 0 < step_size (%d) <= frame_size (%d)", c.StepSize, c.FrameSize)
		}
	case Dynamic:
		if c.MaxDurationBytes > 0 && c.MinDurationBytes > 0 && c.MaxDurationBytes < c.MinDurationBytes {
			return fmt.Errorf("buffer: dynamic requires max (%d) >= min (%d)", c.MaxDurationBytes, c.MinDurationBytes)
		}
	}
	return nil
}

// Manager accumulates pushed bytes into a ring buffer and emits
// model-appropriate frames per its configured Mode.
type Manager struct {
	cfg Config
	rb  *ringbuffer.RingBuffer

	// sliding-mode bookkeeping: Push lowers it when overflow drops bytes;
	// emitSliding does not read it.
	slideOffset int
	// dynamic-mode bookkeeping: bytes accumulated since the last emission.
	dynAccum int
}

// New constructs a Manager. capacity bounds the underlying ring buffer
// and doubles as MaxBufferBytes if the caller left it zero.
func New(cfg Config, capacity int) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxBufferBytes <= 0 {
		cfg.MaxBufferBytes = capacity
	}
	return &Manager{
		cfg: cfg,
		rb:  ringbuffer.New(capacity).SetBlocking(false),
	}, nil
}

// Push appends data, dropping the oldest bytes on overflow (spec.md
// §4.6: "Max buffer size is enforced by dropping the oldest bytes").
func (m *Manager) Push(data []byte) {
	for m.rb.Free() < len(data) && m.rb.Length() > 0 {
		drop := m.rb.Length()
		if drop > len(data) {
			drop = len(data)
		}
		buf := make([]byte, drop)
		m.rb.Read(buf)
		if m.slideOffset > 0 {
			m.slideOffset -= drop
			if m.slideOffset < 0 {
				m.slideOffset = 0
			}
		}
	}
	m.rb.Write(data)
	if m.cfg.Mode == Dynamic {
		m.dynAccum += len(data)
	}
}

// Emit returns ready frames given the current buffered bytes. For Fixed,
// it returns as many non-overlapping frame_size frames as are available.
// For Sliding, it returns as many frame_size windows advancing by
// step_size as are available. For Dynamic, it returns one frame only
// when MaxDurationBytes is reached (and clears the accumulator); the
// caller must call Flush() to force an earlier emission.
func (m *Manager) Emit() [][]byte {
	switch m.cfg.Mode {
	case Fixed:
		return m.emitFixed()
	case Sliding:
		return m.emitSliding()
	case Dynamic:
		if m.cfg.MaxDurationBytes > 0 && m.dynAccum >= m.cfg.MaxDurationBytes {
			if f, ok := m.flushDynamic(); ok {
				return [][]byte{f}
			}
		}
		return nil
	default:
		return nil
	}
}

func (m *Manager) emitFixed() [][]byte {
	var out [][]byte
	for m.rb.Length() >= m.cfg.FrameSize {
		buf := make([]byte, m.cfg.FrameSize)
		m.rb.Read(buf)
		out = append(out, buf)
	}
	return out
}

func (m *Manager) emitSliding() [][]byte {
	var out [][]byte
	// Peek the full contiguous contents without consuming, then advance
	// the read pointer by step_size per emitted window, preserving overlap.
	for m.rb.Length() >= m.cfg.FrameSize {
		window := make([]byte, m.cfg.FrameSize)
		peeked := peek(m.rb, window)
		if peeked < m.cfg.FrameSize {
			break
		}
		out = append(out, window)
		discard := make([]byte, m.cfg.StepSize)
		m.rb.Read(discard)
	}
	return out
}

// peek copies up to len(dst) bytes into dst without discarding them from
// the ring: rb.Bytes copies the buffered contents into a temp buffer
// without moving the read pointer, mirroring the teacher's PeekN approach
// (pkg/io/stt/audioRing/rb_adapter.go) of duplicating into a temp buffer
// rather than mutating the real one irreversibly.
func peek(rb *ringbuffer.RingBuffer, dst []byte) int {
	all := make([]byte, rb.Length())
	rb.Bytes(all)
	n := copy(dst, all)
	return n
}

// Flush forces emission of any partial remainder. Fixed mode pads the
// remainder to frame_size with zero bytes (or drops it if pad is false);
// Dynamic mode emits whatever has accumulated, even below MinDurationBytes.
func (m *Manager) Flush(pad bool) []byte {
	switch m.cfg.Mode {
	case Fixed:
		if m.rb.Length() == 0 {
			return nil
		}
		buf := make([]byte, m.rb.Length())
		m.rb.Read(buf)
		if !pad {
			return nil
		}
		if len(buf) < m.cfg.FrameSize {
			padded := make([]byte, m.cfg.FrameSize)
			copy(padded, buf)
			return padded
		}
		return buf
	case Dynamic:
		f, ok := m.flushDynamic()
		if !ok {
			return nil
		}
		return f
	default:
		if m.rb.Length() == 0 {
			return nil
		}
		buf := make([]byte, m.rb.Length())
		m.rb.Read(buf)
		return buf
	}
}

func (m *Manager) flushDynamic() ([]byte, bool) {
	if m.rb.Length() == 0 {
		return nil, false
	}
	buf := make([]byte, m.rb.Length())
	m.rb.Read(buf)
	m.dynAccum = 0
	return buf, true
}

// Len reports currently buffered bytes.
func (m *Manager) Len() int { return m.rb.Length() }
