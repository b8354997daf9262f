package buffer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFixedModeEmitsNonOverlappingFrames(t *testing.T) {
	m, err := New(Config{Mode: Fixed, FrameSize: 4}, 64)
	require.NoError(t, err)

	m.Push([]byte{1, 2, 3, 4, 5, 6, 7, 8, 9})
	frames := m.Emit()
	require.Equal(t, [][]byte{{1, 2, 3, 4}, {5, 6, 7, 8}}, frames)
	require.Equal(t, 1, m.Len())

	rem := m.Flush(true)
	require.Equal(t, []byte{9, 0, 0, 0}, rem)
}

func TestSlidingModeOverlap(t *testing.T) {
	m, err := New(Config{Mode: Sliding, FrameSize: 4, StepSize: 2}, 64)
	require.NoError(t, err)

	m.Push([]byte{1, 2, 3, 4, 5, 6})
	frames := m.Emit()
	require.Equal(t, [][]byte{{1, 2, 3, 4}, {3, 4, 5, 6}}, frames)
}

func TestDynamicModeEmitsAtMax(t *testing.T) {
	m, err := New(Config{Mode: Dynamic, FrameSize: 1, MinDurationBytes: 2, MaxDurationBytes: 4}, 64)
	require.NoError(t, err)

	m.Push([]byte{1, 2})
	require.Empty(t, m.Emit())
	m.Push([]byte{3, 4})
	frames := m.Emit()
	require.Equal(t, [][]byte{{1, 2, 3, 4}}, frames)
}

func TestDynamicModeExternalFlush(t *testing.T) {
	m, err := New(Config{Mode: Dynamic, FrameSize: 1, MinDurationBytes: 1, MaxDurationBytes: 100}, 64)
	require.NoError(t, err)
	m.Push([]byte{1, 2, 3})
	require.Empty(t, m.Emit())
	flushed := m.Flush(false)
	require.Equal(t, []byte{1, 2, 3}, flushed)
}

func TestInvariantViolations(t *testing.T) {
	_, err := New(Config{Mode: Fixed, FrameSize: 0}, 64)
	require.Error(t, err)

	_, err = New(Config{Mode: Sliding, FrameSize: 4, StepSize: 5}, 64)
	require.Error(t, err)

	_, err = New(Config{Mode: Dynamic, FrameSize: 1, MinDurationBytes: 10, MaxDurationBytes: 4}, 64)
	require.Error(t, err)
}

func TestOverflowDropsOldestBytes(t *testing.T) {
	m, err := New(Config{Mode: Fixed, FrameSize: 2}, 4)
	require.NoError(t, err)
	m.Push([]byte{1, 2, 3, 4})
	m.Push([]byte{5, 6}) // overflow: must drop the oldest 2 bytes (1,2)

	frames := m.Emit()
	require.Equal(t, [][]byte{{3, 4}, {5, 6}}, frames)
}
