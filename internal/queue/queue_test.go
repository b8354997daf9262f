package queue

import (
	"testing"
	"time"

	"github.com/asrhub/asrhub/internal/clock"
	"github.com/asrhub/asrhub/internal/model"
	"github.com/stretchr/testify/require"
)

func chunk(b byte) model.AudioChunk {
	return model.AudioChunk{Data: []byte{b}, Duration: 100 * time.Millisecond}
}

func TestPushPullRoundTrip(t *testing.T) {
	// R1: push then pull_from_timestamp (from the new reader's default
	// cursor, before the first push) returns chunks in push order.
	fc := clock.NewFake(time.Unix(0, 0))
	reg := NewRegistry(fc)

	var pushed []time.Time
	for i := byte(0); i < 3; i++ {
		ts := reg.Push("s1", chunk(i))
		pushed = append(pushed, ts)
		fc.Advance(10 * time.Millisecond)
	}

	items := reg.PullFromTimestamp("s1", "r1", nil, 0)
	require.Len(t, items, 3)
	for i, it := range items {
		require.Equal(t, []byte{byte(i)}, it.Chunk.Data)
		require.Equal(t, pushed[i], it.Timestamp)
	}
}

func TestCursorMonotonic(t *testing.T) {
	// P1: cursor timestamps are monotonically non-decreasing across pulls.
	fc := clock.NewFake(time.Unix(0, 0))
	reg := NewRegistry(fc)

	reg.Push("s1", chunk(1))
	fc.Advance(time.Millisecond)
	first := reg.PullFromTimestamp("s1", "r1", nil, 0)
	require.Len(t, first, 1)

	reg.Push("s1", chunk(2))
	fc.Advance(time.Millisecond)
	second := reg.PullFromTimestamp("s1", "r1", nil, 0)
	require.Len(t, second, 1)
	require.True(t, second[0].Timestamp.After(first[0].Timestamp))
}

func TestGetBetweenRange(t *testing.T) {
	// P3: get_between returns exactly items within [t1, t2] still retained.
	fc := clock.NewFake(time.Unix(0, 0))
	reg := NewRegistry(fc)

	var stamps []time.Time
	for i := byte(0); i < 5; i++ {
		stamps = append(stamps, reg.Push("s1", chunk(i)))
		fc.Advance(time.Second)
	}

	got := reg.GetBetween("s1", stamps[1], &stamps[3])
	require.Len(t, got, 3)
	require.Equal(t, stamps[1], got[0].Timestamp)
	require.Equal(t, stamps[3], got[2].Timestamp)
}

func TestEqualTimestampTieBreak(t *testing.T) {
	// B1: pushing with a timestamp equal to the previous one still
	// delivers the item and advances the cursor past it.
	fc := clock.NewFake(time.Unix(0, 0))
	reg := NewRegistry(fc)

	reg.Push("s1", chunk(1))
	// Do not advance the fake clock: second push observes an equal "now"
	// and must be bumped forward by epsilon, not dropped.
	reg.Push("s1", chunk(2))

	items := reg.PullFromTimestamp("s1", "r1", nil, 0)
	require.Len(t, items, 2)
	require.True(t, items[1].Timestamp.After(items[0].Timestamp))
}

func TestRegisterReaderIdempotent(t *testing.T) {
	// R3: register_reader is idempotent; re-registering without a
	// start timestamp must not reset an already-advanced cursor.
	fc := clock.NewFake(time.Unix(0, 0))
	reg := NewRegistry(fc)

	reg.Push("s1", chunk(1))
	fc.Advance(time.Millisecond)
	reg.RegisterReader("s1", "r1", nil)
	items := reg.PullFromTimestamp("s1", "r1", nil, 0)
	require.Len(t, items, 1)

	reg.Push("s1", chunk(2))
	reg.RegisterReader("s1", "r1", nil) // no-op: reader already registered
	more := reg.PullFromTimestamp("s1", "r1", nil, 0)
	require.Len(t, more, 1)
	require.Equal(t, []byte{2}, more[0].Chunk.Data)
}

func TestRetentionTrim(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	reg := NewRegistry(fc)
	reg.SetMaxHistory("s1", 2*time.Second)

	reg.Push("s1", chunk(1))
	fc.Advance(3 * time.Second)
	reg.Push("s1", chunk(2))

	items := reg.GetBetween("s1", time.Unix(0, 0), nil)
	require.Len(t, items, 1)
	require.Equal(t, []byte{2}, items[0].Chunk.Data)
}

func TestUnknownSessionPullIsEmpty(t *testing.T) {
	reg := NewRegistry(clock.NewFake(time.Unix(0, 0)))
	require.Empty(t, reg.PullFromTimestamp("nope", "r1", nil, 0))
	require.Empty(t, reg.GetBetween("nope", time.Unix(0, 0), nil))
}

func TestPullBlockingWakesOnPush(t *testing.T) {
	// P2: after push completes, a pending pull_blocking returns within timeout.
	reg := NewRegistry(clock.Real)
	reg.RegisterReader("s1", "r1", nil)

	done := make(chan bool, 1)
	go func() {
		_, ok := reg.PullBlocking("s1", "r1", time.Second)
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	reg.Push("s1", chunk(1))

	select {
	case ok := <-done:
		require.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("pull_blocking did not wake on push")
	}
}

func TestClearAndRemove(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	reg := NewRegistry(fc)
	reg.Push("s1", chunk(1))
	reg.Clear("s1")
	require.Empty(t, reg.GetBetween("s1", time.Unix(0, 0), nil))

	reg.Push("s1", chunk(2))
	reg.Remove("s1")
	require.Empty(t, reg.GetBetween("s1", time.Unix(0, 0), nil))
}

func TestDrainDestructiveInsertionOrder(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	reg := NewRegistry(fc)
	for i := byte(0); i < 3; i++ {
		reg.Push("s1", chunk(i))
		fc.Advance(time.Millisecond)
	}
	drained := reg.Drain("s1")
	require.Len(t, drained, 3)
	for i, it := range drained {
		require.Equal(t, []byte{byte(i)}, it.Chunk.Data)
	}
	require.Empty(t, reg.GetBetween("s1", time.Unix(0, 0), nil))
}
