package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/asrhub/asrhub/internal/clock"
	"github.com/asrhub/asrhub/internal/collab"
	"github.com/asrhub/asrhub/internal/config"
	"github.com/asrhub/asrhub/internal/providerpool"
	"github.com/asrhub/asrhub/internal/queue"
	"github.com/asrhub/asrhub/internal/store"
	"github.com/asrhub/asrhub/internal/timer"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator(t *testing.T, sessionID string) (*store.Store, func(), context.CancelFunc) {
	t.Helper()
	c := clock.Real
	q := queue.NewRegistry(c)
	tm := timer.New(c)
	pool, err := providerpool.New(1, func() (collab.ASRProvider, error) {
		return collab.NewStubASRProvider("HELLO"), nil
	})
	require.NoError(t, err)

	s := store.New(c, func() string { return sessionID }, store.SessionsReducer, store.StatsReducer)

	cfg := config.Defaults()
	cfg.SilenceThreshold = 50 * time.Millisecond
	cfg.TailPaddingDuration = 10 * time.Millisecond
	cfg.PreRollDuration = 200 * time.Millisecond

	collabs := Collaborators{
		WakeWord:  collab.NewKeywordWakeDetector(0.5, "hey"),
		VAD:       collab.NewEnergyVAD(0.1),
		Recorder:  collab.NewMemoryRecorder(),
		Converter: collab.NopConverter{},
	}

	coord := New(s, q, tm, pool, collabs, cfg, c, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go coord.Run(ctx)

	return s, func() { cancel(); s.Close() }, cancel
}

func TestSingleUtteranceHappyPath(t *testing.T) {
	s, cleanup, _ := newTestCoordinator(t, "sess-1")
	defer cleanup()

	s.Dispatch(store.Action{
		Kind: store.KindCreateSession,
		Payload: store.CreateSessionPayload{
			Strategy: "non_streaming", SampleRate: 16000, Channels: 1, Format: "pcm_s16le",
		},
	})

	require.Eventually(t, func() bool {
		sess, ok := s.State().Session("sess-1")
		return ok && sess.ID == "sess-1"
	}, time.Second, 5*time.Millisecond)

	s.Dispatch(store.Action{Kind: store.KindStartListening, SessionID: "sess-1"})

	require.Eventually(t, func() bool {
		sess, _ := s.State().Session("sess-1")
		return sess.State == "processing"
	}, time.Second, 5*time.Millisecond)

	s.Dispatch(store.Action{
		Kind: store.KindWakeActivated, SessionID: "sess-1",
		Payload: store.WakeActivatedPayload{Source: "ui"},
	})

	require.Eventually(t, func() bool {
		sess, _ := s.State().Session("sess-1")
		return sess.State == "processing_recording"
	}, time.Second, 5*time.Millisecond)

	s.Dispatch(store.Action{Kind: store.KindVADSilenceDetected, SessionID: "sess-1"})

	require.Eventually(t, func() bool {
		sess, _ := s.State().Session("sess-1")
		return sess.State == "processing_activated" && sess.LastResult != nil && sess.LastResult.FullText == "HELLO"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWakeIgnoredDuringRecording(t *testing.T) {
	s, cleanup, _ := newTestCoordinator(t, "sess-2")
	defer cleanup()

	s.Dispatch(store.Action{Kind: store.KindCreateSession, Payload: store.CreateSessionPayload{Strategy: "non_streaming", SampleRate: 16000, Channels: 1, Format: "pcm_s16le"}})
	s.Dispatch(store.Action{Kind: store.KindStartListening, SessionID: "sess-2"})
	s.Dispatch(store.Action{Kind: store.KindWakeActivated, SessionID: "sess-2", Payload: store.WakeActivatedPayload{Source: "ui"}})

	require.Eventually(t, func() bool {
		sess, _ := s.State().Session("sess-2")
		return sess.State == "processing_recording"
	}, time.Second, 5*time.Millisecond)

	// (P4/scenario 2) a second wake_activated while already recording is a no-op.
	s.Dispatch(store.Action{Kind: store.KindWakeActivated, SessionID: "sess-2", Payload: store.WakeActivatedPayload{Source: "keyword:hey"}})
	require.True(t, s.WaitIdle(time.Second))

	sess, _ := s.State().Session("sess-2")
	require.Equal(t, "processing_recording", sess.State)
}

func TestResetMidRecordingAbortsCycle(t *testing.T) {
	s, cleanup, _ := newTestCoordinator(t, "sess-3")
	defer cleanup()

	s.Dispatch(store.Action{Kind: store.KindCreateSession, Payload: store.CreateSessionPayload{Strategy: "non_streaming", SampleRate: 16000, Channels: 1, Format: "pcm_s16le"}})
	s.Dispatch(store.Action{Kind: store.KindStartListening, SessionID: "sess-3"})
	s.Dispatch(store.Action{Kind: store.KindWakeActivated, SessionID: "sess-3", Payload: store.WakeActivatedPayload{Source: "ui"}})

	require.Eventually(t, func() bool {
		sess, _ := s.State().Session("sess-3")
		return sess.State == "processing_recording"
	}, time.Second, 5*time.Millisecond)

	s.Dispatch(store.Action{Kind: store.KindResetSession, SessionID: "sess-3"})

	require.Eventually(t, func() bool {
		sess, _ := s.State().Session("sess-3")
		return sess.State == "processing"
	}, time.Second, 5*time.Millisecond)

	sess, _ := s.State().Session("sess-3")
	require.Nil(t, sess.LastResult)
}

func TestSingleProviderPoolServesBothSessionsInTurn(t *testing.T) {
	c := clock.Real
	q := queue.NewRegistry(c)
	tm := timer.New(c)
	pool, err := providerpool.New(1, func() (collab.ASRProvider, error) {
		return collab.NewStubASRProvider("HELLO"), nil
	})
	require.NoError(t, err)

	ids := []string{"a", "b"}
	idx := 0
	s := store.New(c, func() string { id := ids[idx]; idx++; return id }, store.SessionsReducer, store.StatsReducer)
	defer s.Close()

	cfg := config.Defaults()
	cfg.SilenceThreshold = 30 * time.Millisecond
	cfg.TailPaddingDuration = 5 * time.Millisecond
	cfg.Pool.LeaseTimeout = 100 * time.Millisecond

	collabs := Collaborators{
		WakeWord:  collab.NewKeywordWakeDetector(0.5, "hey"),
		VAD:       collab.NewEnergyVAD(0.1),
		Recorder:  collab.NewMemoryRecorder(),
		Converter: collab.NopConverter{},
	}
	coord := New(s, q, tm, pool, collabs, cfg, c, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go coord.Run(ctx)

	for _, id := range ids {
		s.Dispatch(store.Action{Kind: store.KindCreateSession, Payload: store.CreateSessionPayload{Strategy: "non_streaming", SampleRate: 16000, Channels: 1, Format: "pcm_s16le"}})
		s.Dispatch(store.Action{Kind: store.KindStartListening, SessionID: id})
		s.Dispatch(store.Action{Kind: store.KindWakeActivated, SessionID: id, Payload: store.WakeActivatedPayload{Source: "ui"}})
	}

	for _, id := range ids {
		require.Eventually(t, func() bool {
			sess, _ := s.State().Session(id)
			return sess.State == "processing_recording"
		}, time.Second, 5*time.Millisecond)
	}

	for _, id := range ids {
		s.Dispatch(store.Action{Kind: store.KindVADSilenceDetected, SessionID: id})
	}

	require.Eventually(t, func() bool {
		a, _ := s.State().Session("a")
		b, _ := s.State().Session("b")
		return a.State == "processing_activated" && b.State == "processing_activated"
	}, 2*time.Second, 10*time.Millisecond)

	// The coordinator handles actions one at a time and releases the lease
	// before handling the next one, so with a one-provider pool the second
	// session leases after the first has released; the two ASR dispatches
	// never overlap and no lease times out. Both sessions complete a cycle
	// and at least one carries a result.
	a, _ := s.State().Session("a")
	b, _ := s.State().Session("b")
	require.True(t, a.LastResult != nil || b.LastResult != nil)
}
