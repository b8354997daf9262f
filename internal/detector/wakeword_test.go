package detector

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/asrhub/asrhub/internal/clock"
	"github.com/asrhub/asrhub/internal/collab"
	"github.com/asrhub/asrhub/internal/model"
	"github.com/asrhub/asrhub/internal/queue"
	"github.com/asrhub/asrhub/internal/store"
	"github.com/stretchr/testify/require"
)

func loudFrame(n int, amp int16) []byte {
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		out[i*2] = byte(amp)
		out[i*2+1] = byte(amp >> 8)
	}
	return out
}

func TestWakeWordWorkerDispatchesOnHit(t *testing.T) {
	reg := queue.NewRegistry(clock.Real)
	var mu sync.Mutex
	var got []store.Action
	dispatch := func(a store.Action) {
		mu.Lock()
		got = append(got, a)
		mu.Unlock()
	}

	w := &WakeWordWorker{
		SessionID: "s1",
		Queue:     reg,
		Detector:  collab.NewKeywordWakeDetector(0.5, "hey"),
		Dispatch:  dispatch,
		PullEvery: 10 * time.Millisecond,
	}

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)

	reg.Push("s1", model.AudioChunk{Data: loudFrame(WakeFrameSamples, 30000)})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, a := range got {
			if a.Kind == store.KindWakeActivated {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	cancel()
}

func TestWakeWordWorkerQuietFrameIsNoOp(t *testing.T) {
	reg := queue.NewRegistry(clock.Real)
	var mu sync.Mutex
	var got []store.Action
	dispatch := func(a store.Action) {
		mu.Lock()
		got = append(got, a)
		mu.Unlock()
	}

	w := &WakeWordWorker{
		SessionID: "s1",
		Queue:     reg,
		Detector:  collab.NewKeywordWakeDetector(0.9, "hey"),
		Dispatch:  dispatch,
		PullEvery: 10 * time.Millisecond,
	}
	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)

	reg.Push("s1", model.AudioChunk{Data: loudFrame(WakeFrameSamples, 10)})
	time.Sleep(100 * time.Millisecond)
	cancel()

	mu.Lock()
	defer mu.Unlock()
	require.Empty(t, got)
}
