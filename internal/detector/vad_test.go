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

func TestVADWorkerDispatchesOnStateFlip(t *testing.T) {
	reg := queue.NewRegistry(clock.Real)
	var mu sync.Mutex
	var got []store.Kind
	dispatch := func(a store.Action) {
		mu.Lock()
		got = append(got, a.Kind)
		mu.Unlock()
	}

	w := &VADWorker{
		SessionID: "s1",
		Queue:     reg,
		Detector:  collab.NewEnergyVAD(0.1),
		Dispatch:  dispatch,
		PullEvery: 10 * time.Millisecond,
	}
	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)

	reg.Push("s1", model.AudioChunk{Data: loudFrame(VADFrameSamples, 20000)})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, k := range got {
			if k == store.KindVADSpeechDetected {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	reg.Push("s1", model.AudioChunk{Data: loudFrame(VADFrameSamples, 0)})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, k := range got {
			if k == store.KindVADSilenceDetected {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	cancel()
}

func TestVADWorkerDoesNotRepeatSameState(t *testing.T) {
	reg := queue.NewRegistry(clock.Real)
	var mu sync.Mutex
	var count int
	dispatch := func(a store.Action) {
		if a.Kind == store.KindVADSpeechDetected {
			mu.Lock()
			count++
			mu.Unlock()
		}
	}

	w := &VADWorker{
		SessionID: "s1",
		Queue:     reg,
		Detector:  collab.NewEnergyVAD(0.1),
		Dispatch:  dispatch,
		PullEvery: 10 * time.Millisecond,
	}
	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)

	for i := 0; i < 3; i++ {
		reg.Push("s1", model.AudioChunk{Data: loudFrame(VADFrameSamples, 20000)})
		time.Sleep(30 * time.Millisecond)
	}
	cancel()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, count)
}
