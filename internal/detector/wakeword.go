// Package detector implements the wake-word and VAD worker loops that
// consume the timestamped queue (spec.md §4.4(c), §4.4(e)).
package detector

import (
	"context"
	"fmt"
	"time"

	"github.com/asrhub/asrhub/internal/buffer"
	"github.com/asrhub/asrhub/internal/collab"
	"github.com/asrhub/asrhub/internal/errs"
	"github.com/asrhub/asrhub/internal/queue"
	"github.com/asrhub/asrhub/internal/store"
)

// WakeFrameSamples is 80ms at 16kHz (spec.md §4.4(c)).
const WakeFrameSamples = 1280

// MaxConsecutiveErrors is the detection_error threshold after which a
// worker stops itself and reports up (spec.md §7 Propagation policy).
const MaxConsecutiveErrors = 10

// ReaderWakeWord is the queue reader name the wake-word worker registers
// under (spec.md §4.4(c)).
const ReaderWakeWord = "wake_word"

// WakeWordWorker pulls 80ms frames, feeds them to a WakeWordDetector, and
// dispatches wake_activated{source=keyword:<label>} on a positive hit.
type WakeWordWorker struct {
	SessionID string
	Queue     *queue.Registry
	Detector  collab.WakeWordDetector
	Dispatch  func(store.Action)
	PullEvery time.Duration // default 50ms if zero
}

// Run pulls frames until ctx is canceled. It registers reader
// ReaderWakeWord on the queue itself (spec.md §4.4(c): "registers as
// reader wake_word").
func (w *WakeWordWorker) Run(ctx context.Context) {
	w.Queue.RegisterReader(w.SessionID, ReaderWakeWord, nil)

	buf, err := buffer.New(buffer.Config{Mode: buffer.Fixed, FrameSize: WakeFrameSamples * 2}, WakeFrameSamples*2*4)
	if err != nil {
		return // invariant violation; caller's config is broken, nothing to run
	}

	pullEvery := w.PullEvery
	if pullEvery == 0 {
		pullEvery = 50 * time.Millisecond
	}

	consecutiveErrors := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		item, ok := w.Queue.PullBlocking(w.SessionID, ReaderWakeWord, pullEvery)
		if !ok {
			continue
		}
		buf.Push(item.Chunk.Data)

		for _, frame := range buf.Emit() {
			dets, err := w.Detector.Detect(ctx, BytesToFloat32(frame))
			if err != nil {
				consecutiveErrors++
				if consecutiveErrors >= MaxConsecutiveErrors {
					w.Dispatch(store.Action{
						Kind:      store.KindErrorRaised,
						SessionID: w.SessionID,
						Payload:   store.ErrorRaisedPayload{Code: errs.ErrDetection.Error(), Detail: fmt.Sprintf("wake-word worker stopped after %d consecutive errors: %v", consecutiveErrors, err)},
					})
					return
				}
				continue
			}
			consecutiveErrors = 0
			for _, d := range dets {
				w.Dispatch(store.Action{
					Kind:      store.KindWakeActivated,
					SessionID: w.SessionID,
					Payload:   store.WakeActivatedPayload{Source: "keyword:" + d.Keyword},
				})
			}
		}
	}
}
