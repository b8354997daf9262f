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

// VADFrameSamples is 40ms at 16kHz, within spec.md §4.4(e)'s 512-1024
// sample window.
const VADFrameSamples = 640

// ReaderVAD is the queue reader name the VAD worker registers under
// (spec.md §4.4(e)).
const ReaderVAD = "vad"

// VADWorker pulls frames from the moment recording starts and dispatches
// vad_speech_detected / vad_silence_detected actions. Silence-timer
// bookkeeping lives in the coordinator, which subscribes to these
// actions rather than the worker managing the timer itself (SPEC_FULL.md
// §4.4(e)).
type VADWorker struct {
	SessionID      string
	Queue          *queue.Registry
	Detector       collab.VAD
	Dispatch       func(store.Action)
	StartTimestamp *time.Time
	PullEvery      time.Duration
}

// Run pulls frames until ctx is canceled, dispatching a state-change
// action only when the VAD verdict flips (so the coordinator sees edges,
// not every frame).
func (w *VADWorker) Run(ctx context.Context) {
	w.Queue.RegisterReader(w.SessionID, ReaderVAD, w.StartTimestamp)
	defer w.Detector.Reset(w.SessionID)

	buf, err := buffer.New(buffer.Config{Mode: buffer.Fixed, FrameSize: VADFrameSamples * 2}, VADFrameSamples*2*4)
	if err != nil {
		return
	}

	pullEvery := w.PullEvery
	if pullEvery == 0 {
		pullEvery = 20 * time.Millisecond
	}

	var last collab.VADState
	consecutiveErrors := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		item, ok := w.Queue.PullBlocking(w.SessionID, ReaderVAD, pullEvery)
		if !ok {
			continue
		}
		buf.Push(item.Chunk.Data)

		for _, frame := range buf.Emit() {
			res, err := w.Detector.Detect(ctx, BytesToFloat32(frame), w.SessionID)
			if err != nil {
				consecutiveErrors++
				if consecutiveErrors >= MaxConsecutiveErrors {
					w.Dispatch(store.Action{
						Kind:      store.KindErrorRaised,
						SessionID: w.SessionID,
						Payload:   store.ErrorRaisedPayload{Code: errs.ErrDetection.Error(), Detail: fmt.Sprintf("vad worker stopped after %d consecutive errors: %v", consecutiveErrors, err)},
					})
					return
				}
				continue
			}
			consecutiveErrors = 0
			if res.State == last {
				continue
			}
			last = res.State
			switch res.State {
			case collab.VADSpeech:
				w.Dispatch(store.Action{Kind: store.KindVADSpeechDetected, SessionID: w.SessionID})
			case collab.VADSilence:
				w.Dispatch(store.Action{Kind: store.KindVADSilenceDetected, SessionID: w.SessionID})
			}
		}
	}
}
