package coordinator

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/asrhub/asrhub/internal/errs"
	"github.com/asrhub/asrhub/internal/fsm"
	"github.com/asrhub/asrhub/internal/model"
	"github.com/asrhub/asrhub/internal/store"
)

// handleCreateSession is (a) Session creation: the reducer already
// created the record with a generated ID (spec.md §4.4(a)); the effect
// reads it back here, instantiates the strategy-appropriate FSM, and
// remembers the request_id -> session_id mapping.
func (c *Coordinator) handleCreateSession(_ context.Context, n store.Notification) {
	sess, ok := n.Next.Session(n.Action.SessionID)
	if !ok {
		return
	}
	rt := &runtime{
		fsm:      fsm.New(sess.Strategy),
		strategy: sess.Strategy,
		preRoll:  newPreRollRing(c.cfg.PreRollDuration),
		workers:  &errgroup.Group{},
	}
	if c.cfg.MaxHistoryDuration > 0 {
		c.queue.SetMaxHistory(sess.ID, c.cfg.MaxHistoryDuration)
	}
	c.mu.Lock()
	c.sessions[sess.ID] = rt
	if n.Action.RequestID != "" {
		c.requestIDs[n.Action.RequestID] = sess.ID
	}
	c.mu.Unlock()
}

// handleStartListening covers a client that calls start_listening before
// any audio has arrived; receive_audio_chunk also triggers this path
// lazily (spec.md §4.4(b)) so this handler simply guards idempotency.
func (c *Coordinator) handleStartListening(ctx context.Context, n store.Notification) {
	rt := c.getRuntime(n.Action.SessionID)
	if rt == nil {
		return
	}
	if !rt.fsm.May("start_listening") {
		return
	}
	if rt.fsm.Trigger(ctx, "start_listening") {
		c.mirrorFSMState(n.Action.SessionID, rt.fsm.State())
	}
	if rt.strategy != model.StrategyBatch {
		c.startWakeWordWorker(n.Action.SessionID, rt)
	}
}

// handleReceiveAudioChunk is (b) Ingest & normalization.
func (c *Coordinator) handleReceiveAudioChunk(ctx context.Context, n store.Notification) {
	sessionID := n.Action.SessionID
	rt := c.getRuntime(sessionID)
	if rt == nil {
		return
	}
	p, ok := n.Action.Payload.(store.ReceiveAudioChunkPayload)
	if !ok {
		return
	}
	sess, ok := n.Next.Session(sessionID)
	if !ok {
		return
	}

	data := p.Data
	cfg := model.AudioConfig{SampleRate: p.SampleRate, Channels: p.Channels, Format: model.SampleFormat(p.Format)}
	if cfg.SampleRate == 0 {
		cfg = sess.Audio
	}
	if !cfg.IsCanonical() {
		converted, err := c.collabs.Converter.Convert(data, cfg.SampleRate, cfg.Channels, string(cfg.Format),
			model.CanonicalSampleRate, model.CanonicalChannels, string(model.CanonicalFormat))
		if err != nil {
			c.dispatchError(sessionID, errs.ErrAudio.Error(), fmt.Sprintf("convert: %v", err))
			return
		}
		data = converted
	}

	chunk := model.AudioChunk{Data: data, Duration: c.cfg.ChunkDuration, SampleRate: model.CanonicalSampleRate, Channels: model.CanonicalChannels, Format: model.CanonicalFormat}
	ts := c.queue.Push(sessionID, chunk)
	chunk.Timestamp = ts
	rt.preRoll.Push(model.Timestamped{Timestamp: ts, Chunk: chunk, Duration: chunk.Duration})

	if !rt.fsm.InProcessing() {
		if rt.fsm.Trigger(ctx, "start_listening") {
			c.mirrorFSMState(sessionID, rt.fsm.State())
		}
		if rt.strategy != model.StrategyBatch {
			c.startWakeWordWorker(sessionID, rt)
		}
	}
}

// handleWakeActivated is (d) Wake activation.
func (c *Coordinator) handleWakeActivated(ctx context.Context, n store.Notification) {
	sessionID := n.Action.SessionID
	rt := c.getRuntime(sessionID)
	if rt == nil {
		return
	}
	// (P4) a spurious wake-word event while already recording/activated is
	// rejected here by the FSM guard, not treated as an error.
	if !rt.fsm.May("wake_activated") {
		return
	}
	if !rt.fsm.Trigger(ctx, "wake_activated") {
		return
	}
	c.mirrorFSMState(sessionID, rt.fsm.State())

	now := c.clock.Now()
	rt.tWake = now

	// Pre-roll/clear resolution (spec.md §9, SPEC_FULL.md §4.4): clear the
	// main queue to drop the wake-word audio, then restore the
	// independently-retained pre-roll ring so recording_start resolves to
	// real audio.
	preRollItems := rt.preRoll.Items()
	c.queue.Clear(sessionID)
	c.queue.Reinsert(sessionID, preRollItems)

	recordingStart := now.Add(-c.cfg.PreRollDuration)
	if len(preRollItems) > 0 && preRollItems[0].Timestamp.After(recordingStart) {
		recordingStart = preRollItems[0].Timestamp
	}
	if recordingStart.After(now) {
		recordingStart = now
	}
	rt.recordingStart = recordingStart

	payload, _ := n.Action.Payload.(store.WakeActivatedPayload)
	meta := map[string]string{"source": payload.Source}
	filename := sessionID + ".wav"
	started, err := c.collabs.Recorder.StartRecording(ctx, sessionID, model.CanonicalSampleRate, model.CanonicalChannels,
		string(model.CanonicalFormat), filename, meta, recordingStart)
	if err != nil || !started {
		c.dispatchError(sessionID, errs.ErrAudio.Error(), fmt.Sprintf("start recording: %v", err))
		return
	}

	if rt.fsm.Trigger(ctx, "record_started") {
		c.mirrorFSMState(sessionID, rt.fsm.State())
	}
	c.store.Dispatch(store.Action{Kind: store.KindRecordStarted, SessionID: sessionID})

	c.startVADWorker(sessionID, rt)
}

// handleVADSpeech is half of (e) VAD monitoring: speech cancels any
// active silence timer.
func (c *Coordinator) handleVADSpeech(_ context.Context, n store.Notification) {
	c.timer.StopTimer(n.Action.SessionID)
}

// handleVADSilence is the other half of (e): silence starts the
// countdown, but only while actually recording (P6).
func (c *Coordinator) handleVADSilence(_ context.Context, n store.Notification) {
	sessionID := n.Action.SessionID
	rt := c.getRuntime(sessionID)
	if rt == nil || !rt.fsm.InState("processing_recording") {
		return
	}
	if c.timer.IsActive(sessionID) {
		return
	}
	c.timer.StartCountdown(sessionID, c.cfg.SilenceThreshold, func() {
		c.store.Dispatch(store.Action{Kind: store.KindSilenceTimeout, SessionID: sessionID, Timestamp: c.clock.Now()})
	})
}

// handleSilenceTimeout is (f). The FSM guard is the sole authority on
// whether a (possibly stale, spec.md §9 "Timer after reset") timeout is
// still meaningful: looking up the FSM fresh at dispatch time means a
// timer that fired just before a reset_session is naturally rejected.
func (c *Coordinator) handleSilenceTimeout(ctx context.Context, n store.Notification) {
	sessionID := n.Action.SessionID
	rt := c.getRuntime(sessionID)
	if rt == nil || !rt.fsm.May("record_stopped") {
		return
	}

	tSilence := n.Action.Timestamp
	recordingEnd := tSilence.Add(c.cfg.TailPaddingDuration)
	info, recErr := c.collabs.Recorder.StopRecording(ctx, sessionID)
	segment := c.queue.GetBetween(sessionID, rt.recordingStart, &recordingEnd)

	if !rt.fsm.Trigger(ctx, "record_stopped") {
		return
	}
	c.mirrorFSMState(sessionID, rt.fsm.State())
	c.store.Dispatch(store.Action{Kind: store.KindRecordStopped, SessionID: sessionID})

	c.stopVADWorker(rt)

	var path string
	if recErr == nil {
		path = info.Filepath
	}
	c.dispatchASR(ctx, sessionID, rt, path, segment)
}

// handleUploadCompleted is the batch-strategy path (SPEC_FULL.md §4.4,
// spec.md §9 resolved open question): destructively drain the queue in
// insertion order rather than the timestamped range API.
func (c *Coordinator) handleUploadCompleted(ctx context.Context, n store.Notification) {
	sessionID := n.Action.SessionID
	rt := c.getRuntime(sessionID)
	if rt == nil || !rt.fsm.May("upload_completed") {
		return
	}
	if !rt.fsm.Trigger(ctx, "upload_completed") {
		return
	}
	c.mirrorFSMState(sessionID, rt.fsm.State())

	segment := c.queue.Drain(sessionID)
	c.dispatchASR(ctx, sessionID, rt, "", segment)
}

// handleWakeDeactivated is (g).
func (c *Coordinator) handleWakeDeactivated(ctx context.Context, n store.Notification) {
	sessionID := n.Action.SessionID
	rt := c.getRuntime(sessionID)
	if rt == nil || !rt.fsm.May("wake_deactivated") {
		return
	}
	if _, err := c.collabs.Recorder.StopRecording(ctx, sessionID); err == nil {
		// a file was open; nothing further to do with it, the cycle is abandoned.
	}
	if !rt.fsm.Trigger(ctx, "wake_deactivated") {
		return
	}
	c.mirrorFSMState(sessionID, rt.fsm.State())

	c.timer.StopTimer(sessionID)
	c.stopVADWorker(rt)
	c.queue.Clear(sessionID)
	rt.preRoll.Reset()
}

// dispatchASR is (h) ASR dispatch, shared by the silence-timeout and
// batch-upload paths.
func (c *Coordinator) dispatchASR(ctx context.Context, sessionID string, rt *runtime, recordedPath string, segment []model.Timestamped) {
	path := recordedPath
	var tmpFile string
	if path == "" {
		f, err := combineToTempFile(segment)
		if err != nil {
			c.finishASR(ctx, sessionID, rt, nil, fmt.Sprintf("combine segment: %v", err))
			return
		}
		path = f
		tmpFile = f
	}
	if tmpFile != "" {
		defer os.Remove(tmpFile)
	}

	prov, release, err := c.pool.Lease(ctx, c.cfg.Pool.LeaseTimeout)
	if err != nil {
		c.finishASR(ctx, sessionID, rt, nil, fmt.Sprintf("lease: %v", err))
		return
	}
	defer release()

	result, err := prov.TranscribeFile(ctx, path)
	if err != nil {
		c.finishASR(ctx, sessionID, rt, nil, fmt.Sprintf("transcribe: %v", err))
		return
	}

	c.finishASR(ctx, sessionID, rt, &store.TranscriptionPayload{
		FullText:   result.FullText,
		Language:   result.Language,
		Confidence: result.Confidence,
	}, "")
}

// finishASR always dispatches transcribe_done (result nil on failure,
// spec.md §4.4(h) "regardless of success"), triggers the FSM, and runs
// cleanup-for-next-round.
func (c *Coordinator) finishASR(ctx context.Context, sessionID string, rt *runtime, result *store.TranscriptionPayload, failDetail string) {
	if failDetail != "" {
		c.dispatchError(sessionID, errs.ErrTimeout.Error(), failDetail)
	}
	c.store.Dispatch(store.Action{
		Kind:      store.KindTranscribeDone,
		SessionID: sessionID,
		Payload:   store.TranscribeDonePayload{Result: result},
	})
	if rt.fsm.Trigger(ctx, "transcribe_done") {
		c.mirrorFSMState(sessionID, rt.fsm.State())
	}

	// Cleanup-for-next-round (spec.md §4.4(h)): keep the FSM in
	// processing_activated, ready for the next utterance.
	c.timer.StopTimer(sessionID)
	rt.tWake = time.Time{}
	rt.recordingStart = time.Time{}
	c.queue.Clear(sessionID)
	rt.preRoll.Reset()
	if rt.strategy != model.StrategyBatch {
		c.startWakeWordWorker(sessionID, rt)
	}
}

// handleErrorOccurred covers spec.md §7's coordinator-level propagation
// policy: "uncaught errors dispatch error_occurred{session_id} which the
// FSM transitions to error. Recovery requires reset_session."
func (c *Coordinator) handleErrorOccurred(ctx context.Context, n store.Notification) {
	sessionID := n.Action.SessionID
	rt := c.getRuntime(sessionID)
	if rt == nil {
		return
	}
	c.teardownWorkers(sessionID, rt)
	if rt.fsm.Trigger(ctx, "error_occurred") {
		c.mirrorFSMState(sessionID, rt.fsm.State())
	}
}

// handleResetSession is (i): reset path.
func (c *Coordinator) handleResetSession(ctx context.Context, n store.Notification) {
	sessionID := n.Action.SessionID
	rt := c.getRuntime(sessionID)
	if rt == nil {
		return
	}
	c.teardownWorkers(sessionID, rt)

	rt.fsm = fsm.New(rt.strategy)
	c.mirrorFSMState(sessionID, rt.fsm.State())
	if rt.fsm.Trigger(ctx, "start_listening") {
		c.mirrorFSMState(sessionID, rt.fsm.State())
	}
	if rt.strategy != model.StrategyBatch {
		c.startWakeWordWorker(sessionID, rt)
	}
}

// handleTeardown is (i): delete_session / session_expired. Same cleanup
// as reset, plus full removal of per-session state.
func (c *Coordinator) handleTeardown(_ context.Context, n store.Notification) {
	sessionID := n.Action.SessionID
	rt := c.getRuntime(sessionID)
	if rt == nil {
		return
	}
	c.teardownWorkers(sessionID, rt)
	c.queue.Remove(sessionID)

	c.mu.Lock()
	delete(c.sessions, sessionID)
	for rid, sid := range c.requestIDs {
		if sid == sessionID {
			delete(c.requestIDs, rid)
		}
	}
	c.mu.Unlock()
}

// teardownWorkers cancels and waits for the session's wake-word/VAD
// workers to actually exit before clearing its queue, so neither worker
// is still mid-iteration on stale data once the session is reused
// (spec.md §3 "A session exclusively owns its... active detector
// workers").
func (c *Coordinator) teardownWorkers(sessionID string, rt *runtime) {
	c.timer.StopTimer(sessionID)
	c.stopWakeWordWorker(rt)
	c.stopVADWorker(rt)
	if rt.workers != nil {
		_ = rt.workers.Wait()
	}
	c.queue.Clear(sessionID)
	rt.preRoll.Reset()
}

// combineToTempFile interleaves the collected chunks' bytes and writes
// them to a temp file, used when the recording collaborator produced no
// file (spec.md §4.4(h) "combine the collected chunks... writing to a
// temp file if the provider only accepts files").
func combineToTempFile(segment []model.Timestamped) (string, error) {
	f, err := os.CreateTemp("", "asrhub-segment-*.pcm")
	if err != nil {
		return "", err
	}
	defer f.Close()
	for _, item := range segment {
		if _, err := f.Write(item.Chunk.Data); err != nil {
			return "", err
		}
	}
	return f.Name(), nil
}
