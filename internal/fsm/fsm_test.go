package fsm

import (
	"context"
	"testing"

	"github.com/asrhub/asrhub/internal/model"
	"github.com/stretchr/testify/require"
)

func TestNonStreamingHappyPath(t *testing.T) {
	ctx := context.Background()
	f := New(model.StrategyNonStreaming)
	require.Equal(t, StateIdle, f.State())

	require.True(t, f.Trigger(ctx, "start_listening"))
	require.Equal(t, StateProcessing, f.State())
	require.True(t, f.InProcessing())

	require.True(t, f.Trigger(ctx, "wake_activated"))
	require.Equal(t, "processing_activated", f.State())

	require.True(t, f.Trigger(ctx, "record_started"))
	require.Equal(t, "processing_recording", f.State())

	require.True(t, f.Trigger(ctx, "record_stopped"))
	require.Equal(t, "processing_transcribing", f.State())

	require.True(t, f.Trigger(ctx, "transcribe_done"))
	require.Equal(t, "processing_activated", f.State())
}

func TestSpuriousWakeDuringRecordingIsNoOp(t *testing.T) {
	// P4/P5: a second wake_activated while already processing_recording
	// must be rejected and leave state unchanged.
	ctx := context.Background()
	f := New(model.StrategyNonStreaming)
	f.Trigger(ctx, "start_listening")
	f.Trigger(ctx, "wake_activated")
	f.Trigger(ctx, "record_started")
	require.Equal(t, "processing_recording", f.State())

	require.False(t, f.May("wake_activated"))
	require.False(t, f.Trigger(ctx, "wake_activated"))
	require.Equal(t, "processing_recording", f.State())
}

func TestSilenceTimeoutIgnoredWhenNotRecording(t *testing.T) {
	ctx := context.Background()
	f := New(model.StrategyNonStreaming)
	f.Trigger(ctx, "start_listening")
	require.False(t, f.May("record_stopped"))
	require.False(t, f.Trigger(ctx, "record_stopped"))
	require.Equal(t, StateProcessing, f.State())
}

func TestUniversalTransitionsFromAnyState(t *testing.T) {
	ctx := context.Background()
	for _, strategy := range []model.Strategy{model.StrategyBatch, model.StrategyNonStreaming, model.StrategyStreaming} {
		f := New(strategy)
		f.Trigger(ctx, "start_listening")
		require.True(t, f.Trigger(ctx, EventErrorOccurred))
		require.Equal(t, StateError, f.State())

		require.True(t, f.Trigger(ctx, EventResetSession))
		require.Equal(t, StateIdle, f.State())
	}
}

func TestErrorIsAbsorbingUntilReset(t *testing.T) {
	ctx := context.Background()
	f := New(model.StrategyNonStreaming)
	f.Trigger(ctx, EventErrorOccurred)
	require.Equal(t, StateError, f.State())
	require.False(t, f.Trigger(ctx, "start_listening"))
	require.True(t, f.Trigger(ctx, EventResetSession))
	require.Equal(t, StateIdle, f.State())
}

func TestBatchStrategyTable(t *testing.T) {
	ctx := context.Background()
	f := New(model.StrategyBatch)
	require.True(t, f.Trigger(ctx, "start_listening"))
	require.Equal(t, "processing_uploading", f.State())
	require.True(t, f.Trigger(ctx, "upload_completed"))
	require.Equal(t, "processing_transcribing", f.State())
	require.True(t, f.Trigger(ctx, "transcribe_done"))
	require.Equal(t, StateIdle, f.State())
}
