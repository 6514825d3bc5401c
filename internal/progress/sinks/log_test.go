package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/animal-gallery/internal/progress"
)

func TestLogSinkWritesStructuredFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewLogSink(zap.New(core))

	runID := progress.UUIDToBytes(uuid.New())
	err := sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: time.Now(), Stage: progress.StageBatchStart, Records: 3},
		{
			RunID:   runID,
			TS:      time.Now(),
			Stage:   progress.StageChainDone,
			Record:  "Wolf",
			Outcome: "fetch_error",
			Note:    "GET x: unexpected status 500",
		},
	})
	require.NoError(t, err)
	require.Equal(t, 2, logs.Len())

	entries := logs.All()
	require.Equal(t, int64(3), entries[0].ContextMap()["records"])
	fields := entries[1].ContextMap()
	require.Equal(t, "Wolf", fields["record"])
	require.Equal(t, "fetch_error", fields["outcome"])
	require.Equal(t, "GET x: unexpected status 500", fields["note"])
	require.NoError(t, sink.Close(context.Background()))
}

func TestNewLogSinkNilLogger(t *testing.T) {
	t.Parallel()

	sink := NewLogSink(nil)
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{{Stage: progress.StageBatchDone}}))
}
