package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/animal-gallery/internal/progress"
)

// LogSink emits structured debug logs for progress streams.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Stringer("run_id", evt.RunUUID()),
			zap.String("stage", string(evt.Stage)),
		}
		switch evt.Stage {
		case progress.StageBatchStart:
			fields = append(fields, zap.Int("records", evt.Records))
		case progress.StageChainStart:
			fields = append(fields, zap.String("record", evt.Record))
		case progress.StageChainDone:
			fields = append(fields,
				zap.String("record", evt.Record),
				zap.String("site", evt.Site),
				zap.String("outcome", evt.Outcome),
				zap.Int("attempts", evt.Attempts),
				zap.Int64("bytes", evt.Bytes),
				zap.Duration("dur", evt.Dur),
			)
		case progress.StageBatchDone:
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Debug("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
