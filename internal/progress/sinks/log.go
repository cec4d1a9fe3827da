package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-frontier/internal/progress"
)

// LogSink writes every event as a structured log line. Useful during
// development when no broker is available.
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

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("kind", string(evt.Kind)),
			zap.String("run_id", evt.RunID),
			zap.String("queue", evt.Key),
			zap.Time("at", evt.At),
		}
		if evt.URI != "" {
			fields = append(fields,
				zap.String("uri", evt.URI),
				zap.Int("status", evt.StatusCode),
				zap.Int("attempts", evt.Attempts),
				zap.Int64("cost", evt.Cost))
		}
		if evt.Count > 0 {
			fields = append(fields, zap.Int64("count", evt.Count))
		}
		if !evt.WakeAt.IsZero() {
			fields = append(fields, zap.Time("wake_at", evt.WakeAt))
		}
		s.logger.Debug("frontier event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
