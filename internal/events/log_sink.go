package events

import (
	"context"
	"log/slog"
)

// LogSink writes events as structured log records
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a new LogSink
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With(slog.String("component", "events"))}
}

// Emit logs the event. Poll attempts are logged at debug level.
func (s *LogSink) Emit(ctx context.Context, event Event) {
	attrs := []slog.Attr{
		slog.String("event", string(event.Kind)),
		slog.String("job_id", event.JobID),
		slog.String("account_id", event.AccountID),
	}

	level := slog.LevelInfo
	switch event.Kind {
	case KindStateChanged:
		attrs = append(attrs,
			slog.String("from", string(event.From)),
			slog.String("to", string(event.To)),
		)
		if event.Message != "" {
			attrs = append(attrs, slog.String("message", event.Message))
		}
	case KindPollAttempt:
		level = slog.LevelDebug
		attrs = append(attrs,
			slog.Int("attempt", event.Attempt),
			slog.String("outcome", event.Outcome),
		)
	}

	s.logger.LogAttrs(ctx, level, "Job event", attrs...)
}
