package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/dockling/internal/progress"
)

// LogSink emits structured logs for every event. It is useful during
// development or audits where a durable store is unavailable.
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
		meta := evt.Meta()
		fields := []zap.Field{
			zap.String("run_id", meta.RunID.String()),
			zap.Uint64("seq", meta.Seq),
			zap.String("kind", string(evt.Kind())),
		}
		switch e := evt.(type) {
		case progress.LogEvent:
			fields = append(fields, zap.String("emoji", e.Emoji))
			s.logAtLevel(e.Level, e.Text, fields)
		case progress.ProgressEvent:
			s.logger.Debug("progress",
				append(fields,
					zap.Int("current", e.Snapshot.Current),
					zap.Int("total", e.Snapshot.Total),
					zap.String("filename", e.Snapshot.Filename),
					zap.Int("percentage", e.Snapshot.Percentage),
					zap.String("eta", e.Snapshot.ETAText),
				)...)
		case progress.StatsEvent:
			s.logger.Debug("stats",
				append(fields,
					zap.Int("success", e.Stats.Stats.Success),
					zap.Int("partial", e.Stats.Stats.Partial),
					zap.Int("failed", e.Stats.Stats.Failed),
					zap.Int("skipped", e.Stats.Stats.Skipped),
				)...)
		case progress.CompleteEvent:
			s.logger.Info("run complete",
				append(fields,
					zap.Int("processed", e.Final.TotalProcessed),
					zap.Int("total", e.Final.Total),
					zap.Duration("elapsed", e.Final.Elapsed),
					zap.Bool("cancelled", e.Final.Cancelled),
				)...)
		case progress.ErrorEvent:
			s.logger.Error("run aborted", append(fields, zap.String("message", e.Message))...)
		}
	}
	return nil
}

func (s *LogSink) logAtLevel(level progress.Level, msg string, fields []zap.Field) {
	switch level {
	case progress.LevelDebug:
		s.logger.Debug(msg, fields...)
	case progress.LevelWarn:
		s.logger.Warn(msg, fields...)
	case progress.LevelError:
		s.logger.Error(msg, fields...)
	default:
		s.logger.Info(msg, fields...)
	}
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
