package logging

import (
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/dockling/internal/progress"
)

// EventCore is a zapcore.Core that relays log entries to a run's event
// stream as Log events. Tee it onto loggers handed to conversion engines so
// their messages reach the observer; never onto the logger used by the log
// sink itself.
type EventCore struct {
	zapcore.LevelEnabler
	emitter progress.Emitter
	fields  []zapcore.Field
}

// NewEventCore returns a core emitting entries at or above level.
func NewEventCore(emitter progress.Emitter, level zapcore.LevelEnabler) *EventCore {
	if level == nil {
		level = zapcore.InfoLevel
	}
	return &EventCore{LevelEnabler: level, emitter: emitter}
}

// With implements zapcore.Core.
func (c *EventCore) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	clone.fields = append(append([]zapcore.Field(nil), c.fields...), fields...)
	return &clone
}

// Check implements zapcore.Core.
func (c *EventCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return checked.AddCore(entry, c)
	}
	return checked
}

// Write implements zapcore.Core. Fields are dropped; only the message is relayed.
func (c *EventCore) Write(entry zapcore.Entry, _ []zapcore.Field) error {
	if c.emitter == nil || entry.Message == "" {
		return nil
	}
	level := eventLevel(entry.Level)
	c.emitter.Emit(progress.Log(level, "", entry.Message))
	return nil
}

// Sync implements zapcore.Core.
func (c *EventCore) Sync() error {
	return nil
}

func eventLevel(l zapcore.Level) progress.Level {
	switch {
	case l >= zapcore.ErrorLevel:
		return progress.LevelError
	case l == zapcore.WarnLevel:
		return progress.LevelWarn
	case l == zapcore.InfoLevel:
		return progress.LevelInfo
	default:
		return progress.LevelDebug
	}
}
