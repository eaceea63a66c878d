// Package progress defines the events a conversion run emits.
package progress

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/dockling/internal/tracker"
)

// Kind names an Event variant.
type Kind string

// Supported event kinds.
const (
	KindLog      Kind = "log"
	KindProgress Kind = "progress"
	KindStats    Kind = "stats"
	KindComplete Kind = "complete"
	KindError    Kind = "error"
)

// Level is the severity of a Log event.
type Level string

// Supported log levels.
const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Emoji markers carried by Log events.
const (
	EmojiSuccess = "✓"
	EmojiWarning = "⚠"
	EmojiError   = "✗"
	EmojiSkipped = "⊝"
	EmojiInfo    = "ℹ"
	EmojiDebug   = "🔍"
)

// Header is stamped onto every event by the Channel that carries it.
type Header struct {
	// RunID identifies the run the event belongs to.
	RunID uuid.UUID `json:"run_id"`
	// Seq is the 1-based position of the event in its run's stream.
	Seq uint64 `json:"seq"`
	// TS is the UTC time the event was sent.
	TS time.Time `json:"ts"`
}

// Event is the closed set of messages a run emits: LogEvent, ProgressEvent,
// StatsEvent, CompleteEvent and ErrorEvent.
type Event interface {
	Kind() Kind
	Meta() Header
	withHeader(h Header) Event
}

// LogEvent is a human readable line about the run.
type LogEvent struct {
	Header
	Emoji string `json:"emoji"`
	Text  string `json:"text"`
	Level Level  `json:"level"`
}

// ProgressEvent carries a frozen progress snapshot.
type ProgressEvent struct {
	Header
	Snapshot tracker.ProgressSnapshot `json:"snapshot"`
}

// StatsEvent carries a frozen copy of the counters.
type StatsEvent struct {
	Header
	Stats tracker.StatsSnapshot `json:"stats"`
}

// CompleteEvent terminates a run that finished normally or was cancelled.
type CompleteEvent struct {
	Header
	Final tracker.CompleteSnapshot `json:"final"`
}

// ErrorEvent terminates a run that aborted.
type ErrorEvent struct {
	Header
	Message string `json:"message"`
}

func (LogEvent) Kind() Kind      { return KindLog }
func (ProgressEvent) Kind() Kind { return KindProgress }
func (StatsEvent) Kind() Kind    { return KindStats }
func (CompleteEvent) Kind() Kind { return KindComplete }
func (ErrorEvent) Kind() Kind    { return KindError }

// Meta returns the stamped header.
func (h Header) Meta() Header { return h }

func (e LogEvent) withHeader(h Header) Event      { e.Header = h; return e }
func (e ProgressEvent) withHeader(h Header) Event { e.Header = h; return e }
func (e StatsEvent) withHeader(h Header) Event    { e.Header = h; return e }
func (e CompleteEvent) withHeader(h Header) Event { e.Header = h; return e }
func (e ErrorEvent) withHeader(h Header) Event    { e.Header = h; return e }

// IsTerminal reports whether evt ends its run's stream.
func IsTerminal(evt Event) bool {
	switch evt.(type) {
	case CompleteEvent, ErrorEvent:
		return true
	default:
		return false
	}
}

// Validate performs coarse validation on Event payloads.
func Validate(evt Event) error {
	switch e := evt.(type) {
	case nil:
		return errors.New("event is nil")
	case LogEvent:
		if strings.TrimSpace(e.Text) == "" {
			return errors.New("log event requires text")
		}
		switch e.Level {
		case LevelDebug, LevelInfo, LevelWarn, LevelError:
		default:
			return fmt.Errorf("unknown log level %q", e.Level)
		}
	case ProgressEvent:
		if e.Snapshot.Percentage < 0 || e.Snapshot.Percentage > 100 {
			return fmt.Errorf("percentage %d out of range", e.Snapshot.Percentage)
		}
	case StatsEvent, CompleteEvent:
	case ErrorEvent:
		if e.Message == "" {
			return errors.New("error event requires message")
		}
	default:
		return fmt.Errorf("unsupported event type %T", evt)
	}
	return nil
}

// Log builds a LogEvent, deriving the emoji from text and level when emoji is empty.
func Log(level Level, emoji, text string) LogEvent {
	if emoji == "" {
		emoji = EmojiFor(level, text)
	}
	return LogEvent{Emoji: emoji, Text: text, Level: level}
}

// EmojiFor picks a marker from keywords in text, falling back to the level.
func EmojiFor(level Level, text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "success") || strings.Contains(lower, "completed"):
		if strings.Contains(lower, "partial") {
			return EmojiWarning
		}
		return EmojiSuccess
	case strings.Contains(lower, "partial") || strings.Contains(lower, "warning"):
		return EmojiWarning
	case strings.Contains(lower, "error") || strings.Contains(lower, "failed"):
		return EmojiError
	case strings.Contains(lower, "skipped"):
		return EmojiSkipped
	}
	switch level {
	case LevelError:
		return EmojiError
	case LevelWarn:
		return EmojiWarning
	case LevelDebug:
		return EmojiDebug
	default:
		return EmojiInfo
	}
}
