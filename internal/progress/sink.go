package progress

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Sink consumes batches of events drained from a run's Channel. Batches
// arrive in emission order and are never reordered across calls.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events. Channel satisfies this interface so
// the worker stays agnostic about who is listening.
type Emitter interface {
	Emit(evt Event)
}

// RunInfo describes a run that is about to start.
type RunInfo struct {
	ID        uuid.UUID
	StartedAt time.Time
	Total     int
}

// RunObserver is implemented by sinks that need to know about a run before
// its first event arrives.
type RunObserver interface {
	RunStarted(ctx context.Context, info RunInfo) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(evt Event)

// Emit calls f.
func (f EmitterFunc) Emit(evt Event) { f(evt) }
