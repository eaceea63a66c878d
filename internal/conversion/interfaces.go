package conversion

import (
	"context"
	"time"
)

// Engine performs the actual document transformation. Implementations are
// opaque to the pipeline; a returned error means the engine failed outside
// its result protocol.
type Engine interface {
	Convert(ctx context.Context, item Item, opts Options) (Result, error)
}

// Artifact is a converted document that can be persisted.
type Artifact interface {
	Save(ctx context.Context, outputPath string) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// EngineFunc adapts a function to the Engine interface.
type EngineFunc func(ctx context.Context, item Item, opts Options) (Result, error)

// Convert calls f.
func (f EngineFunc) Convert(ctx context.Context, item Item, opts Options) (Result, error) {
	return f(ctx, item, opts)
}
