package worker

import "sync/atomic"

// Signal is the cooperative stop flag shared between a run's owner and its
// driver. The driver checks it before starting each item; an item already
// being converted always finishes.
type Signal struct {
	requested atomic.Bool
}

// NewSignal returns a cleared Signal.
func NewSignal() *Signal {
	return &Signal{}
}

// Request asks the driver to stop. It is idempotent.
func (s *Signal) Request() {
	s.requested.Store(true)
}

// Requested reports whether a stop was requested.
func (s *Signal) Requested() bool {
	return s.requested.Load()
}
