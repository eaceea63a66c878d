// Package system provides the wall clock used by the conversion pipeline.
package system

import "time"

// Clock implements conversion.Clock using the process wall clock.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time. The monotonic reading is kept so elapsed
// durations computed from two readings are immune to wall-clock jumps.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
