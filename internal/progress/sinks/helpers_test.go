package sinks

import (
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/dockling/internal/progress"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// stamp routes events through a Channel so they carry real headers.
func stamp(runID uuid.UUID, at time.Time, events ...progress.Event) []progress.Event {
	ch := progress.NewChannel(runID, func() time.Time { return at })
	for _, evt := range events {
		ch.Send(evt)
	}
	return ch.Drain()
}
