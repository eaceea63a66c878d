package progress

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Channel is the unbounded FIFO that carries one run's events from the
// worker to the owner. Send never blocks and never drops while the channel
// is open. The first terminal event seals it; later sends are rejected.
type Channel struct {
	mu     sync.Mutex
	runID  uuid.UUID
	now    func() time.Time
	queue  []Event
	seq    uint64
	sealed bool
}

// NewChannel returns an open Channel stamping events with runID. A nil now
// func defaults to time.Now in UTC.
func NewChannel(runID uuid.UUID, now func() time.Time) *Channel {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Channel{runID: runID, now: now}
}

// RunID returns the run this channel belongs to.
func (c *Channel) RunID() uuid.UUID {
	return c.runID
}

// Send stamps evt with the run ID, the next sequence number and the send
// time, then enqueues it. It reports false if the channel is sealed.
func (c *Channel) Send(evt Event) bool {
	if evt == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sealed {
		return false
	}
	c.seq++
	c.queue = append(c.queue, evt.withHeader(Header{RunID: c.runID, Seq: c.seq, TS: c.now()}))
	if IsTerminal(evt) {
		c.sealed = true
	}
	return true
}

// Emit is Send without the result.
func (c *Channel) Emit(evt Event) {
	c.Send(evt)
}

// Drain removes and returns every pending event in order. It never blocks
// and returns nil when nothing is pending.
func (c *Channel) Drain() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return nil
	}
	out := c.queue
	c.queue = nil
	return out
}

// Len returns the number of pending events.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Sealed reports whether a terminal event has been sent.
func (c *Channel) Sealed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sealed
}
