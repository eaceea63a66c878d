package progress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PollerConfig controls the owner-side polling loop.
//   - Interval: cadence at which the Channel is drained (default 100ms).
//   - SinkTimeout: per-sink timeout while dispatching a batch (default 10s).
//   - BaseContext: parent context passed to sink calls (defaults to context.Background()).
//   - Logger: optional structured logger used for warnings.
//   - OnTerminal: invoked once, after sinks have seen the terminal event.
type PollerConfig struct {
	Interval    time.Duration
	SinkTimeout time.Duration
	BaseContext context.Context
	Logger      *zap.Logger
	OnTerminal  func(Event)
}

const (
	defaultPollInterval = 100 * time.Millisecond
	defaultSinkTimeout  = 10 * time.Second
)

// Poller drains a Channel on a fixed cadence and fans every batch out to
// the registered sinks. It reschedules itself until it consumes the
// terminal event and never blocks the producer.
type Poller struct {
	cfg    PollerConfig
	ch     *Channel
	sinks  []Sink
	logger *zap.Logger
	stopCh chan struct{}
	doneCh chan struct{}

	stopOnce  sync.Once
	startOnce sync.Once

	mu       sync.Mutex
	terminal Event
}

// NewPoller prepares a Poller for ch. Call Start to begin polling.
func NewPoller(cfg PollerConfig, ch *Channel, sinks ...Sink) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultPollInterval
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		cfg:    cfg,
		ch:     ch,
		sinks:  append([]Sink(nil), sinks...),
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start launches the polling goroutine. Repeated calls are ignored.
func (p *Poller) Start() {
	p.startOnce.Do(func() { go p.run() })
}

// Done is closed once the poller has consumed the terminal event or was stopped.
func (p *Poller) Done() <-chan struct{} {
	return p.doneCh
}

// Terminal returns the terminal event consumed so far, or nil.
func (p *Poller) Terminal() Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminal
}

// Stop abandons polling after one final drain and waits for the goroutine
// to exit. Owners normally wait on Done instead; Stop exists for shutdown.
func (p *Poller) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	p.Start()
	p.stopOnce.Do(func() { close(p.stopCh) })
	select {
	case <-p.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress poller stop wait: %w", ctx.Err())
	}
}

func (p *Poller) run() {
	defer close(p.doneCh)
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		if p.poll() {
			return
		}
		select {
		case <-ticker.C:
		case <-p.stopCh:
			p.poll()
			return
		}
	}
}

// poll drains everything pending and reports whether the terminal event was seen.
func (p *Poller) poll() bool {
	batch := p.ch.Drain()
	if len(batch) == 0 {
		return false
	}
	p.dispatch(batch)
	last := batch[len(batch)-1]
	if !IsTerminal(last) {
		return false
	}
	p.mu.Lock()
	p.terminal = last
	p.mu.Unlock()
	if p.cfg.OnTerminal != nil {
		p.cfg.OnTerminal(last)
	}
	return true
}

func (p *Poller) dispatch(batch []Event) {
	baseCtx := p.cfg.BaseContext
	for _, sink := range p.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(baseCtx, p.cfg.SinkTimeout)
		if err := sink.Consume(ctx, batch); err != nil {
			p.logger.Warn("progress sink consume failed", zap.Error(err))
		}
		cancel()
	}
}
