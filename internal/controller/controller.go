// Package controller owns conversion runs: it starts a job driver on its own
// goroutine, polls the run's event channel on a fixed cadence, relays the
// events to the registered sinks and retires the run once the terminal
// event has been consumed. At most one run is active at a time.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/dockling/internal/clock/system"
	"github.com/JakeFAU/dockling/internal/conversion"
	"github.com/JakeFAU/dockling/internal/progress"
	"github.com/JakeFAU/dockling/internal/tracker"
	"github.com/JakeFAU/dockling/internal/worker"
)

var (
	// ErrAlreadyRunning is returned by Start while a previous run has not
	// delivered its terminal event.
	ErrAlreadyRunning = errors.New("a conversion run is already in progress")
	// ErrNotRunning is returned when no run is active.
	ErrNotRunning = errors.New("no conversion run in progress")
	// ErrUnknownRun is returned for a handle that does not name the active run.
	ErrUnknownRun = errors.New("unknown run")
)

// IDGenerator mints run identifiers.
type IDGenerator interface {
	NewRunID() (uuid.UUID, error)
}

// Config wires a Controller.
type Config struct {
	// PollInterval is the owner-side polling cadence.
	PollInterval time.Duration
	// SinkTimeout bounds each sink call.
	SinkTimeout time.Duration
	Clock       conversion.Clock
	IDs         IDGenerator
	Logger      *zap.Logger
	// Outputs is used for requests that do not set their own opener.
	Outputs worker.OutputOpener
}

// Request describes a run to start.
type Request struct {
	Items   []conversion.Item
	Options worker.Options
	// Policy filters items before submission; nil skips nothing.
	Policy worker.SkipPolicy
}

// Handle identifies a started run.
type Handle struct {
	ID        uuid.UUID `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
	Total     int       `json:"total"`
}

type run struct {
	handle     Handle
	ch         *progress.Channel
	signal     *worker.Signal
	poller     *progress.Poller
	cancel     context.CancelFunc
	workerDone chan struct{}
}

// Controller is safe for concurrent use.
type Controller struct {
	engine  conversion.Engine
	sinks   []progress.Sink
	cfg     Config
	logger  *zap.Logger
	tracker *tracker.Tracker

	running atomic.Bool

	mu      sync.Mutex
	current *run
}

type randomIDs struct{}

func (randomIDs) NewRunID() (uuid.UUID, error) { return uuid.New(), nil }

// New creates a Controller that converts with engine and reports to sinks.
func New(engine conversion.Engine, cfg Config, sinks ...progress.Sink) *Controller {
	if cfg.Clock == nil {
		cfg.Clock = system.New()
	}
	if cfg.IDs == nil {
		cfg.IDs = randomIDs{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		engine:  engine,
		sinks:   append([]progress.Sink(nil), sinks...),
		cfg:     cfg,
		logger:  logger.Named("controller"),
		tracker: tracker.New(0, cfg.Clock),
	}
}

// Start launches a run and returns immediately. The run outlives ctx's
// cancellation; use RequestStop or Shutdown to end it.
func (c *Controller) Start(ctx context.Context, req Request) (Handle, error) {
	if !c.running.CompareAndSwap(false, true) {
		return Handle{}, ErrAlreadyRunning
	}
	id, err := c.cfg.IDs.NewRunID()
	if err != nil {
		c.running.Store(false)
		return Handle{}, fmt.Errorf("start run: %w", err)
	}

	items := append([]conversion.Item(nil), req.Items...)
	handle := Handle{ID: id, StartedAt: c.cfg.Clock.Now(), Total: len(items)}
	logger := c.logger.With(zap.String("run_id", id.String()))

	c.tracker.Reset(len(items))
	c.notifyStarted(ctx, handle, logger)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{
		handle:     handle,
		ch:         progress.NewChannel(id, c.cfg.Clock.Now),
		signal:     worker.NewSignal(),
		cancel:     cancel,
		workerDone: make(chan struct{}),
	}
	r.poller = progress.NewPoller(progress.PollerConfig{
		Interval:    c.cfg.PollInterval,
		SinkTimeout: c.cfg.SinkTimeout,
		Logger:      logger,
		OnTerminal:  func(evt progress.Event) { c.retire(r, evt, logger) },
	}, r.ch, c.sinks...)

	c.mu.Lock()
	c.current = r
	c.mu.Unlock()

	opts := req.Options
	if opts.Outputs == nil {
		opts.Outputs = c.cfg.Outputs
	}
	driver := worker.New(c.engine, c.tracker, r.ch, req.Policy, r.signal, opts, logger.Named("worker"))
	go func() {
		defer close(r.workerDone)
		driver.Run(runCtx, items)
	}()
	r.poller.Start()

	logger.Info("run started", zap.Int("total", handle.Total))
	return handle, nil
}

func (c *Controller) notifyStarted(ctx context.Context, handle Handle, logger *zap.Logger) {
	info := progress.RunInfo{ID: handle.ID, StartedAt: handle.StartedAt, Total: handle.Total}
	for _, sink := range c.sinks {
		observer, ok := sink.(progress.RunObserver)
		if !ok {
			continue
		}
		sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.sinkTimeout())
		if err := observer.RunStarted(sinkCtx, info); err != nil {
			logger.Warn("sink run start failed", zap.Error(err))
		}
		cancel()
	}
}

// retire runs on the poller goroutine after the sinks saw the terminal event.
func (c *Controller) retire(r *run, evt progress.Event, logger *zap.Logger) {
	r.cancel()
	if !c.running.CompareAndSwap(true, false) {
		logger.Warn("terminal event consumed for a run that was not running")
	}
	logger.Info("run finished", zap.String("terminal", string(evt.Kind())))
}

// RequestStop asks the run named by id to stop before its next item.
func (c *Controller) RequestStop(id uuid.UUID) error {
	c.mu.Lock()
	r := c.current
	c.mu.Unlock()
	if r == nil || !c.running.Load() {
		return ErrNotRunning
	}
	if r.handle.ID != id {
		return fmt.Errorf("%w: %s", ErrUnknownRun, id)
	}
	r.signal.Request()
	c.logger.Info("stop requested", zap.String("run_id", id.String()))
	return nil
}

// IsRunning reports whether a run has started and its terminal event has not
// yet been consumed.
func (c *Controller) IsRunning() bool {
	return c.running.Load()
}

// Current returns the handle of the most recent run, if any.
func (c *Controller) Current() (Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return Handle{}, false
	}
	return c.current.handle, true
}

// Wait blocks until the most recent run's terminal event has been consumed
// and returns it.
func (c *Controller) Wait(ctx context.Context) (progress.Event, error) {
	c.mu.Lock()
	r := c.current
	c.mu.Unlock()
	if r == nil {
		return nil, ErrNotRunning
	}
	select {
	case <-r.poller.Done():
		return r.poller.Terminal(), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("wait for run %s: %w", r.handle.ID, ctx.Err())
	}
}

// Emit stamps evt onto the active run's stream. Outside a run it is dropped.
func (c *Controller) Emit(evt progress.Event) {
	c.mu.Lock()
	r := c.current
	c.mu.Unlock()
	if r == nil || !c.running.Load() {
		return
	}
	r.ch.Emit(evt)
}

// Shutdown stops the active run and waits for its terminal event. If ctx
// expires first the in-flight engine call is cancelled and the poller is
// forced through a final drain.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	r := c.current
	c.mu.Unlock()
	if r == nil {
		return nil
	}
	r.signal.Request()
	select {
	case <-r.poller.Done():
		return nil
	case <-ctx.Done():
	}
	r.cancel()
	stopCtx, cancel := context.WithTimeout(context.Background(), c.sinkTimeout())
	defer cancel()
	select {
	case <-r.workerDone:
	case <-stopCtx.Done():
	}
	if err := r.poller.Stop(stopCtx); err != nil {
		return fmt.Errorf("controller shutdown: %w", err)
	}
	return ctx.Err()
}

// Tracker exposes the tracker shared by successive runs.
func (c *Controller) Tracker() *tracker.Tracker {
	return c.tracker
}

func (c *Controller) sinkTimeout() time.Duration {
	if c.cfg.SinkTimeout > 0 {
		return c.cfg.SinkTimeout
	}
	return 10 * time.Second
}
