package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/dockling/internal/conversion"
	"github.com/JakeFAU/dockling/internal/progress"
	"github.com/JakeFAU/dockling/internal/worker"
)

func TestStartRunsToCompletion(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	ctrl := newTestController(t, okEngine(), sink)

	handle, err := ctrl.Start(context.Background(), request(t, "a.pdf", "b.pdf"))
	require.NoError(t, err)
	require.Equal(t, 2, handle.Total)
	require.NotEqual(t, uuid.Nil, handle.ID)

	terminal := waitTerminal(t, ctrl)
	complete, ok := terminal.(progress.CompleteEvent)
	require.True(t, ok)
	require.Equal(t, 2, complete.Final.Stats.Success)
	require.False(t, ctrl.IsRunning())

	events := sink.events()
	require.NotEmpty(t, events)
	for i, evt := range events {
		require.Equal(t, handle.ID, evt.Meta().RunID)
		require.Equal(t, uint64(i+1), evt.Meta().Seq)
	}
	require.True(t, progress.IsTerminal(events[len(events)-1]))
	require.Equal(t, []progress.RunInfo{{ID: handle.ID, StartedAt: handle.StartedAt, Total: 2}}, sink.started())
}

func TestStartRejectsConcurrentRun(t *testing.T) {
	t.Parallel()

	engine := newGateEngine()
	ctrl := newTestController(t, engine, &recordingSink{})

	_, err := ctrl.Start(context.Background(), request(t, "a.pdf"))
	require.NoError(t, err)
	require.True(t, ctrl.IsRunning())

	_, err = ctrl.Start(context.Background(), request(t, "b.pdf"))
	require.ErrorIs(t, err, ErrAlreadyRunning)

	engine.release()
	waitTerminal(t, ctrl)

	_, err = ctrl.Start(context.Background(), request(t, "c.pdf"))
	require.NoError(t, err)
	engine.release()
	waitTerminal(t, ctrl)
	require.Equal(t, 1, ctrl.Tracker().Stats().Success)
}

func TestRequestStopFinishesInFlightItem(t *testing.T) {
	t.Parallel()

	engine := newGateEngine()
	ctrl := newTestController(t, engine, &recordingSink{})

	handle, err := ctrl.Start(context.Background(), request(t, "a.pdf", "b.pdf", "c.pdf"))
	require.NoError(t, err)
	engine.waitEntered(t)

	require.ErrorIs(t, ctrl.RequestStop(uuid.New()), ErrUnknownRun)
	require.NoError(t, ctrl.RequestStop(handle.ID))
	engine.release()

	complete, ok := waitTerminal(t, ctrl).(progress.CompleteEvent)
	require.True(t, ok)
	require.True(t, complete.Final.Cancelled)
	require.Equal(t, 1, complete.Final.TotalProcessed)
	require.Equal(t, 1, engine.callCount())
	require.ErrorIs(t, ctrl.RequestStop(handle.ID), ErrNotRunning)
}

func TestEngineCrashEndsWithSingleError(t *testing.T) {
	t.Parallel()

	engine := conversion.EngineFunc(func(_ context.Context, item conversion.Item, _ conversion.Options) (conversion.Result, error) {
		if item.Name() == "b.pdf" {
			panic("boom")
		}
		return conversion.Result{Status: conversion.StatusSuccess, Artifact: conversion.Markdown{Content: "ok"}}, nil
	})
	sink := &recordingSink{}
	ctrl := newTestController(t, engine, sink)

	_, err := ctrl.Start(context.Background(), request(t, "a.pdf", "b.pdf", "c.pdf"))
	require.NoError(t, err)

	_, ok := waitTerminal(t, ctrl).(progress.ErrorEvent)
	require.True(t, ok)
	require.False(t, ctrl.IsRunning())

	terminals := 0
	for _, evt := range sink.events() {
		if progress.IsTerminal(evt) {
			terminals++
		}
		if logEvt, isLog := evt.(progress.LogEvent); isLog {
			require.NotContains(t, logEvt.Text, "c.md")
		}
	}
	require.Equal(t, 1, terminals)
}

func TestEmitRelaysIntoActiveRun(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	var ctrl *Controller
	engine := conversion.EngineFunc(func(_ context.Context, item conversion.Item, _ conversion.Options) (conversion.Result, error) {
		ctrl.Emit(progress.Log(progress.LevelInfo, "", "engine says hello to "+item.Name()))
		return conversion.Result{Status: conversion.StatusSuccess, Artifact: conversion.Markdown{Content: "ok"}}, nil
	})
	ctrl = newTestController(t, engine, sink)

	ctrl.Emit(progress.Log(progress.LevelInfo, "", "dropped while idle"))
	_, err := ctrl.Start(context.Background(), request(t, "a.pdf"))
	require.NoError(t, err)
	waitTerminal(t, ctrl)

	var texts []string
	for _, evt := range sink.events() {
		if logEvt, ok := evt.(progress.LogEvent); ok {
			texts = append(texts, logEvt.Text)
		}
	}
	require.Contains(t, texts, "engine says hello to a.pdf")
	require.NotContains(t, texts, "dropped while idle")
}

func TestWaitWithoutRun(t *testing.T) {
	t.Parallel()

	ctrl := newTestController(t, okEngine())
	_, err := ctrl.Wait(context.Background())
	require.ErrorIs(t, err, ErrNotRunning)
	_, ok := ctrl.Current()
	require.False(t, ok)
	require.NoError(t, ctrl.Shutdown(context.Background()))
}

func TestShutdownStopsActiveRun(t *testing.T) {
	t.Parallel()

	engine := newGateEngine()
	ctrl := newTestController(t, engine, &recordingSink{})
	_, err := ctrl.Start(context.Background(), request(t, "a.pdf", "b.pdf"))
	require.NoError(t, err)
	engine.waitEntered(t)

	go engine.release()
	require.NoError(t, ctrl.Shutdown(context.Background()))
	require.False(t, ctrl.IsRunning())
	require.Equal(t, 1, engine.callCount())
}

func TestStartFailsWhenIDGenerationFails(t *testing.T) {
	t.Parallel()

	ctrl := New(okEngine(), Config{IDs: failingIDs{}, PollInterval: 5 * time.Millisecond})
	_, err := ctrl.Start(context.Background(), request(t, "a.pdf"))
	require.Error(t, err)
	require.False(t, ctrl.IsRunning())
}

func TestConfigOutputsAppliesToRequests(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		opened []string
	)
	opener := func(ctx context.Context, dir string) (worker.Output, error) {
		mu.Lock()
		opened = append(opened, dir)
		mu.Unlock()
		return worker.LocalOutput(ctx, dir)
	}
	ctrl := New(okEngine(), Config{PollInterval: 5 * time.Millisecond, SinkTimeout: time.Second, Outputs: opener})

	req := request(t, "a.pdf")
	_, err := ctrl.Start(context.Background(), req)
	require.NoError(t, err)
	waitTerminal(t, ctrl)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{req.Options.OutputDir}, opened)
}

func newTestController(t *testing.T, engine conversion.Engine, sinks ...progress.Sink) *Controller {
	t.Helper()
	return New(engine, Config{PollInterval: 5 * time.Millisecond, SinkTimeout: time.Second}, sinks...)
}

func request(t *testing.T, names ...string) Request {
	t.Helper()
	items := make([]conversion.Item, 0, len(names))
	for _, name := range names {
		items = append(items, conversion.Item{Path: name})
	}
	return Request{Items: items, Options: worker.Options{OutputDir: t.TempDir()}}
}

func waitTerminal(t *testing.T, ctrl *Controller) progress.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	evt, err := ctrl.Wait(ctx)
	require.NoError(t, err)
	require.NotNil(t, evt)
	return evt
}

func okEngine() conversion.Engine {
	return conversion.EngineFunc(func(context.Context, conversion.Item, conversion.Options) (conversion.Result, error) {
		return conversion.Result{Status: conversion.StatusSuccess, Artifact: conversion.Markdown{Content: "ok"}}, nil
	})
}

type recordingSink struct {
	mu      sync.Mutex
	batches []progress.Event
	infos   []progress.RunInfo
}

func (s *recordingSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, batch...)
	return nil
}

func (s *recordingSink) Close(context.Context) error { return nil }

func (s *recordingSink) RunStarted(_ context.Context, info progress.RunInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.infos = append(s.infos, info)
	return nil
}

func (s *recordingSink) events() []progress.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]progress.Event(nil), s.batches...)
}

func (s *recordingSink) started() []progress.RunInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]progress.RunInfo(nil), s.infos...)
}

// gateEngine blocks every call until release is called once for it.
type gateEngine struct {
	entered chan struct{}
	gate    chan struct{}
	mu      sync.Mutex
	calls   int
}

func newGateEngine() *gateEngine {
	return &gateEngine{entered: make(chan struct{}, 16), gate: make(chan struct{})}
}

func (e *gateEngine) Convert(ctx context.Context, _ conversion.Item, _ conversion.Options) (conversion.Result, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	e.entered <- struct{}{}
	select {
	case <-e.gate:
	case <-ctx.Done():
		return conversion.Result{}, ctx.Err()
	}
	return conversion.Result{Status: conversion.StatusSuccess, Artifact: conversion.Markdown{Content: "ok"}}, nil
}

func (e *gateEngine) release() {
	e.gate <- struct{}{}
}

func (e *gateEngine) waitEntered(t *testing.T) {
	t.Helper()
	select {
	case <-e.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("engine was never called")
	}
}

func (e *gateEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type failingIDs struct{}

func (failingIDs) NewRunID() (uuid.UUID, error) { return uuid.Nil, errors.New("entropy exhausted") }
