package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/dockling/internal/conversion"
	"github.com/JakeFAU/dockling/internal/policy/limits"
	"github.com/JakeFAU/dockling/internal/progress"
	"github.com/JakeFAU/dockling/internal/tracker"
)

func TestRunMixedOutcomes(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")
	engine := &scriptedEngine{results: map[string]conversion.Result{
		"a.pdf": successResult("# A"),
		"b.pdf": {Status: conversion.StatusPartialSuccess, Errors: []string{"table lost"}, Artifact: conversion.Markdown{Content: "# B"}},
		"c.pdf": {Status: conversion.StatusFailure, Errors: []string{"corrupt", "no pages"}},
		"e.md":  successResult("# E"),
	}}
	items := []conversion.Item{
		{Path: "/in/a.pdf", Size: 10},
		{Path: "/in/b.pdf", Size: 10},
		{Path: "/in/c.pdf", Size: 10},
		{Path: "/in/d.pdf", Size: 5 * 1024 * 1024},
		{Path: "/in/e.md", Size: 10},
	}

	events, tr := runDriver(t, engine, limits.New(1024*1024, 0), nil, Options{OutputDir: out, ContinueOnError: true}, items)

	require.Equal(t, tracker.Stats{Success: 2, Partial: 1, Failed: 1, Skipped: 1}, tr.Stats())
	require.Equal(t, []string{"a.pdf", "b.pdf", "c.pdf", "e.md"}, engine.seen())

	last := events[len(events)-1]
	complete, ok := last.(progress.CompleteEvent)
	require.True(t, ok, "last event must be complete, got %T", last)
	require.False(t, complete.Final.Cancelled)
	require.Equal(t, 5, complete.Final.TotalProcessed)
	require.InDelta(t, 60.0, complete.Final.SuccessRate, 0.001)
	requireSingleTerminal(t, events)

	texts := logTexts(events)
	require.Contains(t, texts, "Successfully saved: a.md")
	require.Contains(t, texts, "Partial success: b.md (table lost)")
	require.Contains(t, texts, "Conversion error c.pdf: corrupt; no pages")
	require.Contains(t, texts, "Skipped d.pdf: File size (5.0 MB) exceeds limit (1.0 MB)")

	data, err := os.ReadFile(filepath.Join(out, "a.md"))
	require.NoError(t, err)
	require.Equal(t, "# A", string(data))
	_, err = os.Stat(filepath.Join(out, "c.md"))
	require.True(t, os.IsNotExist(err))

	progressEvents := ofKind[progress.ProgressEvent](events)
	require.Len(t, progressEvents, 5)
	require.Equal(t, 100, progressEvents[len(progressEvents)-1].Snapshot.Percentage)
}

func TestRunSkippedItemsDoNotReachEngine(t *testing.T) {
	engine := &scriptedEngine{}
	items := []conversion.Item{{Path: "a.md"}, {Path: "b.md"}, {Path: "c.md"}}

	events, tr := runDriver(t, engine, limits.New(0, 2), nil, Options{OutputDir: t.TempDir()}, items)

	require.Equal(t, []string{"a.md", "b.md"}, engine.seen())
	require.Equal(t, tracker.Stats{Success: 2, Skipped: 1}, tr.Stats())
	require.Contains(t, logTexts(events), "Skipped c.md: File limit reached (max 2 files per run)")
	_, ok := events[len(events)-1].(progress.CompleteEvent)
	require.True(t, ok)
}

func TestRunSkippedItemProgressNamesSkippedFile(t *testing.T) {
	engine := &scriptedEngine{}
	items := []conversion.Item{{Path: "a.md"}, {Path: "big.pdf", Size: 4 * 1024 * 1024}}

	events, _ := runDriver(t, engine, limits.New(1024*1024, 0), nil, Options{OutputDir: t.TempDir()}, items)

	progressEvents := ofKind[progress.ProgressEvent](events)
	require.Len(t, progressEvents, 2)
	require.Equal(t, "big.pdf", progressEvents[0].Snapshot.Filename)
	require.Equal(t, 2, progressEvents[0].Snapshot.Current)
	require.Equal(t, "a.md", progressEvents[1].Snapshot.Filename)
}

func TestRunEngineCrashAbortsWithoutContinueOnError(t *testing.T) {
	engine := &scriptedEngine{panics: map[string]bool{"b.pdf": true}}
	items := []conversion.Item{{Path: "a.pdf"}, {Path: "b.pdf"}, {Path: "c.pdf"}}

	events, tr := runDriver(t, engine, nil, nil, Options{OutputDir: t.TempDir()}, items)

	require.Equal(t, []string{"a.pdf", "b.pdf"}, engine.seen())
	require.Equal(t, tracker.Stats{Success: 1, Failed: 1}, tr.Stats())
	errEvt, ok := events[len(events)-1].(progress.ErrorEvent)
	require.True(t, ok)
	require.Contains(t, errEvt.Message, "b.pdf")
	require.Contains(t, errEvt.Message, ErrEngineCrashed.Error())
	requireSingleTerminal(t, events)
}

func TestRunEngineErrorAbortsWithoutContinueOnError(t *testing.T) {
	engine := &scriptedEngine{errs: map[string]error{"b.pdf": errors.New("connection reset")}}
	items := []conversion.Item{{Path: "a.pdf"}, {Path: "b.pdf"}, {Path: "c.pdf"}}

	events, tr := runDriver(t, engine, nil, nil, Options{OutputDir: t.TempDir()}, items)

	require.Equal(t, []string{"a.pdf", "b.pdf"}, engine.seen())
	require.Equal(t, tracker.Stats{Success: 1, Failed: 1}, tr.Stats())
	requireSingleTerminal(t, events)

	n := len(events)
	errEvt, ok := events[n-1].(progress.ErrorEvent)
	require.True(t, ok)
	require.Contains(t, errEvt.Message, "b.pdf")
	require.Contains(t, errEvt.Message, "connection reset")

	// The error directly follows a.pdf's triple; b.pdf gets no events.
	stats, ok := events[n-2].(progress.StatsEvent)
	require.True(t, ok)
	require.Equal(t, tracker.Stats{Success: 1}, stats.Stats.Stats)
	prog, ok := events[n-3].(progress.ProgressEvent)
	require.True(t, ok)
	require.Equal(t, "a.pdf", prog.Snapshot.Filename)
	for _, text := range logTexts(events) {
		require.NotContains(t, text, "b.pdf")
	}
}

func TestRunEngineCrashContinuesWhenAllowed(t *testing.T) {
	engine := &scriptedEngine{panics: map[string]bool{"b.pdf": true}}
	items := []conversion.Item{{Path: "a.pdf"}, {Path: "b.pdf"}, {Path: "c.pdf"}}

	events, tr := runDriver(t, engine, nil, nil, Options{OutputDir: t.TempDir(), ContinueOnError: true}, items)

	require.Equal(t, tracker.Stats{Success: 2, Failed: 1}, tr.Stats())
	found := false
	for _, text := range logTexts(events) {
		if strings.HasPrefix(text, "Conversion error b.pdf:") {
			found = true
		}
	}
	require.True(t, found)
	_, ok := events[len(events)-1].(progress.CompleteEvent)
	require.True(t, ok)
}

func TestRunReportedFailureAbortsWithoutContinueOnError(t *testing.T) {
	engine := &scriptedEngine{results: map[string]conversion.Result{
		"a.pdf": {Status: conversion.StatusFailure},
	}}
	items := []conversion.Item{{Path: "a.pdf"}, {Path: "b.pdf"}}

	events, tr := runDriver(t, engine, nil, nil, Options{OutputDir: t.TempDir()}, items)

	require.Equal(t, []string{"a.pdf"}, engine.seen())
	require.Equal(t, tracker.Stats{Failed: 1}, tr.Stats())
	require.Contains(t, logTexts(events), "Conversion error a.pdf: Unknown error")

	// The failed item's Log/Progress/Stats triple precedes the terminal event.
	n := len(events)
	_, ok := events[n-1].(progress.ErrorEvent)
	require.True(t, ok)
	_, ok = events[n-2].(progress.StatsEvent)
	require.True(t, ok)
	_, ok = events[n-3].(progress.ProgressEvent)
	require.True(t, ok)
}

func TestRunEngineErrorBecomesFailure(t *testing.T) {
	engine := &scriptedEngine{errs: map[string]error{"a.pdf": errors.New("connection refused")}}
	items := []conversion.Item{{Path: "a.pdf"}}

	events, tr := runDriver(t, engine, nil, nil, Options{OutputDir: t.TempDir(), ContinueOnError: true}, items)

	require.Equal(t, tracker.Stats{Failed: 1}, tr.Stats())
	require.Contains(t, logTexts(events), "Conversion error a.pdf: connection refused")
}

func TestRunStopsBeforeNextItem(t *testing.T) {
	signal := NewSignal()
	engine := &scriptedEngine{onConvert: func(name string) {
		if name == "b.pdf" {
			signal.Request()
		}
	}}
	items := []conversion.Item{{Path: "a.pdf"}, {Path: "b.pdf"}, {Path: "c.pdf"}}

	events, tr := runDriver(t, engine, nil, signal, Options{OutputDir: t.TempDir()}, items)

	// The in-flight item completes; the next one never starts.
	require.Equal(t, []string{"a.pdf", "b.pdf"}, engine.seen())
	require.Equal(t, tracker.Stats{Success: 2}, tr.Stats())
	complete, ok := events[len(events)-1].(progress.CompleteEvent)
	require.True(t, ok)
	require.True(t, complete.Final.Cancelled)
	require.Equal(t, 3, complete.Final.Total)
	require.Equal(t, 2, complete.Final.TotalProcessed)
	require.Contains(t, logTexts(events), "Stopped at user request")
}

func TestRunCancelledContextStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	engine := &scriptedEngine{}
	ch := progress.NewChannel(uuid.New(), nil)
	tr := tracker.New(1, nil)

	New(engine, tr, ch, nil, nil, Options{OutputDir: t.TempDir()}, nil).Run(ctx, []conversion.Item{{Path: "a.pdf"}})

	events := ch.Drain()
	require.Empty(t, engine.seen())
	complete, ok := events[len(events)-1].(progress.CompleteEvent)
	require.True(t, ok)
	require.True(t, complete.Final.Cancelled)
}

func TestRunSaveFailureBecomesFailure(t *testing.T) {
	engine := &scriptedEngine{results: map[string]conversion.Result{
		"a.pdf": {Status: conversion.StatusSuccess, Artifact: failingArtifact{}},
		"b.pdf": {Status: conversion.StatusSuccess},
	}}
	items := []conversion.Item{{Path: "a.pdf"}, {Path: "b.pdf"}}

	events, tr := runDriver(t, engine, nil, nil, Options{OutputDir: t.TempDir(), ContinueOnError: true}, items)

	require.Equal(t, tracker.Stats{Failed: 2}, tr.Stats())
	texts := logTexts(events)
	require.Contains(t, texts, "Save error a.pdf: disk full")
	require.Contains(t, texts, "Save error b.pdf: engine returned no document")
}

func TestRunAllocatesUniqueOutputNames(t *testing.T) {
	out := t.TempDir()
	engine := &scriptedEngine{}
	items := []conversion.Item{{Path: "x/report.pdf"}, {Path: "y/report.docx"}, {Path: "z/REPORT.html"}}

	events, _ := runDriver(t, engine, nil, nil, Options{OutputDir: out}, items)

	texts := logTexts(events)
	require.Contains(t, texts, "Successfully saved: report.md")
	require.Contains(t, texts, "Successfully saved: report_1.md")
	require.Contains(t, texts, "Successfully saved: REPORT_2.md")
	for _, name := range []string{"report.md", "report_1.md", "REPORT_2.md"} {
		_, err := os.Stat(filepath.Join(out, name))
		require.NoError(t, err, name)
	}
}

func TestRunEmptyList(t *testing.T) {
	events, _ := runDriver(t, &scriptedEngine{}, nil, nil, Options{OutputDir: t.TempDir()}, nil)

	require.Len(t, events, 3)
	require.Equal(t, "Starting conversion of 0 files...", events[0].(progress.LogEvent).Text)
	complete, ok := events[2].(progress.CompleteEvent)
	require.True(t, ok)
	require.Equal(t, 0, complete.Final.TotalProcessed)
	require.Zero(t, complete.Final.SuccessRate)
}

func TestRunOutputDirFailure(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
	engine := &scriptedEngine{}

	events, _ := runDriver(t, engine, nil, nil, Options{OutputDir: blocker}, []conversion.Item{{Path: "a.pdf"}})

	require.Empty(t, engine.seen())
	errEvt, ok := events[len(events)-1].(progress.ErrorEvent)
	require.True(t, ok)
	require.Contains(t, errEvt.Message, "Cannot prepare output directory")
}

func TestRunUsesCustomOutputs(t *testing.T) {
	recorder := &recordingOutput{}
	var openedDir string
	opts := Options{
		OutputDir: "gs://bucket/run",
		Outputs: func(_ context.Context, dir string) (Output, error) {
			openedDir = dir
			return recorder, nil
		},
	}

	events, tr := runDriver(t, &scriptedEngine{}, nil, nil, opts, []conversion.Item{{Path: "a.pdf"}, {Path: "b.pdf"}})

	require.Equal(t, "gs://bucket/run", openedDir)
	require.Equal(t, []string{"a.md", "b.md"}, recorder.names)
	require.Equal(t, 2, tr.Stats().Success)
	requireSingleTerminal(t, events)
}

func TestRunOutputOpenFailure(t *testing.T) {
	opts := Options{
		OutputDir: "gs://bucket",
		Outputs: func(context.Context, string) (Output, error) {
			return nil, errors.New("no credentials")
		},
	}

	events, _ := runDriver(t, &scriptedEngine{}, nil, nil, opts, []conversion.Item{{Path: "a.pdf"}})

	errEvt, ok := events[len(events)-1].(progress.ErrorEvent)
	require.True(t, ok)
	require.Equal(t, "Cannot prepare output directory gs://bucket: no credentials", errEvt.Message)
}

func TestLocalOutputRejectsTraversal(t *testing.T) {
	out, err := LocalOutput(context.Background(), t.TempDir())
	require.NoError(t, err)

	_, err = out.Save(context.Background(), "../escape.md", conversion.Markdown{Content: "x"})
	require.Error(t, err)

	location, err := out.Save(context.Background(), "ok.md", conversion.Markdown{Content: "x"})
	require.NoError(t, err)
	require.Equal(t, "ok.md", filepath.Base(location))
}

func TestRunPassesIndependentOptions(t *testing.T) {
	var mu sync.Mutex
	var langs []string
	engine := conversion.EngineFunc(func(_ context.Context, _ conversion.Item, opts conversion.Options) (conversion.Result, error) {
		mu.Lock()
		langs = append(langs, opts.OCR.Languages[0])
		mu.Unlock()
		opts.OCR.Languages[0] = "mutated"
		return successResult("ok"), nil
	})
	base := conversion.Options{OCR: conversion.OCROptions{Enabled: true, Languages: []string{"eng"}}}
	items := []conversion.Item{{Path: "a.pdf"}, {Path: "b.pdf"}}

	_, _ = runDriver(t, engine, nil, nil, Options{OutputDir: t.TempDir(), Conversion: base}, items)

	require.Equal(t, "eng", base.OCR.Languages[0])
	require.Equal(t, []string{"eng", "eng"}, langs)
}

func TestNameAllocator(t *testing.T) {
	a := newNameAllocator()
	require.Equal(t, "a.md", a.next(conversion.Item{Path: "a.pdf"}))
	require.Equal(t, "a_1.md", a.next(conversion.Item{Path: "a.docx"}))
	require.Equal(t, "a_2.md", a.next(conversion.Item{Path: "a.md"}))
	require.Equal(t, "document.md", a.next(conversion.Item{Path: ".pdf"}))
}

func TestSignal(t *testing.T) {
	s := NewSignal()
	require.False(t, s.Requested())
	s.Request()
	s.Request()
	require.True(t, s.Requested())
}

func runDriver(
	t *testing.T,
	engine conversion.Engine,
	policy SkipPolicy,
	signal *Signal,
	opts Options,
	items []conversion.Item,
) ([]progress.Event, *tracker.Tracker) {
	t.Helper()
	ch := progress.NewChannel(uuid.New(), nil)
	tr := tracker.New(len(items), nil)
	New(engine, tr, ch, policy, signal, opts, nil).Run(context.Background(), items)
	require.True(t, ch.Sealed(), "run must end with a terminal event")
	events := ch.Drain()
	require.NotEmpty(t, events)
	return events, tr
}

func requireSingleTerminal(t *testing.T, events []progress.Event) {
	t.Helper()
	count := 0
	for _, evt := range events {
		if progress.IsTerminal(evt) {
			count++
		}
	}
	require.Equal(t, 1, count)
	require.True(t, progress.IsTerminal(events[len(events)-1]))
}

func logTexts(events []progress.Event) []string {
	var out []string
	for _, evt := range ofKind[progress.LogEvent](events) {
		out = append(out, evt.Text)
	}
	return out
}

func ofKind[T progress.Event](events []progress.Event) []T {
	var out []T
	for _, evt := range events {
		if typed, ok := evt.(T); ok {
			out = append(out, typed)
		}
	}
	return out
}

func successResult(content string) conversion.Result {
	return conversion.Result{Status: conversion.StatusSuccess, Artifact: conversion.Markdown{Content: content}}
}

// scriptedEngine returns canned results per file name and defaults to success.
type scriptedEngine struct {
	mu        sync.Mutex
	results   map[string]conversion.Result
	errs      map[string]error
	panics    map[string]bool
	onConvert func(name string)
	calls     []string
}

func (e *scriptedEngine) Convert(_ context.Context, item conversion.Item, _ conversion.Options) (conversion.Result, error) {
	name := item.Name()
	e.mu.Lock()
	e.calls = append(e.calls, name)
	e.mu.Unlock()
	if e.onConvert != nil {
		e.onConvert(name)
	}
	if e.panics[name] {
		panic("engine exploded")
	}
	if err := e.errs[name]; err != nil {
		return conversion.Result{}, err
	}
	if res, ok := e.results[name]; ok {
		return res, nil
	}
	return successResult("# " + name), nil
}

func (e *scriptedEngine) seen() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

type failingArtifact struct{}

func (failingArtifact) Save(context.Context, string) error {
	return errors.New("disk full")
}

type recordingOutput struct {
	names []string
}

func (o *recordingOutput) Save(_ context.Context, name string, _ conversion.Artifact) (string, error) {
	o.names = append(o.names, name)
	return "mem://" + name, nil
}
