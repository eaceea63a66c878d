package sinks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/dockling/internal/progress"
	"github.com/JakeFAU/dockling/internal/tracker"
)

// Run results used as metric labels.
const (
	resultComplete  = "complete"
	resultCancelled = "cancelled"
	resultError     = "error"
)

// PrometheusSink exports conversion run metrics via Prometheus. It owns all
// collectors for runs started/completed/running and per-outcome file counters.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runDuration   *prometheus.HistogramVec
	files         *prometheus.CounterVec
	logLines      *prometheus.CounterVec

	runs *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dockling_runs_started_total",
			Help: "Total conversion runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dockling_runs_completed_total",
			Help: "Total conversion runs finished partitioned by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dockling_runs_running",
			Help: "Current number of running conversion runs.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dockling_run_duration_seconds",
			Help:    "Wall time per finished run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"result"}),
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dockling_files_total",
			Help: "Files processed partitioned by outcome.",
		}, []string{"outcome"}),
		logLines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dockling_log_events_total",
			Help: "Log events emitted by runs partitioned by level.",
		}, []string{"level"}),
		runs: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runDuration,
		s.files,
		s.logLines,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// RunStarted counts the run and marks it running.
func (s *PrometheusSink) RunStarted(_ context.Context, info progress.RunInfo) error {
	s.runsStarted.Inc()
	if s.runs.start(info.ID, info.StartedAt) {
		s.runsRunning.Inc()
	}
	return nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	runID := evt.Meta().RunID
	switch e := evt.(type) {
	case progress.LogEvent:
		s.logLines.WithLabelValues(string(e.Level)).Inc()
	case progress.StatsEvent:
		s.addFiles(s.runs.advance(runID, e.Stats.Stats))
	case progress.CompleteEvent:
		s.addFiles(s.runs.advance(runID, e.Final.Stats))
		result := resultComplete
		if e.Final.Cancelled {
			result = resultCancelled
		}
		s.finish(runID, result, e.Final.Elapsed)
	case progress.ErrorEvent:
		var elapsed time.Duration
		if started, ok := s.runs.startedAt(runID); ok {
			elapsed = e.TS.Sub(started)
		}
		s.finish(runID, resultError, elapsed)
	}
}

func (s *PrometheusSink) addFiles(delta tracker.Stats) {
	for label, n := range map[string]int{
		"success": delta.Success,
		"partial": delta.Partial,
		"failed":  delta.Failed,
		"skipped": delta.Skipped,
	} {
		if n > 0 {
			s.files.WithLabelValues(label).Add(float64(n))
		}
	}
}

func (s *PrometheusSink) finish(runID uuid.UUID, result string, elapsed time.Duration) {
	s.runsCompleted.WithLabelValues(result).Inc()
	if elapsed > 0 {
		s.runDuration.WithLabelValues(result).Observe(elapsed.Seconds())
	}
	if s.runs.complete(runID) {
		s.runsRunning.Dec()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runState struct {
	started   bool
	startedAt time.Time
	last      tracker.Stats
}

type runTracker struct {
	mu      sync.Mutex
	running map[uuid.UUID]*runState
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[uuid.UUID]*runState)}
}

func (t *runTracker) start(id uuid.UUID, at time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = &runState{started: true, startedAt: at}
	return true
}

func (t *runTracker) startedAt(id uuid.UUID) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.running[id]
	if !ok || !st.started {
		return time.Time{}, false
	}
	return st.startedAt, true
}

// advance records stats as the latest for id and returns the increase
// since the previous observation.
func (t *runTracker) advance(id uuid.UUID, stats tracker.Stats) tracker.Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.running[id]
	if !ok {
		st = &runState{}
		t.running[id] = st
	}
	delta := stats.Sub(st.last)
	st.last = stats
	return delta
}

func (t *runTracker) complete(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.running[id]
	if !ok {
		return false
	}
	delete(t.running, id)
	return st.started
}
