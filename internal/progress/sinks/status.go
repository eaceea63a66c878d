package sinks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/dockling/internal/progress"
	"github.com/JakeFAU/dockling/internal/tracker"
)

const defaultLogHistory = 200

// LogLine is a rendered Log event kept for status queries.
type LogLine struct {
	Seq   uint64         `json:"seq"`
	TS    time.Time      `json:"ts"`
	Emoji string         `json:"emoji"`
	Text  string         `json:"text"`
	Level progress.Level `json:"level"`
}

// RunStatus is the latest known state of the most recent run.
type RunStatus struct {
	RunID     uuid.UUID                 `json:"run_id"`
	StartedAt time.Time                 `json:"started_at"`
	Total     int                       `json:"total"`
	Running   bool                      `json:"running"`
	Progress  *tracker.ProgressSnapshot `json:"progress,omitempty"`
	Stats     *tracker.StatsSnapshot    `json:"stats,omitempty"`
	Final     *tracker.CompleteSnapshot `json:"final,omitempty"`
	Error     string                    `json:"error,omitempty"`
	Logs      []LogLine                 `json:"logs"`
}

// StatusSink keeps the latest state of the most recent run in memory so the
// HTTP surface can answer without touching the worker.
type StatusSink struct {
	mu         sync.RWMutex
	maxLogs    int
	current    RunStatus
	hasCurrent bool
}

// NewStatusSink keeps up to maxLogs log lines (default 200).
func NewStatusSink(maxLogs int) *StatusSink {
	if maxLogs <= 0 {
		maxLogs = defaultLogHistory
	}
	return &StatusSink{maxLogs: maxLogs}
}

// RunStarted replaces the tracked run.
func (s *StatusSink) RunStarted(_ context.Context, info progress.RunInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = RunStatus{
		RunID:     info.ID,
		StartedAt: info.StartedAt,
		Total:     info.Total,
		Running:   true,
		Logs:      []LogLine{},
	}
	s.hasCurrent = true
	return nil
}

// Consume folds the batch into the tracked state. Events for other runs are ignored.
func (s *StatusSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		meta := evt.Meta()
		if !s.hasCurrent || meta.RunID != s.current.RunID {
			continue
		}
		switch e := evt.(type) {
		case progress.LogEvent:
			s.current.Logs = append(s.current.Logs, LogLine{
				Seq: meta.Seq, TS: meta.TS, Emoji: e.Emoji, Text: e.Text, Level: e.Level,
			})
			if over := len(s.current.Logs) - s.maxLogs; over > 0 {
				s.current.Logs = append([]LogLine(nil), s.current.Logs[over:]...)
			}
		case progress.ProgressEvent:
			snap := e.Snapshot
			s.current.Progress = &snap
		case progress.StatsEvent:
			snap := e.Stats
			s.current.Stats = &snap
		case progress.CompleteEvent:
			final := e.Final
			s.current.Final = &final
			s.current.Running = false
		case progress.ErrorEvent:
			s.current.Error = e.Message
			s.current.Running = false
		}
	}
	return nil
}

// Current returns a copy of the tracked run and whether any run was seen.
func (s *StatusSink) Current() (RunStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasCurrent {
		return RunStatus{}, false
	}
	out := s.current
	out.Logs = append([]LogLine(nil), s.current.Logs...)
	return out, true
}

// Close implements the Sink interface; it performs no action.
func (s *StatusSink) Close(context.Context) error {
	return nil
}
