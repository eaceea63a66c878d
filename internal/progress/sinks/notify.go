package sinks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/dockling/internal/history"
	"github.com/JakeFAU/dockling/internal/progress"
	"github.com/JakeFAU/dockling/internal/tracker"
)

// Notification event attributes.
const (
	EventRunComplete = "run.complete"
	EventRunError    = "run.error"
)

// Publisher delivers one notification payload.
type Publisher interface {
	Publish(ctx context.Context, event string, payload any) (string, error)
	Close() error
}

// RunSummary is the payload published when a run ends.
type RunSummary struct {
	RunID       uuid.UUID         `json:"run_id"`
	Status      history.RunStatus `json:"status"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  time.Time         `json:"finished_at"`
	Total       int               `json:"total"`
	Stats       tracker.Stats     `json:"stats"`
	SuccessRate float64           `json:"success_rate"`
	Error       string            `json:"error,omitempty"`
}

// NotifySink publishes a RunSummary for every terminal event.
type NotifySink struct {
	pub    Publisher
	logger *zap.Logger

	mu   sync.Mutex
	runs map[uuid.UUID]*notifyState
}

type notifyState struct {
	info  progress.RunInfo
	stats tracker.StatsSnapshot
}

// NewNotifySink constructs a NotifySink over pub.
func NewNotifySink(pub Publisher, logger *zap.Logger) *NotifySink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotifySink{pub: pub, logger: logger.Named("notify"), runs: make(map[uuid.UUID]*notifyState)}
}

// RunStarted remembers the start time and size of the run.
func (s *NotifySink) RunStarted(_ context.Context, info progress.RunInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[info.ID] = &notifyState{info: info}
	return nil
}

// Consume publishes on Complete and Error events.
func (s *NotifySink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.pub == nil {
		return nil
	}
	for _, evt := range batch {
		runID := evt.Meta().RunID
		switch e := evt.(type) {
		case progress.StatsEvent:
			s.state(runID).stats = e.Stats
		case progress.CompleteEvent:
			status := history.RunComplete
			if e.Final.Cancelled {
				status = history.RunCancelled
			}
			summary := s.summary(runID, e.TS, status)
			summary.Total = e.Final.Total
			summary.Stats = e.Final.Stats
			summary.SuccessRate = e.Final.SuccessRate
			if err := s.publish(ctx, EventRunComplete, summary); err != nil {
				return err
			}
		case progress.ErrorEvent:
			summary := s.summary(runID, e.TS, history.RunError)
			summary.Error = e.Message
			if err := s.publish(ctx, EventRunError, summary); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *NotifySink) state(runID uuid.UUID) *notifyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.runs[runID]
	if !ok {
		st = &notifyState{info: progress.RunInfo{ID: runID}}
		s.runs[runID] = st
	}
	return st
}

func (s *NotifySink) summary(runID uuid.UUID, finished time.Time, status history.RunStatus) RunSummary {
	s.mu.Lock()
	st, ok := s.runs[runID]
	delete(s.runs, runID)
	s.mu.Unlock()
	summary := RunSummary{RunID: runID, Status: status, FinishedAt: finished}
	if ok {
		summary.StartedAt = st.info.StartedAt
		summary.Total = st.info.Total
		summary.Stats = st.stats.Stats
		summary.SuccessRate = st.stats.SuccessRate
	}
	return summary
}

func (s *NotifySink) publish(ctx context.Context, event string, summary RunSummary) error {
	id, err := s.pub.Publish(ctx, event, summary)
	if err != nil {
		return fmt.Errorf("publish %s: %w", event, err)
	}
	s.logger.Debug("run notification published",
		zap.String("run_id", summary.RunID.String()),
		zap.String("event", event),
		zap.String("message_id", id))
	return nil
}

// Close closes the publisher.
func (s *NotifySink) Close(context.Context) error {
	if s == nil || s.pub == nil {
		return nil
	}
	return s.pub.Close()
}
