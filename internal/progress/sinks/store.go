package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/dockling/internal/history"
	"github.com/JakeFAU/dockling/internal/progress"
	"github.com/JakeFAU/dockling/internal/tracker"
)

// StoreSink records run lifecycles via a history.Repository. Only the run
// start and the terminal event touch the repository; intermediate stats
// are kept in memory so an aborted run still records its last counters.
type StoreSink struct {
	repo   history.Repository
	logger *zap.Logger

	mu   sync.Mutex
	last map[uuid.UUID]tracker.Stats
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo history.Repository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger, last: make(map[uuid.UUID]tracker.Stats)}
}

// RunStarted inserts the running record.
func (s *StoreSink) RunStarted(ctx context.Context, info progress.RunInfo) error {
	if s == nil || s.repo == nil {
		return nil
	}
	if err := s.repo.StartRun(ctx, info.ID, info.StartedAt, info.Total); err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// Consume forwards terminal events to the repository. It respects ctx
// deadlines and returns any repository errors wrapped.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	for _, evt := range batch {
		runID := evt.Meta().RunID
		switch e := evt.(type) {
		case progress.StatsEvent:
			s.remember(runID, e.Stats.Stats)
		case progress.CompleteEvent:
			status := history.RunComplete
			if e.Final.Cancelled {
				status = history.RunCancelled
			}
			if err := s.finish(ctx, runID, history.Outcome{
				FinishedAt: e.TS,
				Status:     status,
				Stats:      e.Final.Stats,
			}); err != nil {
				return err
			}
		case progress.ErrorEvent:
			msg := e.Message
			if err := s.finish(ctx, runID, history.Outcome{
				FinishedAt:   e.TS,
				Status:       history.RunError,
				Stats:        s.lastStats(runID),
				ErrorMessage: &msg,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *StoreSink) finish(ctx context.Context, runID uuid.UUID, outcome history.Outcome) error {
	s.mu.Lock()
	delete(s.last, runID)
	s.mu.Unlock()
	if err := s.repo.FinishRun(ctx, runID, outcome); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	s.logger.Debug("run recorded",
		zap.String("run_id", runID.String()),
		zap.String("status", string(outcome.Status)))
	return nil
}

func (s *StoreSink) remember(runID uuid.UUID, stats tracker.Stats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last[runID] = stats
}

func (s *StoreSink) lastStats(runID uuid.UUID) tracker.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last[runID]
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
