// Package memory provides an in-process history.Repository.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/dockling/internal/history"
)

// Repository keeps runs in a map guarded by a mutex.
type Repository struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]history.Run
}

// New returns an empty Repository.
func New() *Repository {
	return &Repository{runs: make(map[uuid.UUID]history.Run)}
}

// StartRun stores a running record. Starting an existing ID is an error.
func (r *Repository) StartRun(_ context.Context, id uuid.UUID, startedAt time.Time, total int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[id]; ok {
		return fmt.Errorf("run %s already recorded", id)
	}
	r.runs[id] = history.Run{
		ID:        id,
		StartedAt: startedAt,
		Status:    history.RunRunning,
		Total:     total,
	}
	return nil
}

// FinishRun updates an existing record.
func (r *Repository) FinishRun(_ context.Context, id uuid.UUID, outcome history.Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return history.ErrNotFound
	}
	finished := outcome.FinishedAt
	run.FinishedAt = &finished
	run.Status = outcome.Status
	run.Stats = outcome.Stats
	if outcome.ErrorMessage != nil {
		msg := *outcome.ErrorMessage
		run.ErrorMessage = &msg
	}
	r.runs[id] = run
	return nil
}

// GetRun returns a copy of the stored run.
func (r *Repository) GetRun(_ context.Context, id uuid.UUID) (history.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	if !ok {
		return history.Run{}, history.ErrNotFound
	}
	return run, nil
}

// ListRuns returns runs ordered by StartedAt descending.
func (r *Repository) ListRuns(_ context.Context, status *history.RunStatus, limit, offset int) ([]history.Run, error) {
	r.mu.RLock()
	out := make([]history.Run, 0, len(r.runs))
	for _, run := range r.runs {
		if status != nil && run.Status != *status {
			continue
		}
		out = append(out, run)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID.String() > out[j].ID.String()
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if offset < 0 {
		offset = 0
	}
	if offset >= len(out) {
		return []history.Run{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}
