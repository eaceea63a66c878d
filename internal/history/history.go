// Package history declares the run history model and its repository
// contract. Implementations live in subpackages; this package must not
// import database drivers.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/dockling/internal/tracker"
)

// ErrNotFound signals that the requested run does not exist.
var ErrNotFound = errors.New("run not found")

// RunStatus mirrors the conversion_runs.status column.
type RunStatus string

// Run statuses.
const (
	RunRunning   RunStatus = "running"
	RunComplete  RunStatus = "complete"
	RunCancelled RunStatus = "cancelled"
	RunError     RunStatus = "error"
)

// Finished reports whether s is a terminal status.
func (s RunStatus) Finished() bool {
	return s == RunComplete || s == RunCancelled || s == RunError
}

// Run is one recorded conversion run.
type Run struct {
	// ID is the run identifier shared with events.
	ID uuid.UUID `json:"id"`
	// StartedAt captures when the run was started.
	StartedAt time.Time `json:"started_at"`
	// FinishedAt is nil until the terminal event is consumed.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	// Status is running/complete/cancelled/error.
	Status RunStatus `json:"status"`
	// Total is the number of items submitted to the run.
	Total int `json:"total"`
	// Stats holds the final counters once finished.
	Stats tracker.Stats `json:"stats"`
	// ErrorMessage optionally stores the abort reason.
	ErrorMessage *string `json:"error_message,omitempty"`
}

// Outcome is what FinishRun records.
type Outcome struct {
	FinishedAt   time.Time
	Status       RunStatus
	Stats        tracker.Stats
	ErrorMessage *string
}

// Repository persists run history.
type Repository interface {
	// StartRun inserts a running row for the run.
	StartRun(ctx context.Context, id uuid.UUID, startedAt time.Time, total int) error
	// FinishRun marks the run terminal with final stats.
	FinishRun(ctx context.Context, id uuid.UUID, outcome Outcome) error
	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, id uuid.UUID) (Run, error)
	// ListRuns returns runs newest first, filtered by optional status.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
}
