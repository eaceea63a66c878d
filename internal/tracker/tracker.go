// Package tracker aggregates per-item outcomes of a conversion run into
// running statistics and estimates the time remaining.
//
// A Tracker is guarded by a single mutex so Reset and the snapshot methods
// never observe a half-updated state. Snapshots are plain values and are
// safe to hand to other goroutines.
package tracker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/dockling/internal/clock/system"
	"github.com/JakeFAU/dockling/internal/conversion"
)

var (
	// ErrUnknownOutcome is returned by RecordOutcome for kinds outside the closed set.
	ErrUnknownOutcome = errors.New("unknown outcome kind")
	// ErrTotalExceeded is returned when recording would push the processed
	// count past the run's total.
	ErrTotalExceeded = errors.New("processed count would exceed total files")
)

// Tracker tracks progress of a single run.
type Tracker struct {
	mu sync.Mutex

	clock       conversion.Clock
	totalFiles  int
	current     int
	currentName string
	startedAt   time.Time
	stats       Stats
	itemStarts  map[int]time.Time
	itemEnds    map[int]time.Time
}

// New creates a Tracker for totalFiles items. A nil clock falls back to the
// system clock.
func New(totalFiles int, clock conversion.Clock) *Tracker {
	if clock == nil {
		clock = system.New()
	}
	t := &Tracker{clock: clock}
	t.resetLocked(totalFiles)
	return t
}

// Reset reinitializes counters, timestamps and pointers for a new run of
// totalFiles items.
func (t *Tracker) Reset(totalFiles int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked(totalFiles)
}

func (t *Tracker) resetLocked(totalFiles int) {
	if totalFiles < 0 {
		totalFiles = 0
	}
	t.totalFiles = totalFiles
	t.current = 0
	t.currentName = ""
	t.startedAt = t.clock.Now()
	t.stats = Stats{}
	t.itemStarts = make(map[int]time.Time)
	t.itemEnds = make(map[int]time.Time)
}

// StartItem marks the start of processing for the item at index (1-based).
// A repeated index overwrites the previous start time.
func (t *Tracker) StartItem(name string, index int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = index
	t.currentName = name
	t.itemStarts[index] = t.clock.Now()
}

// EndItem records the completion time for index. It does not touch the counters.
func (t *Tracker) EndItem(index int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.itemEnds[index] = t.clock.Now()
}

// RecordOutcome increments exactly one counter.
func (t *Tracker) RecordOutcome(kind conversion.OutcomeKind) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownOutcome, kind)
	}
	if t.stats.TotalProcessed() >= t.totalFiles {
		return ErrTotalExceeded
	}
	switch kind {
	case conversion.OutcomeSuccess:
		t.stats.Success++
	case conversion.OutcomePartial:
		t.stats.Partial++
	case conversion.OutcomeFailed:
		t.stats.Failed++
	case conversion.OutcomeSkipped:
		t.stats.Skipped++
	}
	return nil
}

// TotalFiles returns the run size.
func (t *Tracker) TotalFiles() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalFiles
}

// Stats returns a copy of the counters.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// ProgressPercentage returns floor(100 * processed / total), or 0 for an
// empty run. Truncation keeps 100 unreachable until the last item lands.
func (t *Tracker) ProgressPercentage() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.percentageLocked()
}

func (t *Tracker) percentageLocked() int {
	if t.totalFiles == 0 {
		return 0
	}
	return 100 * t.stats.TotalProcessed() / t.totalFiles
}

// Elapsed returns time since the run started.
func (t *Tracker) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.elapsedLocked()
}

func (t *Tracker) elapsedLocked() time.Duration {
	d := t.clock.Now().Sub(t.startedAt)
	if d < 0 {
		return 0
	}
	return d
}

// AverageItemDuration is the mean of end-start over items that have both
// timestamps. Items skipped before submission never start and do not count.
func (t *Tracker) AverageItemDuration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	var (
		sum time.Duration
		n   int
	)
	for idx, end := range t.itemEnds {
		start, ok := t.itemStarts[idx]
		if !ok {
			continue
		}
		sum += end.Sub(start)
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / time.Duration(n)
}

// ETA estimates the remaining time. It returns ETACalculating until one
// item is processed and "00:00:00" once nothing remains.
func (t *Tracker) ETA() (time.Duration, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.etaLocked()
}

func (t *Tracker) etaLocked() (time.Duration, string) {
	processed := t.stats.TotalProcessed()
	if processed == 0 {
		return 0, ETACalculating
	}
	remaining := t.totalFiles - processed
	if remaining <= 0 {
		return 0, FormatDuration(0)
	}
	perItem := float64(t.elapsedLocked()) / float64(processed)
	eta := time.Duration(perItem * float64(remaining))
	return eta, FormatDuration(eta)
}

// IsComplete reports whether every item has an outcome.
func (t *Tracker) IsComplete() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats.TotalProcessed() >= t.totalFiles
}

// StatusSummary renders a one-line human readable status.
func (t *Tracker) StatusSummary() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	processed := t.stats.TotalProcessed()
	if processed == 0 {
		return fmt.Sprintf("Processed 0 of %d files", t.totalFiles)
	}
	return fmt.Sprintf("Processed %d of %d | Success: %d | Partial: %d | Failed: %d | Skipped: %d",
		processed, t.totalFiles, t.stats.Success, t.stats.Partial, t.stats.Failed, t.stats.Skipped)
}

// ToProgressSnapshot captures the current progress.
func (t *Tracker) ToProgressSnapshot() ProgressSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	elapsed := t.elapsedLocked()
	eta, etaText := t.etaLocked()
	return ProgressSnapshot{
		Current:     t.current,
		Total:       t.totalFiles,
		Filename:    t.currentName,
		Percentage:  t.percentageLocked(),
		Elapsed:     elapsed,
		ElapsedText: FormatDuration(elapsed),
		ETA:         eta,
		ETAText:     etaText,
	}
}

// ToStatsSnapshot captures the current counters.
func (t *Tracker) ToStatsSnapshot() StatsSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return StatsSnapshot{
		Stats:          t.stats,
		TotalProcessed: t.stats.TotalProcessed(),
		SuccessRate:    t.stats.SuccessRate(),
	}
}

// ToCompleteSnapshot captures the final summary of the run.
func (t *Tracker) ToCompleteSnapshot(cancelled bool) CompleteSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	elapsed := t.elapsedLocked()
	return CompleteSnapshot{
		Stats:          t.stats,
		Total:          t.totalFiles,
		TotalProcessed: t.stats.TotalProcessed(),
		Elapsed:        elapsed,
		ElapsedText:    FormatDuration(elapsed),
		SuccessRate:    t.stats.SuccessRate(),
		Cancelled:      cancelled,
	}
}
