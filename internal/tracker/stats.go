package tracker

import (
	"fmt"
	"time"
)

// ETACalculating is returned as the formatted ETA until at least one item
// has been processed.
const ETACalculating = "Calculating..."

// Stats holds the four outcome counters of a run.
type Stats struct {
	Success int `json:"success"`
	Partial int `json:"partial"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// TotalProcessed is the sum of all counters.
func (s Stats) TotalProcessed() int {
	return s.Success + s.Partial + s.Failed + s.Skipped
}

// SuccessRate returns the share of processed items that produced output
// (success plus partial), as a percentage.
func (s Stats) SuccessRate() float64 {
	total := s.TotalProcessed()
	if total == 0 {
		return 0
	}
	return float64(s.Success+s.Partial) / float64(total) * 100
}

// Sub returns the per-counter difference s - prev.
func (s Stats) Sub(prev Stats) Stats {
	return Stats{
		Success: s.Success - prev.Success,
		Partial: s.Partial - prev.Partial,
		Failed:  s.Failed - prev.Failed,
		Skipped: s.Skipped - prev.Skipped,
	}
}

// ProgressSnapshot is a frozen view of run progress.
type ProgressSnapshot struct {
	Current     int           `json:"current"`
	Total       int           `json:"total"`
	Filename    string        `json:"filename"`
	Percentage  int           `json:"percentage"`
	Elapsed     time.Duration `json:"elapsed"`
	ElapsedText string        `json:"elapsed_text"`
	ETA         time.Duration `json:"eta"`
	ETAText     string        `json:"eta_text"`
}

// StatsSnapshot is a frozen view of the counters.
type StatsSnapshot struct {
	Stats          Stats   `json:"stats"`
	TotalProcessed int     `json:"total_processed"`
	SuccessRate    float64 `json:"success_rate"`
}

// CompleteSnapshot summarizes a finished run.
type CompleteSnapshot struct {
	Stats          Stats         `json:"stats"`
	Total          int           `json:"total"`
	TotalProcessed int           `json:"total_processed"`
	Elapsed        time.Duration `json:"elapsed"`
	ElapsedText    string        `json:"elapsed_text"`
	SuccessRate    float64       `json:"success_rate"`
	Cancelled      bool          `json:"cancelled"`
}

// FormatDuration renders d as HH:MM:SS, truncating fractional seconds.
// Negative durations render as 00:00:00.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	hours := total / 3600
	minutes := (total % 3600) / 60
	secs := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, secs)
}
