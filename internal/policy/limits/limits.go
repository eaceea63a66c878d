// Package limits decides which items are skipped before submission.
package limits

import (
	"fmt"

	"github.com/JakeFAU/dockling/internal/conversion"
)

const mib = 1024 * 1024

// Policy enforces the per-file size limit and the per-run item count limit.
// Zero disables a limit.
type Policy struct {
	MaxFileSize int64
	MaxFiles    int
}

// New creates a Policy.
func New(maxFileSize int64, maxFiles int) *Policy {
	return &Policy{MaxFileSize: maxFileSize, MaxFiles: maxFiles}
}

// Skip reports whether item must be skipped and why. position is the
// 1-based index of the item in its run.
func (p *Policy) Skip(item conversion.Item, position int) (bool, string) {
	if p == nil {
		return false, ""
	}
	if p.MaxFiles > 0 && position > p.MaxFiles {
		return true, fmt.Sprintf("File limit reached (max %d files per run)", p.MaxFiles)
	}
	if p.MaxFileSize > 0 && item.Size > p.MaxFileSize {
		return true, fmt.Sprintf("File size (%.1f MB) exceeds limit (%.1f MB)",
			float64(item.Size)/mib, float64(p.MaxFileSize)/mib)
	}
	return false, ""
}
