package worker

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/dockling/internal/conversion"
)

const outputExt = ".md"

// nameAllocator hands out output file names that are unique within a run.
// Two inputs sharing a stem, such as report.pdf and report.docx, become
// report.md and report_1.md.
type nameAllocator struct {
	used map[string]struct{}
}

func newNameAllocator() *nameAllocator {
	return &nameAllocator{used: make(map[string]struct{})}
}

func (a *nameAllocator) next(item conversion.Item) string {
	base := item.Name()
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" {
		stem = "document"
	}
	candidate := stem + outputExt
	for n := 1; ; n++ {
		key := strings.ToLower(candidate)
		if _, taken := a.used[key]; !taken {
			a.used[key] = struct{}{}
			return candidate
		}
		candidate = fmt.Sprintf("%s_%d%s", stem, n, outputExt)
	}
}
