package conversion

import (
	"context"
	"strings"

	"github.com/JakeFAU/dockling/internal/storage/local"
)

// Markdown is an Artifact holding rendered Markdown text.
type Markdown struct {
	Content string
}

// Save atomically writes the Markdown to outputPath.
func (m Markdown) Save(ctx context.Context, outputPath string) error {
	return local.WriteFile(ctx, outputPath, strings.NewReader(m.Content))
}
