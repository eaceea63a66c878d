// Package scan enumerates the input documents of a run.
package scan

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/JakeFAU/dockling/internal/conversion"
)

// ErrNoFiles is returned when enumeration finds nothing to convert.
var ErrNoFiles = errors.New("no supported files found")

// SupportedExtensions lists the input formats accepted by the converter.
var SupportedExtensions = []string{
	".pdf", ".docx", ".doc", ".pptx", ".ppt", ".xlsx", ".xls",
	".html", ".htm", ".xml", ".md", ".asciidoc", ".adoc",
}

// Supported reports whether path has a supported extension.
func Supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, candidate := range SupportedExtensions {
		if ext == candidate {
			return true
		}
	}
	return false
}

// Dir recursively collects every supported file under root, sorted by path.
func Dir(root string) ([]conversion.Item, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("input directory %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("input path %s is not a directory", root)
	}

	var items []conversion.Item
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !Supported(path) {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}
		items = append(items, conversion.Item{Path: path, Size: fi.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoFiles, root)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Path < items[j].Path })
	return items, nil
}

// Files builds items from explicit paths, keeping their order. Unsupported
// or missing files are rejected.
func Files(paths []string) ([]conversion.Item, error) {
	items := make([]conversion.Item, 0, len(paths))
	for _, path := range paths {
		if !Supported(path) {
			return nil, fmt.Errorf("unsupported file type: %s", path)
		}
		fi, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("input file %s: %w", path, err)
		}
		if fi.IsDir() {
			return nil, fmt.Errorf("input file %s is a directory", path)
		}
		items = append(items, conversion.Item{Path: path, Size: fi.Size()})
	}
	if len(items) == 0 {
		return nil, ErrNoFiles
	}
	return items, nil
}
