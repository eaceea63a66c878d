package api

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

const bucketScheme = "gs://"

// errOutsideRoot marks a request path that escapes its configured root.
var errOutsideRoot = errors.New("path is outside the configured directory")

// confine resolves requested against root and rejects anything that leaves
// it. Relative paths are taken relative to root; an empty path is root.
func confine(root, requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	if requested == "" {
		return root, nil
	}
	if strings.HasPrefix(root, bucketScheme) || strings.HasPrefix(requested, bucketScheme) {
		return confineBucket(root, requested)
	}

	base, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", root, err)
	}
	target := requested
	if !filepath.IsAbs(target) {
		target = filepath.Join(base, target)
	}
	target = filepath.Clean(target)
	rel, err := filepath.Rel(base, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", errOutsideRoot, requested)
	}
	return target, nil
}

func confineBucket(root, requested string) (string, error) {
	if !strings.HasPrefix(root, bucketScheme) {
		return "", fmt.Errorf("%w: %s", errOutsideRoot, requested)
	}
	base := strings.TrimRight(root, "/")
	rel := requested
	if strings.HasPrefix(requested, bucketScheme) {
		if requested != base && !strings.HasPrefix(requested, base+"/") {
			return "", fmt.Errorf("%w: %s", errOutsideRoot, requested)
		}
		rel = strings.TrimPrefix(strings.TrimPrefix(requested, base), "/")
	}
	clean := path.Clean("/" + rel)
	if clean != "/"+strings.Trim(rel, "/") && rel != "" {
		return "", fmt.Errorf("%w: %s", errOutsideRoot, requested)
	}
	if clean == "/" {
		return base, nil
	}
	return base + clean, nil
}

func confineAll(root string, requested []string) ([]string, error) {
	out := make([]string, 0, len(requested))
	for _, p := range requested {
		resolved, err := confine(root, p)
		if err != nil {
			return nil, err
		}
		out = append(out, resolved)
	}
	return out, nil
}
