// Package gcs writes conversion output to Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/dockling/internal/conversion"
)

const scheme = "gs://"

// Writers opens object writers. *storage.Client satisfies it through
// ClientWriters.
type Writers interface {
	NewWriter(ctx context.Context, bucket, object, contentType string) io.WriteCloser
}

// ClientWriters adapts a storage client to Writers.
type ClientWriters struct {
	Client *storage.Client
}

// NewWriter returns a writer for bucket/object.
func (c ClientWriters) NewWriter(ctx context.Context, bucket, object, contentType string) io.WriteCloser {
	w := c.Client.Bucket(bucket).Object(object).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	return w
}

// IsURI reports whether dir names a bucket location.
func IsURI(dir string) bool {
	return strings.HasPrefix(dir, scheme)
}

// ParseURI splits gs://bucket/prefix into bucket and prefix.
func ParseURI(uri string) (bucket, prefix string, err error) {
	if !IsURI(uri) {
		return "", "", fmt.Errorf("not a gs:// URI: %q", uri)
	}
	rest := strings.TrimPrefix(uri, scheme)
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("bucket name is required")
	}
	return bucket, strings.Trim(prefix, "/"), nil
}

// Store uploads documents below one bucket prefix.
type Store struct {
	writers Writers
	bucket  string
	prefix  string
}

// New creates a Store for the gs:// location uri.
func New(writers Writers, uri string) (*Store, error) {
	if writers == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	bucket, prefix, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	return &Store{writers: writers, bucket: bucket, prefix: prefix}, nil
}

// Object returns the object name for a document name.
func (s *Store) Object(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("path is required")
	}
	clean := path.Clean("/" + filepath.ToSlash(name))
	if clean != "/"+filepath.ToSlash(name) {
		return "", fmt.Errorf("path traversal detected")
	}
	return strings.TrimPrefix(path.Join(s.prefix, clean), "/"), nil
}

// PutObject uploads r and returns its gs:// URI.
func (s *Store) PutObject(ctx context.Context, name, contentType string, r io.Reader) (string, error) {
	object, err := s.Object(name)
	if err != nil {
		return "", err
	}
	writer := s.writers.NewWriter(ctx, s.bucket, object, contentType)
	if _, err := io.Copy(writer, r); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return scheme + s.bucket + "/" + object, nil
}

// Save renders artifact to a scratch file and uploads it as name.
func (s *Store) Save(ctx context.Context, name string, artifact conversion.Artifact) (string, error) {
	if _, err := s.Object(name); err != nil {
		return "", err
	}
	scratch, err := os.MkdirTemp("", "dockling-gcs-*")
	if err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(scratch) }()

	staged := filepath.Join(scratch, filepath.Base(name))
	if err := artifact.Save(ctx, staged); err != nil {
		return "", err
	}
	f, err := os.Open(staged) //nolint:gosec // path is inside our own scratch dir
	if err != nil {
		return "", fmt.Errorf("open staged file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return s.PutObject(ctx, name, "text/markdown; charset=utf-8", f)
}
