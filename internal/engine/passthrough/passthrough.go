// Package passthrough converts documents that are already Markdown without
// a remote service.
package passthrough

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/JakeFAU/dockling/internal/conversion"
)

// Extensions handled by the passthrough engine. Every entry is also an
// input format accepted by scan.
var Extensions = []string{".md"}

// Engine copies text inputs verbatim into the output artifact.
type Engine struct{}

// New creates an Engine.
func New() *Engine {
	return &Engine{}
}

// Handles reports whether ext is one of Extensions.
func (*Engine) Handles(ext string) bool {
	ext = strings.ToLower(ext)
	for _, candidate := range Extensions {
		if ext == candidate {
			return true
		}
	}
	return false
}

// Convert reads the file. Unsupported formats and unreadable files are
// reported as failures rather than errors.
func (e *Engine) Convert(ctx context.Context, item conversion.Item, opts conversion.Options) (conversion.Result, error) {
	if err := ctx.Err(); err != nil {
		return conversion.Result{}, err
	}
	if !e.Handles(item.Ext()) {
		return conversion.Result{
			Status: conversion.StatusFailure,
			Errors: []string{fmt.Sprintf("format %s is not supported without a conversion service", item.Ext())},
		}, nil
	}
	if opts.MaxFileSize > 0 && item.Size > opts.MaxFileSize {
		return conversion.Result{
			Status: conversion.StatusFailure,
			Errors: []string{fmt.Sprintf("file size %d exceeds engine limit %d", item.Size, opts.MaxFileSize)},
		}, nil
	}
	data, err := os.ReadFile(item.Path)
	if err != nil {
		return conversion.Result{Status: conversion.StatusFailure, Errors: []string{err.Error()}}, nil
	}
	return conversion.Result{
		Status:   conversion.StatusSuccess,
		Artifact: conversion.Markdown{Content: string(data)},
	}, nil
}
