// Package conversion defines core types shared by the conversion pipeline.
package conversion

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// OutcomeKind classifies the result of processing a single input item.
type OutcomeKind string

// Outcome kinds recorded by the tracker.
const (
	OutcomeSuccess OutcomeKind = "success"
	OutcomePartial OutcomeKind = "partial"
	OutcomeFailed  OutcomeKind = "failed"
	OutcomeSkipped OutcomeKind = "skipped"
)

// ErrUnknownOutcomeKind is returned by ParseOutcomeKind for unsupported names.
var ErrUnknownOutcomeKind = errors.New("unknown outcome kind")

// Valid reports whether k is one of the four supported kinds.
func (k OutcomeKind) Valid() bool {
	switch k {
	case OutcomeSuccess, OutcomePartial, OutcomeFailed, OutcomeSkipped:
		return true
	default:
		return false
	}
}

// ParseOutcomeKind maps a status name, including the legacy aliases
// partial_success, failure and error, onto an OutcomeKind.
func ParseOutcomeKind(raw string) (OutcomeKind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "success":
		return OutcomeSuccess, nil
	case "partial", "partial_success":
		return OutcomePartial, nil
	case "failed", "failure", "error":
		return OutcomeFailed, nil
	case "skipped":
		return OutcomeSkipped, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownOutcomeKind, raw)
	}
}

// FileOutcome is the immutable classification of one processed item.
// Construct it with Succeeded, Partial, Failed or Skipped.
type FileOutcome struct {
	kind   OutcomeKind
	errs   []string
	err    string
	reason string
}

// Succeeded returns a Success outcome.
func Succeeded() FileOutcome {
	return FileOutcome{kind: OutcomeSuccess}
}

// Partial returns a PartialSuccess outcome carrying the engine's sub-errors.
func Partial(errs []string) FileOutcome {
	return FileOutcome{kind: OutcomePartial, errs: append([]string(nil), errs...)}
}

// Failed returns a Failed outcome.
func Failed(err string) FileOutcome {
	return FileOutcome{kind: OutcomeFailed, err: err}
}

// Skipped returns a Skipped outcome.
func Skipped(reason string) FileOutcome {
	return FileOutcome{kind: OutcomeSkipped, reason: reason}
}

// Kind returns the outcome variant.
func (o FileOutcome) Kind() OutcomeKind {
	return o.kind
}

// Errors returns a copy of the sub-errors of a PartialSuccess outcome.
func (o FileOutcome) Errors() []string {
	return append([]string(nil), o.errs...)
}

// Error returns the failure text of a Failed outcome.
func (o FileOutcome) Error() string {
	return o.err
}

// Reason returns the skip reason of a Skipped outcome.
func (o FileOutcome) Reason() string {
	return o.reason
}

// Detail renders the variant payload as a single line.
func (o FileOutcome) Detail() string {
	switch o.kind {
	case OutcomePartial:
		return strings.Join(o.errs, "; ")
	case OutcomeFailed:
		return o.err
	case OutcomeSkipped:
		return o.reason
	default:
		return ""
	}
}

// Item is one input document submitted to a run.
type Item struct {
	// Path is the location of the source document.
	Path string
	// Size is the file size in bytes as observed when the item was enumerated.
	Size int64
}

// Name returns the base file name of the item.
func (i Item) Name() string {
	return filepath.Base(i.Path)
}

// Ext returns the lowercase file extension including the leading dot.
func (i Item) Ext() string {
	return strings.ToLower(filepath.Ext(i.Path))
}

// Status is the per-item status reported by a conversion engine.
type Status string

// Engine-reported statuses.
const (
	StatusSuccess        Status = "success"
	StatusPartialSuccess Status = "partial_success"
	StatusFailure        Status = "failure"
)

// Result is what an Engine reports for one item.
type Result struct {
	Status Status
	// Errors lists the engine's error messages when Status is not StatusSuccess.
	Errors []string
	// Artifact is set for StatusSuccess and StatusPartialSuccess.
	Artifact Artifact
}

// OCROptions configures optical character recognition.
type OCROptions struct {
	Enabled   bool
	Engine    string
	Languages []string
}

// TableOptions configures table-structure recognition.
type TableOptions struct {
	Enabled bool
	Mode    string
}

// PictureDescriptionOptions configures image descriptions via an
// OpenAI-compatible chat completion API.
type PictureDescriptionOptions struct {
	Enabled        bool
	BaseURL        string
	APIKey         string
	Model          string
	Prompt         string
	TimeoutSeconds int
	MaxTokens      int
	Temperature    float64
	Seed           int
}

// Options is the immutable per-run conversion configuration handed to engines.
type Options struct {
	OCR                OCROptions
	Tables             TableOptions
	GeneratePictures   bool
	ImagesScale        float64
	PictureDescription PictureDescriptionOptions
	RemoteServices     bool
	MaxNumPages        int
	MaxFileSize        int64
	AcceleratorDevice  string
	AcceleratorThreads int
}

// Clone returns a deep copy so callers never share slices across runs.
func (o Options) Clone() Options {
	cp := o
	cp.OCR.Languages = append([]string(nil), o.OCR.Languages...)
	return cp
}
