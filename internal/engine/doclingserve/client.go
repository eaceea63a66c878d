// Package doclingserve converts documents through a docling-serve instance
// over its synchronous file conversion endpoint.
package doclingserve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/dockling/internal/conversion"
	"github.com/JakeFAU/dockling/internal/metrics"
)

const convertPath = "/v1/convert/file"

// docling-serve document statuses.
const (
	statusSuccess        = "success"
	statusPartialSuccess = "partial_success"
)

// Waiter paces outgoing requests.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config holds client configuration.
type Config struct {
	// BaseURL is the docling-serve root, e.g. http://localhost:5001.
	BaseURL string
	// APIKey is sent as X-Api-Key when set.
	APIKey string
	// Timeout bounds one conversion request. Zero disables the client timeout.
	Timeout time.Duration
	// Retries resends a request that failed in transport or with a 5xx
	// status. RetryWait is the first backoff step.
	Retries   int
	RetryWait time.Duration
	Limiter   Waiter
	Logger  *zap.Logger
}

// Engine implements conversion.Engine against docling-serve.
type Engine struct {
	client   *resty.Client
	endpoint string
	limiter  Waiter
	logger   *zap.Logger
}

// New creates an Engine.
func New(cfg Config) (*Engine, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("docling-serve base url is required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("parse docling-serve url: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	client := resty.New()
	client.SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("X-Api-Key", cfg.APIKey)
	}
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	if cfg.Retries > 0 {
		client.SetRetryCount(cfg.Retries)
		if cfg.RetryWait > 0 {
			client.SetRetryWaitTime(cfg.RetryWait)
			client.SetRetryMaxWaitTime(8 * cfg.RetryWait)
		}
		client.AddRetryCondition(retryable)
	}

	return &Engine{
		client:   client,
		endpoint: base + convertPath,
		limiter:  cfg.Limiter,
		logger:   logger.Named("docling-serve"),
	}, nil
}

// retryable retries transport failures and 5xx responses, never a
// cancelled request.
func retryable(resp *resty.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	return resp != nil && resp.StatusCode() >= 500
}

type convertResponse struct {
	Document struct {
		Filename  string `json:"filename"`
		MDContent string `json:"md_content"`
	} `json:"document"`
	Status string `json:"status"`
	Errors []struct {
		ComponentType string `json:"component_type"`
		ModuleName    string `json:"module_name"`
		ErrorMessage  string `json:"error_message"`
	} `json:"errors"`
	ProcessingTime float64 `json:"processing_time"`
}

type pictureDescriptionAPI struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Params  map[string]any    `json:"params,omitempty"`
	Timeout float64           `json:"timeout,omitempty"`
	Prompt  string            `json:"prompt,omitempty"`
}

// Convert uploads one file and maps the reported document status. Transport
// failures and non-2xx responses are returned as errors.
func (e *Engine) Convert(ctx context.Context, item conversion.Item, opts conversion.Options) (conversion.Result, error) {
	if opts.MaxFileSize > 0 && item.Size > opts.MaxFileSize {
		return conversion.Result{
			Status: conversion.StatusFailure,
			Errors: []string{fmt.Sprintf("file size %d exceeds engine limit %d", item.Size, opts.MaxFileSize)},
		}, nil
	}
	form, err := formValues(opts)
	if err != nil {
		return conversion.Result{}, err
	}
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx, e.endpoint); err != nil {
			return conversion.Result{}, err
		}
	}

	e.logger.Info("converting document", zap.String("file", item.Name()))
	start := time.Now()
	var out convertResponse
	resp, err := e.client.R().
		SetContext(ctx).
		SetFile("files", item.Path).
		SetFormDataFromValues(form).
		SetResult(&out).
		Post(e.endpoint)
	if err != nil {
		metrics.ObserveEngineRequest(e.endpoint, "error", time.Since(start))
		return conversion.Result{}, fmt.Errorf("docling-serve request: %w", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		metrics.ObserveEngineRequest(e.endpoint, "error", time.Since(start))
		return conversion.Result{}, fmt.Errorf("docling-serve returned HTTP %d: %s",
			resp.StatusCode(), strings.TrimSpace(string(resp.Body())))
	}
	metrics.ObserveEngineRequest(e.endpoint, out.Status, time.Since(start))

	errs := make([]string, 0, len(out.Errors))
	for _, ce := range out.Errors {
		if ce.ErrorMessage != "" {
			errs = append(errs, ce.ErrorMessage)
		}
	}

	switch out.Status {
	case statusSuccess:
		e.logger.Info("document converted successfully",
			zap.String("file", item.Name()), zap.Float64("processing_seconds", out.ProcessingTime))
		return conversion.Result{
			Status:   conversion.StatusSuccess,
			Artifact: conversion.Markdown{Content: out.Document.MDContent},
		}, nil
	case statusPartialSuccess:
		e.logger.Warn("document partially converted",
			zap.String("file", item.Name()), zap.Strings("errors", errs))
		return conversion.Result{
			Status:   conversion.StatusPartialSuccess,
			Errors:   errs,
			Artifact: conversion.Markdown{Content: out.Document.MDContent},
		}, nil
	default:
		if len(errs) == 0 && out.Status != "" {
			errs = append(errs, "document status "+out.Status)
		}
		e.logger.Error("document conversion failed",
			zap.String("file", item.Name()), zap.Strings("errors", errs))
		return conversion.Result{Status: conversion.StatusFailure, Errors: errs}, nil
	}
}

func formValues(opts conversion.Options) (url.Values, error) {
	form := url.Values{}
	form.Set("to_formats", "md")
	form.Set("do_ocr", strconv.FormatBool(opts.OCR.Enabled))
	if opts.OCR.Enabled {
		engine := strings.ToLower(opts.OCR.Engine)
		if engine != "" {
			form.Set("ocr_engine", engine)
		}
		for _, lang := range ocrLanguages(engine, opts.OCR.Languages) {
			form.Add("ocr_lang", lang)
		}
	}
	form.Set("do_table_structure", strconv.FormatBool(opts.Tables.Enabled))
	if opts.Tables.Enabled && opts.Tables.Mode != "" {
		form.Set("table_mode", opts.Tables.Mode)
	}
	form.Set("include_images", strconv.FormatBool(opts.GeneratePictures))
	if opts.ImagesScale > 0 {
		form.Set("images_scale", strconv.FormatFloat(opts.ImagesScale, 'f', -1, 64))
	}
	if opts.MaxNumPages > 0 {
		form.Set("page_range", "1")
		form.Add("page_range", strconv.Itoa(opts.MaxNumPages))
	}
	form.Set("abort_on_error", "false")

	pd := opts.PictureDescription
	if pd.Enabled && pd.APIKey != "" {
		payload, err := json.Marshal(pictureDescriptionAPI{
			URL: strings.TrimRight(pd.BaseURL, "/") + "/chat/completions",
			Headers: map[string]string{
				"Authorization": "Bearer " + pd.APIKey,
				"X-Title":       "Markdown Converter",
			},
			Params: map[string]any{
				"model":                 pd.Model,
				"seed":                  pd.Seed,
				"max_completion_tokens": pd.MaxTokens,
				"temperature":           pd.Temperature,
			},
			Timeout: float64(pd.TimeoutSeconds),
			Prompt:  pd.Prompt,
		})
		if err != nil {
			return nil, fmt.Errorf("encode picture description options: %w", err)
		}
		form.Set("do_picture_description", "true")
		form.Set("picture_description_api", string(payload))
	} else {
		form.Set("do_picture_description", "false")
	}
	return form, nil
}

// ocrLanguages maps three letter codes to the two letter codes EasyOCR expects.
func ocrLanguages(engine string, langs []string) []string {
	out := make([]string, 0, len(langs))
	for _, lang := range langs {
		lang = strings.ToLower(strings.TrimSpace(lang))
		if lang == "" {
			continue
		}
		if engine == "easyocr" {
			switch lang {
			case "rus":
				lang = "ru"
			case "eng":
				lang = "en"
			}
		}
		out = append(out, lang)
	}
	return out
}
