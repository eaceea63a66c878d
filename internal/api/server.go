package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/dockling/internal/config"
	"github.com/JakeFAU/dockling/internal/controller"
	"github.com/JakeFAU/dockling/internal/conversion"
	"github.com/JakeFAU/dockling/internal/history"
	"github.com/JakeFAU/dockling/internal/metrics"
	"github.com/JakeFAU/dockling/internal/policy/limits"
	"github.com/JakeFAU/dockling/internal/progress/sinks"
	"github.com/JakeFAU/dockling/internal/scan"
)

// Runner starts and stops conversion runs.
type Runner interface {
	Start(ctx context.Context, req controller.Request) (controller.Handle, error)
	RequestStop(id uuid.UUID) error
	IsRunning() bool
}

// StatusReader reports the live state of the most recent run.
type StatusReader interface {
	Current() (sinks.RunStatus, bool)
}

// Server wires HTTP handlers to the run controller and the history store.
type Server struct {
	router  chi.Router
	runner  Runner
	status  StatusReader
	history history.Repository
	cfg     config.Config
	logger  *zap.Logger
	timeout time.Duration
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	runner Runner,
	status StatusReader,
	repo history.Repository,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runner:  runner,
		status:  status,
		history: repo,
		cfg:     cfg,
		logger:  logger.Named("api"),
		timeout: historyTimeout,
	}
	requestTimeout := cfg.RequestTimeout()
	if requestTimeout <= 0 {
		requestTimeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Server.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.Server.APIKey))
		}
		r.Route("/runs", func(r chi.Router) {
			r.Post("/", s.startRun)
			r.Get("/", s.listRuns)
			r.Get("/current", s.currentRun)
			r.Route("/{run_id}", func(r chi.Router) {
				r.Get("/", s.getRun)
				r.Post("/stop", s.stopRun)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ready",
		"running": s.runner.IsRunning(),
	})
}

type startRunRequest struct {
	InputDir        string   `json:"input_dir"`
	Files           []string `json:"files"`
	OutputDir       string   `json:"output_dir"`
	ContinueOnError *bool    `json:"continue_on_error"`
	MaxFiles        *int     `json:"max_files"`
}

func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	runReq, err := s.toRunRequest(req)
	if err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, errOutsideRoot) {
			code = http.StatusForbidden
		}
		writeError(w, code, err.Error())
		return
	}
	handle, err := s.runner.Start(r.Context(), runReq)
	if err != nil {
		if errors.Is(err, controller.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.logger.Error("start run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start run")
		return
	}
	writeJSON(w, http.StatusAccepted, handle)
}

func (s *Server) toRunRequest(req startRunRequest) (controller.Request, error) {
	if req.InputDir != "" && len(req.Files) > 0 {
		return controller.Request{}, errors.New("input_dir and files are mutually exclusive")
	}
	// Request paths stay below the configured input and output roots.
	outputDir, err := confine(s.cfg.Paths.OutputDir, req.OutputDir)
	if err != nil {
		return controller.Request{}, err
	}
	var items []conversion.Item
	if len(req.Files) > 0 {
		files, confineErr := confineAll(s.cfg.Paths.InputDir, req.Files)
		if confineErr != nil {
			return controller.Request{}, confineErr
		}
		items, err = scan.Files(files)
	} else {
		inputDir, confineErr := confine(s.cfg.Paths.InputDir, req.InputDir)
		if confineErr != nil {
			return controller.Request{}, confineErr
		}
		items, err = scan.Dir(inputDir)
	}
	if err != nil {
		return controller.Request{}, fmt.Errorf("collect input: %w", err)
	}

	opts := s.cfg.RunOptions(outputDir)
	opts.ContinueOnError = valueOrDefault(req.ContinueOnError, opts.ContinueOnError)
	maxFiles := valueOrDefault(req.MaxFiles, s.cfg.Conversion.MaxFiles)
	if maxFiles < 0 {
		return controller.Request{}, errors.New("max_files must be >= 0")
	}
	return controller.Request{
		Items:   items,
		Options: opts,
		Policy:  limits.New(s.cfg.Conversion.MaxFileSize, maxFiles),
	}, nil
}

func (s *Server) stopRun(w http.ResponseWriter, r *http.Request) {
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.runner.RequestStop(runID); err != nil {
		switch {
		case errors.Is(err, controller.ErrUnknownRun):
			writeError(w, http.StatusNotFound, "run not found")
		case errors.Is(err, controller.ErrNotRunning):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID.String(), "status": "stopping"})
}

func (s *Server) currentRun(w http.ResponseWriter, _ *http.Request) {
	if s.status == nil {
		writeError(w, http.StatusServiceUnavailable, "run status unavailable")
		return
	}
	current, ok := s.status.Current()
	if !ok {
		writeError(w, http.StatusNotFound, "no run has been started")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": current})
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("request_id", reqID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
