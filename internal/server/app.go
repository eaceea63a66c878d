// Package server builds the application's dependencies and runs the HTTP
// surface.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/dockling/internal/api"
	"github.com/JakeFAU/dockling/internal/clock/system"
	"github.com/JakeFAU/dockling/internal/config"
	"github.com/JakeFAU/dockling/internal/controller"
	"github.com/JakeFAU/dockling/internal/conversion"
	"github.com/JakeFAU/dockling/internal/engine"
	"github.com/JakeFAU/dockling/internal/engine/doclingserve"
	"github.com/JakeFAU/dockling/internal/engine/passthrough"
	"github.com/JakeFAU/dockling/internal/history"
	"github.com/JakeFAU/dockling/internal/history/memory"
	"github.com/JakeFAU/dockling/internal/history/postgres"
	"github.com/JakeFAU/dockling/internal/id/uuid"
	"github.com/JakeFAU/dockling/internal/logging"
	"github.com/JakeFAU/dockling/internal/metrics"
	"github.com/JakeFAU/dockling/internal/policy/ratelimit"
	"github.com/JakeFAU/dockling/internal/progress"
	"github.com/JakeFAU/dockling/internal/progress/sinks"
	"github.com/JakeFAU/dockling/internal/publisher/pubsub"
	"github.com/JakeFAU/dockling/internal/storage/gcs"
)

// Options tune Build for the calling surface.
type Options struct {
	// Logger overrides the logger built from the config.
	Logger *zap.Logger
	// Registerer receives the run collectors. Nil uses the default registry.
	Registerer prometheus.Registerer
	// Terminal, when set, renders run events for an interactive user.
	Terminal io.Writer
	NoColor  bool
	// Engine overrides the engine built from the config.
	Engine conversion.Engine
	// ObjectWriters overrides the Cloud Storage client used for gs://
	// output directories.
	ObjectWriters gcs.Writers
	// Publisher overrides the Pub/Sub client used for run notifications.
	Publisher sinks.Publisher
}

// App contains the application's dependencies.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	history    history.Repository
	pgStore    *postgres.Store
	status     *sinks.StatusSink
	sinks      []progress.Sink
	outputs    *outputs
	controller *controller.Controller
	apiServer  *api.Server
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Logging.Development)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}
	app := &App{cfg: cfg, logger: logger}
	app.logger.Info("building application dependencies",
		zap.String("engine_kind", cfg.Engine.Kind),
		zap.String("output_dir", cfg.Paths.OutputDir),
	)

	if err := app.setupHistory(ctx); err != nil {
		return nil, err
	}
	if err := app.setupSinks(ctx, opts); err != nil {
		app.closeHistory()
		return nil, err
	}

	// The controller relays engine logs into the active run, so the engine
	// logger is wired after the controller exists.
	router := &lateEngine{}
	app.outputs = &outputs{logger: logger.Named("outputs"), writers: opts.ObjectWriters}
	app.controller = controller.New(router, controller.Config{
		PollInterval: cfg.PollInterval(),
		SinkTimeout:  cfg.SinkTimeout(),
		Clock:        system.New(),
		IDs:          uuid.New(),
		Logger:       logger,
		Outputs:      app.outputs.open,
	}, app.sinks...)

	if opts.Engine != nil {
		router.engine = opts.Engine
	} else {
		eng, err := app.setupEngine()
		if err != nil {
			app.closeHistory()
			return nil, err
		}
		router.engine = eng
	}

	app.apiServer = api.NewServer(app.controller, app.status, app.history, cfg, logger)
	return app, nil
}

func (a *App) setupHistory(ctx context.Context) error {
	if a.cfg.History.DSN == "" {
		a.logger.Info("no history DSN configured, keeping run history in memory")
		a.history = memory.New()
		return nil
	}
	store, err := postgres.New(ctx, postgres.Config{
		DSN:   a.cfg.History.DSN,
		Table: a.cfg.History.Table,
	})
	if err != nil {
		return fmt.Errorf("history store init failed: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return fmt.Errorf("history store migrate failed: %w", err)
	}
	a.pgStore = store
	a.history = store
	a.logger.Info("postgres run history initialized", zap.String("table", a.cfg.History.Table))
	return nil
}

func (a *App) setupSinks(ctx context.Context, opts Options) error {
	a.status = sinks.NewStatusSink(a.cfg.Progress.StatusLogBuffer)
	promSink, err := sinks.NewPrometheusSink(opts.Registerer)
	if err != nil {
		return fmt.Errorf("prometheus sink init failed: %w", err)
	}
	a.sinks = []progress.Sink{
		sinks.NewStoreSink(a.history, a.logger.Named("progress_store")),
		sinks.NewLogSink(a.logger.Named("progress_log")),
		promSink,
		a.status,
	}
	if opts.Terminal != nil {
		a.sinks = append(a.sinks, sinks.NewTerminalSink(opts.Terminal, opts.NoColor))
		a.logger.Debug("Added terminal sink")
	}
	pub := opts.Publisher
	if pub == nil && a.cfg.Progress.PubSubTopic != "" {
		p, err := pubsub.Open(ctx, a.cfg.Progress.PubSubProject, a.cfg.Progress.PubSubTopic)
		if err != nil {
			return fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		pub = p
	}
	if pub != nil {
		a.sinks = append(a.sinks, sinks.NewNotifySink(pub, a.logger.Named("progress_notify")))
		a.logger.Info("run notifications enabled", zap.String("topic", a.cfg.Progress.PubSubTopic))
	}
	return nil
}

func (a *App) setupEngine() (conversion.Engine, error) {
	local := passthrough.New()
	var remote conversion.Engine
	if a.cfg.Engine.Kind != engine.KindPassthrough {
		limiter := ratelimit.New(ratelimit.Config{
			DefaultRPS:   a.cfg.Engine.RPS,
			DefaultBurst: a.cfg.Engine.Burst,
			Observer:     metrics.ObserveRateLimitDelay,
		})
		engineLogger := logging.WithEvents(a.logger.Named("docling_serve"), a.controller, zapcore.WarnLevel)
		client, err := doclingserve.New(doclingserve.Config{
			BaseURL:   a.cfg.Engine.URL,
			APIKey:    a.cfg.Engine.APIKey,
			Timeout:   a.cfg.EngineTimeout(),
			Retries:   a.cfg.Engine.Retries,
			RetryWait: a.cfg.EngineRetryWait(),
			Limiter:   limiter,
			Logger:    engineLogger,
		})
		if err != nil {
			return nil, fmt.Errorf("docling-serve engine init failed: %w", err)
		}
		remote = client
		a.logger.Info("using docling-serve engine",
			zap.String("url", a.cfg.Engine.URL),
			zap.Float64("rps", a.cfg.Engine.RPS),
		)
	}
	router, err := engine.NewRouter(a.cfg.Engine.Kind, local, remote)
	if err != nil {
		return nil, fmt.Errorf("engine init failed: %w", err)
	}
	return router, nil
}

// Controller returns the run controller.
func (a *App) Controller() *controller.Controller {
	return a.controller
}

// History returns the run history store.
func (a *App) History() history.Repository {
	return a.history
}

// Status returns the live status of the most recent run.
func (a *App) Status() *sinks.StatusSink {
	return a.status
}

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Run serves the HTTP API and blocks until ctx is cancelled or a signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)
	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// Close stops any active run and releases the sinks and the history store.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.controller != nil {
		if err := a.controller.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for _, sink := range a.sinks {
		if err := sink.Close(ctx); err != nil {
			a.logger.Warn("sink close failed", zap.Error(err))
		}
	}
	if a.outputs != nil {
		a.outputs.close()
	}
	a.closeHistory()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeHistory() {
	if a.pgStore != nil {
		a.pgStore.Close()
		a.pgStore = nil
	}
}

// lateEngine lets the controller be built before the engine it drives.
type lateEngine struct {
	engine conversion.Engine
}

func (l *lateEngine) Convert(ctx context.Context, item conversion.Item, opts conversion.Options) (conversion.Result, error) {
	if l.engine == nil {
		return conversion.Result{}, errors.New("engine not configured")
	}
	return l.engine.Convert(ctx, item, opts)
}
