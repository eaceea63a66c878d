package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/dockling/internal/controller"
	"github.com/JakeFAU/dockling/internal/conversion"
	"github.com/JakeFAU/dockling/internal/logging"
	"github.com/JakeFAU/dockling/internal/policy/limits"
	"github.com/JakeFAU/dockling/internal/progress"
	"github.com/JakeFAU/dockling/internal/scan"
	"github.com/JakeFAU/dockling/internal/server"
)

type convertOptions struct {
	inputDir        string
	outputDir       string
	noColor         bool
	continueOnError bool
	maxFiles        int
}

// interrupts is replaced in tests to deliver signals without the OS.
var interrupts = func() (<-chan os.Signal, func()) {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	return ch, func() { signal.Stop(ch) }
}

func newConvertCmd() *cobra.Command {
	opts := &convertOptions{}
	cmd := &cobra.Command{
		Use:   "convert [files...]",
		Short: "Convert documents to Markdown",
		Long: `Converts every supported document in the input directory, or the files
given as arguments, and writes one Markdown file per document to the output
directory. Press Ctrl+C once to stop after the current file, twice to abort.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd, opts, args)
		},
	}
	cmd.Flags().StringVarP(&opts.inputDir, "input", "i", "", "input directory (default from INPUT_DIR)")
	cmd.Flags().StringVarP(&opts.outputDir, "output", "o", "", "output directory or gs://bucket/prefix (default from OUTPUT_DIR)")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "disable colored output")
	cmd.Flags().BoolVar(&opts.continueOnError, "continue-on-error", true, "keep converting after a failed file")
	cmd.Flags().IntVar(&opts.maxFiles, "max-files", 0, "convert at most this many files (0 = no limit)")
	return cmd
}

func runConvert(cmd *cobra.Command, opts *convertOptions, args []string) error {
	cfg, err := resolveConfig(cmd.Context())
	if err != nil {
		return err
	}
	if opts.inputDir != "" && len(args) > 0 {
		return errors.New("--input and file arguments are mutually exclusive")
	}
	var items []conversion.Item
	if len(args) > 0 {
		items, err = scan.Files(args)
	} else {
		inputDir := opts.inputDir
		if inputDir == "" {
			inputDir = cfg.Paths.InputDir
		}
		items, err = scan.Dir(inputDir)
	}
	if err != nil {
		return fmt.Errorf("collect input: %w", err)
	}

	runOpts := cfg.RunOptions(opts.outputDir)
	if cmd.Flags().Changed("continue-on-error") {
		runOpts.ContinueOnError = opts.continueOnError
	}
	maxFiles := cfg.Conversion.MaxFiles
	if cmd.Flags().Changed("max-files") {
		maxFiles = opts.maxFiles
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("logger init failed: %w", err)
	}
	// The terminal sink already renders run events.
	logger = logger.WithOptions(zap.IncreaseLevel(zapcore.WarnLevel))

	app, err := newApp(cmd.Context(), cfg, server.Options{
		Logger:     logger,
		Registerer: prometheus.NewRegistry(),
		Terminal:   cmd.OutOrStdout(),
		NoColor:    opts.noColor,
	})
	if err != nil {
		return fmt.Errorf("initialize application services: %w", err)
	}

	ctrl := app.Controller()
	handle, err := ctrl.Start(cmd.Context(), controller.Request{
		Items:   items,
		Options: runOpts,
		Policy:  limits.New(cfg.Conversion.MaxFileSize, maxFiles),
	})
	if err != nil {
		_ = app.Close(cmd.Context())
		return fmt.Errorf("start conversion: %w", err)
	}

	abortCtx, abort := context.WithCancel(cmd.Context())
	defer abort()
	sigs, stopSignals := interrupts()
	defer stopSignals()
	go watchInterrupts(abortCtx, sigs, ctrl, handle, abort, cmd.ErrOrStderr(), opts.noColor)

	terminal, waitErr := ctrl.Wait(abortCtx)
	if closeErr := app.Close(abortCtx); closeErr != nil && !errors.Is(closeErr, context.Canceled) {
		logger.Warn("shutdown incomplete", zap.Error(closeErr))
	}
	if waitErr != nil {
		if errors.Is(waitErr, context.Canceled) {
			return errors.New("conversion aborted")
		}
		return fmt.Errorf("wait for conversion: %w", waitErr)
	}
	if evt, ok := terminal.(progress.ErrorEvent); ok {
		return errors.New(evt.Message)
	}
	return nil
}

// watchInterrupts maps the first signal to a graceful stop and the second to
// an abort. It returns when ctx is done.
func watchInterrupts(
	ctx context.Context,
	sigs <-chan os.Signal,
	ctrl *controller.Controller,
	handle controller.Handle,
	abort context.CancelFunc,
	out io.Writer,
	noColor bool,
) {
	warn := color.New(color.FgYellow)
	if noColor {
		warn.DisableColor()
	}
	select {
	case <-sigs:
	case <-ctx.Done():
		return
	}
	if err := ctrl.RequestStop(handle.ID); err != nil {
		return
	}
	_, _ = warn.Fprintln(out, "Stopping after the current file. Press Ctrl+C again to abort.")
	select {
	case <-sigs:
		_, _ = warn.Fprintln(out, "Aborting.")
		abort()
	case <-ctx.Done():
	}
}
