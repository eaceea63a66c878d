// Package worker implements the job driver: the sequential loop that filters
// a run's items, submits each survivor to the conversion engine, maps the
// results onto outcomes and reports everything through a progress.Emitter.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/dockling/internal/conversion"
	"github.com/JakeFAU/dockling/internal/progress"
	"github.com/JakeFAU/dockling/internal/storage/local"
	"github.com/JakeFAU/dockling/internal/tracker"
)

// ErrEngineCrashed wraps a panic raised inside an engine call.
var ErrEngineCrashed = errors.New("conversion engine crashed")

// Options is the immutable configuration a run is started with.
type Options struct {
	// OutputDir receives one Markdown file per converted item.
	OutputDir string
	// ContinueOnError keeps the loop going after a failed item.
	ContinueOnError bool
	// Conversion is handed to the engine for every item.
	Conversion conversion.Options
	// Outputs opens OutputDir at run start. Nil writes to the local filesystem.
	Outputs OutputOpener
}

// Output persists converted documents under the names the driver picks.
type Output interface {
	// Save stores artifact as name and returns where it landed.
	Save(ctx context.Context, name string, artifact conversion.Artifact) (string, error)
}

// OutputOpener prepares the destination dir for one run.
type OutputOpener func(ctx context.Context, dir string) (Output, error)

type localOutput struct {
	store *local.Store
}

// LocalOutput creates dir if needed and writes documents below it.
func LocalOutput(_ context.Context, dir string) (Output, error) {
	store, err := local.New(local.Config{BaseDir: dir})
	if err != nil {
		return nil, err
	}
	return localOutput{store: store}, nil
}

func (o localOutput) Save(ctx context.Context, name string, artifact conversion.Artifact) (string, error) {
	path, err := o.store.Path(name)
	if err != nil {
		return "", err
	}
	if err := artifact.Save(ctx, path); err != nil {
		return "", err
	}
	return path, nil
}

// SkipPolicy decides which items never reach the engine.
type SkipPolicy interface {
	Skip(item conversion.Item, position int) (bool, string)
}

// Driver runs one batch. It is single use: build a new one per run.
type Driver struct {
	engine  conversion.Engine
	tracker *tracker.Tracker
	emitter progress.Emitter
	policy  SkipPolicy
	signal  *Signal
	opts    Options
	logger  *zap.Logger
}

// New constructs a Driver. The tracker must already be reset to the run
// size; policy and logger may be nil.
func New(
	engine conversion.Engine,
	tr *tracker.Tracker,
	emitter progress.Emitter,
	policy SkipPolicy,
	signal *Signal,
	opts Options,
	logger *zap.Logger,
) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if signal == nil {
		signal = NewSignal()
	}
	opts.Conversion = opts.Conversion.Clone()
	return &Driver{
		engine:  engine,
		tracker: tr,
		emitter: emitter,
		policy:  policy,
		signal:  signal,
		opts:    opts,
		logger:  logger,
	}
}

type pending struct {
	item  conversion.Item
	index int
}

// Run processes items in order and always ends the stream with exactly one
// CompleteEvent or ErrorEvent. It never panics.
func (d *Driver) Run(ctx context.Context, items []conversion.Item) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("job driver panic", zap.Any("panic", r))
			d.emitter.Emit(progress.ErrorEvent{Message: fmt.Sprintf("Critical error: %v", r)})
		}
	}()

	total := len(items)
	d.emitter.Emit(progress.Log(progress.LevelInfo, progress.EmojiInfo,
		fmt.Sprintf("Starting conversion of %d files...", total)))
	if total == 0 {
		d.complete(false)
		return
	}

	open := d.opts.Outputs
	if open == nil {
		open = LocalOutput
	}
	out, err := open(ctx, d.opts.OutputDir)
	if err != nil {
		d.logger.Error("prepare output directory failed", zap.String("dir", d.opts.OutputDir), zap.Error(err))
		d.emitter.Emit(progress.ErrorEvent{Message: fmt.Sprintf("Cannot prepare output directory %s: %v", d.opts.OutputDir, err)})
		return
	}

	survivors := make([]pending, 0, total)
	for i, item := range items {
		index := i + 1
		if d.policy != nil {
			if skip, reason := d.policy.Skip(item, index); skip {
				d.logger.Debug("item skipped", zap.String("file", item.Name()), zap.String("reason", reason))
				// No EndItem: skipped items carry no duration.
				d.tracker.StartItem(item.Name(), index)
				d.report(item, conversion.Skipped(reason), "")
				continue
			}
		}
		survivors = append(survivors, pending{item: item, index: index})
	}

	names := newNameAllocator()
	for _, p := range survivors {
		if d.stopRequested(ctx) {
			d.emitter.Emit(progress.Log(progress.LevelWarn, progress.EmojiWarning, "Stopped at user request"))
			d.complete(true)
			return
		}
		if !d.process(ctx, out, names, p) {
			return
		}
	}
	d.complete(false)
}

// process handles one item and reports whether the loop may continue.
func (d *Driver) process(ctx context.Context, out Output, names *nameAllocator, p pending) bool {
	name := p.item.Name()
	d.tracker.StartItem(name, p.index)
	d.logger.Debug("converting item", zap.Int("index", p.index), zap.String("file", name))

	res, err := d.convert(ctx, p.item)
	// An engine error is outside the result protocol: without
	// continue-on-error it ends the run with no events for this item.
	if err != nil && !d.opts.ContinueOnError {
		d.tracker.EndItem(p.index)
		d.record(conversion.OutcomeFailed)
		d.logger.Error("engine call failed", zap.String("file", name), zap.Error(err))
		d.emitter.Emit(progress.ErrorEvent{Message: fmt.Sprintf("Critical error while converting %s: %v", name, err)})
		return false
	}

	var (
		outcome    conversion.FileOutcome
		outputName string
	)
	if err != nil {
		outcome = conversion.Failed(fmt.Sprintf("Conversion error %s: %v", name, err))
	} else {
		outcome, outputName = d.mapResult(ctx, out, names, p.item, res)
	}
	d.tracker.EndItem(p.index)
	d.report(p.item, outcome, outputName)

	if outcome.Kind() == conversion.OutcomeFailed && !d.opts.ContinueOnError {
		d.emitter.Emit(progress.ErrorEvent{Message: fmt.Sprintf("Conversion aborted after %s failed: %s", name, outcome.Error())})
		return false
	}
	return true
}

func (d *Driver) convert(ctx context.Context, item conversion.Item) (res conversion.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrEngineCrashed, r)
		}
	}()
	if d.engine == nil {
		return conversion.Result{}, errors.New("no conversion engine configured")
	}
	return d.engine.Convert(ctx, item, d.opts.Conversion.Clone())
}

func (d *Driver) mapResult(
	ctx context.Context,
	out Output,
	names *nameAllocator,
	item conversion.Item,
	res conversion.Result,
) (conversion.FileOutcome, string) {
	name := item.Name()
	switch res.Status {
	case conversion.StatusSuccess, conversion.StatusPartialSuccess:
		outputName := names.next(item)
		if err := d.save(ctx, out, outputName, res.Artifact); err != nil {
			d.logger.Warn("save failed", zap.String("file", name), zap.Error(err))
			return conversion.Failed(fmt.Sprintf("Save error %s: %v", name, err)), outputName
		}
		if res.Status == conversion.StatusSuccess {
			return conversion.Succeeded(), outputName
		}
		return conversion.Partial(res.Errors), outputName
	default:
		msg := "Unknown error"
		if len(res.Errors) > 0 {
			msg = strings.Join(res.Errors, "; ")
		}
		return conversion.Failed(fmt.Sprintf("Conversion error %s: %s", name, msg)), ""
	}
}

func (d *Driver) save(ctx context.Context, out Output, outputName string, artifact conversion.Artifact) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("artifact save panicked: %v", r)
		}
	}()
	if artifact == nil {
		return errors.New("engine returned no document")
	}
	location, err := out.Save(ctx, outputName, artifact)
	if err != nil {
		return err
	}
	d.logger.Debug("document saved", zap.String("location", location))
	return nil
}

// report records outcome and emits the Log, Progress and Stats triple.
func (d *Driver) report(item conversion.Item, outcome conversion.FileOutcome, outputName string) {
	d.record(outcome.Kind())
	d.emitter.Emit(outcomeLog(item, outcome, outputName))
	d.emitter.Emit(progress.ProgressEvent{Snapshot: d.tracker.ToProgressSnapshot()})
	d.emitter.Emit(progress.StatsEvent{Stats: d.tracker.ToStatsSnapshot()})
}

func (d *Driver) record(kind conversion.OutcomeKind) {
	if err := d.tracker.RecordOutcome(kind); err != nil {
		d.logger.Warn("record outcome failed", zap.String("kind", string(kind)), zap.Error(err))
	}
}

func (d *Driver) complete(cancelled bool) {
	final := d.tracker.ToCompleteSnapshot(cancelled)
	st := final.Stats
	d.emitter.Emit(progress.Log(progress.LevelInfo, progress.EmojiSuccess, fmt.Sprintf(
		"Conversion completed! Processed %d files: %s%d %s%d %s%d %s%d",
		final.TotalProcessed,
		progress.EmojiSuccess, st.Success,
		progress.EmojiWarning, st.Partial,
		progress.EmojiError, st.Failed,
		progress.EmojiSkipped, st.Skipped)))
	d.emitter.Emit(progress.CompleteEvent{Final: final})
}

func (d *Driver) stopRequested(ctx context.Context) bool {
	return d.signal.Requested() || ctx.Err() != nil
}

func outcomeLog(item conversion.Item, outcome conversion.FileOutcome, outputName string) progress.LogEvent {
	switch outcome.Kind() {
	case conversion.OutcomeSuccess:
		return progress.Log(progress.LevelInfo, progress.EmojiSuccess, "Successfully saved: "+outputName)
	case conversion.OutcomePartial:
		text := "Partial success: " + outputName
		if errs := outcome.Errors(); len(errs) > 0 {
			text += " (" + strings.Join(errs, "; ") + ")"
		}
		return progress.Log(progress.LevelWarn, progress.EmojiWarning, text)
	case conversion.OutcomeSkipped:
		return progress.Log(progress.LevelWarn, progress.EmojiSkipped,
			fmt.Sprintf("Skipped %s: %s", item.Name(), outcome.Reason()))
	default:
		return progress.Log(progress.LevelError, progress.EmojiError, outcome.Error())
	}
}
