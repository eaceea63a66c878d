package sinks

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/JakeFAU/dockling/internal/progress"
)

// TerminalSink renders a run on a terminal: colored log lines above a
// progress bar that tracks the run percentage.
type TerminalSink struct {
	mu      sync.Mutex
	out     io.Writer
	noColor bool
	bar     *progressbar.ProgressBar

	success *color.Color
	warning *color.Color
	failure *color.Color
	info    *color.Color
	dim     *color.Color
}

// NewTerminalSink writes to out. With noColor set, no ANSI codes are emitted.
func NewTerminalSink(out io.Writer, noColor bool) *TerminalSink {
	s := &TerminalSink{
		out:     out,
		noColor: noColor,
		success: color.New(color.FgGreen),
		warning: color.New(color.FgYellow),
		failure: color.New(color.FgRed),
		info:    color.New(color.FgCyan),
		dim:     color.New(color.Faint),
	}
	for _, c := range []*color.Color{s.success, s.warning, s.failure, s.info, s.dim} {
		if noColor {
			c.DisableColor()
		} else {
			c.EnableColor()
		}
	}
	return s
}

// Consume renders each event in order.
func (s *TerminalSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		switch e := evt.(type) {
		case progress.LogEvent:
			s.line(s.colorFor(e.Emoji, e.Level), e.Emoji, e.Text)
		case progress.ProgressEvent:
			s.progress(e)
		case progress.StatsEvent:
			st := e.Stats.Stats
			if s.bar != nil {
				s.bar.Describe(fmt.Sprintf("%s%d %s%d %s%d %s%d",
					progress.EmojiSuccess, st.Success,
					progress.EmojiWarning, st.Partial,
					progress.EmojiError, st.Failed,
					progress.EmojiSkipped, st.Skipped))
			}
		case progress.CompleteEvent:
			s.finishBar()
			f := e.Final
			headline, emoji, c := "Conversion completed", progress.EmojiSuccess, s.success
			if f.Cancelled {
				headline, emoji, c = "Conversion stopped", progress.EmojiWarning, s.warning
			}
			s.line(c, emoji, fmt.Sprintf(
				"%s! Processed %d of %d files in %s: %s%d %s%d %s%d %s%d (%.1f%% success)",
				headline, f.TotalProcessed, f.Total, f.ElapsedText,
				progress.EmojiSuccess, f.Stats.Success,
				progress.EmojiWarning, f.Stats.Partial,
				progress.EmojiError, f.Stats.Failed,
				progress.EmojiSkipped, f.Stats.Skipped,
				f.SuccessRate))
		case progress.ErrorEvent:
			s.finishBar()
			s.line(s.failure, progress.EmojiError, e.Message)
		}
	}
	return nil
}

func (s *TerminalSink) progress(e progress.ProgressEvent) {
	if s.bar == nil {
		s.bar = progressbar.NewOptions(100,
			progressbar.OptionSetWriter(s.out),
			progressbar.OptionSetWidth(30),
			progressbar.OptionEnableColorCodes(!s.noColor),
			progressbar.OptionSetPredictTime(false),
			progressbar.OptionSetRenderBlankState(true),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "█",
				SaucerHead:    "█",
				SaucerPadding: "░",
				BarStart:      "│",
				BarEnd:        "│",
			}),
		)
	}
	snap := e.Snapshot
	if snap.Filename != "" {
		s.bar.Describe(fmt.Sprintf("[%d/%d] %s ETA %s", snap.Current, snap.Total, snap.Filename, snap.ETAText))
	}
	_ = s.bar.Set(snap.Percentage)
}

func (s *TerminalSink) finishBar() {
	if s.bar == nil {
		return
	}
	_ = s.bar.Finish()
	fmt.Fprintln(s.out)
	s.bar = nil
}

func (s *TerminalSink) line(c *color.Color, emoji, text string) {
	if s.bar != nil {
		_ = s.bar.Clear()
	}
	_, _ = c.Fprintf(s.out, "%s %s\n", emoji, text)
}

func (s *TerminalSink) colorFor(emoji string, level progress.Level) *color.Color {
	switch emoji {
	case progress.EmojiSuccess:
		return s.success
	case progress.EmojiWarning, progress.EmojiSkipped:
		return s.warning
	case progress.EmojiError:
		return s.failure
	}
	switch level {
	case progress.LevelError:
		return s.failure
	case progress.LevelWarn:
		return s.warning
	case progress.LevelDebug:
		return s.dim
	default:
		return s.info
	}
}

// Close finishes any bar still on screen.
func (s *TerminalSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishBar()
	return nil
}
