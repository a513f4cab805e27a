// Package progress renders progress bars on stderr for long runs.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/panbanda/spectrometer/pkg/analyzer"
)

// Tracker wraps a progress bar for file processing.
type Tracker struct {
	bar   *progressbar.ProgressBar
	label string
	out   io.Writer
}

// NewSpinner creates a spinner for operations with unknown total count.
func NewSpinner(label string) *Tracker {
	return newSpinner(os.Stderr, label)
}

func newSpinner(w io.Writer, label string) *Tracker {
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetWidth(20),
		progressbar.OptionSetDescription(label),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionClearOnFinish(),
	)
	return &Tracker{bar: bar, label: label, out: w}
}

// NewTracker creates a progress bar with the given label and total count.
func NewTracker(label string, total int) *Tracker {
	return newTracker(os.Stderr, label, total)
}

func newTracker(w io.Writer, label string, total int) *Tracker {
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionSetDescription(label),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionSetElapsedTime(false),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
	return &Tracker{bar: bar, label: label, out: w}
}

// Tick increments the progress by 1. Safe for concurrent use.
func (t *Tracker) Tick() {
	t.bar.Add(1)
}

// FinishSuccess clears the bar completely (no output).
func (t *Tracker) FinishSuccess() {
	t.bar.Finish()
	t.bar.Clear()
}

// FinishSkipped clears the bar and prints a skip message.
func (t *Tracker) FinishSkipped(reason string) {
	t.bar.Finish()
	t.bar.Clear()
	fmt.Fprintf(t.out, "  %s skipped (%s)\n", t.label, reason)
}

// FinishError clears the bar and prints an error message.
func (t *Tracker) FinishError(err error) {
	t.bar.Finish()
	t.bar.Clear()
	fmt.Fprintf(t.out, "  %s error: %v\n", t.label, err)
}

// Stages shows one bar per pipeline stage. Its Callback feeds
// analyzer.Tracker ticks into the bar of the stage that produced them.
type Stages struct {
	mu   sync.Mutex
	out  io.Writer
	bars map[string]*Tracker
}

// NewStages creates a stage reporter writing to w; nil means stderr.
func NewStages(w io.Writer) *Stages {
	if w == nil {
		w = os.Stderr
	}
	return &Stages{out: w, bars: make(map[string]*Tracker)}
}

// Callback returns the function to pass to analyzer.NewTracker.
func (s *Stages) Callback() analyzer.ProgressFunc {
	return func(stage string, current, total int, _ string) {
		s.mu.Lock()
		bar, ok := s.bars[stage]
		if !ok {
			bar = newTracker(s.out, stage, total)
			s.bars[stage] = bar
		}
		s.mu.Unlock()
		if total > 0 && bar.bar.GetMax() != total {
			bar.bar.ChangeMax(total)
		}
		bar.Tick()
	}
}

// Finish clears the bar for stage, reporting err when it is non-nil.
func (s *Stages) Finish(stage string, err error) {
	s.mu.Lock()
	bar, ok := s.bars[stage]
	delete(s.bars, stage)
	s.mu.Unlock()
	if !ok {
		return
	}
	if err != nil {
		bar.FinishError(err)
		return
	}
	bar.FinishSuccess()
}
