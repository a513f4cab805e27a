package analyzer

import (
	"context"
	"sync/atomic"
)

// ProgressFunc is called to report progress. stage names the running stage,
// current is the number of items processed, total is the total count and
// item is the item that just finished.
type ProgressFunc func(stage string, current, total int, item string)

// Tracker tracks progress for one stage.
// It is safe for concurrent use from multiple goroutines.
type Tracker struct {
	stage    string
	total    atomic.Int32
	current  atomic.Int32
	callback ProgressFunc
}

// NewTracker creates a tracker for stage. The callback is invoked on each Tick.
func NewTracker(stage string, callback ProgressFunc) *Tracker {
	return &Tracker{stage: stage, callback: callback}
}

// Stage returns the stage this tracker reports for.
func (t *Tracker) Stage() string { return t.stage }

// Add increments the total count by n.
func (t *Tracker) Add(n int) {
	t.total.Add(int32(n))
}

// Tick marks one item as completed.
func (t *Tracker) Tick(item string) {
	current := int(t.current.Add(1))
	if t.callback != nil {
		t.callback(t.stage, current, int(t.total.Load()), item)
	}
}

// Current returns the current progress count.
func (t *Tracker) Current() int {
	return int(t.current.Load())
}

// Total returns the total count.
func (t *Tracker) Total() int {
	return int(t.total.Load())
}

type trackerKey struct{}

// WithTracker returns a context that carries a progress tracker.
func WithTracker(ctx context.Context, t *Tracker) context.Context {
	return context.WithValue(ctx, trackerKey{}, t)
}

// TrackerFromContext extracts the progress tracker from the context.
// Returns nil if no tracker was set.
func TrackerFromContext(ctx context.Context) *Tracker {
	if t, ok := ctx.Value(trackerKey{}).(*Tracker); ok {
		return t
	}
	return nil
}
