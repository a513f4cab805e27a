// Package pipeline runs ordered analysis stages over a shared state and
// records what each stage did: status, latency, memory and size deltas.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("spectrometer.pipeline")
	meter  = otel.Meter("spectrometer.pipeline")
)

var (
	// ErrStageNotFound is returned by RunStage for an unknown stage name.
	ErrStageNotFound = errors.New("stage not found")
	// ErrDuplicateStage is returned by New when two stages share a name.
	ErrDuplicateStage = errors.New("duplicate stage name")
	// ErrStagePanic wraps a panic recovered from a stage.
	ErrStagePanic = errors.New("stage panicked")
	// ErrStageTimeout is returned when a stage exceeds its timeout.
	ErrStageTimeout = errors.New("stage timed out")
)

// Option configures a Pipeline.
type Option func(*settings)

type settings struct {
	logger       *slog.Logger
	timeout      time.Duration
	onStageStart func(name string)
	onStageEnd   func(StageResult)
	now          func() time.Time
	heap         func() uint64
	sampleEvery  time.Duration
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStageTimeout bounds each stage's execution. Zero disables it.
func WithStageTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.timeout = d
	}
}

// OnStageStart registers a hook called before each stage runs.
func OnStageStart(fn func(name string)) Option {
	return func(s *settings) {
		s.onStageStart = fn
	}
}

// OnStageEnd registers a hook called with each stage result.
func OnStageEnd(fn func(StageResult)) Option {
	return func(s *settings) {
		s.onStageEnd = fn
	}
}

// WithClock overrides the time source for recorded timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		s.now = now
	}
}

// WithMemorySampling sets how often heap usage is sampled while a stage
// runs. Zero samples only at stage boundaries.
func WithMemorySampling(d time.Duration) Option {
	return func(s *settings) {
		s.sampleEvery = d
	}
}

func heapAlloc() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.HeapAlloc
}

// Pipeline is an ordered list of stages over state S. A Pipeline is safe
// for concurrent runs as long as the stages are.
type Pipeline[S any] struct {
	stages  []Stage[S]
	index   map[string]int
	counter Counter[S]
	settings

	metricsOnce  sync.Once
	stageLatency metric.Float64Histogram
	runLatency   metric.Float64Histogram
	stageStatus  metric.Int64Counter
}

// New builds a pipeline. counter may be nil, in which case before/after
// counts are zero.
func New[S any](stages []Stage[S], counter Counter[S], opts ...Option) (*Pipeline[S], error) {
	p := &Pipeline[S]{
		stages:  stages,
		index:   make(map[string]int, len(stages)),
		counter: counter,
		settings: settings{
			logger: slog.Default(),
			now:         time.Now,
			heap:        heapAlloc,
			sampleEvery: 25 * time.Millisecond,
		},
	}
	for _, opt := range opts {
		opt(&p.settings)
	}
	for i, st := range stages {
		if st == nil {
			return nil, fmt.Errorf("stage %d is nil", i)
		}
		if _, dup := p.index[st.Name()]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateStage, st.Name())
		}
		p.index[st.Name()] = i
	}
	return p, nil
}

// Stages lists the stage names in execution order.
func (p *Pipeline[S]) Stages() []string {
	names := make([]string, len(p.stages))
	for i, st := range p.stages {
		names[i] = st.Name()
	}
	return names
}

func (p *Pipeline[S]) initMetrics() {
	p.metricsOnce.Do(func() {
		var initErrors []string
		var err error
		p.stageLatency, err = meter.Float64Histogram("pipeline_stage_duration_seconds",
			metric.WithDescription("Time spent executing each pipeline stage"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "stage_latency: "+err.Error())
		}
		p.runLatency, err = meter.Float64Histogram("pipeline_run_duration_seconds",
			metric.WithDescription("Total pipeline run time"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "run_latency: "+err.Error())
		}
		p.stageStatus, err = meter.Int64Counter("pipeline_stage_status_total",
			metric.WithDescription("Stage executions by status"),
		)
		if err != nil {
			initErrors = append(initErrors, "stage_status: "+err.Error())
		}
		if len(initErrors) > 0 {
			p.logger.Error("failed to initialize pipeline metrics (observability degraded)",
				slog.Any("errors", initErrors),
			)
		}
	})
}

// Run executes every stage in order and returns the final state with the
// run snapshot. A failing stage leaves the state unchanged and the run
// continues. Cancellation stops the run between stages; the remaining
// stages are recorded as SKIP.
func (p *Pipeline[S]) Run(ctx context.Context, state S) (S, *Snapshot) {
	p.initMetrics()
	runID := uuid.NewString()

	ctx, span := tracer.Start(ctx, "pipeline.Run",
		trace.WithAttributes(
			attribute.String("pipeline.run_id", runID),
			attribute.Int("pipeline.stage_count", len(p.stages)),
		),
	)
	defer span.End()

	snap := &Snapshot{StartedAt: p.now().UTC()}
	start := time.Now()
	peak := p.heap()

	p.logger.Info("pipeline started",
		slog.String("run_id", runID),
		slog.Int("stages", len(p.stages)),
	)

	for _, st := range p.stages {
		if err := ctx.Err(); err != nil {
			res := p.skipped(st.Name(), "cancelled: "+err.Error())
			p.finish(ctx, runID, res)
			snap.Stages = append(snap.Stages, res)
			continue
		}
		var res StageResult
		state, res = p.execute(ctx, runID, st, state)
		if h := uint64(res.PeakMemoryKB * 1024); h > peak {
			peak = h
		}
		if h := p.heap(); h > peak {
			peak = h
		}
		snap.Stages = append(snap.Stages, res)
	}

	duration := time.Since(start)
	snap.CompletedAt = p.now().UTC()
	snap.summarize(runID, float64(peak)/1024)

	if p.runLatency != nil {
		p.runLatency.Record(ctx, duration.Seconds())
	}
	if snap.Failed() {
		span.SetStatus(codes.Error, fmt.Sprintf("%d stage(s) failed", snap.Summary.FailCount))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	p.logger.Info("pipeline completed",
		slog.String("run_id", runID),
		slog.Duration("duration", duration),
		slog.Int("ok", snap.Summary.OKCount),
		slog.Int("fail", snap.Summary.FailCount),
		slog.Int("warn", snap.Summary.WarnCount),
		slog.Int("skip", snap.Summary.SkipCount),
	)
	return state, snap
}

// RunStage executes a single named stage with the same bookkeeping as Run.
func (p *Pipeline[S]) RunStage(ctx context.Context, name string, state S) (S, StageResult, error) {
	i, ok := p.index[name]
	if !ok {
		return state, StageResult{}, fmt.Errorf("%w: %s", ErrStageNotFound, name)
	}
	p.initMetrics()
	next, res := p.execute(ctx, uuid.NewString(), p.stages[i], state)
	return next, res, nil
}

func (p *Pipeline[S]) skipped(name, reason string) StageResult {
	now := p.now().UTC()
	return StageResult{
		StageName:   name,
		Status:      StatusSkip,
		Error:       reason,
		StartedAt:   now,
		CompletedAt: now,
	}
}

func (p *Pipeline[S]) counts(state S) Counts {
	if p.counter == nil {
		return nil
	}
	return p.counter(state)
}

// execute runs one stage. It never panics and never returns a partial
// state from a failed stage.
func (p *Pipeline[S]) execute(ctx context.Context, runID string, st Stage[S], state S) (S, StageResult) {
	name := st.Name()
	ctx, span := tracer.Start(ctx, name,
		trace.WithAttributes(
			attribute.String("pipeline.stage", name),
			attribute.String("pipeline.run_id", runID),
		),
	)
	defer span.End()

	if p.onStageStart != nil {
		p.onStageStart(name)
	}

	ok, err := safeValidate(st, state)
	if err != nil {
		res := p.failed(name, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.finish(ctx, runID, res)
		return state, res
	}
	if !ok {
		res := p.skipped(name, "input validation failed")
		p.finish(ctx, runID, res)
		return state, res
	}

	before := p.counts(state)
	memBefore := p.heap()
	res := StageResult{StageName: name, Status: StatusOK, StartedAt: p.now().UTC()}
	stopSampling := p.sampleHeap()
	start := time.Now()

	stageCtx := ctx
	cancel := func() {}
	if p.timeout > 0 {
		stageCtx, cancel = context.WithTimeout(ctx, p.timeout)
	}
	next, summary, err := safeExecute(stageCtx, st, state)
	timedOut := errors.Is(stageCtx.Err(), context.DeadlineExceeded)
	cancel()

	elapsed := time.Since(start)
	sampled := stopSampling()
	memAfter := p.heap()
	res.LatencyMS = float64(elapsed.Microseconds()) / 1000
	res.MemoryDeltaKB = float64(int64(memAfter)-int64(memBefore)) / 1024
	res.PeakMemoryKB = float64(max(memBefore, memAfter, sampled)) / 1024
	res.CompletedAt = p.now().UTC()
	res.OutputSummary = summary

	if err != nil {
		if timedOut {
			err = fmt.Errorf("%w: %s: %w", ErrStageTimeout, name, err)
		}
		res.Status = StatusFail
		res.Error = err.Error()
		res.OutputSummary = nil
		res.NodesBefore, res.EdgesBefore = before["nodes"], before["edges"]
		res.NodesAfter, res.EdgesAfter = res.NodesBefore, res.EdgesBefore
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.finish(ctx, runID, res)
		return state, res
	}

	if verr := safeValidateOutput(st, next); verr != nil {
		res.Status = StatusWarn
		res.Error = verr.Error()
	}

	after := p.counts(next)
	res.NodesBefore, res.EdgesBefore = before["nodes"], before["edges"]
	res.NodesAfter, res.EdgesAfter = after["nodes"], after["edges"]
	res.Deltas = deltas(before, after)

	span.SetStatus(codes.Ok, "")
	p.finish(ctx, runID, res)
	return next, res
}

// sampleHeap polls the heap until the returned stop function is called.
// stop returns the highest reading seen, or zero when sampling is off.
func (p *Pipeline[S]) sampleHeap() (stop func() uint64) {
	if p.sampleEvery <= 0 {
		return func() uint64 { return 0 }
	}
	done := make(chan struct{})
	result := make(chan uint64, 1)
	go func() {
		var peak uint64
		ticker := time.NewTicker(p.sampleEvery)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				result <- peak
				return
			case <-ticker.C:
				if h := p.heap(); h > peak {
					peak = h
				}
			}
		}
	}()
	return func() uint64 {
		close(done)
		return <-result
	}
}

func (p *Pipeline[S]) failed(name string, err error) StageResult {
	r := p.skipped(name, err.Error())
	r.Status = StatusFail
	return r
}

// finish records metrics, logs and calls the end hook.
func (p *Pipeline[S]) finish(ctx context.Context, runID string, res StageResult) {
	attrs := metric.WithAttributes(
		attribute.String("stage", res.StageName),
		attribute.String("status", string(res.Status)),
	)
	if p.stageLatency != nil && res.Status != StatusSkip {
		p.stageLatency.Record(ctx, res.LatencyMS/1000, attrs)
	}
	if p.stageStatus != nil {
		p.stageStatus.Add(ctx, 1, attrs)
	}

	fields := []any{
		slog.String("run_id", runID),
		slog.String("stage", res.StageName),
		slog.String("status", string(res.Status)),
		slog.Float64("latency_ms", res.LatencyMS),
	}
	switch res.Status {
	case StatusFail:
		p.logger.Error("stage failed", append(fields, slog.String("error", res.Error))...)
	case StatusWarn:
		p.logger.Warn("stage output invalid", append(fields, slog.String("error", res.Error))...)
	default:
		p.logger.Info("stage finished", fields...)
	}

	if p.onStageEnd != nil {
		p.onStageEnd(res)
	}
}

func deltas(before, after Counts) map[string]int {
	if len(before) == 0 && len(after) == 0 {
		return nil
	}
	out := make(map[string]int, len(after))
	for k, v := range after {
		if d := v - before[k]; d != 0 {
			out[k] = d
		}
	}
	for k, v := range before {
		if _, ok := after[k]; !ok && v != 0 {
			out[k] = -v
		}
	}
	return out
}

func panicError(r any) error {
	return fmt.Errorf("%w: %v", ErrStagePanic, r)
}

func safeValidate[S any](st Stage[S], state S) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
		}
	}()
	return st.ValidateInput(state), nil
}

func safeExecute[S any](ctx context.Context, st Stage[S], state S) (next S, summary Summary, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero S
			next, summary, err = zero, nil, panicError(r)
		}
	}()
	return st.Execute(ctx, state)
}

func safeValidateOutput[S any](st Stage[S], state S) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
		}
	}()
	return st.ValidateOutput(state)
}
