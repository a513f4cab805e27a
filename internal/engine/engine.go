// Package engine wires the analyzers into the staged pipeline:
// scan, parse, patterns, controlflow, dataflow, graph, discovery and grade.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/panbanda/spectrometer/internal/progress"
	"github.com/panbanda/spectrometer/pkg/analyzer"
	"github.com/panbanda/spectrometer/pkg/analyzer/controlflow"
	"github.com/panbanda/spectrometer/pkg/analyzer/dataflow"
	"github.com/panbanda/spectrometer/pkg/analyzer/discovery"
	"github.com/panbanda/spectrometer/pkg/analyzer/grade"
	"github.com/panbanda/spectrometer/pkg/analyzer/patterns"
	"github.com/panbanda/spectrometer/pkg/config"
	"github.com/panbanda/spectrometer/pkg/parser"
	"github.com/panbanda/spectrometer/pkg/pipeline"
	"github.com/panbanda/spectrometer/pkg/taxonomy"
)

// Stage names in execution order.
const (
	StageScan        = "scan"
	StageParse       = "parse"
	StagePatterns    = "patterns"
	StageControlFlow = "controlflow"
	StageDataFlow    = "dataflow"
	StageGraph       = "graph"
	StageDiscovery   = "discovery"
	StageGrade       = "grade"
)

// Engine runs the analysis pipeline. It owns the trees it parses and the
// discovery store it opens; Close releases both.
type Engine struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *taxonomy.Registry
	store    *discovery.Store
	ownStore bool
	progress *progress.Stages
	now      func() time.Time

	onStart func(string)
	onEnd   func(pipeline.StageResult)

	matcher  *patterns.Matcher
	flow     *controlflow.Analyzer
	data     *dataflow.Analyzer
	grader   *grade.Grader
	pipeline *pipeline.Pipeline[*State]

	mu    sync.Mutex
	trees []*parser.ParseResult
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger shared by the engine and its pipeline.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithRegistry sets the taxonomy registry. Each run reads a snapshot.
func WithRegistry(r *taxonomy.Registry) Option {
	return func(e *Engine) {
		e.registry = r
	}
}

// WithStore sets the discovery store. The caller keeps ownership.
func WithStore(s *discovery.Store) Option {
	return func(e *Engine) {
		e.store = s
	}
}

// WithProgress shows per-stage progress bars.
func WithProgress(p *progress.Stages) Option {
	return func(e *Engine) {
		e.progress = p
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithHooks registers callbacks run when each stage starts and ends.
func WithHooks(onStart func(string), onEnd func(pipeline.StageResult)) Option {
	return func(e *Engine) {
		e.onStart = onStart
		e.onEnd = onEnd
	}
}

// New creates an engine for cfg. When cfg.Discovery.StoreDir is set and no
// store was supplied, the engine opens one.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	e := &Engine{
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.registry == nil {
		reg, err := taxonomy.New(taxonomy.WithLogger(e.logger), taxonomy.WithClock(e.now))
		if err != nil {
			return nil, fmt.Errorf("load taxonomy: %w", err)
		}
		e.registry = reg
	}

	if e.store == nil && cfg.Discovery.StoreDir != "" {
		store, err := discovery.OpenStore(discovery.StoreConfig{
			Path:   cfg.Discovery.StoreDir,
			Logger: e.logger,
			Limits: e.limits(),
		})
		if err != nil {
			return nil, err
		}
		e.store = store
		e.ownStore = true
	}

	workers := cfg.Analysis.Workers
	e.matcher = patterns.New(
		patterns.WithLogger(e.logger),
		patterns.WithWorkers(workers),
		patterns.WithMaxFileSize(cfg.Analysis.MaxFileSize),
	)
	e.flow = controlflow.New(
		controlflow.WithLogger(e.logger),
		controlflow.WithWorkers(workers),
		controlflow.WithThresholds(controlflow.Thresholds{
			MaxCyclomatic: uint32(cfg.Thresholds.CyclomaticComplexity),
			MaxNesting:    cfg.Thresholds.MaxNesting,
		}),
	)
	e.data = dataflow.New(
		dataflow.WithLogger(e.logger),
		dataflow.WithWorkers(workers),
		dataflow.WithThresholds(dataflow.Thresholds{MinPurity: cfg.Thresholds.MinPurity}),
	)
	e.grader = grade.New(
		grade.WithWeights(cfg.Grade.Weights),
		grade.WithThresholds(cfg.Grade.Thresholds),
		grade.WithClock(e.now),
	)

	p, err := pipeline.New(e.stages(), Count,
		pipeline.WithLogger(e.logger),
		pipeline.WithStageTimeout(cfg.StageTimeoutDuration()),
		pipeline.WithClock(e.now),
		pipeline.OnStageStart(e.stageStarted),
		pipeline.OnStageEnd(e.stageEnded),
	)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.pipeline = p
	return e, nil
}

func (e *Engine) limits() discovery.Limits {
	return discovery.Limits{
		Samples:     e.cfg.Discovery.Samples,
		SampleChars: e.cfg.Discovery.SampleChars,
		Locations:   e.cfg.Discovery.Locations,
	}
}

func (e *Engine) stageStarted(name string) {
	if e.onStart != nil {
		e.onStart(name)
	}
}

func (e *Engine) stageEnded(res pipeline.StageResult) {
	if e.progress != nil {
		var err error
		if res.Status == pipeline.StatusFail {
			err = fmt.Errorf("%s", res.Error)
		}
		e.progress.Finish(res.StageName, err)
	}
	if e.onEnd != nil {
		e.onEnd(res)
	}
}

// tracked attaches a progress tracker for stage to ctx.
func (e *Engine) tracked(ctx context.Context, stage string) context.Context {
	if e.progress == nil {
		return ctx
	}
	return analyzer.WithTracker(ctx, analyzer.NewTracker(stage, e.progress.Callback()))
}

// Registry returns the taxonomy registry runs read from.
func (e *Engine) Registry() *taxonomy.Registry { return e.registry }

// Store returns the discovery store, or nil.
func (e *Engine) Store() *discovery.Store { return e.store }

// Stages lists the stage names in order.
func (e *Engine) Stages() []string { return e.pipeline.Stages() }

// Run analyzes path through every stage.
func (e *Engine) Run(ctx context.Context, path string) (*State, *pipeline.Snapshot) {
	return e.pipeline.Run(ctx, NewState(path))
}

// RunStage runs the stages before name to build its input, then name
// itself. The results of every executed stage are returned in order; the
// last one is name's.
func (e *Engine) RunStage(ctx context.Context, name, path string) (*State, []pipeline.StageResult, error) {
	order := e.pipeline.Stages()
	target := -1
	for i, n := range order {
		if n == name {
			target = i
			break
		}
	}
	if target < 0 {
		return nil, nil, fmt.Errorf("%w: %s", pipeline.ErrStageNotFound, name)
	}

	state := NewState(path)
	results := make([]pipeline.StageResult, 0, target+1)
	for _, n := range order[:target+1] {
		next, res, err := e.pipeline.RunStage(ctx, n, state)
		if err != nil {
			return state, results, err
		}
		state = next
		results = append(results, res)
	}
	return state, results, nil
}

func (e *Engine) own(trees []*parser.ParseResult) {
	e.mu.Lock()
	e.trees = append(e.trees, trees...)
	e.mu.Unlock()
}

// Release closes the trees parsed so far. States produced earlier must
// not be analyzed afterwards.
func (e *Engine) Release() {
	e.mu.Lock()
	trees := e.trees
	e.trees = nil
	e.mu.Unlock()
	for _, t := range trees {
		t.Close()
	}
}

// Close releases parsed trees, the pattern matcher and an engine-opened
// discovery store.
func (e *Engine) Close() error {
	e.Release()
	if e.matcher != nil {
		e.matcher.Close()
	}
	if e.flow != nil {
		e.flow.Close()
	}
	if e.data != nil {
		e.data.Close()
	}
	if e.ownStore && e.store != nil {
		err := e.store.Close()
		e.store = nil
		return err
	}
	return nil
}

func relPath(root, path string) string {
	if rel, err := filepath.Rel(root, path); err == nil {
		return filepath.ToSlash(rel)
	}
	return filepath.ToSlash(path)
}
