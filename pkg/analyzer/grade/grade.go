// Package grade combines control-flow, data-flow, graph and discovery
// results into component scores, a 0-10 health index and a grade letter.
package grade

import (
	"time"

	"github.com/panbanda/spectrometer/pkg/analyzer/controlflow"
	"github.com/panbanda/spectrometer/pkg/analyzer/dataflow"
	"github.com/panbanda/spectrometer/pkg/analyzer/discovery"
	"github.com/panbanda/spectrometer/pkg/analyzer/graph"
)

// Inputs are the analysis results a grade is computed from. Any of them
// may be nil; the matching component then scores 100.
type Inputs struct {
	Files         int
	ControlFlow   *controlflow.Analysis
	DataFlow      *dataflow.Analysis
	Graph         *graph.CodeGraph
	Discovery     *discovery.Report
	ParseCoverage *float64
}

// Grader computes grades.
type Grader struct {
	weights    Weights
	thresholds Thresholds
	now        func() time.Time
}

// Option configures the Grader.
type Option func(*Grader)

// WithWeights sets custom component weights.
func WithWeights(w Weights) Option {
	return func(g *Grader) {
		g.weights = w
	}
}

// WithThresholds sets minimum acceptable values.
func WithThresholds(t Thresholds) Option {
	return func(g *Grader) {
		g.thresholds = t
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Grader) {
		g.now = now
	}
}

// New creates a grader.
func New(opts ...Option) *Grader {
	g := &Grader{
		weights: DefaultWeights(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Grade computes the result for in.
func (g *Grader) Grade(in Inputs) *Result {
	r := &Result{
		Weights:       g.weights,
		FilesAnalyzed: in.Files,
		Timestamp:     g.now().UTC(),
		Components: ComponentScores{
			Complexity: 100,
			Purity:     100,
			Coupling:   100,
			DeadCode:   100,
			Coverage:   100,
			Taxonomy:   100,
		},
	}

	if cf := in.ControlFlow; cf != nil {
		simple := cf.Summary.ComplexityRatings[controlflow.RatingSimple]
		r.Components.Complexity = NormalizeComplexity(cf.Summary.TotalFunctions, simple)
		r.Functions = cf.Summary.TotalFunctions
	}

	if df := in.DataFlow; df != nil {
		r.Components.Purity = NormalizePurity(df.Summary.AvgPurity, df.Summary.TotalFunctions)
		if r.Functions == 0 {
			r.Functions = df.Summary.TotalFunctions
		}
	}

	if cg := in.Graph; cg != nil {
		m := cg.Metrics()
		r.Nodes = m.Stats.Nodes
		r.Edges = m.Stats.Edges
		r.Betti = m.Betti
		r.Cycles = len(m.Cycles)
		r.DeadFunctions = len(m.DeadFunctions)
		r.Components.Coupling = NormalizeCoupling(m.Stats.Nodes-m.ExternalNodes, m.CycleNodes)
		r.Components.DeadCode = NormalizeDeadCode(m.TotalFunctions, len(m.DeadFunctions))
	}

	if in.ParseCoverage != nil {
		r.Components.Coverage = NormalizeCoverage(*in.ParseCoverage)
	}

	if d := in.Discovery; d != nil && d.TotalNodes > 0 {
		r.Components.Taxonomy = NormalizeTaxonomy(d.CoverageRatio)
	}

	r.ComputeComposite()
	r.CheckThresholds(g.thresholds)
	return r
}
