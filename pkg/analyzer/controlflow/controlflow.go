// Package controlflow computes cyclomatic complexity and nesting depth
// from parsed trees.
package controlflow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/panbanda/spectrometer/internal/fileproc"
	"github.com/panbanda/spectrometer/pkg/analyzer"
	"github.com/panbanda/spectrometer/pkg/parser"
)

// Compile-time checks.
var (
	_ analyzer.FileAnalyzer[*Analysis]  = (*Analyzer)(nil)
	_ analyzer.TreeAnalyzer[FileResult] = (*Analyzer)(nil)
)

// Analyzer computes control-flow metrics.
type Analyzer struct {
	thresholds  Thresholds
	maxFileSize int64
	workers     int
	logger      *slog.Logger
}

// Option is a functional option for configuring Analyzer.
type Option func(*Analyzer)

// WithThresholds sets the limits reported as violations.
func WithThresholds(t Thresholds) Option {
	return func(a *Analyzer) {
		a.thresholds = t
	}
}

// WithMaxFileSize sets the maximum file size to analyze (0 = no limit).
func WithMaxFileSize(maxSize int64) Option {
	return func(a *Analyzer) {
		a.maxFileSize = maxSize
	}
}

// WithWorkers sets the number of parallel workers used by Analyze.
func WithWorkers(n int) Option {
	return func(a *Analyzer) {
		a.workers = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Analyzer) {
		a.logger = l
	}
}

// New creates a new control-flow analyzer.
func New(opts ...Option) *Analyzer {
	a := &Analyzer{
		thresholds: DefaultThresholds(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Close releases analyzer resources.
func (a *Analyzer) Close() {}

// AnalyzeTree computes module and per-function metrics for a parsed file.
func (a *Analyzer) AnalyzeTree(ctx context.Context, result *parser.ParseResult) (FileResult, error) {
	if err := ctx.Err(); err != nil {
		return FileResult{}, err
	}
	fr := FileResult{
		Path:      result.Path,
		Language:  string(result.Language),
		Functions: make([]FunctionResult, 0),
	}
	root := result.Root()
	if root == nil {
		fr.Module = Metrics{Cyclomatic: 1}
		return fr, nil
	}

	fr.Module = Compute(root, result.Source, result.Language)
	for _, fn := range parser.GetFunctions(result) {
		fr.Functions = append(fr.Functions, a.analyzeFunction(fn, result))
	}
	return fr, nil
}

func (a *Analyzer) analyzeFunction(fn parser.FunctionNode, result *parser.ParseResult) FunctionResult {
	m := Metrics{Cyclomatic: 1}
	if fn.Body != nil {
		m = Compute(fn.Body, result.Source, result.Language)
	}
	m.Lines = int(fn.EndLine - fn.StartLine + 1)

	fr := FunctionResult{
		Name:             fn.Name,
		File:             result.Path,
		StartLine:        fn.StartLine,
		EndLine:          fn.EndLine,
		Metrics:          m,
		ComplexityRating: RateComplexity(m.Cyclomatic),
		NestingRating:    RateNesting(m.MaxNesting),
	}
	if a.thresholds.MaxCyclomatic > 0 && m.Cyclomatic > a.thresholds.MaxCyclomatic {
		fr.Violations = append(fr.Violations,
			fmt.Sprintf("cyclomatic complexity %d exceeds %d", m.Cyclomatic, a.thresholds.MaxCyclomatic))
	}
	if a.thresholds.MaxNesting > 0 && m.MaxNesting > a.thresholds.MaxNesting {
		fr.Violations = append(fr.Violations,
			fmt.Sprintf("nesting depth %d exceeds %d", m.MaxNesting, a.thresholds.MaxNesting))
	}
	return fr
}

// Analyze parses and analyzes files in parallel.
// Progress is tracked via context using analyzer.WithTracker.
func (a *Analyzer) Analyze(ctx context.Context, files []string) (*Analysis, error) {
	results, errs := fileproc.MapFilesN(ctx, files, a.workers, func(psr *parser.Parser, path string) (FileResult, error) {
		res, err := psr.ParseFileWithLimit(ctx, path, a.maxFileSize)
		if err != nil {
			return FileResult{}, err
		}
		defer res.Close()
		return a.AnalyzeTree(ctx, res)
	})
	if errs.HasErrors() {
		a.logger.Debug("control-flow analysis skipped files", slog.Int("count", errs.Len()))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return BuildAnalysis(results), nil
}

// BuildAnalysis aggregates per-file results.
func BuildAnalysis(results []FileResult) *Analysis {
	analysis := &Analysis{Files: results}
	s := &analysis.Summary
	s.TotalFiles = len(results)
	s.ComplexityRatings = make(map[ComplexityRating]int)
	s.NestingRatings = make(map[NestingRating]int)

	var cycs []uint32
	var totalCyc uint64
	var totalNesting int
	for _, fr := range results {
		for _, fn := range fr.Functions {
			cycs = append(cycs, fn.Metrics.Cyclomatic)
			totalCyc += uint64(fn.Metrics.Cyclomatic)
			totalNesting += fn.Metrics.MaxNesting
			s.ComplexityRatings[fn.ComplexityRating]++
			s.NestingRatings[fn.NestingRating]++
			s.ViolationCount += len(fn.Violations)
			if fn.Metrics.Cyclomatic > s.MaxCyclomatic {
				s.MaxCyclomatic = fn.Metrics.Cyclomatic
			}
			if fn.Metrics.MaxNesting > s.MaxNesting {
				s.MaxNesting = fn.Metrics.MaxNesting
			}
		}
	}

	s.TotalFunctions = len(cycs)
	if len(cycs) > 0 {
		s.AvgCyclomatic = float64(totalCyc) / float64(len(cycs))
		s.AvgNesting = float64(totalNesting) / float64(len(cycs))
		sort.Slice(cycs, func(i, j int) bool { return cycs[i] < cycs[j] })
		s.P50Cyclomatic = percentile(cycs, 50)
		s.P90Cyclomatic = percentile(cycs, 90)
	}
	return analysis
}

// percentile calculates the p-th percentile of a sorted slice.
func percentile(sorted []uint32, p int) uint32 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (p * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Compute derives control-flow metrics for the subtree rooted at node in a
// single traversal. Nesting is measured relative to node, so a flat body
// has depth zero. The result depends only on the tree.
func Compute(node *sitter.Node, source []byte, lang parser.Language) Metrics {
	if node == nil {
		return Metrics{Cyclomatic: 1}
	}
	w := walker{rules: rulesFor(lang)}
	w.visit(node, nil, 0)

	m := w.m
	m.Cyclomatic = 1 + m.DecisionPoints
	if w.returns > 1 {
		m.EarlyReturns = w.returns - 1
	}
	return m
}

type walker struct {
	rules   *rules
	m       Metrics
	returns int
}

func (w *walker) visit(n, parent *sitter.Node, depth int) {
	t := n.Type()
	r := w.rules

	if r.decision[t] {
		w.m.DecisionPoints++
	}
	if r.booleanParent[t] && hasBooleanOperator(n, r) {
		w.m.DecisionPoints++
	}
	if r.loop[t] {
		w.m.Loops++
	}
	if r.handler[t] {
		w.m.ExceptionHandlers++
	}
	if r.branch[t] {
		w.m.Branches++
	}
	if t == "return_statement" {
		w.returns++
	}

	// Keyword tokens such as "function" and "lambda" share their
	// scope node's type; only the named node opens a scope.
	if r.nesting[t] && n.IsNamed() && !isElseIf(n, parent) {
		depth++
		if depth > w.m.MaxNesting {
			w.m.MaxNesting = depth
		}
	}

	for i := 0; i < int(n.ChildCount()); i++ {
		w.visit(n.Child(i), n, depth)
	}
}

// isElseIf reports whether an if statement continues an enclosing if
// (else-if chains) rather than opening a new scope.
func isElseIf(n, parent *sitter.Node) bool {
	if parent == nil || n.Type() != "if_statement" {
		return false
	}
	switch parent.Type() {
	case "else_clause", "if_statement":
		return true
	}
	return false
}

func hasBooleanOperator(n *sitter.Node, r *rules) bool {
	for i := 0; i < int(n.ChildCount()); i++ {
		if r.booleanOps[n.Child(i).Type()] {
			return true
		}
	}
	return false
}
