package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/panbanda/spectrometer/internal/fileproc"
	"github.com/panbanda/spectrometer/internal/scanner"
	"github.com/panbanda/spectrometer/internal/vcs"
	"github.com/panbanda/spectrometer/pkg/analyzer/controlflow"
	"github.com/panbanda/spectrometer/pkg/analyzer/dataflow"
	"github.com/panbanda/spectrometer/pkg/analyzer/discovery"
	"github.com/panbanda/spectrometer/pkg/analyzer/grade"
	"github.com/panbanda/spectrometer/pkg/analyzer/graph"
	"github.com/panbanda/spectrometer/pkg/analyzer/patterns"
	"github.com/panbanda/spectrometer/pkg/parser"
	"github.com/panbanda/spectrometer/pkg/pipeline"
)

func (e *Engine) stages() []pipeline.Stage[*State] {
	return []pipeline.Stage[*State]{
		pipeline.Func[*State]{
			StageName: StageScan,
			Input:     func(s *State) bool { return s != nil && s.Path != "" },
			Run:       e.scan,
			Output: func(s *State) error {
				if len(s.Files) == 0 {
					return scanner.ErrNoFiles
				}
				return nil
			},
		},
		pipeline.Func[*State]{
			StageName: StageParse,
			Input:     hasFiles,
			Run:       e.parse,
			Output: func(s *State) error {
				if s.Syntax != nil && s.Syntax.Failed > 0 {
					return fmt.Errorf("%d of %d files failed to parse", s.Syntax.Failed, s.Syntax.Failed+s.Syntax.Parsed)
				}
				return nil
			},
		},
		pipeline.Func[*State]{
			StageName: StagePatterns,
			Input:     hasTrees,
			Run:       e.patterns,
		},
		pipeline.Func[*State]{
			StageName: StageControlFlow,
			Input:     hasTrees,
			Run:       e.controlFlow,
		},
		pipeline.Func[*State]{
			StageName: StageDataFlow,
			Input:     hasTrees,
			Run:       e.dataFlow,
		},
		pipeline.Func[*State]{
			StageName: StageGraph,
			Input:     hasTrees,
			Run:       e.graph,
			Output:    validateGraph,
		},
		pipeline.Func[*State]{
			StageName: StageDiscovery,
			Input:     hasTrees,
			Run:       e.discover,
		},
		pipeline.Func[*State]{
			StageName: StageGrade,
			Input:     hasTrees,
			Run:       e.grade,
			Output: func(s *State) error {
				if s.Grade != nil && !s.Grade.Passed {
					return fmt.Errorf("thresholds not met: %v", failedThresholds(s.Grade))
				}
				return nil
			},
		},
	}
}

func hasFiles(s *State) bool { return s != nil && len(s.Files) > 0 }

func hasTrees(s *State) bool { return s != nil && len(s.Trees) > 0 }

func treeKey(t *parser.ParseResult) string { return t.Path }

func (e *Engine) scan(_ context.Context, s *State) (*State, pipeline.Summary, error) {
	res, err := scanner.NewScanner(e.cfg).Scan(s.Path)
	if err != nil {
		return s, nil, err
	}

	next := s.next()
	next.Scan = res
	next.Root = res.Root
	next.Files = res.Files
	next.Provenance = vcs.Describe(res.Root)
	if e.cfg.Discovery.Repo != "" {
		next.Provenance.Repo = e.cfg.Discovery.Repo
	}

	return next, pipeline.Summary{
		"root":        res.Root,
		"repo":        next.Provenance.Repo,
		"files":       len(res.Files),
		"languages":   res.Languages,
		"excluded":    res.Excluded,
		"too_large":   res.TooLarge,
		"unsupported": res.Unsupported,
	}, nil
}

func (e *Engine) parse(ctx context.Context, s *State) (*State, pipeline.Summary, error) {
	limit := e.cfg.Analysis.MaxFileSize
	trees, errs := fileproc.MapFilesN(e.tracked(ctx, StageParse), s.Files, e.cfg.Analysis.Workers,
		func(psr *parser.Parser, path string) (*parser.ParseResult, error) {
			info, err := os.Stat(path)
			if err != nil {
				return nil, err
			}
			if limit > 0 && info.Size() > limit {
				return nil, fmt.Errorf("%s (%d bytes): %w", path, info.Size(), parser.ErrFileTooLarge)
			}
			src, err := os.ReadFile(path)
			if err != nil {
				return nil, err
			}
			return psr.Parse(ctx, src, parser.DetectLanguage(path), relPath(s.Root, path))
		})
	e.own(trees)
	if err := ctx.Err(); err != nil {
		return s, nil, err
	}

	report := &SyntaxReport{Parsed: len(trees)}
	if errs != nil {
		report.Failed = errs.Len()
		for _, pe := range errs.Errors {
			e.logger.Debug("parse failed", "file", pe.Path, "error", pe.Err)
		}
	}
	var covSum float64
	for _, t := range trees {
		cov := parser.Coverage(t)
		covSum += cov
		issues := parser.SyntaxIssues(t)
		if len(issues) == 0 {
			continue
		}
		report.Issues += len(issues)
		report.Files = append(report.Files, FileSyntax{
			Path:     t.Path,
			Language: t.Language,
			Coverage: cov,
			Issues:   issues,
		})
	}
	if len(trees) > 0 {
		report.Coverage = covSum / float64(len(trees))
	}

	next := s.next()
	next.Trees = trees
	next.Syntax = report
	return next, pipeline.Summary{
		"parsed":        report.Parsed,
		"failed":        report.Failed,
		"syntax_issues": report.Issues,
		"coverage":      report.Coverage,
	}, nil
}

func (e *Engine) patterns(ctx context.Context, s *State) (*State, pipeline.Summary, error) {
	files, errs := fileproc.ForEachN(e.tracked(ctx, StagePatterns), s.Trees, e.cfg.Analysis.Workers, treeKey,
		func(t *parser.ParseResult) (patterns.FileMatches, error) {
			return e.matcher.AnalyzeTree(ctx, t)
		})
	if err := e.fatal(ctx, StagePatterns, errs); err != nil {
		return s, nil, err
	}

	analysis := patterns.NewAnalysis(files)
	next := s.next()
	next.Patterns = analysis
	return next, pipeline.Summary{
		"matches":            analysis.Summary.TotalMatches,
		"files_with_matches": analysis.Summary.FilesWithMatches,
		"by_role":            analysis.Summary.ByRole,
		"avg_confidence":     analysis.Summary.AvgConfidence,
	}, nil
}

func (e *Engine) controlFlow(ctx context.Context, s *State) (*State, pipeline.Summary, error) {
	files, errs := fileproc.ForEachN(e.tracked(ctx, StageControlFlow), s.Trees, e.cfg.Analysis.Workers, treeKey,
		func(t *parser.ParseResult) (controlflow.FileResult, error) {
			return e.flow.AnalyzeTree(ctx, t)
		})
	if err := e.fatal(ctx, StageControlFlow, errs); err != nil {
		return s, nil, err
	}

	analysis := controlflow.BuildAnalysis(files)
	next := s.next()
	next.ControlFlow = analysis
	return next, pipeline.Summary{
		"functions":      analysis.Summary.TotalFunctions,
		"avg_cyclomatic": analysis.Summary.AvgCyclomatic,
		"max_cyclomatic": analysis.Summary.MaxCyclomatic,
		"max_nesting":    analysis.Summary.MaxNesting,
		"violations":     analysis.Summary.ViolationCount,
	}, nil
}

func (e *Engine) dataFlow(ctx context.Context, s *State) (*State, pipeline.Summary, error) {
	files, errs := fileproc.ForEachN(e.tracked(ctx, StageDataFlow), s.Trees, e.cfg.Analysis.Workers, treeKey,
		func(t *parser.ParseResult) (dataflow.FileResult, error) {
			return e.data.AnalyzeTree(ctx, t)
		})
	if err := e.fatal(ctx, StageDataFlow, errs); err != nil {
		return s, nil, err
	}

	analysis := dataflow.BuildAnalysis(files)
	next := s.next()
	next.DataFlow = analysis
	return next, pipeline.Summary{
		"functions":      analysis.Summary.TotalFunctions,
		"pure_functions": analysis.Summary.PureFunctions,
		"avg_purity":     analysis.Summary.AvgPurity,
		"mutations":      analysis.Summary.TotalMutations,
		"side_effects":   analysis.Summary.TotalSideEffects,
		"violations":     analysis.Summary.ViolationCount,
	}, nil
}

func (e *Engine) graph(ctx context.Context, s *State) (*State, pipeline.Summary, error) {
	ex := graph.New(
		graph.WithRoot(s.Root),
		graph.WithWorkers(e.cfg.Analysis.Workers),
		graph.WithMaxFileSize(e.cfg.Analysis.MaxFileSize),
		graph.WithCatalog(e.registry.Snapshot()),
		graph.WithLogger(e.logger),
	)
	defer ex.Close()

	g, err := ex.ExtractTrees(e.tracked(ctx, StageGraph), s.Trees)
	if err != nil {
		return s, nil, err
	}

	stats := g.Stats()
	next := s.next()
	next.Graph = g
	return next, pipeline.Summary{
		"nodes":        g.NodeCount(),
		"edges":        g.EdgeCount(),
		"by_kind":      stats.NodesByKind,
		"by_type":      stats.EdgesByType,
		"by_continent": stats.NodesByContinent,
		"by_level":     stats.NodesByLevel,
	}, nil
}

// validateGraph checks that every edge endpoint is a node.
func validateGraph(s *State) error {
	if s.Graph == nil {
		return errors.New("no graph produced")
	}
	for _, edge := range s.Graph.Edges() {
		if !s.Graph.Has(edge.Source) || !s.Graph.Has(edge.Target) {
			return fmt.Errorf("dangling %s edge %s -> %s", edge.Type, edge.Source, edge.Target)
		}
	}
	return nil
}

func (e *Engine) discover(ctx context.Context, s *State) (*State, pipeline.Summary, error) {
	d := discovery.New(e.registry.Snapshot(),
		discovery.WithRepo(s.Provenance.Repo),
		discovery.WithRoot(s.Root),
		discovery.WithLimits(e.limits()),
		discovery.WithWorkers(e.cfg.Analysis.Workers),
		discovery.WithLogger(e.logger),
		discovery.WithClock(e.now),
	)
	defer d.Close()

	parts, errs := fileproc.ForEachN(e.tracked(ctx, StageDiscovery), s.Trees, e.cfg.Analysis.Workers, treeKey,
		func(t *parser.ParseResult) (*discovery.Partial, error) {
			return d.AnalyzeTree(ctx, t)
		})
	if err := e.fatal(ctx, StageDiscovery, errs); err != nil {
		return s, nil, err
	}
	report := d.Report(d.Merge(parts...))

	persisted := 0
	if e.store != nil && len(report.Unknown) > 0 {
		if err := e.store.Save(report.Unknown); err != nil {
			return s, nil, fmt.Errorf("persist unknown patterns: %w", err)
		}
		persisted = len(report.Unknown)
	}

	candidates := report.Candidates(e.cfg.Discovery.MinOccurrences, e.cfg.Discovery.MinConfidence)
	next := s.next()
	next.Discovery = report
	next.Candidates = candidates
	return next, pipeline.Summary{
		"total_nodes":      report.TotalNodes,
		"known_nodes":      report.KnownNodes,
		"unknown_patterns": len(report.Unknown),
		"candidates":       len(candidates),
		"coverage_ratio":   report.CoverageRatio,
		"persisted":        persisted,
	}, nil
}

func (e *Engine) grade(_ context.Context, s *State) (*State, pipeline.Summary, error) {
	in := grade.Inputs{
		Files:       len(s.Trees),
		ControlFlow: s.ControlFlow,
		DataFlow:    s.DataFlow,
		Graph:       s.Graph,
		Discovery:   s.Discovery,
	}
	if s.Syntax != nil {
		cov := s.Syntax.Coverage
		in.ParseCoverage = &cov
	}
	res := e.grader.Grade(in)

	next := s.next()
	next.Grade = res
	return next, pipeline.Summary{
		"health_index": res.HealthIndex,
		"grade":        string(res.Grade),
		"passed":       res.Passed,
	}, nil
}

// fatal returns the context error when the run was cancelled. Per-file
// failures are logged and do not fail the stage.
func (e *Engine) fatal(ctx context.Context, stage string, errs *fileproc.ProcessingErrors) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if errs.HasErrors() {
		for _, pe := range errs.Errors {
			e.logger.Warn("file skipped", "stage", stage, "file", pe.Path, "error", pe.Err)
		}
	}
	return nil
}

func failedThresholds(r *grade.Result) []string {
	var names []string
	for name, t := range r.Thresholds {
		if !t.Passed {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
