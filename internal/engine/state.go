package engine

import (
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

// State is the analysis state threaded through the stages. Stages never
// modify the state they receive; they return a shallow copy with their
// fields set, so a failed stage leaves the previous state intact.
type State struct {
	// Path is the path the run was asked to analyze.
	Path string
	// Root is the absolute directory file ids are relative to.
	Root       string
	Provenance vcs.Provenance
	Scan       *scanner.Result
	Files      []string

	// Trees are parsed once and shared by every later stage. Their paths
	// are relative to Root. The engine that parsed them owns them.
	Trees  []*parser.ParseResult
	Syntax *SyntaxReport

	Patterns    *patterns.Analysis
	ControlFlow *controlflow.Analysis
	DataFlow    *dataflow.Analysis
	Graph       *graph.CodeGraph
	Discovery   *discovery.Report
	Candidates  []*discovery.UnknownAtom
	Grade       *grade.Result
}

// NewState returns the initial state for analyzing path.
func NewState(path string) *State {
	return &State{Path: path}
}

func (s *State) next() *State {
	c := *s
	return &c
}

// FileSyntax records the parse quality of one file.
type FileSyntax struct {
	Path     string               `json:"path"`
	Language parser.Language      `json:"language"`
	Coverage float64              `json:"coverage"`
	Issues   []parser.SyntaxIssue `json:"issues,omitempty"`
}

// SyntaxReport aggregates parse quality. Files lists only files with
// issues.
type SyntaxReport struct {
	Parsed   int          `json:"parsed"`
	Failed   int          `json:"failed"`
	Issues   int          `json:"issues"`
	Coverage float64      `json:"coverage"`
	Files    []FileSyntax `json:"files,omitempty"`
}

// Count measures a state for stage before/after records.
func Count(s *State) pipeline.Counts {
	if s == nil {
		return nil
	}
	c := pipeline.Counts{
		"files": len(s.Files),
		"trees": len(s.Trees),
	}
	if s.Graph != nil {
		c["nodes"] = s.Graph.NodeCount()
		c["edges"] = s.Graph.EdgeCount()
	}
	if s.Patterns != nil {
		c["matches"] = s.Patterns.Summary.TotalMatches
	}
	if s.ControlFlow != nil {
		c["functions"] = s.ControlFlow.Summary.TotalFunctions
	}
	if s.Discovery != nil {
		c["unknown_patterns"] = len(s.Discovery.Unknown)
		c["candidates"] = len(s.Candidates)
	}
	return c
}
