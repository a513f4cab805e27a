package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/panbanda/spectrometer/internal/engine"
	"github.com/panbanda/spectrometer/internal/output"
	"github.com/panbanda/spectrometer/pkg/analyzer/discovery"
	"github.com/panbanda/spectrometer/pkg/analyzer/grade"
	"github.com/panbanda/spectrometer/pkg/analyzer/graph"
	"github.com/panbanda/spectrometer/pkg/pipeline"
)

// AnalyzeInput is the base input for all tools.
type AnalyzeInput struct {
	Path   string `json:"path,omitempty" jsonschema:"Path to analyze. Defaults to the current directory."`
	Format string `json:"format,omitempty" jsonschema:"Output format: toon (default), json, or markdown."`
}

// GradeInput is the grade tool input.
type GradeInput struct {
	AnalyzeInput
}

// GraphStatsInput adds graph options.
type GraphStatsInput struct {
	AnalyzeInput
	Top int `json:"top,omitempty" jsonschema:"Number of top PageRank nodes to include. Default 10."`
}

// DiscoverInput adds candidate filters.
type DiscoverInput struct {
	AnalyzeInput
	MinOccurrences int     `json:"min_occurrences,omitempty" jsonschema:"Minimum occurrences for a candidate. Defaults to the configured value."`
	MinConfidence  float64 `json:"min_confidence,omitempty" jsonschema:"Minimum confidence (0.0-1.0) for a candidate. Defaults to the configured value."`
	Limit          int     `json:"limit,omitempty" jsonschema:"Maximum candidates returned. Default 20."`
}

// StageStatus is the per-stage outcome reported by tools.
type StageStatus struct {
	Stage     string          `json:"stage" toon:"stage"`
	Status    pipeline.Status `json:"status" toon:"status"`
	LatencyMS float64         `json:"latency_ms" toon:"latency_ms"`
	Error     string          `json:"error,omitempty" toon:"error,omitempty"`
}

// GradeOutput is the grade tool result.
type GradeOutput struct {
	Repo   string        `json:"repo" toon:"repo"`
	Grade  *grade.Result `json:"grade" toon:"grade"`
	Stages []StageStatus `json:"stages" toon:"stages"`
}

// RankedNode is a node with its PageRank score.
type RankedNode struct {
	ID   string         `json:"id" toon:"id"`
	Kind graph.NodeKind `json:"kind" toon:"kind"`
	Rank float64        `json:"rank" toon:"rank"`
}

// GraphStatsOutput is the graph_stats tool result.
type GraphStatsOutput struct {
	Metrics   graph.Metrics `json:"metrics" toon:"metrics"`
	TopRanked []RankedNode  `json:"top_ranked" toon:"top_ranked"`
}

// DiscoverOutput is the discover tool result.
type DiscoverOutput struct {
	Repo           string                   `json:"repo" toon:"repo"`
	FilesAnalyzed  int                      `json:"files_analyzed" toon:"files_analyzed"`
	TotalNodes     int                      `json:"total_nodes" toon:"total_nodes"`
	KnownNodes     int                      `json:"known_nodes" toon:"known_nodes"`
	UnknownCount   int                      `json:"unknown_patterns" toon:"unknown_patterns"`
	CoverageRatio  float64                  `json:"coverage_ratio" toon:"coverage_ratio"`
	MinOccurrences int                      `json:"min_occurrences" toon:"min_occurrences"`
	MinConfidence  float64                  `json:"min_confidence" toon:"min_confidence"`
	Candidates     []*discovery.UnknownAtom `json:"candidates" toon:"candidates"`
}

func getPath(input AnalyzeInput) string {
	if input.Path == "" {
		return "."
	}
	return input.Path
}

func getFormat(input AnalyzeInput) output.Format {
	switch strings.ToLower(input.Format) {
	case "json":
		return output.FormatJSON
	case "markdown", "md":
		return output.FormatMarkdown
	default:
		return output.FormatTOON
	}
}

func formatOutput(data any, format output.Format) (string, error) {
	switch format {
	case output.FormatJSON:
		out, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return "", err
		}
		return string(out), nil
	case output.FormatMarkdown:
		out, err := output.MarshalTOON(data)
		if err != nil {
			return "", err
		}
		return "```\n" + out + "\n```", nil
	default:
		return output.MarshalTOON(data)
	}
}

func toolResult(data any, format output.Format) (*mcp.CallToolResult, any, error) {
	text, err := formatOutput(data, format)
	if err != nil {
		return nil, nil, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}, nil, nil
}

func toolError(msg string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: "Error: " + msg},
		},
		IsError: true,
	}, nil, nil
}

func (s *Server) newEngine() (*engine.Engine, error) {
	opts := []engine.Option{engine.WithLogger(s.logger)}
	if s.registry != nil {
		opts = append(opts, engine.WithRegistry(s.registry))
	}
	return engine.New(s.cfg, opts...)
}

func stageStatuses(results []pipeline.StageResult) []StageStatus {
	out := make([]StageStatus, len(results))
	for i, r := range results {
		out[i] = StageStatus{Stage: r.StageName, Status: r.Status, LatencyMS: r.LatencyMS, Error: r.Error}
	}
	return out
}

// firstFailure returns a message for the first failed stage, or "".
func firstFailure(results []pipeline.StageResult) string {
	for _, r := range results {
		if r.Status == pipeline.StatusFail {
			return fmt.Sprintf("stage %s failed: %s", r.StageName, r.Error)
		}
	}
	return ""
}

func (s *Server) handleGrade(ctx context.Context, _ *mcp.CallToolRequest, input GradeInput) (*mcp.CallToolResult, any, error) {
	e, err := s.newEngine()
	if err != nil {
		return toolError(err.Error())
	}
	defer e.Close()

	state, snap := e.Run(ctx, getPath(input.AnalyzeInput))
	if msg := firstFailure(snap.Stages); msg != "" {
		return toolError(msg)
	}
	if state.Grade == nil {
		return toolError("no source files found")
	}
	return toolResult(GradeOutput{
		Repo:   state.Provenance.Repo,
		Grade:  state.Grade,
		Stages: stageStatuses(snap.Stages),
	}, getFormat(input.AnalyzeInput))
}

func (s *Server) handleGraphStats(ctx context.Context, _ *mcp.CallToolRequest, input GraphStatsInput) (*mcp.CallToolResult, any, error) {
	e, err := s.newEngine()
	if err != nil {
		return toolError(err.Error())
	}
	defer e.Close()

	state, results, err := e.RunStage(ctx, engine.StageGraph, getPath(input.AnalyzeInput))
	if err != nil {
		return toolError(err.Error())
	}
	if msg := firstFailure(results); msg != "" {
		return toolError(msg)
	}
	if state.Graph == nil {
		return toolError("no source files found")
	}

	top := input.Top
	if top <= 0 {
		top = 10
	}
	return toolResult(GraphStatsOutput{
		Metrics:   state.Graph.Metrics(),
		TopRanked: topRanked(state.Graph, top),
	}, getFormat(input.AnalyzeInput))
}

// topRanked returns the n highest PageRank nodes, ties broken by id.
func topRanked(g *graph.CodeGraph, n int) []RankedNode {
	ranks := g.PageRank()
	out := make([]RankedNode, 0, len(ranks))
	for _, node := range g.Nodes() {
		out = append(out, RankedNode{ID: node.ID, Kind: node.Kind, Rank: ranks[node.ID]})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rank != out[j].Rank {
			return out[i].Rank > out[j].Rank
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func (s *Server) handleDiscover(ctx context.Context, _ *mcp.CallToolRequest, input DiscoverInput) (*mcp.CallToolResult, any, error) {
	e, err := s.newEngine()
	if err != nil {
		return toolError(err.Error())
	}
	defer e.Close()

	state, results, err := e.RunStage(ctx, engine.StageDiscovery, getPath(input.AnalyzeInput))
	if err != nil {
		return toolError(err.Error())
	}
	if msg := firstFailure(results); msg != "" {
		return toolError(msg)
	}
	if state.Discovery == nil {
		return toolError("no source files found")
	}

	minOcc := input.MinOccurrences
	if minOcc <= 0 {
		minOcc = s.cfg.Discovery.MinOccurrences
	}
	minConf := input.MinConfidence
	if minConf <= 0 {
		minConf = s.cfg.Discovery.MinConfidence
	}
	limit := input.Limit
	if limit <= 0 {
		limit = 20
	}

	report := state.Discovery
	candidates := report.Candidates(minOcc, minConf)
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	if candidates == nil {
		candidates = []*discovery.UnknownAtom{}
	}
	return toolResult(DiscoverOutput{
		Repo:           report.Repo,
		FilesAnalyzed:  report.FilesAnalyzed,
		TotalNodes:     report.TotalNodes,
		KnownNodes:     report.KnownNodes,
		UnknownCount:   len(report.Unknown),
		CoverageRatio:  report.CoverageRatio,
		MinOccurrences: minOcc,
		MinConfidence:  minConf,
		Candidates:     candidates,
	}, getFormat(input.AnalyzeInput))
}
