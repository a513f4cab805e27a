package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"time"
)

// Status is the outcome of one stage.
type Status string

// Stage statuses.
const (
	StatusOK   Status = "OK"
	StatusFail Status = "FAIL"
	StatusWarn Status = "WARN"
	StatusSkip Status = "SKIP"
)

// Summary is the free-form output summary a stage reports.
type Summary map[string]any

// Stage is one step of a pipeline over state S. Execute receives the
// current state and returns the next one; the orchestrator threads it.
type Stage[S any] interface {
	Name() string
	// ValidateInput reports whether the stage can run on state. A false
	// result skips the stage.
	ValidateInput(state S) bool
	Execute(ctx context.Context, state S) (S, Summary, error)
	// ValidateOutput checks the produced state. An error downgrades the
	// stage to WARN; the produced state is kept.
	ValidateOutput(state S) error
}

// Counts are named size measurements of a state. The keys "nodes" and
// "edges" populate the before/after fields of a StageResult; every key
// contributes to Deltas.
type Counts map[string]int

// Counter measures a state.
type Counter[S any] func(state S) Counts

// StageResult records one stage execution.
type StageResult struct {
	StageName     string         `json:"stage_name"`
	Status        Status         `json:"status"`
	LatencyMS     float64        `json:"latency_ms"`
	MemoryDeltaKB float64        `json:"memory_delta_kb"`
	PeakMemoryKB  float64        `json:"peak_memory_kb,omitempty"`
	OutputSummary Summary        `json:"output_summary"`
	Error         string         `json:"error,omitempty"`
	StartedAt     time.Time      `json:"started_at"`
	CompletedAt   time.Time      `json:"completed_at"`
	NodesBefore   int            `json:"nodes_before"`
	NodesAfter    int            `json:"nodes_after"`
	EdgesBefore   int            `json:"edges_before"`
	EdgesAfter    int            `json:"edges_after"`
	Deltas        map[string]int `json:"field_deltas,omitempty"`
}

// RunSummary aggregates a run.
type RunSummary struct {
	RunID          string  `json:"run_id"`
	TotalStages    int     `json:"total_stages"`
	OKCount        int     `json:"ok_count"`
	FailCount      int     `json:"fail_count"`
	WarnCount      int     `json:"warn_count"`
	SkipCount      int     `json:"skip_count"`
	PeakMemoryKB   float64 `json:"peak_memory_kb"`
	SlowestStage   string  `json:"slowest_stage,omitempty"`
	TotalLatencyMS float64 `json:"total_latency_ms"`
}

// Snapshot is the complete record of a run.
type Snapshot struct {
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Stages      []StageResult `json:"stages"`
	Summary     RunSummary    `json:"summary"`
}

// Failed reports whether any stage failed.
func (s *Snapshot) Failed() bool {
	return s.Summary.FailCount > 0
}

// Stage returns the result recorded for name.
func (s *Snapshot) Stage(name string) (StageResult, bool) {
	for _, r := range s.Stages {
		if r.StageName == name {
			return r, true
		}
	}
	return StageResult{}, false
}

// WriteJSON writes the snapshot as indented JSON.
func (s *Snapshot) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// summarize recomputes the run summary from the stage results.
func (s *Snapshot) summarize(runID string, peakKB float64) {
	sum := RunSummary{RunID: runID, TotalStages: len(s.Stages), PeakMemoryKB: peakKB}
	slowest := -1.0
	for _, r := range s.Stages {
		switch r.Status {
		case StatusOK:
			sum.OKCount++
		case StatusFail:
			sum.FailCount++
		case StatusWarn:
			sum.WarnCount++
		case StatusSkip:
			sum.SkipCount++
		}
		sum.TotalLatencyMS += r.LatencyMS
		if r.Status != StatusSkip && r.LatencyMS > slowest {
			slowest = r.LatencyMS
			sum.SlowestStage = r.StageName
		}
	}
	s.Summary = sum
}

// Func adapts plain functions to Stage. Nil Input accepts every state and
// nil Output accepts every result.
type Func[S any] struct {
	StageName string
	Input     func(S) bool
	Run       func(context.Context, S) (S, Summary, error)
	Output    func(S) error
}

// Name implements Stage.
func (f Func[S]) Name() string { return f.StageName }

// ValidateInput implements Stage.
func (f Func[S]) ValidateInput(state S) bool {
	if f.Input == nil {
		return true
	}
	return f.Input(state)
}

// Execute implements Stage.
func (f Func[S]) Execute(ctx context.Context, state S) (S, Summary, error) {
	return f.Run(ctx, state)
}

// ValidateOutput implements Stage.
func (f Func[S]) ValidateOutput(state S) error {
	if f.Output == nil {
		return nil
	}
	return f.Output(state)
}
