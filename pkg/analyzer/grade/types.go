package grade

import (
	"math"
	"time"

	"github.com/panbanda/spectrometer/pkg/analyzer/graph"
)

// Weights defines the weight of each component in the health index.
// Weights are normalised by their sum, so they need not add to 1.
type Weights struct {
	Complexity float64 `json:"complexity" toml:"complexity" koanf:"complexity" validate:"gte=0,lte=1"`
	Purity     float64 `json:"purity" toml:"purity" koanf:"purity" validate:"gte=0,lte=1"`
	Coupling   float64 `json:"coupling" toml:"coupling" koanf:"coupling" validate:"gte=0,lte=1"`
	DeadCode   float64 `json:"dead_code" toml:"dead_code" koanf:"dead_code" validate:"gte=0,lte=1"`
	Coverage   float64 `json:"coverage" toml:"coverage" koanf:"coverage" validate:"gte=0,lte=1"`
	Taxonomy   float64 `json:"taxonomy" toml:"taxonomy" koanf:"taxonomy" validate:"gte=0,lte=1"`
}

// DefaultWeights returns the default weights (sum to 1.0).
func DefaultWeights() Weights {
	return Weights{
		Complexity: 0.25,
		Purity:     0.20,
		Coupling:   0.20,
		DeadCode:   0.15,
		Coverage:   0.10,
		Taxonomy:   0.10,
	}
}

func (w Weights) sum() float64 {
	return w.Complexity + w.Purity + w.Coupling + w.DeadCode + w.Coverage + w.Taxonomy
}

// Thresholds defines minimum acceptable values. Zero disables a check.
type Thresholds struct {
	HealthIndex float64 `json:"health_index" toml:"health_index" koanf:"health_index" validate:"gte=0,lte=10"`
	Complexity  int     `json:"complexity" toml:"complexity" koanf:"complexity" validate:"gte=0,lte=100"`
	Purity      int     `json:"purity" toml:"purity" koanf:"purity" validate:"gte=0,lte=100"`
	Coupling    int     `json:"coupling" toml:"coupling" koanf:"coupling" validate:"gte=0,lte=100"`
	DeadCode    int     `json:"dead_code" toml:"dead_code" koanf:"dead_code" validate:"gte=0,lte=100"`
}

// ComponentScores holds the individual component scores (0-100 each).
type ComponentScores struct {
	Complexity int `json:"complexity"`
	Purity     int `json:"purity"`
	Coupling   int `json:"coupling"`
	DeadCode   int `json:"dead_code"`
	Coverage   int `json:"coverage"`
	Taxonomy   int `json:"taxonomy"`
}

// ThresholdResult tracks pass/fail status for a threshold check.
type ThresholdResult struct {
	Min    float64 `json:"min"`
	Passed bool    `json:"passed"`
}

// Letter is a grade letter.
type Letter string

// Grade letters from best to worst.
const (
	LetterA Letter = "A"
	LetterB Letter = "B"
	LetterC Letter = "C"
	LetterD Letter = "D"
	LetterF Letter = "F"
)

// LetterFor maps a health index on the 0-10 scale to a letter.
func LetterFor(index float64) Letter {
	switch {
	case index >= 8.5:
		return LetterA
	case index >= 7:
		return LetterB
	case index >= 5.5:
		return LetterC
	case index >= 4:
		return LetterD
	default:
		return LetterF
	}
}

// Result is the complete grade of a codebase.
type Result struct {
	HealthIndex   float64                    `json:"health_index"`
	Grade         Letter                     `json:"grade"`
	Components    ComponentScores            `json:"components"`
	Weights       Weights                    `json:"weights"`
	FilesAnalyzed int                        `json:"files_analyzed"`
	Functions     int                        `json:"functions"`
	Nodes         int                        `json:"nodes"`
	Edges         int                        `json:"edges"`
	Betti         graph.Betti                `json:"betti"`
	Cycles        int                        `json:"cycles"`
	DeadFunctions int                        `json:"dead_functions"`
	Thresholds    map[string]ThresholdResult `json:"thresholds,omitempty"`
	Passed        bool                       `json:"passed"`
	Timestamp     time.Time                  `json:"timestamp"`
}

// ComputeComposite calculates the weighted health index and grade letter.
func (r *Result) ComputeComposite() {
	total := r.Weights.sum()
	if total <= 0 {
		r.Weights = DefaultWeights()
		total = r.Weights.sum()
	}
	weighted := float64(r.Components.Complexity)*r.Weights.Complexity +
		float64(r.Components.Purity)*r.Weights.Purity +
		float64(r.Components.Coupling)*r.Weights.Coupling +
		float64(r.Components.DeadCode)*r.Weights.DeadCode +
		float64(r.Components.Coverage)*r.Weights.Coverage +
		float64(r.Components.Taxonomy)*r.Weights.Taxonomy

	index := weighted / total / 10
	index = math.Round(index*100) / 100
	r.HealthIndex = math.Max(0, math.Min(10, index))
	r.Grade = LetterFor(r.HealthIndex)
}

// CheckThresholds evaluates all thresholds and sets Passed status.
func (r *Result) CheckThresholds(t Thresholds) {
	r.Thresholds = make(map[string]ThresholdResult)
	r.Passed = true

	check := func(name string, actual, min float64) {
		passed := min == 0 || actual >= min
		r.Thresholds[name] = ThresholdResult{Min: min, Passed: passed}
		if !passed {
			r.Passed = false
		}
	}

	check("health_index", r.HealthIndex, t.HealthIndex)
	check("complexity", float64(r.Components.Complexity), float64(t.Complexity))
	check("purity", float64(r.Components.Purity), float64(t.Purity))
	check("coupling", float64(r.Components.Coupling), float64(t.Coupling))
	check("dead_code", float64(r.Components.DeadCode), float64(t.DeadCode))
}
