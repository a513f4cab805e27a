package controlflow

// Metrics holds control-flow measurements for a function or a whole module.
type Metrics struct {
	Cyclomatic        uint32 `json:"cyclomatic"`
	DecisionPoints    uint32 `json:"decision_points"`
	MaxNesting        int    `json:"max_nesting"`
	Branches          int    `json:"branches"`
	Loops             int    `json:"loops"`
	ExceptionHandlers int    `json:"exception_handlers"`
	EarlyReturns      int    `json:"early_returns"`
	Lines             int    `json:"lines"`
}

// ComplexityRating bands cyclomatic complexity.
type ComplexityRating string

const (
	RatingSimple      ComplexityRating = "simple"
	RatingModerate    ComplexityRating = "moderate"
	RatingComplex     ComplexityRating = "complex"
	RatingVeryComplex ComplexityRating = "very_complex"
)

// RateComplexity maps a cyclomatic value onto its band.
func RateComplexity(cc uint32) ComplexityRating {
	switch {
	case cc <= 10:
		return RatingSimple
	case cc <= 20:
		return RatingModerate
	case cc <= 50:
		return RatingComplex
	default:
		return RatingVeryComplex
	}
}

// NestingRating bands maximum nesting depth.
type NestingRating string

const (
	NestingShallow  NestingRating = "shallow"
	NestingModerate NestingRating = "moderate"
	NestingDeep     NestingRating = "deep"
	NestingVeryDeep NestingRating = "very_deep"
)

// RateNesting maps a nesting depth onto its band.
func RateNesting(depth int) NestingRating {
	switch {
	case depth <= 2:
		return NestingShallow
	case depth <= 4:
		return NestingModerate
	case depth <= 6:
		return NestingDeep
	default:
		return NestingVeryDeep
	}
}

// FunctionResult represents control-flow metrics for a single function.
type FunctionResult struct {
	Name             string           `json:"name"`
	File             string           `json:"file"`
	StartLine        uint32           `json:"start_line"`
	EndLine          uint32           `json:"end_line"`
	Metrics          Metrics          `json:"metrics"`
	ComplexityRating ComplexityRating `json:"complexity_rating"`
	NestingRating    NestingRating    `json:"nesting_rating"`
	Violations       []string         `json:"violations,omitempty"`
}

// FileResult represents control-flow metrics for one file.
type FileResult struct {
	Path      string           `json:"path"`
	Language  string           `json:"language"`
	Module    Metrics          `json:"module"`
	Functions []FunctionResult `json:"functions"`
}

// Analysis represents the full analysis result.
type Analysis struct {
	Files   []FileResult `json:"files"`
	Summary Summary      `json:"summary"`
}

// Summary provides aggregate statistics.
type Summary struct {
	TotalFiles        int                      `json:"total_files"`
	TotalFunctions    int                      `json:"total_functions"`
	AvgCyclomatic     float64                  `json:"avg_cyclomatic"`
	MaxCyclomatic     uint32                   `json:"max_cyclomatic"`
	P50Cyclomatic     uint32                   `json:"p50_cyclomatic"`
	P90Cyclomatic     uint32                   `json:"p90_cyclomatic"`
	AvgNesting        float64                  `json:"avg_nesting"`
	MaxNesting        int                      `json:"max_nesting"`
	ComplexityRatings map[ComplexityRating]int `json:"complexity_ratings"`
	NestingRatings    map[NestingRating]int    `json:"nesting_ratings"`
	ViolationCount    int                      `json:"violation_count"`
}

// Thresholds defines the limits reported as violations.
type Thresholds struct {
	MaxCyclomatic uint32 `json:"max_cyclomatic"`
	MaxNesting    int    `json:"max_nesting"`
}

// DefaultThresholds returns the defaults used by New.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxCyclomatic: 10,
		MaxNesting:    4,
	}
}
