package patterns

import (
	"github.com/go-playground/validator/v10"

	"github.com/panbanda/spectrometer/pkg/parser"
	"github.com/panbanda/spectrometer/pkg/roles"
)

// DefaultConfidence applies to kinds missing from the confidence table.
const DefaultConfidence = 0.70

// confidence holds the static reliability prior for each pattern kind.
var confidence = map[string]float64{
	"entity":        0.90,
	"repository":    0.92,
	"service":       0.85,
	"controller":    0.88,
	"handler":       0.82,
	"factory":       0.90,
	"dto":           0.88,
	"valueobject":   0.92,
	"validator":     0.85,
	"mapper":        0.80,
	"query":         0.75,
	"command":       0.75,
	"test":          0.95,
	"fixture":       0.90,
	"exception":     0.95,
	"configuration": 0.88,
	"middleware":    0.85,
	"utility":       0.70,
	"internal":      0.65,
	"component":     0.92,
	"hook":          0.95,
	"store":         0.88,
	"context":       0.90,
	"provider":      0.85,
	"reducer":       0.90,
}

// Confidence returns the static prior for a pattern kind.
func Confidence(kind string) float64 {
	if c, ok := confidence[kind]; ok {
		return c
	}
	return DefaultConfidence
}

// AtomMatch is one pattern hit in a file. Lines are 1-based and spans
// never run backwards.
type AtomMatch struct {
	Kind       string     `json:"kind" validate:"required"`
	Name       string     `json:"name"`
	Role       roles.Role `json:"role" validate:"required"`
	StartLine  uint32     `json:"start_line" validate:"gte=1"`
	EndLine    uint32     `json:"end_line" validate:"gtefield=StartLine"`
	StartByte  uint32     `json:"start_byte"`
	EndByte    uint32     `json:"end_byte" validate:"gtefield=StartByte"`
	Confidence float64    `json:"confidence" validate:"gte=0,lte=1"`
	Evidence   string     `json:"evidence"`
	Capture    string     `json:"capture" validate:"required"`
}

var validate = validator.New()

// Validate checks the span, confidence and required fields.
func (m AtomMatch) Validate() error {
	return validate.Struct(m)
}

// FileMatches holds the matches for one file.
type FileMatches struct {
	Path     string          `json:"path"`
	Language parser.Language `json:"language"`
	Matches  []AtomMatch     `json:"matches"`
}

// Summary aggregates matches across files.
type Summary struct {
	TotalMatches     int            `json:"total_matches"`
	FilesWithMatches int            `json:"files_with_matches"`
	ByKind           map[string]int `json:"by_kind"`
	ByRole           map[string]int `json:"by_role"`
	AvgConfidence    float64        `json:"avg_confidence"`
}

// Analysis is the result of matching a set of files.
type Analysis struct {
	Files   []FileMatches `json:"files"`
	Summary Summary       `json:"summary"`
}

// NewAnalysis builds an Analysis and its summary from per-file results.
func NewAnalysis(files []FileMatches) *Analysis {
	s := Summary{
		ByKind: make(map[string]int),
		ByRole: make(map[string]int),
	}
	var confSum float64
	for _, f := range files {
		if len(f.Matches) > 0 {
			s.FilesWithMatches++
		}
		for _, m := range f.Matches {
			s.TotalMatches++
			s.ByKind[m.Kind]++
			s.ByRole[string(m.Role)]++
			confSum += m.Confidence
		}
	}
	if s.TotalMatches > 0 {
		s.AvgConfidence = confSum / float64(s.TotalMatches)
	}
	return &Analysis{Files: files, Summary: s}
}
