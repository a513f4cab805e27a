package dataflow

import "sort"

// MutationKind classifies how an assignment changes existing state.
type MutationKind string

const (
	MutationNone        MutationKind = ""
	MutationAugmented   MutationKind = "augmented"
	MutationAttribute   MutationKind = "attribute"
	MutationSubscript   MutationKind = "subscript"
	MutationDelete      MutationKind = "delete"
	MutationMethod      MutationKind = "method"
	MutationGlobalWrite MutationKind = "global_write"
	MutationUpdate      MutationKind = "update"
)

// EffectKind classifies a side effect.
type EffectKind string

const (
	EffectIO       EffectKind = "io"
	EffectGlobal   EffectKind = "global"
	EffectExternal EffectKind = "external"
)

// Assignment is a write to a binding. Mutations are assignments with a
// non-empty Kind.
type Assignment struct {
	Target      string       `json:"target"`
	Sources     []string     `json:"sources,omitempty"`
	Line        uint32       `json:"line"`
	StartByte   uint32       `json:"start_byte"`
	EndByte     uint32       `json:"end_byte"`
	Kind        MutationKind `json:"kind,omitempty"`
	GlobalWrite bool         `json:"global_write,omitempty"`
}

// IsMutation reports whether the assignment modifies existing state.
func (a Assignment) IsMutation() bool {
	return a.Kind != MutationNone || a.GlobalWrite
}

// SideEffect is a detected I/O call, global declaration or external access.
type SideEffect struct {
	Kind     EffectKind `json:"kind"`
	Name     string     `json:"name"`
	Line     uint32     `json:"line"`
	Evidence string     `json:"evidence"`
}

// Flow is the data-flow record of one function or module body.
type Flow struct {
	Assignments []Assignment `json:"assignments"`
	SideEffects []SideEffect `json:"side_effects"`
	Globals     []string     `json:"globals,omitempty"`
}

// Mutations returns the assignments that modify existing state.
func (f *Flow) Mutations() []Assignment {
	var out []Assignment
	for _, a := range f.Assignments {
		if a.IsMutation() {
			out = append(out, a)
		}
	}
	return out
}

// MutationCount returns len(Mutations()) without allocating.
func (f *Flow) MutationCount() int {
	n := 0
	for _, a := range f.Assignments {
		if a.IsMutation() {
			n++
		}
	}
	return n
}

// HasGlobalWrite reports whether any binding declared global or nonlocal
// is written.
func (f *Flow) HasGlobalWrite() bool {
	for _, a := range f.Assignments {
		if a.GlobalWrite {
			return true
		}
	}
	return false
}

// IsPure reports whether no mutation or side effect was detected.
func (f *Flow) IsPure() bool {
	return f.MutationCount() == 0 && len(f.SideEffects) == 0
}

// Purity returns the purity score in [0,1]. An empty flow is 1.0.
func (f *Flow) Purity() float64 {
	return Score(len(f.Assignments), f.MutationCount(), len(f.SideEffects), f.HasGlobalWrite())
}

// Rating returns the band for Purity().
func (f *Flow) Rating() PurityRating {
	return RatePurity(f.Purity())
}

// Factors breaks the purity score into its contributing signals.
type Factors struct {
	Assignments     int                  `json:"total_assignments"`
	Mutations       int                  `json:"mutations"`
	SideEffects     int                  `json:"side_effects"`
	GlobalWrite     bool                 `json:"global_write"`
	MutationKinds   map[MutationKind]int `json:"mutation_types"`
	SideEffectKinds map[EffectKind]int   `json:"side_effect_types"`
	Score           float64              `json:"pure_score"`
	Rating          PurityRating         `json:"purity_rating"`
	Pure            bool                 `json:"is_pure"`
}

// PurityFactors lists the signals behind the purity score.
func (f *Flow) PurityFactors() Factors {
	fs := Factors{
		Assignments:     len(f.Assignments),
		Mutations:       f.MutationCount(),
		SideEffects:     len(f.SideEffects),
		GlobalWrite:     f.HasGlobalWrite(),
		MutationKinds:   make(map[MutationKind]int),
		SideEffectKinds: make(map[EffectKind]int),
		Score:           f.Purity(),
		Pure:            f.IsPure(),
	}
	fs.Rating = RatePurity(fs.Score)
	for _, a := range f.Assignments {
		switch {
		case a.Kind != MutationNone:
			fs.MutationKinds[a.Kind]++
		case a.GlobalWrite:
			fs.MutationKinds[MutationGlobalWrite]++
		}
	}
	for _, e := range f.SideEffects {
		fs.SideEffectKinds[e.Kind]++
	}
	return fs
}

// PurityRating bands the purity score.
type PurityRating string

const (
	RatingPure         PurityRating = "pure"
	RatingMostlyPure   PurityRating = "mostly_pure"
	RatingMixed        PurityRating = "mixed"
	RatingMostlyImpure PurityRating = "mostly_impure"
	RatingImpure       PurityRating = "impure"
)

var ratingBands = []struct {
	min    float64
	rating PurityRating
}{
	{0.95, RatingPure},
	{0.75, RatingMostlyPure},
	{0.50, RatingMixed},
	{0.25, RatingMostlyImpure},
}

// RatePurity maps a purity score onto its band.
func RatePurity(score float64) PurityRating {
	for _, b := range ratingBands {
		if score >= b.min {
			return b.rating
		}
	}
	return RatingImpure
}

// Rank orders ratings from pure (0) to impure (4).
func (r PurityRating) Rank() int {
	for i, b := range ratingBands {
		if b.rating == r {
			return i
		}
	}
	return len(ratingBands)
}

// Weights tunes the purity formula.
type Weights struct {
	// GlobalWritePenalty multiplies the base score when a global or
	// nonlocal binding is written.
	GlobalWritePenalty float64
}

// DefaultWeights is used by Score.
var DefaultWeights = Weights{GlobalWritePenalty: 0.8}

// Score computes purity as
// 1 - (mutations + sideEffects) / (assignments + sideEffects + 1),
// penalised on global writes and clamped to [0,1].
func Score(assignments, mutations, sideEffects int, globalWrite bool) float64 {
	return DefaultWeights.Score(assignments, mutations, sideEffects, globalWrite)
}

// Score computes purity with w.
func (w Weights) Score(assignments, mutations, sideEffects int, globalWrite bool) float64 {
	denom := float64(assignments + sideEffects + 1)
	s := 1.0 - float64(mutations+sideEffects)/denom
	if globalWrite {
		s *= w.GlobalWritePenalty
	}
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	}
	return s
}

// FunctionResult is the data-flow record of one function.
type FunctionResult struct {
	Name       string       `json:"name"`
	File       string       `json:"file"`
	StartLine  uint32       `json:"start_line"`
	EndLine    uint32       `json:"end_line"`
	Flow       Flow         `json:"flow"`
	Purity     float64      `json:"purity"`
	Rating     PurityRating `json:"rating"`
	Violations []string     `json:"violations,omitempty"`
}

// FileResult is the data-flow record of one file.
type FileResult struct {
	Path      string           `json:"path"`
	Language  string           `json:"language"`
	Module    Flow             `json:"module"`
	Functions []FunctionResult `json:"functions"`
}

// Analysis represents the full analysis result.
type Analysis struct {
	Files   []FileResult `json:"files"`
	Summary Summary      `json:"summary"`
}

// Summary provides aggregate statistics.
type Summary struct {
	TotalFiles       int                  `json:"total_files"`
	TotalFunctions   int                  `json:"total_functions"`
	PureFunctions    int                  `json:"pure_functions"`
	AvgPurity        float64              `json:"avg_purity"`
	MinPurity        float64              `json:"min_purity"`
	TotalMutations   int                  `json:"total_mutations"`
	TotalSideEffects int                  `json:"total_side_effects"`
	Ratings          map[PurityRating]int `json:"ratings"`
	MutationKinds    map[MutationKind]int `json:"mutation_kinds"`
	SideEffectKinds  map[EffectKind]int   `json:"side_effect_kinds"`
	ViolationCount   int                  `json:"violation_count"`
}

// LeastPure returns up to n functions ordered by ascending purity.
func (a *Analysis) LeastPure(n int) []FunctionResult {
	var all []FunctionResult
	for _, f := range a.Files {
		all = append(all, f.Functions...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Purity != all[j].Purity {
			return all[i].Purity < all[j].Purity
		}
		if all[i].File != all[j].File {
			return all[i].File < all[j].File
		}
		return all[i].StartLine < all[j].StartLine
	})
	if n >= 0 && len(all) > n {
		all = all[:n]
	}
	return all
}

// Thresholds defines the limits reported as violations.
type Thresholds struct {
	MinPurity float64 `json:"min_purity"`
}

// DefaultThresholds returns the defaults used by New.
func DefaultThresholds() Thresholds {
	return Thresholds{MinPurity: 0.5}
}
