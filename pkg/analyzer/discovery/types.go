package discovery

import (
	"sort"
	"time"

	"github.com/panbanda/spectrometer/pkg/taxonomy"
)

// Behavior indicators describe what an unknown construct does.
const (
	BehaviorReturnsValue     = "returns_value"
	BehaviorAccessesInstance = "accesses_instance"
	BehaviorAssigns          = "assigns"
	BehaviorInvokes          = "invokes"
	BehaviorAsync            = "async_operation"
	BehaviorRaises           = "raises_exception"
	BehaviorIO               = "performs_io"
)

// Context indicators describe where an unknown construct appears.
const (
	ContextClass       = "in_class"
	ContextFunction    = "in_function"
	ContextConditional = "in_conditional"
	ContextLoop        = "in_loop"
	ContextTry         = "in_try_block"
)

// Proposal is a heuristic classification for an unknown construct.
type Proposal struct {
	Name        string               `json:"name"`
	Continent   taxonomy.Continent   `json:"continent,omitempty"`
	Fundamental taxonomy.Fundamental `json:"fundamental,omitempty"`
	Level       taxonomy.Level       `json:"level,omitempty"`
}

// Classified reports whether the heuristics placed the construct.
func (p Proposal) Classified() bool {
	return p.Continent != "" && p.Fundamental != "" && p.Level != ""
}

// UnknownAtom accumulates evidence for one structural signature that the
// catalogue does not know. All set-valued fields are kept sorted so two
// atoms merged in any order are identical.
type UnknownAtom struct {
	Signature          string    `json:"signature_hash"`
	ASTType            string    `json:"ast_type"`
	ASTSignature       string    `json:"ast_signature"`
	BehaviorIndicators []string  `json:"behavior_indicators"`
	ContextIndicators  []string  `json:"context_indicators"`
	OccurrenceCount    int       `json:"occurrence_count"`
	Files              []string  `json:"files_seen_in"`
	Repos              []string  `json:"repos_seen_in"`
	CodeSamples        []string  `json:"code_samples"`
	Locations          []string  `json:"locations"`
	Proposal           Proposal  `json:"proposal"`
	FirstSeen          time.Time `json:"first_seen"`
	LastSeen           time.Time `json:"last_seen"`
	Confidence         float64   `json:"confidence_score"`
}

// Rank is the candidate ordering key.
func (u *UnknownAtom) Rank() float64 {
	return u.Confidence * float64(u.OccurrenceCount)
}

// Limits bounds the evidence kept per unknown atom.
type Limits struct {
	Samples     int `json:"samples"`
	SampleChars int `json:"sample_chars"`
	Locations   int `json:"locations"`
}

// DefaultLimits keeps five samples of up to 200 characters and ten
// locations.
func DefaultLimits() Limits {
	return Limits{Samples: 5, SampleChars: 200, Locations: 10}
}

// Tier awards Score when a count is strictly above Above.
type Tier struct {
	Above int     `json:"above"`
	Score float64 `json:"score"`
}

// Weights is the confidence weight table. Tiers are checked in order and
// the first match wins.
type Weights struct {
	Occurrences []Tier  `json:"occurrences"`
	Files       []Tier  `json:"files"`
	Behavior    float64 `json:"behavior"`
	Context     float64 `json:"context"`
	Name        float64 `json:"name"`
}

// DefaultWeights is the standard confidence table.
var DefaultWeights = Weights{
	Occurrences: []Tier{{Above: 100, Score: 0.3}, {Above: 10, Score: 0.2}, {Above: 1, Score: 0.1}},
	Files:       []Tier{{Above: 5, Score: 0.2}, {Above: 1, Score: 0.1}},
	Behavior:    0.2,
	Context:     0.1,
	Name:        0.1,
}

// Signals are the inputs to the confidence score.
type Signals struct {
	Occurrences int
	Files       int
	HasBehavior bool
	HasContext  bool
	HasName     bool
}

// Partial is the discovery state for a set of files. Partials combine
// with Merge in any order.
type Partial struct {
	Atoms        map[string]*UnknownAtom
	Files        int
	TotalNodes   int
	KnownNodes   int
	UnknownNodes int
	// ByCategory counts known nodes per structural category.
	ByCategory map[taxonomy.Category]int
}

// NewPartial returns an empty partial.
func NewPartial() *Partial {
	return &Partial{
		Atoms:      make(map[string]*UnknownAtom),
		ByCategory: make(map[taxonomy.Category]int),
	}
}

// Sorted returns the atoms ordered by signature.
func (p *Partial) Sorted() []*UnknownAtom {
	out := make([]*UnknownAtom, 0, len(p.Atoms))
	for _, a := range p.Atoms {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Signature < out[j].Signature })
	return out
}

// Report summarises a discovery run.
type Report struct {
	Repo          string                    `json:"repo"`
	Timestamp     time.Time                 `json:"timestamp"`
	FilesAnalyzed int                       `json:"files_analyzed"`
	TotalNodes    int                       `json:"total_nodes"`
	KnownNodes    int                       `json:"known_atoms"`
	UnknownNodes  int                       `json:"unknown_atoms"`
	ByCategory    map[taxonomy.Category]int `json:"known_by_category"`
	Unknown       []*UnknownAtom            `json:"unknown_patterns"`
	CoverageRatio float64                   `json:"coverage_ratio"`
	DiscoveryRate float64                   `json:"discovery_rate"`
}

// Candidates returns the unknown atoms meeting both thresholds.
func (r *Report) Candidates(minOccurrences int, minConfidence float64) []*UnknownAtom {
	return Candidates(r.Unknown, minOccurrences, minConfidence)
}

// Candidates filters atoms by occurrence count and confidence and sorts
// them by confidence × occurrences, highest first. Ties are broken by
// signature.
func Candidates(atoms []*UnknownAtom, minOccurrences int, minConfidence float64) []*UnknownAtom {
	var out []*UnknownAtom
	for _, a := range atoms {
		if a.OccurrenceCount >= minOccurrences && a.Confidence >= minConfidence {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := out[i].Rank(), out[j].Rank()
		if ri != rj {
			return ri > rj
		}
		return out[i].Signature < out[j].Signature
	})
	return out
}
