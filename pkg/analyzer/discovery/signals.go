package discovery

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/panbanda/spectrometer/pkg/parser"
	"github.com/panbanda/spectrometer/pkg/taxonomy"
)

const (
	signatureChildren = 5
	shapeChildren     = 3
	contextDepth      = 5
)

// childTypes returns the types of the first n children, tokens included.
func childTypes(n *sitter.Node, limit int) []string {
	count := int(n.ChildCount())
	if count > limit {
		count = limit
	}
	out := make([]string, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, n.Child(i).Type())
	}
	return out
}

// Signature hashes a node type and the types of its first five children.
func Signature(nodeType string, children []string) string {
	if len(children) > signatureChildren {
		children = children[:signatureChildren]
	}
	key := nodeType + ":[" + strings.Join(children, ",") + "]"
	return fmt.Sprintf("%016x", xxhash.Sum64String(key))
}

// Shape renders the structural pattern of a node and its first three
// children.
func Shape(nodeType string, children []string) string {
	if len(children) > shapeChildren {
		children = children[:shapeChildren]
	}
	return nodeType + "→[" + strings.Join(children, ",") + "]"
}

var ioWords = []string{"read", "write", "open", "save", "fetch", "request"}

// Behavior derives behavior indicators from the source text of a node.
func Behavior(text string) []string {
	lower := strings.ToLower(text)
	var out []string
	add := func(cond bool, indicator string) {
		if cond {
			out = append(out, indicator)
		}
	}
	add(strings.Contains(lower, "return"), BehaviorReturnsValue)
	add(strings.Contains(text, "self.") || strings.Contains(text, "this."), BehaviorAccessesInstance)
	add(strings.Contains(text, "=") && !strings.Contains(text, "=="), BehaviorAssigns)
	add(strings.Contains(text, "("), BehaviorInvokes)
	add(strings.Contains(text, "await"), BehaviorAsync)
	add(strings.Contains(text, "raise") || strings.Contains(text, "throw"), BehaviorRaises)
	io := false
	for _, w := range ioWords {
		if strings.Contains(lower, w) {
			io = true
			break
		}
	}
	add(io, BehaviorIO)
	sort.Strings(out)
	return out
}

var (
	conditionalTypes = set("if_statement", "if_expression", "conditional_expression", "ternary_expression", "switch_statement", "expression_switch_statement")
	loopTypes        = set("for_statement", "while_statement", "for_in_statement", "for_of_statement", "enhanced_for_statement", "do_statement", "range_clause")
	tryTypes         = set("try_statement", "try_with_resources_statement", "try_expression")
)

func set(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}

// Context derives context indicators from up to five ancestors.
func Context(n *sitter.Node, lang parser.Language) []string {
	classes := parser.ClassNodeTypes(lang)
	functions := parser.FunctionNodeTypes(lang)
	found := make(map[string]bool)
	p := n.Parent()
	for depth := 0; p != nil && depth < contextDepth; depth++ {
		t := p.Type()
		if _, ok := classes[t]; ok {
			found[ContextClass] = true
		}
		if _, ok := functions[t]; ok {
			found[ContextFunction] = true
		}
		switch {
		case conditionalTypes[t]:
			found[ContextConditional] = true
		case loopTypes[t]:
			found[ContextLoop] = true
		case tryTypes[t]:
			found[ContextTry] = true
		}
		p = p.Parent()
	}
	out := make([]string, 0, len(found))
	for k := range found {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Propose classifies an AST type from lexical cues in its name.
func Propose(astType string) Proposal {
	t := strings.ToLower(astType)
	p := Proposal{Name: pascal(astType)}
	switch {
	case strings.Contains(t, "statement") || strings.Contains(t, "stmt"):
		p.Continent, p.Fundamental, p.Level = taxonomy.ContinentLogic, taxonomy.FundamentalStatements, taxonomy.LevelAtom
	case strings.Contains(t, "expression") || strings.Contains(t, "expr"):
		p.Continent, p.Fundamental, p.Level = taxonomy.ContinentLogic, taxonomy.FundamentalExpressions, taxonomy.LevelAtom
	case strings.Contains(t, "definition") || strings.Contains(t, "declaration"):
		p.Fundamental = taxonomy.FundamentalAggregates
		if strings.Contains(t, "function") {
			p.Fundamental = taxonomy.FundamentalFunctions
		}
		p.Continent = taxonomy.ContinentLogic
		if strings.Contains(t, "class") {
			p.Continent = taxonomy.ContinentOrganization
		}
		p.Level = taxonomy.LevelMolecule
	case strings.Contains(t, "literal") || strings.Contains(t, "constant"):
		p.Continent, p.Fundamental, p.Level = taxonomy.ContinentData, taxonomy.FundamentalPrimitives, taxonomy.LevelAtom
	case strings.Contains(t, "import"):
		p.Continent, p.Fundamental, p.Level = taxonomy.ContinentOrganization, taxonomy.FundamentalModules, taxonomy.LevelAtom
	}
	return p
}

// pascal converts snake_case to PascalCase.
func pascal(s string) string {
	var b strings.Builder
	for _, part := range strings.Split(s, "_") {
		if part == "" {
			continue
		}
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(strings.ToLower(part[1:]))
	}
	return b.String()
}

// Score computes confidence from signals, capped at 1.
func (w Weights) Score(s Signals) float64 {
	score := tier(w.Occurrences, s.Occurrences) + tier(w.Files, s.Files)
	if s.HasBehavior {
		score += w.Behavior
	}
	if s.HasContext {
		score += w.Context
	}
	if s.HasName {
		score += w.Name
	}
	if score > 1 {
		return 1
	}
	return score
}

func tier(tiers []Tier, n int) float64 {
	for _, t := range tiers {
		if n > t.Above {
			return t.Score
		}
	}
	return 0
}

// signals extracts the scoring inputs of an atom.
func (u *UnknownAtom) signals() Signals {
	return Signals{
		Occurrences: u.OccurrenceCount,
		Files:       len(u.Files),
		HasBehavior: len(u.BehaviorIndicators) > 0,
		HasContext:  len(u.ContextIndicators) > 0,
		HasName:     u.Proposal.Name != "",
	}
}

// Merge folds other into u. The result does not depend on merge order:
// counts add, sets union, bounded lists keep their smallest distinct
// values, and the seen window widens.
func (u *UnknownAtom) Merge(other *UnknownAtom, lim Limits, w Weights) {
	u.OccurrenceCount += other.OccurrenceCount
	u.BehaviorIndicators = union(u.BehaviorIndicators, other.BehaviorIndicators, 0)
	u.ContextIndicators = union(u.ContextIndicators, other.ContextIndicators, 0)
	u.Files = union(u.Files, other.Files, 0)
	u.Repos = union(u.Repos, other.Repos, 0)
	u.CodeSamples = union(u.CodeSamples, other.CodeSamples, lim.Samples)
	u.Locations = union(u.Locations, other.Locations, lim.Locations)
	if u.FirstSeen.IsZero() || (!other.FirstSeen.IsZero() && other.FirstSeen.Before(u.FirstSeen)) {
		u.FirstSeen = other.FirstSeen
	}
	if other.LastSeen.After(u.LastSeen) {
		u.LastSeen = other.LastSeen
	}
	u.Confidence = w.Score(u.signals())
}

// Clone returns a deep copy.
func (u *UnknownAtom) Clone() *UnknownAtom {
	c := *u
	c.BehaviorIndicators = append([]string(nil), u.BehaviorIndicators...)
	c.ContextIndicators = append([]string(nil), u.ContextIndicators...)
	c.Files = append([]string(nil), u.Files...)
	c.Repos = append([]string(nil), u.Repos...)
	c.CodeSamples = append([]string(nil), u.CodeSamples...)
	c.Locations = append([]string(nil), u.Locations...)
	return &c
}

// union merges two sorted sets, keeping at most limit values when limit
// is positive.
func union(a, b []string, limit int) []string {
	out := make([]string, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		var next string
		switch {
		case j >= len(b) || (i < len(a) && a[i] < b[j]):
			next = a[i]
			i++
		case i >= len(a) || b[j] < a[i]:
			next = b[j]
			j++
		default:
			next = a[i]
			i++
			j++
		}
		if len(out) > 0 && out[len(out)-1] == next {
			continue
		}
		out = append(out, next)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
