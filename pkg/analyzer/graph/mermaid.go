package graph

import (
	"strings"
)

// MermaidOptions controls diagram rendering.
type MermaidOptions struct {
	MaxNodes        int
	Direction       string
	EdgeTypes       []EdgeType
	IncludeVars     bool
	IncludeExternal bool
}

// DefaultMermaidOptions renders calls, imports and inheritance top-down,
// capped at 50 nodes.
func DefaultMermaidOptions() MermaidOptions {
	return MermaidOptions{
		MaxNodes:        50,
		Direction:       "TD",
		EdgeTypes:       []EdgeType{EdgeCall, EdgeImport, EdgeInherit},
		IncludeExternal: true,
	}
}

// ToMermaid renders the graph as a Mermaid flowchart. Variables are left
// out unless requested; larger graphs are pruned by PageRank first.
func (g *CodeGraph) ToMermaid(opts MermaidOptions) string {
	if opts.Direction == "" {
		opts.Direction = "TD"
	}
	if len(opts.EdgeTypes) == 0 {
		opts.EdgeTypes = EdgeTypes
	}

	view := NewCodeGraph()
	for _, n := range g.nodes {
		if n.Kind == KindVariable && !opts.IncludeVars {
			continue
		}
		if n.Kind == KindExternal && !opts.IncludeExternal {
			continue
		}
		view.AddNode(n)
	}
	want := make(map[EdgeType]bool, len(opts.EdgeTypes))
	for _, t := range opts.EdgeTypes {
		want[t] = true
	}
	for _, e := range g.edges {
		if want[e.Type] && view.Has(e.Source) && view.Has(e.Target) {
			view.AddEdge(e)
		}
	}
	view = view.Prune(opts.MaxNodes)

	var b strings.Builder
	b.WriteString("graph " + opts.Direction + "\n")
	for _, n := range view.nodes {
		label := n.Name
		if label == "" {
			label = n.ID
		}
		open, closing := nodeShape(n.Kind)
		b.WriteString("    " + SanitizeMermaidID(n.ID) + open + "\"" + EscapeMermaidLabel(label) + "\"" + closing + "\n")
	}
	// parallel edges on different lines render once
	drawn := make(map[[3]string]bool)
	for _, e := range view.edges {
		key := [3]string{e.Source, e.Target, string(e.Type)}
		if drawn[key] {
			continue
		}
		drawn[key] = true
		b.WriteString("    " + SanitizeMermaidID(e.Source) + " " + edgeArrow(e.Type) + " " + SanitizeMermaidID(e.Target) + "\n")
	}
	return b.String()
}

func nodeShape(kind NodeKind) (string, string) {
	switch kind {
	case KindFile:
		return "[[", "]]"
	case KindClass:
		return "{{", "}}"
	case KindExternal:
		return "([", "])"
	case KindVariable:
		return "(", ")"
	default:
		return "[", "]"
	}
}

func edgeArrow(t EdgeType) string {
	switch t {
	case EdgeCall:
		return "-->|calls|"
	case EdgeImport:
		return "-.->|imports|"
	case EdgeInherit:
		return "==>|inherits|"
	case EdgeDataFlow:
		return "-.->|flows|"
	default:
		return "-->"
	}
}

// SanitizeMermaidID makes an id safe for Mermaid.
func SanitizeMermaidID(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for _, c := range id {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			b.WriteRune(c)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// EscapeMermaidLabel escapes characters Mermaid treats specially inside
// quoted labels.
func EscapeMermaidLabel(label string) string {
	r := strings.NewReplacer(
		`"`, "#quot;",
		"<", "#lt;",
		">", "#gt;",
	)
	return r.Replace(label)
}
