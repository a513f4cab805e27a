package graph

import (
	"encoding/json"
	"io"
)

// Export is the JSON document downstream tooling consumes.
type Export struct {
	Nodes []Node `json:"nodes" toon:"nodes"`
	Edges []Edge `json:"edges" toon:"edges"`
	Stats Stats  `json:"stats" toon:"stats"`
}

// Export returns the exportable view of the graph. Nodes and edges keep
// insertion order.
func (g *CodeGraph) Export() Export {
	nodes := make([]Node, len(g.nodes))
	copy(nodes, g.nodes)
	edges := make([]Edge, len(g.edges))
	copy(edges, g.edges)
	return Export{Nodes: nodes, Edges: edges, Stats: g.Stats()}
}

// WriteJSON writes the graph export as indented JSON.
func (g *CodeGraph) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(g.Export())
}

// FromExport rebuilds a graph from an export document.
func FromExport(doc Export) *CodeGraph {
	g := NewCodeGraph()
	for _, n := range doc.Nodes {
		g.AddNode(n)
	}
	for _, e := range doc.Edges {
		g.AddEdge(e)
	}
	return g
}
