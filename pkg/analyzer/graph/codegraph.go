package graph

import (
	"sort"
	"strings"
)

// CodeGraph owns the nodes and edges of one analysis run. Nodes live in
// an arena indexed by position; relations are (id, id) edges. Adjacency
// views per edge type are updated only by AddEdge.
//
// CodeGraph is not safe for concurrent mutation.
type CodeGraph struct {
	nodes   []Node
	index   map[string]int
	edges   []Edge
	seen    map[Edge]struct{}
	forward map[EdgeType]map[int][]int
	reverse map[EdgeType]map[int][]int
}

// NewCodeGraph creates an empty graph.
func NewCodeGraph() *CodeGraph {
	g := &CodeGraph{
		index:   make(map[string]int),
		seen:    make(map[Edge]struct{}),
		forward: make(map[EdgeType]map[int][]int),
		reverse: make(map[EdgeType]map[int][]int),
	}
	for _, t := range EdgeTypes {
		g.forward[t] = make(map[int][]int)
		g.reverse[t] = make(map[int][]int)
	}
	return g
}

// AddNode inserts n, or merges it into the node with the same id by
// widening the recorded span. It returns the arena index and whether a
// new node was created. An external placeholder is replaced by a concrete
// declaration with the same id.
func (g *CodeGraph) AddNode(n Node) (int, bool) {
	if i, ok := g.index[n.ID]; ok {
		existing := &g.nodes[i]
		if existing.Kind == KindExternal && n.Kind != KindExternal {
			*existing = n
			return i, false
		}
		if n.StartLine > 0 && (existing.StartLine == 0 || n.StartLine < existing.StartLine) {
			existing.StartLine = n.StartLine
		}
		if n.EndLine > existing.EndLine {
			existing.EndLine = n.EndLine
		}
		return i, false
	}
	i := len(g.nodes)
	g.nodes = append(g.nodes, n)
	g.index[n.ID] = i
	return i, true
}

// AddEdge records e once. Exact duplicates are ignored; edges that differ
// only by line are distinct. Endpoints that are not yet nodes become
// external nodes so no edge ever dangles.
func (g *CodeGraph) AddEdge(e Edge) bool {
	if _, dup := g.seen[e]; dup {
		return false
	}
	if _, ok := g.forward[e.Type]; !ok {
		g.forward[e.Type] = make(map[int][]int)
		g.reverse[e.Type] = make(map[int][]int)
	}
	from := g.ensure(e.Source)
	to := g.ensure(e.Target)
	g.seen[e] = struct{}{}
	g.edges = append(g.edges, e)
	g.forward[e.Type][from] = append(g.forward[e.Type][from], to)
	g.reverse[e.Type][to] = append(g.reverse[e.Type][to], from)
	return true
}

func (g *CodeGraph) ensure(id string) int {
	if i, ok := g.index[id]; ok {
		return i
	}
	i, _ := g.AddNode(externalNode(id))
	return i
}

// externalNode builds the placeholder for an unresolved id. Ids of the
// form ext:<kind>:<name> carry their kind.
func externalNode(id string) Node {
	n := Node{ID: id, Name: id, Kind: KindExternal}
	if rest, ok := strings.CutPrefix(id, "ext:"); ok {
		if kind, name, found := strings.Cut(rest, ":"); found {
			n.Name = name
			n.Attributes = map[string]string{"ref": kind}
		}
	}
	return n
}

// ExternalID returns the id of the external node for name.
func ExternalID(kind ExternalKind, name string) string {
	return "ext:" + string(kind) + ":" + name
}

// Node returns the node with the given id.
func (g *CodeGraph) Node(id string) (Node, bool) {
	i, ok := g.index[id]
	if !ok {
		return Node{}, false
	}
	return g.nodes[i], true
}

// Has reports whether id is a node.
func (g *CodeGraph) Has(id string) bool {
	_, ok := g.index[id]
	return ok
}

// Nodes returns the nodes in insertion order. The slice must not be
// modified.
func (g *CodeGraph) Nodes() []Node { return g.nodes }

// Edges returns the edges in insertion order. The slice must not be
// modified.
func (g *CodeGraph) Edges() []Edge { return g.edges }

// NodeCount returns the number of nodes.
func (g *CodeGraph) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of edges.
func (g *CodeGraph) EdgeCount() int { return len(g.edges) }

// NodesOfKind returns the nodes of one kind in insertion order.
func (g *CodeGraph) NodesOfKind(kind NodeKind) []Node {
	var out []Node
	for _, n := range g.nodes {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

// EdgesOfType returns the edges of one type in insertion order.
func (g *CodeGraph) EdgesOfType(t EdgeType) []Edge {
	var out []Edge
	for _, e := range g.edges {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Out returns the targets of edges of type t leaving id, in insertion
// order. Parallel edges on different lines appear once per edge.
func (g *CodeGraph) Out(id string, t EdgeType) []string {
	return g.neighbours(g.forward, id, t)
}

// In returns the sources of edges of type t entering id.
func (g *CodeGraph) In(id string, t EdgeType) []string {
	return g.neighbours(g.reverse, id, t)
}

func (g *CodeGraph) neighbours(adj map[EdgeType]map[int][]int, id string, t EdgeType) []string {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	idx := adj[t][i]
	out := make([]string, len(idx))
	for k, j := range idx {
		out[k] = g.nodes[j].ID
	}
	return out
}

// Children returns the ids of nodes whose parent is id, sorted.
func (g *CodeGraph) Children(id string) []string {
	var out []string
	for _, n := range g.nodes {
		if n.Parent == id {
			out = append(out, n.ID)
		}
	}
	sort.Strings(out)
	return out
}

// Stats counts nodes per kind and edges per type.
func (g *CodeGraph) Stats() Stats {
	s := Stats{
		Nodes:       len(g.nodes),
		Edges:       len(g.edges),
		NodesByKind: make(map[NodeKind]int),
		EdgesByType: make(map[EdgeType]int),
	}
	for _, t := range EdgeTypes {
		s.EdgesByType[t] = 0
	}
	for _, n := range g.nodes {
		s.NodesByKind[n.Kind]++
		if atom, ok := n.Attributes[AttrAtom]; ok {
			count(&s.NodesByAtom, atom)
			count(&s.NodesByContinent, n.Attributes[AttrContinent])
			count(&s.NodesByLevel, n.Attributes[AttrLevel])
		}
	}
	for _, e := range g.edges {
		s.EdgesByType[e.Type]++
	}
	return s
}

func count(m *map[string]int, key string) {
	if *m == nil {
		*m = make(map[string]int)
	}
	(*m)[key]++
}

// Merge copies every node and edge of other into g.
func (g *CodeGraph) Merge(other *CodeGraph) {
	for _, n := range other.nodes {
		g.AddNode(n)
	}
	for _, e := range other.edges {
		g.AddEdge(e)
	}
}
