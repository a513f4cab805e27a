package graph

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/RoaringBitmap/roaring/v2"
	"gonum.org/v1/gonum/graph/network"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// gonumGraph holds the gonum projection of a CodeGraph. Gonum ids are
// arena indexes.
type gonumGraph struct {
	directed   *simple.DirectedGraph
	undirected *simple.UndirectedGraph
}

// toGonumGraph projects the edges of the given types. Self-loops are
// skipped because simple graphs do not support them.
func (g *CodeGraph) toGonumGraph(types ...EdgeType) *gonumGraph {
	gg := &gonumGraph{
		directed:   simple.NewDirectedGraph(),
		undirected: simple.NewUndirectedGraph(),
	}
	for i := range g.nodes {
		gg.directed.AddNode(simple.Node(int64(i)))
		gg.undirected.AddNode(simple.Node(int64(i)))
	}
	want := make(map[EdgeType]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	for _, e := range g.edges {
		if len(want) > 0 && !want[e.Type] {
			continue
		}
		from, to := int64(g.index[e.Source]), int64(g.index[e.Target])
		if from == to {
			continue
		}
		gg.directed.SetEdge(simple.Edge{F: simple.Node(from), T: simple.Node(to)})
		if !gg.undirected.HasEdgeBetween(from, to) {
			gg.undirected.SetEdge(simple.Edge{F: simple.Node(from), T: simple.Node(to)})
		}
	}
	return gg
}

// Cycles returns the strongly connected components with more than one
// node over call and import edges. Each cycle is sorted, and cycles are
// ordered by their first id.
func (g *CodeGraph) Cycles() [][]string {
	if len(g.nodes) == 0 {
		return nil
	}
	gg := g.toGonumGraph(EdgeCall, EdgeImport)
	var cycles [][]string
	for _, scc := range topo.TarjanSCC(gg.directed) {
		if len(scc) < 2 {
			continue
		}
		ids := make([]string, len(scc))
		for i, n := range scc {
			ids[i] = g.nodes[n.ID()].ID
		}
		sort.Strings(ids)
		cycles = append(cycles, ids)
	}
	sort.Slice(cycles, func(i, j int) bool { return cycles[i][0] < cycles[j][0] })
	return cycles
}

// Betti returns b0, the number of connected components, and b1, the
// number of independent cycles, of the undirected simple projection.
func (g *CodeGraph) Betti() Betti {
	if len(g.nodes) == 0 {
		return Betti{}
	}
	gg := g.toGonumGraph()
	b0 := len(topo.ConnectedComponents(gg.undirected))
	e := gg.undirected.Edges().Len()
	return Betti{B0: b0, B1: e - len(g.nodes) + b0}
}

// PageRank ranks nodes over all edge types.
func (g *CodeGraph) PageRank() map[string]float64 {
	out := make(map[string]float64, len(g.nodes))
	if len(g.nodes) == 0 {
		return out
	}
	ranks := network.PageRank(g.toGonumGraph().directed, 0.85, 1e-6)
	for id, r := range ranks {
		out[g.nodes[id].ID] = r
	}
	return out
}

// isEntryPoint reports whether a function is reachable from outside the
// project: main and init functions, tests, dunder methods, and public
// names.
func isEntryPoint(n Node) bool {
	name := n.Name
	switch name {
	case "main", "init", "__init__", "__main__", "constructor", "setUp", "tearDown":
		return true
	}
	for _, prefix := range []string{"test", "Test", "Benchmark", "Example", "Fuzz"} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	if strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__") {
		return true
	}
	if strings.HasSuffix(n.File, ".go") {
		r, _ := utf8.DecodeRuneInString(name)
		return unicode.IsUpper(r)
	}
	return !strings.HasPrefix(name, "_") && !strings.HasPrefix(name, "#")
}

// DeadFunctions returns the ids of functions no entry point reaches
// through call edges. File and class nodes count as roots since their
// top-level code runs on load.
func (g *CodeGraph) DeadFunctions() []string {
	reachable := roaring.New()
	queue := make([]uint32, 0, len(g.nodes))
	for i, n := range g.nodes {
		if n.Kind == KindFile || n.Kind == KindClass || (n.Kind == KindFunction && isEntryPoint(n)) {
			reachable.Add(uint32(i))
			queue = append(queue, uint32(i))
		}
	}
	calls := g.forward[EdgeCall]
	for head := 0; head < len(queue); head++ {
		for _, next := range calls[int(queue[head])] {
			if reachable.CheckedAdd(uint32(next)) {
				queue = append(queue, uint32(next))
			}
		}
	}

	var dead []string
	for i, n := range g.nodes {
		if n.Kind == KindFunction && !reachable.Contains(uint32(i)) {
			dead = append(dead, n.ID)
		}
	}
	sort.Strings(dead)
	return dead
}

// Metrics computes the structural summary of the graph.
func (g *CodeGraph) Metrics() Metrics {
	stats := g.Stats()
	m := Metrics{
		Stats:          stats,
		Betti:          g.Betti(),
		Cycles:         g.Cycles(),
		DeadFunctions:  g.DeadFunctions(),
		TotalFunctions: stats.NodesByKind[KindFunction],
		ExternalNodes:  stats.NodesByKind[KindExternal],
	}
	for _, c := range m.Cycles {
		m.CycleNodes += len(c)
	}
	return m
}

// Prune keeps the maxNodes highest-ranked nodes and the edges between
// them. Ties are broken by id.
func (g *CodeGraph) Prune(maxNodes int) *CodeGraph {
	if maxNodes <= 0 || len(g.nodes) <= maxNodes {
		return g
	}
	ranks := g.PageRank()
	order := make([]Node, len(g.nodes))
	copy(order, g.nodes)
	sort.SliceStable(order, func(i, j int) bool {
		ri, rj := ranks[order[i].ID], ranks[order[j].ID]
		if ri != rj {
			return ri > rj
		}
		return order[i].ID < order[j].ID
	})

	pruned := NewCodeGraph()
	for _, n := range order[:maxNodes] {
		pruned.AddNode(n)
	}
	for _, e := range g.edges {
		if pruned.Has(e.Source) && pruned.Has(e.Target) {
			pruned.AddEdge(e)
		}
	}
	return pruned
}
