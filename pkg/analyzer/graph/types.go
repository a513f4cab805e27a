package graph

// NodeKind represents the kind of graph node.
type NodeKind string

const (
	KindFile     NodeKind = "file"
	KindClass    NodeKind = "class"
	KindFunction NodeKind = "function"
	KindVariable NodeKind = "variable"
	KindExternal NodeKind = "external"
)

// String returns the string representation.
func (k NodeKind) String() string {
	return string(k)
}

// ExternalKind says what an unresolved reference pointed at.
type ExternalKind string

const (
	ExternalFunc   ExternalKind = "func"
	ExternalModule ExternalKind = "module"
	ExternalClass  ExternalKind = "class"
)

// Node represents a file, declaration, variable or external reference.
type Node struct {
	ID         string            `json:"id" toon:"id"`
	Name       string            `json:"name" toon:"name"`
	Kind       NodeKind          `json:"kind" toon:"kind"`
	RawType    string            `json:"raw_type,omitempty" toon:"raw_type,omitempty"`
	File       string            `json:"file,omitempty" toon:"file,omitempty"`
	StartLine  uint32            `json:"start_line,omitempty" toon:"start_line,omitempty"`
	EndLine    uint32            `json:"end_line,omitempty" toon:"end_line,omitempty"`
	Parent     string            `json:"parent,omitempty" toon:"parent,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty" toon:"attributes,omitempty"`
}

// EdgeType represents the type of relation.
type EdgeType string

const (
	EdgeCall     EdgeType = "call"
	EdgeImport   EdgeType = "import"
	EdgeInherit  EdgeType = "inherit"
	EdgeDataFlow EdgeType = "data_flow"
)

// EdgeTypes lists every edge type in export order.
var EdgeTypes = []EdgeType{EdgeCall, EdgeImport, EdgeInherit, EdgeDataFlow}

// String returns the string representation.
func (e EdgeType) String() string {
	return string(e)
}

// Edge is a directed, typed relation with source provenance. Edges are
// comparable and used directly as deduplication keys.
type Edge struct {
	Source string   `json:"source" toon:"source"`
	Target string   `json:"target" toon:"target"`
	Type   EdgeType `json:"type" toon:"type"`
	File   string   `json:"file,omitempty" toon:"file,omitempty"`
	Line   uint32   `json:"line,omitempty" toon:"line,omitempty"`
}

// Stats counts nodes per kind and edges per type.
// Classified nodes are also counted per atom, continent and level.
type Stats struct {
	Nodes            int              `json:"nodes" toon:"nodes"`
	Edges            int              `json:"edges" toon:"edges"`
	NodesByKind      map[NodeKind]int `json:"nodes_by_kind" toon:"nodes_by_kind"`
	EdgesByType      map[EdgeType]int `json:"edges_by_type" toon:"edges_by_type"`
	NodesByAtom      map[string]int   `json:"nodes_by_atom,omitempty" toon:"nodes_by_atom,omitempty"`
	NodesByContinent map[string]int   `json:"nodes_by_continent,omitempty" toon:"nodes_by_continent,omitempty"`
	NodesByLevel     map[string]int   `json:"nodes_by_level,omitempty" toon:"nodes_by_level,omitempty"`
}

// Betti holds the first two Betti numbers of the undirected projection.
type Betti struct {
	B0 int `json:"b0" toon:"b0"`
	B1 int `json:"b1" toon:"b1"`
}

// Metrics summarises the structural health signals of a graph.
type Metrics struct {
	Stats          Stats      `json:"stats" toon:"stats"`
	Betti          Betti      `json:"betti" toon:"betti"`
	Cycles         [][]string `json:"cycles,omitempty" toon:"cycles,omitempty"`
	CycleNodes     int        `json:"cycle_nodes" toon:"cycle_nodes"`
	DeadFunctions  []string   `json:"dead_functions,omitempty" toon:"dead_functions,omitempty"`
	TotalFunctions int        `json:"total_functions" toon:"total_functions"`
	ExternalNodes  int        `json:"external_nodes" toon:"external_nodes"`
}
