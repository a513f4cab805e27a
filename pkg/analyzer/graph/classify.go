package graph

import (
	"strconv"

	"github.com/panbanda/spectrometer/pkg/taxonomy"
)

// Attribute keys written by Classify.
const (
	AttrAtomID    = "atom_id"
	AttrAtom      = "atom"
	AttrContinent = "continent"
	AttrLevel     = "level"
)

// Classify annotates every node whose raw type the catalog maps with its
// atom id, atom name, continent and level. It returns the number of
// nodes annotated. External nodes have no raw type and are skipped.
func (g *CodeGraph) Classify(catalog *taxonomy.Catalog) int {
	if catalog == nil {
		return 0
	}
	n := 0
	for i := range g.nodes {
		nd := &g.nodes[i]
		if nd.RawType == "" {
			continue
		}
		atom, ok := catalog.Lookup(nd.RawType)
		if !ok {
			continue
		}
		if nd.Attributes == nil {
			nd.Attributes = make(map[string]string, 4)
		}
		nd.Attributes[AttrAtomID] = strconv.Itoa(atom.ID)
		nd.Attributes[AttrAtom] = atom.Name
		nd.Attributes[AttrContinent] = string(atom.Continent)
		nd.Attributes[AttrLevel] = string(atom.Level)
		n++
	}
	return n
}
