package xref

import (
	"github.com/zboralski/lattice"

	"gadgetry/internal/gadget"
)

// NodeName is the graph node of a gadget: its text with relative branch
// targets. Gadgets that render alike at their representative addresses
// still get distinct nodes.
func NodeName(g *gadget.Gadget) string { return g.NormString() }

// Graph builds the occurrence graph of a match result: one node per binary
// and per gadget, with an edge from each binary to every gadget it contains.
func Graph(r *MatchResult) *lattice.Graph {
	g := &lattice.Graph{}
	g.Nodes = append(g.Nodes, r.Binaries...)
	for _, gd := range r.Set.Gadgets() {
		name := NodeName(gd)
		g.Nodes = append(g.Nodes, name)
		for _, id := range gd.Binaries() {
			g.Edges = append(g.Edges, lattice.Edge{Caller: id, Callee: name})
		}
	}
	g.Dedup()
	return g
}
