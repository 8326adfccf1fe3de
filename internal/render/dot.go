package render

import (
	"fmt"
	"slices"
	"strings"

	"gadgetry/internal/disasm"
	"gadgetry/internal/gadget"
	"gadgetry/internal/xref"
)

// terminatorColor returns the DOT edge color for a gadget terminator.
func terminatorColor(c disasm.Category, t Theme) string {
	switch c {
	case disasm.Return:
		return t.EdgeReturn
	case disasm.IndirectCall, disasm.DirectCall:
		return t.EdgeCall
	case disasm.IndirectJump, disasm.DirectJump:
		return t.EdgeJump
	default:
		return t.EdgeOther
	}
}

// OccurrenceDOT renders a match result as DOT: binaries on the left, an
// edge from each binary to every gadget it contains. Gadgets shared by
// more binaries are drawn first. maxNodes limits gadget nodes (0 = all).
func OccurrenceDOT(r *xref.MatchResult, title string, t Theme, maxNodes int) string {
	g := xref.Graph(r)

	binaries := make(map[string]bool, len(r.Binaries))
	for _, id := range r.Binaries {
		binaries[id] = true
	}
	byNode := make(map[string]*gadget.Gadget)
	for _, gd := range r.Set.Gadgets() {
		byNode[xref.NodeName(gd)] = gd
	}
	fanIn := make(map[string]int)
	for _, e := range g.Edges {
		fanIn[e.Callee]++
	}

	var gadgets []string
	for _, n := range g.Nodes {
		if !binaries[n] {
			gadgets = append(gadgets, n)
		}
	}
	slices.SortStableFunc(gadgets, func(a, b string) int { return fanIn[b] - fanIn[a] })
	if maxNodes > 0 && len(gadgets) > maxNodes {
		gadgets = gadgets[:maxNodes]
	}
	shown := make(map[string]bool, len(gadgets))
	for _, n := range gadgets {
		shown[n] = true
	}

	var b strings.Builder
	b.WriteString("digraph gadgets {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  splines=true;\n")
	b.WriteString("  nodesep=0.3;\n")
	b.WriteString("  ranksep=1.2;\n")
	fmt.Fprintf(&b, "  bgcolor=%q;\n", t.Background)
	fmt.Fprintf(&b, "  node [shape=rect, style=filled, fillcolor=%q, color=%q, penwidth=0.5, fontname=\"Menlo,Consolas,monospace\", fontsize=9, fontcolor=%q, height=0.3, margin=\"0.12,0.06\"];\n",
		t.NodeFill, t.NodeBorder, t.TextColor)
	fmt.Fprintf(&b, "  edge [penwidth=0.5, arrowsize=0.5, arrowhead=vee];\n")
	if title != "" {
		fmt.Fprintf(&b, "  labelloc=t;\n  labeljust=l;\n")
		fmt.Fprintf(&b, "  label=<<font face=\"Helvetica Neue,Helvetica\" point-size=\"8\" color=\"%s\">%s (%s match)</font>>;\n",
			t.TextColor, dotEscape(title), r.Kind)
	}
	b.WriteByte('\n')

	fmt.Fprintf(&b, "  subgraph cluster_binaries {\n")
	fmt.Fprintf(&b, "    label=<<font point-size=\"8\" color=\"%s\">binaries</font>>;\n", t.ClusterLabel)
	fmt.Fprintf(&b, "    style=dotted; color=%q; penwidth=0.3;\n", t.ClusterBorder)
	for _, id := range r.Binaries {
		fmt.Fprintf(&b, "    %s [label=<<b>%s</b>>, fillcolor=%q, color=%q, fontname=\"Helvetica Neue,Helvetica,Arial\"];\n",
			dotID(id), dotEscape(truncLabel(id, 40)), t.BinaryFill, t.BinaryBorder)
	}
	b.WriteString("  }\n\n")

	for _, n := range gadgets {
		fmt.Fprintf(&b, "  %s [label=<%s>];\n", dotID(n), dotEscape(truncLabel(byNode[n].String(), 80)))
	}
	b.WriteByte('\n')

	for _, e := range g.Edges {
		if !shown[e.Callee] {
			continue
		}
		fmt.Fprintf(&b, "  %s -> %s [color=%q];\n", dotID(e.Caller), dotID(e.Callee), terminatorColor(byNode[e.Callee].Terminator().Category, t))
	}
	b.WriteString("}\n")
	return b.String()
}
