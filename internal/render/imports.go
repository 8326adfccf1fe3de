package render

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"gadgetry/internal/loader"
)

// Imports writes a header naming path, then each group under its title: a
// column header and one import per line with its symbol, library, slot
// address and format specific attributes.
func Imports(w io.Writer, path string, groups []loader.ImportGroup, mode ColorMode) error {
	p := newPalette(mode)
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%s: %d imports\n", p.binary.Sprint(path), loader.CountImports(groups))
	for _, g := range groups {
		fmt.Fprintf(bw, "%s:\n", g.Title)
		if len(g.Imports) == 0 {
			fmt.Fprintln(bw, "  (none)")
			continue
		}
		nw, sw, aw := len("name"), len("source"), len("address")
		for _, imp := range g.Imports {
			nw = max(nw, len(imp.Name))
			sw = max(sw, len(imp.Source))
			aw = max(aw, len(importAddr(imp)))
		}
		header := fmt.Sprintf("  %-*s  %-*s  %-*s%s", nw, "name", sw, "source", aw, "address", attrList(g.Columns))
		fmt.Fprintln(bw, strings.TrimRight(header, " "))
		for _, imp := range g.Imports {
			addr := importAddr(imp)
			row := fmt.Sprintf("  %s%*s  %s%*s  %s%*s%s",
				p.term.Sprint(imp.Name), nw-len(imp.Name), "",
				p.mnemonic.Sprint(imp.Source), sw-len(imp.Source), "",
				p.addr.Sprint(addr), aw-len(addr), "",
				attrList(imp.Attrs))
			fmt.Fprintln(bw, strings.TrimRight(row, " "))
		}
	}
	return bw.Flush()
}

func importAddr(imp loader.Import) string {
	if imp.Address == 0 {
		return "-"
	}
	return fmt.Sprintf("%#x", imp.Address)
}

func attrList(attrs []string) string {
	if len(attrs) == 0 {
		return ""
	}
	return "  [" + strings.Join(attrs, ", ") + "]"
}
