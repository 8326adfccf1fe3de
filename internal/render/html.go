package render

import (
	"bufio"
	"cmp"
	"fmt"
	"io"
	"slices"
	"strings"

	"gadgetry/internal/disasm"
	"gadgetry/internal/filter"
	"gadgetry/internal/gadget"
	"gadgetry/internal/output"
)

// WriteReportHTML writes a small HTML page summarizing a search run: the
// binaries searched, the terminator and length breakdown of the gadgets,
// the most widespread gadgets, and the first maxRows gadgets in the order
// given (0 = all). It returns the first write error.
func WriteReportHTML(out io.Writer, sum *output.Summary, gs []*gadget.Gadget, title string, t Theme, maxRows int) error {
	w := bufio.NewWriter(out)
	fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>%s</title>
<style>
body { font-family: "Helvetica Neue", Helvetica, Arial, sans-serif; font-size: 14px; color: %s; background: %s; margin: 2em; max-width: 1100px; }
h1 { font-size: 18px; font-weight: 600; margin-bottom: 0.5em; }
h2 { font-size: 14px; font-weight: 600; margin-top: 1.5em; border-bottom: 1px solid #ddd; padding-bottom: 4px; }
table { border-collapse: collapse; margin: 0.5em 0; }
th, td { text-align: left; padding: 3px 12px 3px 0; font-size: 13px; }
th { font-weight: 600; }
td.num { text-align: right; font-variant-numeric: tabular-nums; }
td.err { color: %s; }
.term { display: inline-block; width: 10px; height: 10px; border-radius: 2px; margin-right: 4px; vertical-align: middle; }
.bar { height: 8px; border-radius: 2px; display: inline-block; vertical-align: middle; }
.mbar { height: 6px; border-radius: 2px; display: inline-block; vertical-align: middle; background: %s; }
.asm { font-family: Menlo, Consolas, "Courier New", monospace; font-size: 12px; }
</style>
</head>
<body>
`, htmlEscape(title), t.TextColor, t.Background, t.EdgeJump, t.EdgeReturn)

	fmt.Fprintf(w, "<h1>%s</h1>\n", htmlEscape(title))

	fmt.Fprintln(w, "<h2>Binaries</h2>")
	fmt.Fprintln(w, "<table>")
	fmt.Fprintln(w, "<tr><th>Binary</th><th>Format</th><th>Arch</th><th>Regions</th><th>Gadgets</th><th></th></tr>")
	for _, b := range sum.Binaries {
		fmt.Fprintf(w, "<tr><td>%s</td><td>%s</td><td>%s</td><td class=\"num\">%d</td><td class=\"num\">%d</td><td class=\"err\">%s</td></tr>\n",
			htmlEscape(b.ID), b.Format, b.Arch, b.Regions, b.Gadgets, htmlEscape(b.Error))
	}
	fmt.Fprintln(w, "</table>")
	fmt.Fprintln(w, "<table>")
	if sum.Match != "" {
		fmt.Fprintf(w, "<tr><td>Match</td><td>%s</td></tr>\n", sum.Match)
	}
	fmt.Fprintf(w, "<tr><td>Gadgets reported</td><td class=\"num\">%d</td></tr>\n", len(gs))
	pivots := 0
	for _, g := range gs {
		if filter.IsPivot(g) {
			pivots++
		}
	}
	fmt.Fprintf(w, "<tr><td>Stack pivots</td><td class=\"num\">%d</td></tr>\n", pivots)
	fmt.Fprintf(w, "<tr><td>Elapsed</td><td class=\"num\">%.2fs</td></tr>\n", sum.ElapsedSec)
	fmt.Fprintln(w, "</table>")

	// Terminator breakdown.
	termCounts := make(map[disasm.Category]int)
	for _, g := range gs {
		termCounts[g.Terminator().Category]++
	}
	fmt.Fprintln(w, "<h2>Terminators</h2>")
	fmt.Fprintln(w, "<table>")
	fmt.Fprintln(w, "<tr><th></th><th>Terminator</th><th>Count</th><th></th></tr>")
	for _, c := range disasm.TerminatorCategories.Categories() {
		count := termCounts[c]
		if count == 0 {
			continue
		}
		color := terminatorColor(c, t)
		barW := max(count*200/len(gs), 2)
		fmt.Fprintf(w, "<tr><td><span class=\"term\" style=\"background:%s\"></span></td><td>%s</td><td class=\"num\">%d</td><td><span class=\"bar\" style=\"width:%dpx;background:%s\"></span></td></tr>\n",
			color, c, count, barW, color)
	}
	fmt.Fprintln(w, "</table>")

	// Length distribution.
	lenCounts := make(map[int]int)
	maxCount := 0
	for _, g := range gs {
		lenCounts[g.Len()]++
		maxCount = max(maxCount, lenCounts[g.Len()])
	}
	if len(lenCounts) > 0 {
		lens := make([]int, 0, len(lenCounts))
		for n := range lenCounts {
			lens = append(lens, n)
		}
		slices.Sort(lens)
		fmt.Fprintln(w, "<h2>Instructions per Gadget</h2>")
		fmt.Fprintln(w, "<table>")
		fmt.Fprintln(w, "<tr><th>Length</th><th>Gadgets</th><th></th></tr>")
		for _, n := range lens {
			barW := max(lenCounts[n]*120/maxCount, 2)
			fmt.Fprintf(w, "<tr><td class=\"num\">%d</td><td class=\"num\">%d</td><td><span class=\"mbar\" style=\"width:%dpx\"></span></td></tr>\n",
				n, lenCounts[n], barW)
		}
		fmt.Fprintln(w, "</table>")
	}

	// Most widespread gadgets.
	if len(gs) > 0 {
		top := slices.Clone(gs)
		slices.SortStableFunc(top, func(a, b *gadget.Gadget) int {
			return cmp.Compare(b.Occurrences(), a.Occurrences())
		})
		limit := min(len(top), 15)
		fmt.Fprintln(w, "<h2>Most Frequent</h2>")
		fmt.Fprintln(w, "<table>")
		fmt.Fprintln(w, "<tr><th>Gadget</th><th>Occurrences</th></tr>")
		for _, g := range top[:limit] {
			fmt.Fprintf(w, "<tr><td class=\"asm\">%s</td><td class=\"num\">%d</td></tr>\n", htmlEscape(g.String()), g.Occurrences())
		}
		fmt.Fprintln(w, "</table>")
	}

	// Gadget listing.
	if len(gs) > 0 {
		limit := len(gs)
		if maxRows > 0 && limit > maxRows {
			limit = maxRows
		}
		fmt.Fprintln(w, "<h2>Gadgets</h2>")
		fmt.Fprintln(w, "<table>")
		fmt.Fprintln(w, "<tr><th>Address</th><th>Gadget</th><th>Binaries</th></tr>")
		for _, g := range gs[:limit] {
			fmt.Fprintf(w, "<tr><td class=\"asm\">%s</td><td class=\"asm\">%s</td><td>%s</td></tr>\n",
				hexAddr(g.FirstAddress()), htmlEscape(g.String()), htmlEscape(strings.Join(g.Binaries(), ", ")))
		}
		if len(gs) > limit {
			fmt.Fprintf(w, "<tr><td></td><td>... and %d more</td><td></td></tr>\n", len(gs)-limit)
		}
		fmt.Fprintln(w, "</table>")
	}

	fmt.Fprintln(w, "</body></html>")
	return w.Flush()
}

func htmlEscape(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	return s
}
