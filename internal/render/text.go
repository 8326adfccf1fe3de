package render

import (
	"bufio"
	"cmp"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/fatih/color"

	"gadgetry/internal/disasm"
	"gadgetry/internal/gadget"
)

// SortKey orders gadgets for display.
type SortKey int

const (
	ByAddress SortKey = iota // representative first address, then text
	ByText                   // rendered text, then address
)

// ParseSortKey accepts "addr" (or "") and "text".
func ParseSortKey(s string) (SortKey, error) {
	switch strings.ToLower(s) {
	case "", "addr", "address":
		return ByAddress, nil
	case "text", "alpha":
		return ByText, nil
	}
	return ByAddress, fmt.Errorf("render: unknown sort key %q", s)
}

// Sort orders gadgets in place. Ties fall back to the canonical key, so
// the order is total and stable across runs.
func Sort(gs []*gadget.Gadget, by SortKey) {
	slices.SortFunc(gs, func(a, b *gadget.Gadget) int {
		var c int
		switch by {
		case ByText:
			c = cmp.Or(cmp.Compare(a.String(), b.String()), cmp.Compare(a.FirstAddress(), b.FirstAddress()))
		default:
			c = cmp.Or(cmp.Compare(a.FirstAddress(), b.FirstAddress()), cmp.Compare(a.String(), b.String()))
		}
		return cmp.Or(c, cmp.Compare(a.Key(), b.Key()))
	})
}

// ColorMode selects when Text emits ANSI colors.
type ColorMode int

const (
	ColorAuto ColorMode = iota // only on a terminal
	ColorAlways
	ColorNever
)

// ParseColorMode accepts "auto", "always" and "never".
func ParseColorMode(s string) (ColorMode, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return ColorAuto, nil
	case "always":
		return ColorAlways, nil
	case "never":
		return ColorNever, nil
	}
	return ColorAuto, fmt.Errorf("render: unknown color mode %q", s)
}

// TextOptions controls Text output.
type TextOptions struct {
	Color ColorMode
	// Binaries lists the ids to print addresses for, in order. With more
	// than one, each line groups addresses per binary. Empty means every
	// binary a gadget occurs in.
	Binaries []string
	// MaxAddrs caps addresses printed per binary; the rest are counted.
	// 0 prints all.
	MaxAddrs int
	Syntax   disasm.Syntax
}

type palette struct {
	addr, binary, term, mnemonic, count *color.Color
}

func newPalette(mode ColorMode) palette {
	p := palette{
		addr:     color.New(color.FgRed),
		binary:   color.New(color.Bold, color.FgHiBlue),
		term:     color.New(color.Bold, color.FgHiMagenta),
		mnemonic: color.New(color.FgYellow),
		count:    color.New(color.Faint),
	}
	for _, c := range []*color.Color{p.addr, p.binary, p.term, p.mnemonic, p.count} {
		switch mode {
		case ColorAlways:
			c.EnableColor()
		case ColorNever:
			c.DisableColor()
		}
	}
	return p
}

// Text writes one line per gadget: its addresses, a colon, then its
// instructions separated by "; ".
//
//	0x0000000000401000, 0x0000000000401f3a: pop rax; ret
//	[a.so: 0x0000000000001000], [b.so: 0x0000000000002000]: pop rax; ret
func Text(w io.Writer, gs []*gadget.Gadget, opts TextOptions) error {
	p := newPalette(opts.Color)
	bw := bufio.NewWriter(w)
	for _, g := range gs {
		ids := opts.Binaries
		if len(ids) == 0 {
			ids = g.Binaries()
		}
		if len(ids) == 1 {
			bw.WriteString(addrList(p, g.Addresses(ids[0]), opts.MaxAddrs))
		} else {
			first := true
			for _, id := range ids {
				addrs := g.Addresses(id)
				if len(addrs) == 0 {
					continue
				}
				if !first {
					bw.WriteString(", ")
				}
				first = false
				fmt.Fprintf(bw, "[%s: %s]", p.binary.Sprint(id), addrList(p, addrs, opts.MaxAddrs))
			}
		}
		bw.WriteString(": ")
		bw.WriteString(instructions(p, g, opts.Syntax))
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

func addrList(p palette, addrs []uint64, limit int) string {
	shown := addrs
	if limit > 0 && len(addrs) > limit {
		shown = addrs[:limit]
	}
	parts := make([]string, len(shown))
	for i, a := range shown {
		parts[i] = p.addr.Sprint(hexAddr(a))
	}
	s := strings.Join(parts, ", ")
	if n := len(addrs) - len(shown); n > 0 {
		s += p.count.Sprintf(" (+%d)", n)
	}
	return s
}

func instructions(p palette, g *gadget.Gadget, syntax disasm.Syntax) string {
	parts := make([]string, len(g.Instructions))
	for i, inst := range g.Instructions {
		c := p.mnemonic
		if inst.Category.IsControlTransfer() {
			c = p.term
		}
		parts[i] = colorMnemonic(c, inst.Format(syntax))
	}
	return strings.Join(parts, "; ")
}

// colorMnemonic colors the leading word of the instruction text, which is
// the mnemonic or a prefix such as "rep".
func colorMnemonic(c *color.Color, text string) string {
	head, rest, ok := strings.Cut(text, " ")
	if !ok {
		return c.Sprint(head)
	}
	return c.Sprint(head) + " " + rest
}
