// Package gadget defines gadgets, their canonical keys, and the
// deduplicating GadgetSet index.
package gadget

import (
	"bytes"
	"slices"
	"strings"

	"gadgetry/internal/disasm"
)

// Key identifies a gadget independent of address and raw encoding: the
// ordered (category, normalized text) pairs of its instructions.
type Key string

// KeyOf computes the canonical key of an instruction sequence.
func KeyOf(insts []disasm.Instruction) Key {
	var b strings.Builder
	for i, inst := range insts {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(inst.Category.String())
		b.WriteByte('\t')
		b.WriteString(inst.Norm)
	}
	return Key(b.String())
}

// Gadget is a straight-line instruction sequence ending in a control
// transfer, plus every place it was found.
//
// Instructions are immutable. OccursIn is only modified by the Set that owns
// the gadget, under the set's lock.
type Gadget struct {
	Instructions []disasm.Instruction
	// OccursIn maps a binary id to the start addresses of this gadget in it.
	OccursIn map[string]map[uint64]struct{}

	key       Key
	repID     string              // binary the Instructions were decoded from
	encodings map[string]struct{} // every distinct byte encoding seen
}

// New makes a gadget found at insts[0].Addr in binary id.
func New(id string, insts []disasm.Instruction) *Gadget {
	g := &Gadget{
		Instructions: insts,
		OccursIn:     map[string]map[uint64]struct{}{},
		key:          KeyOf(insts),
		repID:        id,
		encodings:    map[string]struct{}{},
	}
	if len(insts) > 0 {
		g.OccursIn[id] = map[uint64]struct{}{insts[0].Addr: {}}
		var enc []byte
		for _, inst := range insts {
			enc = append(enc, inst.Raw...)
		}
		g.encodings[string(enc)] = struct{}{}
	}
	return g
}

func (g *Gadget) Key() Key { return g.key }

// FirstAddress is the address of the first instruction of the
// representative occurrence.
func (g *Gadget) FirstAddress() uint64 { return g.Instructions[0].Addr }

// ByteLength is the encoded size of the representative occurrence. Other
// occurrences may use longer or shorter equivalent encodings; see Encodings.
func (g *Gadget) ByteLength() uint32 {
	var n uint32
	for _, inst := range g.Instructions {
		n += uint32(inst.Len)
	}
	return n
}

// Len returns the instruction count.
func (g *Gadget) Len() int { return len(g.Instructions) }

// Terminator returns the final control-transfer instruction.
func (g *Gadget) Terminator() disasm.Instruction {
	return g.Instructions[len(g.Instructions)-1]
}

// String renders the instructions as "pop rax; pop rbx; ret". Branch
// targets are absolute, resolved at the representative's addresses.
func (g *Gadget) String() string { return g.Format(disasm.Intel) }

// Format renders the instructions in syntax s, joined by "; ".
func (g *Gadget) Format(s disasm.Syntax) string {
	parts := make([]string, len(g.Instructions))
	for i, inst := range g.Instructions {
		parts[i] = inst.Format(s)
	}
	return strings.Join(parts, "; ")
}

// NormString renders the instructions with branch targets relative, as
// "jmp .+0xe". Unlike String it is the same for every occurrence, and two
// distinct gadgets never share it.
func (g *Gadget) NormString() string {
	parts := make([]string, len(g.Instructions))
	for i, inst := range g.Instructions {
		parts[i] = inst.Norm
	}
	return strings.Join(parts, "; ")
}

// Encodings returns every distinct byte encoding the gadget was found
// with, sorted. Equivalent encodings share a key, so one gadget can have
// several.
func (g *Gadget) Encodings() [][]byte {
	encs := make([][]byte, 0, len(g.encodings))
	for e := range g.encodings {
		encs = append(encs, []byte(e))
	}
	slices.SortFunc(encs, bytes.Compare)
	return encs
}

// Binaries returns the sorted ids of binaries containing the gadget.
func (g *Gadget) Binaries() []string {
	ids := make([]string, 0, len(g.OccursIn))
	for id := range g.OccursIn {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Addresses returns the sorted start addresses of the gadget in binary id.
func (g *Gadget) Addresses(id string) []uint64 {
	addrs := make([]uint64, 0, len(g.OccursIn[id]))
	for a := range g.OccursIn[id] {
		addrs = append(addrs, a)
	}
	slices.Sort(addrs)
	return addrs
}

// Occurrences counts addresses across all binaries.
func (g *Gadget) Occurrences() int {
	n := 0
	for _, addrs := range g.OccursIn {
		n += len(addrs)
	}
	return n
}

// before orders representatives: smaller binary id, then smaller address.
func (g *Gadget) before(o *Gadget) bool {
	if g.repID != o.repID {
		return g.repID < o.repID
	}
	return g.FirstAddress() < o.FirstAddress()
}

func (g *Gadget) clone() *Gadget {
	c := &Gadget{
		Instructions: g.Instructions,
		OccursIn:     make(map[string]map[uint64]struct{}, len(g.OccursIn)),
		key:          g.key,
		repID:        g.repID,
		encodings:    make(map[string]struct{}, len(g.encodings)),
	}
	for e := range g.encodings {
		c.encodings[e] = struct{}{}
	}
	for id, addrs := range g.OccursIn {
		m := make(map[uint64]struct{}, len(addrs))
		for a := range addrs {
			m[a] = struct{}{}
		}
		c.OccursIn[id] = m
	}
	return c
}

// absorb unions o's occurrences and encodings into g and adopts o's
// instructions when o is the better representative.
func (g *Gadget) absorb(o *Gadget) {
	for e := range o.encodings {
		g.encodings[e] = struct{}{}
	}
	for id, addrs := range o.OccursIn {
		m := g.OccursIn[id]
		if m == nil {
			m = make(map[uint64]struct{}, len(addrs))
			g.OccursIn[id] = m
		}
		for a := range addrs {
			m[a] = struct{}{}
		}
	}
	if o.before(g) {
		g.Instructions = o.Instructions
		g.repID = o.repID
	}
}
