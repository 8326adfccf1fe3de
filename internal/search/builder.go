package search

import (
	"gadgetry/internal/disasm"
	"gadgetry/internal/gadget"
)

// Builder turns (start, anchor) candidates in one region into gadgets.
type Builder struct {
	ID      string // binary id recorded in OccursIn
	Region  Region
	Decoder disasm.Decoder
	Config  Config
}

// Build decodes forward from start and returns the gadget that lands
// exactly on anchor, or nil when the candidate is not a gadget:
//   - a decode in between is invalid,
//   - an instruction steps over the anchor,
//   - a control transfer precedes the anchor and internal branches are off,
//   - the instruction at the anchor is not an enabled terminator,
//   - the sequence exceeds the instruction cap.
func (b *Builder) Build(start, anchor uint64) *gadget.Gadget {
	r := b.Region
	if start > anchor || !r.Contains(start) || !r.Contains(anchor) {
		return nil
	}
	terms := b.Config.EffectiveTerminators()
	limit := b.Config.EffectiveMaxInstructions()

	var insts []disasm.Instruction
	for addr := start; ; {
		if len(insts) == limit {
			return nil
		}
		inst := decodeAt(b.Decoder, r, addr)
		if inst.Category == disasm.Invalid {
			return nil
		}
		if addr == anchor {
			if !terms.Has(inst.Category) {
				return nil
			}
			return gadget.New(b.ID, append(insts, inst))
		}
		if inst.Category.IsControlTransfer() && !b.Config.AllowInternalBranches {
			return nil
		}
		next := inst.End()
		if next > anchor {
			return nil
		}
		insts = append(insts, inst)
		addr = next
	}
}

// BuildAll tries every start for anchor and inserts the gadgets into set.
// It returns the number of gadgets built.
func (b *Builder) BuildAll(anchor uint64, set *gadget.Set) int {
	n := 0
	for _, start := range Starts(b.Region, anchor, b.Config.EffectiveMaxBytes()) {
		if g := b.Build(start, anchor); g != nil {
			set.Insert(g)
			n++
		}
	}
	return n
}
