package search

import "gadgetry/internal/disasm"

// decodeAt decodes the instruction at addr, which must lie in r.
func decodeAt(dec disasm.Decoder, r Region, addr uint64) disasm.Instruction {
	off := int(addr - r.Base)
	end := min(off+disasm.MaxInstLen, len(r.Bytes))
	return dec.Decode(r.Bytes[off:end], addr)
}

// WalkAnchors calls fn, in ascending order, for every address in the region
// offsets [lo, hi) where decoding yields a category in terms. Every byte
// offset is tried; no attempt is made to follow the intended instruction
// stream. Walking stops at the first error fn returns.
func WalkAnchors(dec disasm.Decoder, r Region, lo, hi int, terms disasm.CategorySet, fn func(anchor uint64) error) error {
	lo = max(lo, 0)
	hi = min(hi, len(r.Bytes))
	for off := lo; off < hi; off++ {
		addr := r.Base + uint64(off)
		if !terms.Has(decodeAt(dec, r, addr).Category) {
			continue
		}
		if err := fn(addr); err != nil {
			return err
		}
	}
	return nil
}

// Anchors collects the anchors WalkAnchors visits.
func Anchors(dec disasm.Decoder, r Region, lo, hi int, terms disasm.CategorySet) []uint64 {
	var anchors []uint64
	WalkAnchors(dec, r, lo, hi, terms, func(a uint64) error {
		anchors = append(anchors, a)
		return nil
	})
	return anchors
}

// Starts returns the candidate start addresses for an anchor, farthest
// first: every address in [anchor-maxBytes, anchor] that lies in the
// region. The anchor itself is the start of the bare-terminator gadget.
func Starts(r Region, anchor uint64, maxBytes int) []uint64 {
	if !r.Contains(anchor) {
		return nil
	}
	first := r.Base
	if back := uint64(max(maxBytes, 0)); anchor-r.Base > back {
		first = anchor - back
	}
	starts := make([]uint64, 0, anchor-first+1)
	for s := first; s <= anchor; s++ {
		starts = append(starts, s)
	}
	return starts
}
