// Package xref matches gadgets across binaries by canonical key.
//
// Matching is set algebra over keys: every input set is visited once, so the
// cost is linear in the total gadget count. Addresses are never compared.
package xref

import (
	"errors"
	"fmt"

	"gadgetry/internal/gadget"
)

var (
	ErrNoBinaries      = errors.New("xref: no binaries")
	ErrDuplicateBinary = errors.New("xref: duplicate binary id")
	ErrNilSet          = errors.New("xref: nil gadget set")
)

// MatchKind selects which gadgets a cross-reference keeps.
type MatchKind int

const (
	// Full keeps gadgets present in every input.
	Full MatchKind = iota
	// Partial keeps gadgets present in some, but not all, inputs.
	Partial
)

func (k MatchKind) String() string {
	switch k {
	case Full:
		return "full"
	case Partial:
		return "partial"
	}
	return fmt.Sprintf("MatchKind(%d)", int(k))
}

// Input is one binary's search result. Every occurrence in Set must be
// recorded under ID.
type Input struct {
	ID  string
	Set *gadget.Set
}

// MatchResult is the merged set of matching gadgets. For each gadget,
// OccursIn holds the addresses of every input containing it, so for Partial
// its key set names exactly the binaries that matched.
type MatchResult struct {
	Kind     MatchKind
	Set      *gadget.Set
	Binaries []string // input ids, in input order
}

// PerBinary counts matching gadgets found in each input.
func (r *MatchResult) PerBinary() map[string]int {
	counts := make(map[string]int, len(r.Binaries))
	for _, id := range r.Binaries {
		counts[id] = 0
	}
	for _, g := range r.Set.Gadgets() {
		for id := range g.OccursIn {
			counts[id]++
		}
	}
	return counts
}

// FullMatch returns the gadgets present in every input.
func FullMatch(inputs []Input) (*MatchResult, error) {
	return CrossReference(Full, inputs)
}

// PartialMatch returns the gadgets present in at least one input but not in
// all of them. A single input has no partial matches.
func PartialMatch(inputs []Input) (*MatchResult, error) {
	return CrossReference(Partial, inputs)
}

// CrossReference merges the input sets and keeps the gadgets kind selects.
// The inputs are only read.
func CrossReference(kind MatchKind, inputs []Input) (*MatchResult, error) {
	if len(inputs) == 0 {
		return nil, ErrNoBinaries
	}
	if kind != Full && kind != Partial {
		return nil, fmt.Errorf("xref: unknown match kind %d", int(kind))
	}
	seen := make(map[string]bool, len(inputs))
	ids := make([]string, 0, len(inputs))
	for _, in := range inputs {
		if in.Set == nil {
			return nil, fmt.Errorf("%w: %s", ErrNilSet, in.ID)
		}
		if seen[in.ID] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateBinary, in.ID)
		}
		seen[in.ID] = true
		ids = append(ids, in.ID)
	}

	union := gadget.NewSet()
	present := make(map[gadget.Key]int)
	for _, in := range inputs {
		for _, k := range in.Set.Keys() {
			present[k]++
		}
		union.Merge(in.Set)
	}

	n := len(inputs)
	keep := func(g *gadget.Gadget) bool {
		c := present[g.Key()]
		if kind == Full {
			return c == n
		}
		return c > 0 && c < n
	}
	return &MatchResult{Kind: kind, Set: union.Filter(keep), Binaries: ids}, nil
}
