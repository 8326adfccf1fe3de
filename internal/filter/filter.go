// Package filter narrows gadget sets with composable predicates.
//
// A predicate only inspects a gadget. Apply keeps the gadgets every
// predicate accepts, evaluating them in order and stopping at the first
// rejection, so the order of a chain never changes its result.
package filter

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gadgetry/internal/disasm"
	"gadgetry/internal/gadget"
)

var ErrBadPattern = errors.New("filter: bad pattern")

// Predicate reports whether a gadget should be kept.
type Predicate func(*gadget.Gadget) bool

// Apply returns a new set with the gadgets all preds accept. set is not
// modified. With no predicates the result is a copy of set.
func Apply(set *gadget.Set, preds ...Predicate) *gadget.Set {
	return set.Filter(func(g *gadget.Gadget) bool {
		for _, p := range preds {
			if !p(g) {
				return false
			}
		}
		return true
	})
}

func MinInstructions(n int) Predicate {
	return func(g *gadget.Gadget) bool { return g.Len() >= n }
}

func MaxInstructions(n int) Predicate {
	return func(g *gadget.Gadget) bool { return g.Len() <= n }
}

// MinBytes keeps gadgets whose every encoding is at least n bytes long.
func MinBytes(n int) Predicate {
	return func(g *gadget.Gadget) bool {
		for _, enc := range g.Encodings() {
			if len(enc) < n {
				return false
			}
		}
		return true
	}
}

// MaxBytes keeps gadgets whose every encoding is at most n bytes long.
func MaxBytes(n int) Predicate {
	return func(g *gadget.Gadget) bool {
		for _, enc := range g.Encodings() {
			if len(enc) > n {
				return false
			}
		}
		return true
	}
}

// Include keeps gadgets whose text matches re. The text has branch
// targets in relative form ("jmp .+0xe") so the match does not depend on
// which occurrence represents the gadget.
func Include(re *regexp.Regexp) Predicate {
	return func(g *gadget.Gadget) bool { return re.MatchString(g.NormString()) }
}

// Exclude drops gadgets whose text matches re, with the same relative
// branch targets as Include.
func Exclude(re *regexp.Regexp) Predicate {
	return func(g *gadget.Gadget) bool { return !re.MatchString(g.NormString()) }
}

// BadBytes drops gadgets with any occurrence whose encoding contains one
// of bad. Only the encodings are checked, not the addresses.
func BadBytes(bad []byte) Predicate {
	var banned [256]bool
	for _, b := range bad {
		banned[b] = true
	}
	return func(g *gadget.Gadget) bool {
		for _, enc := range g.Encodings() {
			for _, b := range enc {
				if banned[b] {
					return false
				}
			}
		}
		return true
	}
}

// PivotPolicy decides what to do with gadgets that write the stack pointer.
type PivotPolicy int

const (
	PivotAny PivotPolicy = iota
	PivotOnly
	PivotExclude
)

func (p PivotPolicy) String() string {
	switch p {
	case PivotAny:
		return "any"
	case PivotOnly:
		return "only"
	case PivotExclude:
		return "exclude"
	}
	return fmt.Sprintf("PivotPolicy(%d)", int(p))
}

// ParsePivotPolicy accepts "", "any", "only" and "exclude".
func ParsePivotPolicy(s string) (PivotPolicy, error) {
	switch strings.ToLower(s) {
	case "", "any":
		return PivotAny, nil
	case "only":
		return PivotOnly, nil
	case "exclude", "none":
		return PivotExclude, nil
	}
	return PivotAny, fmt.Errorf("filter: unknown pivot policy %q", s)
}

// IsPivot reports whether any instruction of g explicitly writes the stack
// pointer. The adjustment implied by push, pop, call and ret is not a pivot;
// pop rsp, mov rsp, add rsp, xchg rsp and leave are.
func IsPivot(g *gadget.Gadget) bool {
	for _, inst := range g.Instructions {
		if inst.ModifiesSP {
			return true
		}
	}
	return false
}

// StackPivot applies policy to stack pivots.
func StackPivot(policy PivotPolicy) Predicate {
	switch policy {
	case PivotOnly:
		return IsPivot
	case PivotExclude:
		return func(g *gadget.Gadget) bool { return !IsPivot(g) }
	}
	return func(*gadget.Gadget) bool { return true }
}

// RegPopOnly keeps gadgets made of register pops followed by the
// terminator, the classic "pop; pop; ret" loader.
func RegPopOnly() Predicate {
	return func(g *gadget.Gadget) bool {
		body := g.Instructions[:g.Len()-1]
		if len(body) == 0 {
			return false
		}
		for _, inst := range body {
			if !inst.PopsRegister {
				return false
			}
		}
		return true
	}
}

// NoDeref drops gadgets that read or write memory through an operand.
// The terminator is not checked, so jmp [rax] still passes when the body
// is dereference free.
func NoDeref() Predicate {
	return func(g *gadget.Gadget) bool {
		for _, inst := range g.Instructions[:g.Len()-1] {
			if inst.Derefs {
				return false
			}
		}
		return true
	}
}

// Terminators keeps gadgets ending in one of cats.
func Terminators(cats disasm.CategorySet) Predicate {
	return func(g *gadget.Gadget) bool { return cats.Has(g.Terminator().Category) }
}

// ParseBadBytes parses a list of hex bytes such as "00,0a" or "0x00 0x0d".
func ParseBadBytes(s string) ([]byte, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	out := make([]byte, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimPrefix(strings.ToLower(f), "0x")
		b, err := strconv.ParseUint(f, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("filter: bad byte %q: %w", f, err)
		}
		out = append(out, byte(b))
	}
	return out, nil
}
