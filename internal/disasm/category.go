package disasm

import (
	"fmt"
	"strings"
)

// Category is the control-flow class of a decoded instruction.
type Category uint8

const (
	Other Category = iota
	Return
	IndirectCall
	IndirectJump
	DirectCall
	DirectJump
	ConditionalBranch
	Syscall
	Invalid
)

var categoryNames = [...]string{
	Other:             "other",
	Return:            "ret",
	IndirectCall:      "icall",
	IndirectJump:      "ijmp",
	DirectCall:        "call",
	DirectJump:        "jmp",
	ConditionalBranch: "jcc",
	Syscall:           "sys",
	Invalid:           "invalid",
}

func (c Category) String() string {
	if int(c) < len(categoryNames) {
		return categoryNames[c]
	}
	return fmt.Sprintf("category(%d)", c)
}

// IsControlTransfer reports whether c moves control anywhere but the next
// instruction. Invalid is not a control transfer.
func (c Category) IsControlTransfer() bool {
	return c != Other && c != Invalid
}

// CategorySet is a bitmask of categories.
type CategorySet uint16

// Terminators that qualify by default: returns and indirect transfers.
const DefaultTerminators = CategorySet(1<<Return | 1<<IndirectCall | 1<<IndirectJump)

// TerminatorCategories lists every category allowed to end a gadget.
// Direct transfers and syscalls are opt-in.
const TerminatorCategories = DefaultTerminators |
	CategorySet(1<<DirectCall|1<<DirectJump|1<<Syscall)

// SetOf builds a set from the given categories.
func SetOf(cats ...Category) CategorySet {
	var s CategorySet
	for _, c := range cats {
		s |= 1 << c
	}
	return s
}

func (s CategorySet) Has(c Category) bool { return s&(1<<c) != 0 }

func (s CategorySet) With(c Category) CategorySet { return s | 1<<c }

func (s CategorySet) Categories() []Category {
	var out []Category
	for c := Other; c <= Invalid; c++ {
		if s.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

func (s CategorySet) String() string {
	cats := s.Categories()
	names := make([]string, len(cats))
	for i, c := range cats {
		names[i] = c.String()
	}
	return strings.Join(names, ",")
}

// categoryAliases maps CLI spellings to categories.
var categoryAliases = map[string]Category{
	"ret":     Return,
	"rop":     Return,
	"icall":   IndirectCall,
	"ijmp":    IndirectJump,
	"call":    DirectCall,
	"jmp":     DirectJump,
	"sys":     Syscall,
	"syscall": Syscall,
}

// ParseCategorySet parses a comma separated terminator list such as
// "ret,ijmp,icall". "jop" expands to both indirect transfers. Only
// terminator categories are accepted.
func ParseCategorySet(s string) (CategorySet, error) {
	var set CategorySet
	for _, f := range strings.Split(s, ",") {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" {
			continue
		}
		if f == "jop" {
			set = set.With(IndirectCall).With(IndirectJump)
			continue
		}
		c, ok := categoryAliases[f]
		if !ok {
			return 0, fmt.Errorf("disasm: unknown terminator %q", f)
		}
		set = set.With(c)
	}
	if set == 0 {
		return 0, fmt.Errorf("disasm: empty terminator set")
	}
	return set, nil
}
