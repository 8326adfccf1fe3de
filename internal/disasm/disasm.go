// Package disasm decodes x86 and x86-64 instructions and classifies them by
// control-flow category for gadget search.
package disasm

import (
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// MaxInstLen is the longest legal x86 encoding.
const MaxInstLen = 15

// Arch selects the decoder mode.
type Arch int

const (
	ArchUnknown Arch = iota
	ArchX86
	ArchX64
)

func (a Arch) String() string {
	switch a {
	case ArchX86:
		return "x86"
	case ArchX64:
		return "x64"
	default:
		return "unknown"
	}
}

// Bits returns the x86asm decoding mode, or 0 for ArchUnknown.
func (a Arch) Bits() int {
	switch a {
	case ArchX86:
		return 32
	case ArchX64:
		return 64
	default:
		return 0
	}
}

// ParseArch accepts "x86", "i386", "x64", "amd64" and "x86_64".
func ParseArch(s string) (Arch, error) {
	switch strings.ToLower(s) {
	case "x86", "i386", "386", "x32":
		return ArchX86, nil
	case "x64", "amd64", "x86_64", "x86-64":
		return ArchX64, nil
	}
	return ArchUnknown, fmt.Errorf("disasm: unknown architecture %q", s)
}

// Instruction is a decoded, classified instruction. It owns a copy of its
// encoding and is never modified after Classify returns it.
type Instruction struct {
	Addr     uint64
	Len      uint8 // 1..15; 1 for Invalid
	Category Category
	Mnemonic string
	Text     string // Intel syntax, branch targets resolved against Addr
	Norm     string // Intel syntax with relative targets left relative
	Raw      []byte
	Mode     uint8 // decoder mode, 32 or 64

	ModifiesSP   bool // explicit stack pointer write (pivot)
	PopsRegister bool // pop into a register
	Derefs       bool // memory operand other than lea/nop addressing
}

// End returns the address following the instruction.
func (i Instruction) End() uint64 { return i.Addr + uint64(i.Len) }

func (i Instruction) String() string { return i.Text }

// Syntax selects an assembly dialect for Format.
type Syntax int

const (
	Intel Syntax = iota
	ATT
)

// ParseSyntax accepts "intel" (or "") and "att".
func ParseSyntax(s string) (Syntax, error) {
	switch strings.ToLower(s) {
	case "", "intel":
		return Intel, nil
	case "att", "at&t", "gnu":
		return ATT, nil
	}
	return Intel, fmt.Errorf("disasm: unknown syntax %q", s)
}

// Format renders the instruction in syntax s with absolute branch targets.
// AT&T text is produced on demand from Raw.
func (i Instruction) Format(s Syntax) string {
	if s != ATT || i.Category == Invalid {
		return i.Text
	}
	inst, err := x86asm.Decode(i.Raw, int(i.Mode))
	if err != nil {
		return i.Text
	}
	return x86asm.GNUSyntax(inst, i.Addr, nil)
}

// Decoder turns the bytes at addr into one instruction. Decode is total:
// undecodable bytes come back as a one-byte Invalid instruction.
type Decoder interface {
	Decode(code []byte, addr uint64) Instruction
}

// X86Decoder decodes with golang.org/x/arch/x86/x86asm.
type X86Decoder struct {
	mode int
}

// NewX86Decoder returns a decoder for arch. ArchUnknown is rejected.
func NewX86Decoder(arch Arch) (*X86Decoder, error) {
	mode := arch.Bits()
	if mode == 0 {
		return nil, fmt.Errorf("disasm: no decoder for architecture %s", arch)
	}
	return &X86Decoder{mode: mode}, nil
}

func (d *X86Decoder) Decode(code []byte, addr uint64) Instruction {
	if len(code) > MaxInstLen {
		code = code[:MaxInstLen]
	}
	inst, err := x86asm.Decode(code, d.mode)
	out := Classify(addr, code, inst, err)
	out.Mode = uint8(d.mode)
	return out
}

// Classify maps an x86asm decode result onto an Instruction. A decode error
// yields Invalid with Len 1 so callers can step one byte and retry.
func Classify(addr uint64, code []byte, inst x86asm.Inst, err error) Instruction {
	if err != nil || inst.Len == 0 || inst.Len > len(code) {
		var raw []byte
		if len(code) > 0 {
			raw = []byte{code[0]}
		}
		return Instruction{
			Addr:     addr,
			Len:      1,
			Category: Invalid,
			Mnemonic: "(bad)",
			Text:     "(bad)",
			Norm:     "(bad)",
			Raw:      raw,
		}
	}

	raw := make([]byte, inst.Len)
	copy(raw, code[:inst.Len])

	return Instruction{
		Addr:         addr,
		Len:          uint8(inst.Len),
		Category:     category(inst),
		Mnemonic:     strings.ToLower(inst.Op.String()),
		Text:         x86asm.IntelSyntax(inst, addr, nil),
		Norm:         x86asm.IntelSyntax(inst, 0, nil),
		Raw:          raw,
		ModifiesSP:   modifiesSP(inst),
		PopsRegister: inst.Op == x86asm.POP && isReg(inst.Args[0]),
		Derefs:       derefs(inst),
	}
}

func category(inst x86asm.Inst) Category {
	op := inst.Op
	switch {
	case returnOps[op]:
		return Return
	case op == x86asm.CALL || op == x86asm.LCALL:
		if isDirect(inst.Args[0]) {
			return DirectCall
		}
		return IndirectCall
	case op == x86asm.JMP || op == x86asm.LJMP:
		if isDirect(inst.Args[0]) {
			return DirectJump
		}
		return IndirectJump
	case condBranchOps[op]:
		return ConditionalBranch
	case op == x86asm.SYSCALL || op == x86asm.SYSENTER:
		return Syscall
	case op == x86asm.INT:
		if imm, ok := inst.Args[0].(x86asm.Imm); ok && imm == 0x80 {
			return Syscall
		}
	}
	return Other
}

// isDirect reports whether a branch operand is a fixed displacement or
// far pointer rather than a register or memory dereference.
func isDirect(a x86asm.Arg) bool {
	switch a.(type) {
	case x86asm.Rel, x86asm.Imm:
		return true
	}
	return false
}

func isReg(a x86asm.Arg) bool {
	_, ok := a.(x86asm.Reg)
	return ok
}

func isSP(a x86asm.Arg) bool {
	r, ok := a.(x86asm.Reg)
	return ok && spRegs[r]
}

func modifiesSP(inst x86asm.Inst) bool {
	switch {
	case inst.Op == x86asm.LEAVE:
		return true
	case inst.Op == x86asm.XCHG:
		return isSP(inst.Args[0]) || isSP(inst.Args[1])
	case destOps[inst.Op]:
		return isSP(inst.Args[0])
	}
	return false
}

func derefs(inst x86asm.Inst) bool {
	if inst.Op == x86asm.LEA || inst.Op == x86asm.NOP {
		return false
	}
	for _, a := range inst.Args {
		if a == nil {
			break
		}
		if _, ok := a.(x86asm.Mem); ok {
			return true
		}
	}
	return false
}
