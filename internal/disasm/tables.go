package disasm

import "golang.org/x/arch/x86/x86asm"

// Lookup tables are populated at package init and only read afterwards.

var returnOps = map[x86asm.Op]bool{
	x86asm.RET:   true,
	x86asm.LRET:  true,
	x86asm.IRET:  true,
	x86asm.IRETD: true,
	x86asm.IRETQ: true,
}

var condBranchOps = map[x86asm.Op]bool{
	x86asm.JA:     true,
	x86asm.JAE:    true,
	x86asm.JB:     true,
	x86asm.JBE:    true,
	x86asm.JE:     true,
	x86asm.JG:     true,
	x86asm.JGE:    true,
	x86asm.JL:     true,
	x86asm.JLE:    true,
	x86asm.JNE:    true,
	x86asm.JNO:    true,
	x86asm.JNP:    true,
	x86asm.JNS:    true,
	x86asm.JO:     true,
	x86asm.JP:     true,
	x86asm.JS:     true,
	x86asm.JCXZ:   true,
	x86asm.JECXZ:  true,
	x86asm.JRCXZ:  true,
	x86asm.LOOP:   true,
	x86asm.LOOPE:  true,
	x86asm.LOOPNE: true,
}

var spRegs = map[x86asm.Reg]bool{
	x86asm.RSP: true,
	x86asm.ESP: true,
	x86asm.SP:  true,
}

// destOps write their first operand. push, cmp and test are absent on
// purpose: they only read it.
var destOps = map[x86asm.Op]bool{
	x86asm.MOV:     true,
	x86asm.MOVZX:   true,
	x86asm.MOVSX:   true,
	x86asm.MOVSXD:  true,
	x86asm.LEA:     true,
	x86asm.POP:     true,
	x86asm.ADD:     true,
	x86asm.ADC:     true,
	x86asm.SUB:     true,
	x86asm.SBB:     true,
	x86asm.AND:     true,
	x86asm.OR:      true,
	x86asm.XOR:     true,
	x86asm.INC:     true,
	x86asm.DEC:     true,
	x86asm.NEG:     true,
	x86asm.NOT:     true,
	x86asm.SHL:     true,
	x86asm.SHR:     true,
	x86asm.SAR:     true,
	x86asm.ROL:     true,
	x86asm.ROR:     true,
	x86asm.RCL:     true,
	x86asm.RCR:     true,
	x86asm.IMUL:    true,
	x86asm.XADD:    true,
	x86asm.CMPXCHG: true,
	x86asm.BSWAP:   true,
	x86asm.CMOVA:   true,
	x86asm.CMOVAE:  true,
	x86asm.CMOVB:   true,
	x86asm.CMOVBE:  true,
	x86asm.CMOVE:   true,
	x86asm.CMOVG:   true,
	x86asm.CMOVGE:  true,
	x86asm.CMOVL:   true,
	x86asm.CMOVLE:  true,
	x86asm.CMOVNE:  true,
	x86asm.CMOVNO:  true,
	x86asm.CMOVNP:  true,
	x86asm.CMOVNS:  true,
	x86asm.CMOVO:   true,
	x86asm.CMOVP:   true,
	x86asm.CMOVS:   true,
}
