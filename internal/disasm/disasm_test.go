package disasm

import (
	"strings"
	"testing"
)

func decode64(t *testing.T, code []byte, addr uint64) Instruction {
	t.Helper()
	d, err := NewX86Decoder(ArchX64)
	if err != nil {
		t.Fatal(err)
	}
	return d.Decode(code, addr)
}

func TestClassifyCategories(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		want Category
		len  uint8
	}{
		{"ret", []byte{0xc3}, Return, 1},
		{"ret imm16", []byte{0xc2, 0x37, 0x13}, Return, 3},
		{"call reg", []byte{0xff, 0xd3}, IndirectCall, 2},
		{"call mem", []byte{0xff, 0x13}, IndirectCall, 2},
		{"jmp reg", []byte{0xff, 0xe1}, IndirectJump, 2},
		{"jmp mem", []byte{0xff, 0x21}, IndirectJump, 2},
		{"call rel32", []byte{0xe8, 0x00, 0x00, 0x00, 0x00}, DirectCall, 5},
		{"jmp rel8", []byte{0xeb, 0xfe}, DirectJump, 2},
		{"jne rel32", []byte{0x0f, 0x85, 0xf0, 0x01, 0x00, 0x00}, ConditionalBranch, 6},
		{"syscall", []byte{0x0f, 0x05}, Syscall, 2},
		{"int 0x80", []byte{0xcd, 0x80}, Syscall, 2},
		{"int 3", []byte{0xcd, 0x03}, Other, 2},
		{"pop rax", []byte{0x58}, Other, 1},
		{"mov rax imm", []byte{0x48, 0xc7, 0xc0, 0x37, 0x13, 0x00, 0x00}, Other, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst := decode64(t, tt.code, 0x1000)
			if inst.Category != tt.want {
				t.Errorf("category = %s, want %s (%s)", inst.Category, tt.want, inst.Text)
			}
			if inst.Len != tt.len {
				t.Errorf("len = %d, want %d", inst.Len, tt.len)
			}
			if inst.Addr != 0x1000 {
				t.Errorf("addr = 0x%x, want 0x1000", inst.Addr)
			}
			if string(inst.Raw) != string(tt.code[:tt.len]) {
				t.Errorf("raw = % x, want % x", inst.Raw, tt.code[:tt.len])
			}
		})
	}
}

func TestClassifyText(t *testing.T) {
	inst := decode64(t, []byte{0x58}, 0)
	if inst.Text != "pop rax" {
		t.Errorf("text = %q, want %q", inst.Text, "pop rax")
	}
	if inst.Mnemonic != "pop" {
		t.Errorf("mnemonic = %q, want pop", inst.Mnemonic)
	}

	inst = decode64(t, []byte{0xff, 0x20}, 0)
	if !strings.HasPrefix(inst.Text, "jmp") || !strings.Contains(inst.Text, "[rax]") {
		t.Errorf("text = %q, want jmp through [rax]", inst.Text)
	}
}

func TestClassifyInvalid(t *testing.T) {
	for _, code := range [][]byte{nil, {0x0f}, {0x48}} {
		inst := decode64(t, code, 0x40)
		if inst.Category != Invalid {
			t.Errorf("% x: category = %s, want invalid", code, inst.Category)
		}
		if inst.Len != 1 {
			t.Errorf("% x: len = %d, want 1", code, inst.Len)
		}
		if inst.End() != 0x41 {
			t.Errorf("% x: end = 0x%x, want 0x41", code, inst.End())
		}
	}
}

func TestClassifyStackPointer(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		want bool
	}{
		{"pop rsp", []byte{0x5c}, true},
		{"add rsp, 8", []byte{0x48, 0x83, 0xc4, 0x08}, true},
		{"leave", []byte{0xc9}, true},
		{"mov rsp, rax", []byte{0x48, 0x89, 0xc4}, true},
		{"xchg rax, rsp", []byte{0x48, 0x94}, true},
		{"push rax", []byte{0x50}, false},
		{"mov rax, rsp", []byte{0x48, 0x89, 0xe0}, false},
		{"pop rax", []byte{0x58}, false},
		{"ret", []byte{0xc3}, false},
		{"ret imm16", []byte{0xc2, 0x08, 0x00}, false},
	}
	for _, tt := range tests {
		inst := decode64(t, tt.code, 0)
		if inst.ModifiesSP != tt.want {
			t.Errorf("%s: ModifiesSP = %v, want %v (%s)", tt.name, inst.ModifiesSP, tt.want, inst.Text)
		}
	}
}

func TestClassifyOperandFlags(t *testing.T) {
	pop := decode64(t, []byte{0x41, 0x58}, 0) // pop r8
	if !pop.PopsRegister {
		t.Errorf("pop r8: PopsRegister = false")
	}
	if pop.Derefs {
		t.Errorf("pop r8: Derefs = true")
	}

	lea := decode64(t, []byte{0x48, 0x8d, 0x05, 0xe1, 0xdd, 0x05, 0x00}, 0)
	if lea.Derefs {
		t.Errorf("lea: Derefs = true")
	}

	load := decode64(t, []byte{0x48, 0x8b, 0x01}, 0) // mov rax, [rcx]
	if !load.Derefs {
		t.Errorf("mov rax, [rcx]: Derefs = false")
	}
	if load.PopsRegister {
		t.Errorf("mov rax, [rcx]: PopsRegister = true")
	}
}

func TestNormIsAddressIndependent(t *testing.T) {
	code := []byte{0xe8, 0x10, 0x00, 0x00, 0x00}
	a := decode64(t, code, 0x1000)
	b := decode64(t, code, 0x2000)
	if a.Norm != b.Norm {
		t.Errorf("norm differs: %q vs %q", a.Norm, b.Norm)
	}
	if a.Text == b.Text {
		t.Errorf("text should resolve the target per address, both %q", a.Text)
	}
}

func TestDecoder32(t *testing.T) {
	d, err := NewX86Decoder(ArchX86)
	if err != nil {
		t.Fatal(err)
	}
	inst := d.Decode([]byte{0x5d, 0xc3}, 0x8048000)
	if inst.Text != "pop ebp" {
		t.Errorf("text = %q, want pop ebp", inst.Text)
	}
	if !inst.PopsRegister {
		t.Error("pop ebp: PopsRegister = false")
	}
}

func TestNewX86DecoderUnknown(t *testing.T) {
	if _, err := NewX86Decoder(ArchUnknown); err == nil {
		t.Fatal("expected error for unknown arch")
	}
}

func TestParseArch(t *testing.T) {
	for in, want := range map[string]Arch{"x64": ArchX64, "AMD64": ArchX64, "x86": ArchX86, "i386": ArchX86} {
		got, err := ParseArch(in)
		if err != nil || got != want {
			t.Errorf("ParseArch(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseArch("arm64"); err == nil {
		t.Error("ParseArch(arm64): expected error")
	}
}

func TestParseCategorySet(t *testing.T) {
	s, err := ParseCategorySet("ret, jop")
	if err != nil {
		t.Fatal(err)
	}
	if s != DefaultTerminators {
		t.Errorf("set = %s, want %s", s, DefaultTerminators)
	}
	s, err = ParseCategorySet("ret,call,sys")
	if err != nil {
		t.Fatal(err)
	}
	if !s.Has(DirectCall) || !s.Has(Syscall) || s.Has(IndirectJump) {
		t.Errorf("set = %s", s)
	}
	for _, bad := range []string{"", "nop", "ret,bogus"} {
		if _, err := ParseCategorySet(bad); err == nil {
			t.Errorf("ParseCategorySet(%q): expected error", bad)
		}
	}
}

type countingDecoder struct {
	Decoder
	calls int
}

func (c *countingDecoder) Decode(code []byte, addr uint64) Instruction {
	c.calls++
	return c.Decoder.Decode(code, addr)
}

func TestCachedDecoder(t *testing.T) {
	base, _ := NewX86Decoder(ArchX64)
	counter := &countingDecoder{Decoder: base}
	cd, err := NewCachedDecoder(counter, 0)
	if err != nil {
		t.Fatal(err)
	}
	code := []byte{0x58, 0xc3}
	first := cd.Decode(code, 0x10)
	second := cd.Decode(code, 0x10)
	if counter.calls != 1 {
		t.Errorf("underlying decodes = %d, want 1", counter.calls)
	}
	if first.Text != second.Text || first.Addr != second.Addr {
		t.Errorf("cached result differs: %+v vs %+v", first, second)
	}
	hits, misses := cd.Stats()
	if hits != 1 || misses != 1 {
		t.Errorf("stats = %d/%d, want 1/1", hits, misses)
	}
}

func TestFormatATT(t *testing.T) {
	d, err := NewX86Decoder(ArchX64)
	if err != nil {
		t.Fatal(err)
	}
	mov := d.Decode([]byte{0x48, 0xc7, 0xc0, 0x37, 0x13, 0x00, 0x00}, 0x1000)
	if got := mov.Format(Intel); got != "mov rax, 0x1337" {
		t.Errorf("intel = %q", got)
	}
	att := mov.Format(ATT)
	src, dst := strings.Index(att, "$0x1337"), strings.Index(att, "%rax")
	if src < 0 || dst < src {
		t.Errorf("att = %q, want source $0x1337 before %%rax", att)
	}

	jmp := d.Decode([]byte{0xeb, 0x0e}, 0x1000)
	if got := jmp.Format(ATT); !strings.Contains(got, "0x1010") {
		t.Errorf("att jmp = %q, want absolute target 0x1010", got)
	}

	bad := d.Decode([]byte{0x0f}, 0x1000)
	if got := bad.Format(ATT); got != "(bad)" {
		t.Errorf("att invalid = %q", got)
	}
}

func TestParseSyntax(t *testing.T) {
	for in, want := range map[string]Syntax{"": Intel, "intel": Intel, "att": ATT, "AT&T": ATT} {
		got, err := ParseSyntax(in)
		if err != nil || got != want {
			t.Errorf("ParseSyntax(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseSyntax("masm"); err == nil {
		t.Error("expected error for masm")
	}
}
