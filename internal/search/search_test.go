package search

import (
	"context"
	"errors"
	"slices"
	"testing"

	"gadgetry/internal/disasm"
	"gadgetry/internal/gadget"
)

const base = 0x1000

// pop rax; pop rbx; ret; mov rax, 0x1337; jmp qword ptr [rax]
var popsThenJmp = []byte{0x58, 0x5b, 0xc3, 0x48, 0xc7, 0xc0, 0x37, 0x13, 0x00, 0x00, 0xff, 0x20}

// lea rax, [rip+0x5dde1]; ret; lea rax, [rip+0x5ddcb]; ret 0x1337
var adjacentRet = []byte{
	0x48, 0x8d, 0x05, 0xe1, 0xdd, 0x05, 0x00, 0xc3,
	0x48, 0x8d, 0x05, 0xcb, 0xdd, 0x05, 0x00, 0xc2, 0x37, 0x13,
}

// lea rax, [rip+0x5dde1]; call rax; lea rax, [rip+0x5ddcb]; call rax
var adjacentCall = []byte{
	0x48, 0x8d, 0x05, 0xe1, 0xdd, 0x05, 0x00, 0xff, 0xd0,
	0x48, 0x8d, 0x05, 0xcb, 0xdd, 0x05, 0x00, 0xff, 0xd0,
}

// jne +2; nop; nop; ret
var jneOverNops = []byte{0x75, 0x02, 0x90, 0x90, 0xc3}

func x64(id string, code []byte) Binary {
	return Binary{ID: id, Arch: disasm.ArchX64, Regions: []Region{{Base: base, Bytes: code}}}
}

func mustSearch(t *testing.T, b Binary, cfg Config) *gadget.Set {
	t.Helper()
	set, err := SearchBinary(context.Background(), b, cfg)
	if err != nil {
		t.Fatalf("SearchBinary(%s): %v", b.ID, err)
	}
	return set
}

// findAt returns the gadget of n instructions starting at addr in binary id.
func findAt(set *gadget.Set, id string, addr uint64, n int) *gadget.Gadget {
	for _, g := range set.Gadgets() {
		if g.Len() == n && slices.Contains(g.Addresses(id), addr) {
			return g
		}
	}
	return nil
}

func TestSearchPopsThenJmp(t *testing.T) {
	set := mustSearch(t, x64("a", popsThenJmp), Config{})

	g := findAt(set, "a", base, 3)
	if g == nil {
		t.Fatal("missing pop; pop; ret at base")
	}
	if got, want := g.String(), "pop rax; pop rbx; ret"; got != want {
		t.Errorf("gadget at base = %q, want %q", got, want)
	}

	j := findAt(set, "a", base+3, 2)
	if j == nil {
		t.Fatal("missing mov; jmp at base+3")
	}
	if j.Terminator().Category != disasm.IndirectJump {
		t.Errorf("terminator = %s, want ijmp", j.Terminator().Category)
	}

	for _, g := range set.Gadgets() {
		transfers := 0
		for _, inst := range g.Instructions {
			if inst.Category.IsControlTransfer() {
				transfers++
			}
		}
		if transfers != 1 {
			t.Errorf("%q has %d control transfers, want 1", g, transfers)
		}
		if !g.Terminator().Category.IsControlTransfer() {
			t.Errorf("%q does not end in a control transfer", g)
		}
	}
}

func TestSearchGadgetsLandOnAnchor(t *testing.T) {
	set := mustSearch(t, x64("a", popsThenJmp), Config{})
	anchors := map[uint64]bool{base + 2: true, base + 10: true}
	for _, g := range set.Gadgets() {
		for _, addr := range g.Addresses("a") {
			end := addr + uint64(g.ByteLength())
			last := end - uint64(g.Terminator().Len)
			if !anchors[last] {
				t.Errorf("%q at 0x%x ends on 0x%x, not an anchor", g, addr, last)
			}
			if addr+uint64(DefaultMaxGadgetBytes) < last {
				t.Errorf("%q at 0x%x starts too far from its anchor", g, addr)
			}
		}
	}
}

func TestSearchAdjacentRet(t *testing.T) {
	set := mustSearch(t, x64("a", adjacentRet), Config{})
	for _, addr := range []uint64{base, base + 8} {
		g := findAt(set, "a", addr, 2)
		if g == nil {
			t.Errorf("missing lea; ret gadget at 0x%x", addr)
			continue
		}
		if g.Terminator().Category != disasm.Return {
			t.Errorf("0x%x: terminator %s, want ret", addr, g.Terminator().Category)
		}
	}
}

func TestSearchAdjacentCall(t *testing.T) {
	set := mustSearch(t, x64("a", adjacentCall), Config{})
	for _, addr := range []uint64{base, base + 9} {
		g := findAt(set, "a", addr, 2)
		if g == nil {
			t.Errorf("missing lea; call rax at 0x%x", addr)
			continue
		}
		if g.Terminator().Category != disasm.IndirectCall {
			t.Errorf("0x%x: terminator %s, want icall", addr, g.Terminator().Category)
		}
	}
	// call rax is identical at both sites.
	bare := findAt(set, "a", base+7, 1)
	if bare == nil {
		t.Fatal("missing bare call rax")
	}
	if addrs := bare.Addresses("a"); len(addrs) != 2 || addrs[1] != base+16 {
		t.Errorf("call rax addresses = %x, want [1007 1010]", addrs)
	}
}

func TestSearchBareTerminator(t *testing.T) {
	set := mustSearch(t, x64("a", []byte{0xc3}), Config{})
	if set.Len() != 1 {
		t.Fatalf("Len = %d, want 1", set.Len())
	}
	g := set.Gadgets()[0]
	if g.Len() != 1 || g.FirstAddress() != base || g.String() != "ret" {
		t.Errorf("gadget = %q at 0x%x, want ret at 0x%x", g, g.FirstAddress(), base)
	}
}

func TestSearchNoTerminator(t *testing.T) {
	set := mustSearch(t, x64("a", []byte{0x90, 0x90, 0x90}), Config{})
	if set.Len() != 0 {
		t.Errorf("Len = %d, want 0", set.Len())
	}
}

func TestSearchInternalBranches(t *testing.T) {
	set := mustSearch(t, x64("a", jneOverNops), Config{})
	if g := findAt(set, "a", base, 4); g != nil {
		t.Errorf("found %q with internal branch disallowed", g)
	}
	if findAt(set, "a", base+2, 3) == nil {
		t.Error("missing nop; nop; ret")
	}

	set = mustSearch(t, x64("a", jneOverNops), Config{AllowInternalBranches: true})
	g := findAt(set, "a", base, 4)
	if g == nil {
		t.Fatal("missing jne; nop; nop; ret with internal branches allowed")
	}
	if g.Instructions[0].Category != disasm.ConditionalBranch {
		t.Errorf("first instruction %s, want jcc", g.Instructions[0].Category)
	}
}

func TestSearchMaxInstructions(t *testing.T) {
	set := mustSearch(t, x64("a", popsThenJmp), Config{MaxInstructions: 2})
	for _, g := range set.Gadgets() {
		if g.Len() > 2 {
			t.Errorf("%q has %d instructions, cap 2", g, g.Len())
		}
	}
	if findAt(set, "a", base+1, 2) == nil {
		t.Error("missing pop rbx; ret")
	}
}

func TestSearchMaxBytes(t *testing.T) {
	set := mustSearch(t, x64("a", popsThenJmp), Config{MaxGadgetBytes: 1})
	if findAt(set, "a", base, 3) != nil {
		t.Error("found gadget starting 2 bytes before its anchor with window 1")
	}
	if findAt(set, "a", base+1, 2) == nil {
		t.Error("missing pop rbx; ret within window 1")
	}
}

func TestSearchTerminatorSelection(t *testing.T) {
	set := mustSearch(t, x64("a", popsThenJmp), Config{Terminators: disasm.SetOf(disasm.IndirectJump)})
	for _, g := range set.Gadgets() {
		if c := g.Terminator().Category; c != disasm.IndirectJump {
			t.Errorf("%q ends in %s with only ijmp enabled", g, c)
		}
	}
	if findAt(set, "a", base+3, 2) == nil {
		t.Error("missing mov; jmp")
	}
}

func TestSearchDeterministic(t *testing.T) {
	var code []byte
	for range 8 {
		code = append(code, popsThenJmp...)
		code = append(code, adjacentRet...)
		code = append(code, jneOverNops...)
	}
	want := mustSearch(t, x64("a", code), Config{Workers: 1})
	for _, cfg := range []Config{
		{Workers: 8, ChunkSize: 3},
		{Workers: 2, ChunkSize: 17},
		{Workers: 4, ChunkSize: 1, CacheSize: 2},
	} {
		got := mustSearch(t, x64("a", code), cfg)
		assertSameSet(t, got, want)
	}
}

func assertSameSet(t *testing.T, got, want *gadget.Set) {
	t.Helper()
	if !slices.Equal(got.Keys(), want.Keys()) {
		t.Fatalf("key sets differ: %d vs %d gadgets", got.Len(), want.Len())
	}
	for _, k := range want.Keys() {
		g, _ := got.Get(k)
		w, _ := want.Get(k)
		if g.FirstAddress() != w.FirstAddress() {
			t.Errorf("%q: representative 0x%x, want 0x%x", w, g.FirstAddress(), w.FirstAddress())
		}
		if !slices.Equal(g.Addresses("a"), w.Addresses("a")) {
			t.Errorf("%q: addresses %x, want %x", w, g.Addresses("a"), w.Addresses("a"))
		}
	}
}

func TestSearchMultipleRegions(t *testing.T) {
	b := Binary{
		ID:   "a",
		Arch: disasm.ArchX64,
		Regions: []Region{
			{Base: 0x1000, Bytes: []byte{0x58, 0xc3}},
			{Base: 0x9000, Bytes: []byte{0x58, 0xc3}},
		},
	}
	set := mustSearch(t, b, Config{})
	g := findAt(set, "a", 0x1000, 2)
	if g == nil {
		t.Fatal("missing pop rax; ret")
	}
	if addrs := g.Addresses("a"); len(addrs) != 2 || addrs[1] != 0x9000 {
		t.Errorf("addresses = %x, want [1000 9000]", addrs)
	}
}

func TestSearch32Bit(t *testing.T) {
	b := Binary{ID: "a", Arch: disasm.ArchX86, Regions: []Region{{Base: base, Bytes: []byte{0x5d, 0xc3}}}}
	set := mustSearch(t, b, Config{})
	g := findAt(set, "a", base, 2)
	if g == nil {
		t.Fatal("missing pop ebp; ret")
	}
	if got := g.String(); got != "pop ebp; ret" {
		t.Errorf("gadget = %q, want %q", got, "pop ebp; ret")
	}
}

func TestRunIsolatesInvalidBinaries(t *testing.T) {
	bins := []Binary{
		x64("good", popsThenJmp),
		{ID: "noarch", Regions: []Region{{Base: base, Bytes: popsThenJmp}}},
		{ID: "noregions", Arch: disasm.ArchX64},
		{ID: "empty", Arch: disasm.ArchX64, Regions: []Region{{Base: base}}},
	}
	res := Run(context.Background(), bins, Config{})
	if res[0].Err != nil || res[0].Set == nil || res[0].Set.Len() == 0 {
		t.Errorf("good: set %v, err %v", res[0].Set, res[0].Err)
	}
	for i, want := range []error{nil, ErrUnknownArch, ErrNoRegions, ErrEmptyRegion} {
		if want == nil {
			continue
		}
		if !errors.Is(res[i].Err, want) {
			t.Errorf("%s: err = %v, want %v", res[i].ID, res[i].Err, want)
		}
		if res[i].Set != nil {
			t.Errorf("%s: set not nil", res[i].ID)
		}
	}
}

func TestRunInvalidConfig(t *testing.T) {
	for _, cfg := range []Config{
		{MaxGadgetBytes: -1},
		{MaxInstructions: -3},
		{Workers: -1},
		{Terminators: disasm.SetOf(disasm.Return, disasm.ConditionalBranch)},
	} {
		_, err := SearchBinary(context.Background(), x64("a", popsThenJmp), cfg)
		if !errors.Is(err, ErrConfig) {
			t.Errorf("%+v: err = %v, want ErrConfig", cfg, err)
		}
	}
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := Run(ctx, []Binary{x64("a", popsThenJmp), x64("b", adjacentRet)}, Config{})
	for _, r := range res {
		if !errors.Is(r.Err, context.Canceled) {
			t.Errorf("%s: err = %v, want context.Canceled", r.ID, r.Err)
		}
		if r.Set != nil {
			t.Errorf("%s: partial set returned after cancel", r.ID)
		}
	}
}

func TestAnchors(t *testing.T) {
	dec, err := disasm.NewX86Decoder(disasm.ArchX64)
	if err != nil {
		t.Fatal(err)
	}
	r := Region{Base: base, Bytes: popsThenJmp}
	got := Anchors(dec, r, 0, len(popsThenJmp), disasm.DefaultTerminators)
	want := []uint64{base + 2, base + 10}
	if !slices.Equal(got, want) {
		t.Errorf("Anchors = %x, want %x", got, want)
	}
	if got := Anchors(dec, r, 3, len(popsThenJmp), disasm.DefaultTerminators); !slices.Equal(got, want[1:]) {
		t.Errorf("Anchors from 3 = %x, want %x", got, want[1:])
	}
	if got := Anchors(dec, r, 0, len(popsThenJmp), disasm.SetOf(disasm.DirectCall)); len(got) != 0 {
		t.Errorf("Anchors(call) = %x, want none", got)
	}
}

func TestStarts(t *testing.T) {
	r := Region{Base: base, Bytes: make([]byte, 100)}
	tests := []struct {
		name   string
		anchor uint64
		max    int
		first  uint64
		n      int
	}{
		{"clipped at region start", base + 3, 64, base, 4},
		{"full window", base + 80, 64, base + 16, 65},
		{"zero window", base + 5, 0, base + 5, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Starts(r, tt.anchor, tt.max)
			if len(s) != tt.n {
				t.Fatalf("len = %d, want %d", len(s), tt.n)
			}
			if s[0] != tt.first || s[len(s)-1] != tt.anchor {
				t.Errorf("range [0x%x, 0x%x], want [0x%x, 0x%x]", s[0], s[len(s)-1], tt.first, tt.anchor)
			}
		})
	}
	if s := Starts(r, base+200, 64); s != nil {
		t.Errorf("Starts outside region = %x, want nil", s)
	}
}

func TestBuildRejects(t *testing.T) {
	dec, _ := disasm.NewX86Decoder(disasm.ArchX64)
	b := &Builder{ID: "a", Region: Region{Base: base, Bytes: popsThenJmp}, Decoder: dec}
	tests := []struct {
		name          string
		start, anchor uint64
	}{
		{"contains ret", base, base + 10},
		{"overshoots anchor", base + 9, base + 10},
		{"invalid byte", base + 6, base + 10},
		{"anchor not terminator", base, base + 1},
		{"start after anchor", base + 3, base + 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if g := b.Build(tt.start, tt.anchor); g != nil {
				t.Errorf("Build(0x%x, 0x%x) = %q, want nil", tt.start, tt.anchor, g)
			}
		})
	}
	if g := b.Build(base+3, base+10); g == nil || g.Len() != 2 {
		t.Errorf("Build(mov; jmp) = %v", g)
	}
}
