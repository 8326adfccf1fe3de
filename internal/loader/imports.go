package loader

import (
	"bytes"
	"debug/elf"
	"debug/pe"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/blacktop/go-macho"
	"github.com/blacktop/go-macho/types"
)

// Import is one symbol a binary expects another module to provide.
type Import struct {
	Name   string
	Source string // library, dll or dylib; ELF adds the symbol version
	// Address is the slot the dynamic loader fills in: the ELF relocation
	// offset, the PE import address table entry (ImageBase+RVA), or the
	// Mach-O symbol pointer. 0 when the format does not say.
	Address uint64
	Attrs   []string // format specific, named by ImportGroup.Columns
}

// ImportGroup is a titled list of imports sharing attribute columns.
type ImportGroup struct {
	Title   string
	Columns []string
	Imports []Import
}

// CountImports sums the imports of all groups.
func CountImports(groups []ImportGroup) int {
	n := 0
	for _, g := range groups {
		n += len(g.Imports)
	}
	return n
}

// Imports lists the imported symbols of an ELF, PE or Mach-O file, grouped
// the way the format binds them, in the order the file declares them.
func Imports(path string) ([]ImportGroup, error) {
	data, release, err := mapFile(path)
	if err != nil {
		return nil, err
	}
	defer release()

	var groups []ImportGroup
	switch Detect(data) {
	case FormatELF:
		groups, err = elfImports(data)
	case FormatPE:
		groups, err = peImports(data)
	case FormatMachO:
		groups, err = machoImports(data)
	default:
		err = ErrUnknownFormat
	}
	if err != nil {
		return nil, fmt.Errorf("loader: %s: %w", path, err)
	}
	// Names may alias the mapping; copy before it goes away.
	for _, g := range groups {
		for i := range g.Imports {
			g.Imports[i].Name = strings.Clone(g.Imports[i].Name)
			g.Imports[i].Source = strings.Clone(g.Imports[i].Source)
		}
	}
	return groups, nil
}

// PLT stubs on x86 and x86-64 are 16 bytes, after one reserved stub.
const pltStubSize = 16

var elfColumns = []string{"reloc type", ".plt address", "index", "value", "addend"}

// elfImports reads the relocations against the dynamic symbol table. The
// .rela.plt (or .rel.plt) entries form the PLT group; everything else with
// a symbol is another dynamic import.
func elfImports(data []byte) ([]ImportGroup, error) {
	ef, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("elf: %w", err)
	}
	defer ef.Close()

	dynsym := -1
	for i, s := range ef.Sections {
		if s.Type == elf.SHT_DYNSYM {
			dynsym = i
			break
		}
	}
	if dynsym < 0 {
		return nil, nil
	}
	syms, err := ef.DynamicSymbols()
	if errors.Is(err, elf.ErrNoSymbols) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("elf: dynamic symbols: %w", err)
	}
	var pltBase uint64
	if s := ef.Section(".plt"); s != nil {
		pltBase = s.Addr
	}

	plt := ImportGroup{Title: "PLT symbols", Columns: elfColumns}
	dyn := ImportGroup{Title: "Other dynamic symbols", Columns: elfColumns}
	for _, s := range ef.Sections {
		if (s.Type != elf.SHT_RELA && s.Type != elf.SHT_REL) || int(s.Link) != dynsym {
			continue
		}
		relocs, err := elfRelocs(ef, s)
		if err != nil {
			return nil, err
		}
		isPLT := strings.HasSuffix(s.Name, ".plt")
		group := &dyn
		if isPLT {
			group = &plt
		}
		for i, r := range relocs {
			// Symbol 0 is the null symbol: a relative relocation, not an import.
			if r.sym == 0 || int(r.sym) > len(syms) {
				continue
			}
			sym := syms[r.sym-1]
			attrs := []string{
				elfRelocType(ef.Machine, r.typ),
				"-",
				strconv.FormatUint(uint64(r.sym), 10),
				fmt.Sprintf("%#x", sym.Value),
				"-",
			}
			if isPLT && pltBase != 0 && isJumpSlot(ef.Machine, r.typ) {
				attrs[1] = fmt.Sprintf("%#x", pltBase+uint64(i+1)*pltStubSize)
			}
			if r.rela {
				attrs[4] = strconv.FormatInt(r.addend, 10)
			}
			group.Imports = append(group.Imports, Import{
				Name:    sym.Name,
				Source:  elfSource(sym),
				Address: r.off,
				Attrs:   attrs,
			})
		}
	}
	return []ImportGroup{plt, dyn}, nil
}

type elfReloc struct {
	off    uint64
	sym    uint32
	typ    uint32
	addend int64
	rela   bool
}

func elfRelocs(ef *elf.File, s *elf.Section) ([]elfReloc, error) {
	data, err := s.Data()
	if err != nil {
		return nil, fmt.Errorf("elf: %s: %w", s.Name, err)
	}
	rd := bytes.NewReader(data)
	rela := s.Type == elf.SHT_RELA
	var out []elfReloc
	switch {
	case ef.Class == elf.ELFCLASS64 && rela:
		rs := make([]elf.Rela64, len(data)/binary.Size(elf.Rela64{}))
		if err := binary.Read(rd, ef.ByteOrder, rs); err != nil {
			return nil, fmt.Errorf("elf: %s: %w", s.Name, err)
		}
		for _, r := range rs {
			out = append(out, elfReloc{r.Off, elf.R_SYM64(r.Info), elf.R_TYPE64(r.Info), r.Addend, true})
		}
	case ef.Class == elf.ELFCLASS64:
		rs := make([]elf.Rel64, len(data)/binary.Size(elf.Rel64{}))
		if err := binary.Read(rd, ef.ByteOrder, rs); err != nil {
			return nil, fmt.Errorf("elf: %s: %w", s.Name, err)
		}
		for _, r := range rs {
			out = append(out, elfReloc{off: r.Off, sym: elf.R_SYM64(r.Info), typ: elf.R_TYPE64(r.Info)})
		}
	case rela:
		rs := make([]elf.Rela32, len(data)/binary.Size(elf.Rela32{}))
		if err := binary.Read(rd, ef.ByteOrder, rs); err != nil {
			return nil, fmt.Errorf("elf: %s: %w", s.Name, err)
		}
		for _, r := range rs {
			out = append(out, elfReloc{uint64(r.Off), elf.R_SYM32(r.Info), elf.R_TYPE32(r.Info), int64(r.Addend), true})
		}
	default:
		rs := make([]elf.Rel32, len(data)/binary.Size(elf.Rel32{}))
		if err := binary.Read(rd, ef.ByteOrder, rs); err != nil {
			return nil, fmt.Errorf("elf: %s: %w", s.Name, err)
		}
		for _, r := range rs {
			out = append(out, elfReloc{off: uint64(r.Off), sym: elf.R_SYM32(r.Info), typ: elf.R_TYPE32(r.Info)})
		}
	}
	return out, nil
}

func elfRelocType(m elf.Machine, t uint32) string {
	switch m {
	case elf.EM_X86_64:
		return elf.R_X86_64(t).String()
	case elf.EM_386:
		return elf.R_386(t).String()
	}
	return strconv.FormatUint(uint64(t), 10)
}

func isJumpSlot(m elf.Machine, t uint32) bool {
	switch m {
	case elf.EM_X86_64:
		return elf.R_X86_64(t) == elf.R_X86_64_JMP_SLOT
	case elf.EM_386:
		return elf.R_386(t) == elf.R_386_JMP_SLOT
	}
	return false
}

// elfSource renders the needed library and symbol version, as in
// "libc.so.6, GLIBC_2.2.5".
func elfSource(s elf.Symbol) string {
	switch {
	case s.Library != "" && s.Version != "":
		return s.Library + ", " + s.Version
	case s.Library != "":
		return s.Library
	}
	return s.Version
}

// peImports walks the import directory. Named imports carry their hint in
// the ordinal column; ordinal imports are named "#<ordinal>".
func peImports(data []byte) ([]ImportGroup, error) {
	pf, err := pe.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("pe: %w", err)
	}
	defer pf.Close()

	var (
		imageBase uint64
		dir       pe.DataDirectory
		thunk     uint32 = 4
	)
	switch oh := pf.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		imageBase = uint64(oh.ImageBase)
		if oh.NumberOfRvaAndSizes > pe.IMAGE_DIRECTORY_ENTRY_IMPORT {
			dir = oh.DataDirectory[pe.IMAGE_DIRECTORY_ENTRY_IMPORT]
		}
	case *pe.OptionalHeader64:
		imageBase = oh.ImageBase
		thunk = 8
		if oh.NumberOfRvaAndSizes > pe.IMAGE_DIRECTORY_ENTRY_IMPORT {
			dir = oh.DataDirectory[pe.IMAGE_DIRECTORY_ENTRY_IMPORT]
		}
	}

	group := ImportGroup{Title: "Imports", Columns: []string{"ordinal", "offset"}}
	if dir.VirtualAddress == 0 {
		return []ImportGroup{group}, nil
	}
	img, err := newPEImage(pf)
	if err != nil {
		return nil, err
	}
	for desc := dir.VirtualAddress; ; desc += 20 {
		d, err := img.read(desc, 20)
		if err != nil {
			return nil, err
		}
		lookup := binary.LittleEndian.Uint32(d[0:])
		nameRVA := binary.LittleEndian.Uint32(d[12:])
		iat := binary.LittleEndian.Uint32(d[16:])
		if lookup == 0 && nameRVA == 0 && iat == 0 {
			break
		}
		dll, err := img.cstring(nameRVA)
		if err != nil {
			return nil, err
		}
		if lookup == 0 {
			lookup = iat
		}
		for i := uint32(0); ; i++ {
			e, err := img.read(lookup+i*thunk, thunk)
			if err != nil {
				return nil, err
			}
			var v uint64
			var byOrdinal bool
			if thunk == 8 {
				v = binary.LittleEndian.Uint64(e)
				byOrdinal = v&(1<<63) != 0
			} else {
				v = uint64(binary.LittleEndian.Uint32(e))
				byOrdinal = v&(1<<31) != 0
			}
			if v == 0 {
				break
			}
			slot := iat + i*thunk
			imp := Import{Source: dll, Address: imageBase + uint64(slot)}
			offset := "-"
			if off, ok := img.fileOffset(slot); ok {
				offset = fmt.Sprintf("%#x", off)
			}
			if byOrdinal {
				ord := v & 0xffff
				imp.Name = fmt.Sprintf("#%d", ord)
				imp.Attrs = []string{strconv.FormatUint(ord, 10), offset}
			} else {
				hn := uint32(v & 0x7fffffff)
				h, err := img.read(hn, 2)
				if err != nil {
					return nil, err
				}
				if imp.Name, err = img.cstring(hn + 2); err != nil {
					return nil, err
				}
				imp.Attrs = []string{strconv.Itoa(int(binary.LittleEndian.Uint16(h))), offset}
			}
			group.Imports = append(group.Imports, imp)
		}
	}
	return []ImportGroup{group}, nil
}

// peImage resolves RVAs against section contents.
type peImage struct {
	sections []*pe.Section
	data     [][]byte
}

func newPEImage(pf *pe.File) (*peImage, error) {
	img := &peImage{sections: pf.Sections}
	for _, s := range pf.Sections {
		d, err := s.Data()
		if err != nil {
			return nil, fmt.Errorf("pe: section %s: %w", s.Name, err)
		}
		img.data = append(img.data, d)
	}
	return img, nil
}

func (img *peImage) locate(rva uint32) (int, uint32, bool) {
	for i, s := range img.sections {
		size := max(s.VirtualSize, s.Size)
		if rva >= s.VirtualAddress && rva-s.VirtualAddress < size {
			return i, rva - s.VirtualAddress, true
		}
	}
	return 0, 0, false
}

func (img *peImage) read(rva, n uint32) ([]byte, error) {
	i, off, ok := img.locate(rva)
	if !ok || uint64(off)+uint64(n) > uint64(len(img.data[i])) {
		return nil, fmt.Errorf("pe: rva %#x outside section data", rva)
	}
	return img.data[i][off : off+n], nil
}

func (img *peImage) cstring(rva uint32) (string, error) {
	i, off, ok := img.locate(rva)
	if !ok || int(off) >= len(img.data[i]) {
		return "", fmt.Errorf("pe: string rva %#x outside section data", rva)
	}
	b := img.data[i][off:]
	if n := bytes.IndexByte(b, 0); n >= 0 {
		b = b[:n]
	}
	return string(b), nil
}

func (img *peImage) fileOffset(rva uint32) (uint64, bool) {
	i, off, ok := img.locate(rva)
	if !ok || off >= img.sections[i].Size {
		return 0, false
	}
	return uint64(img.sections[i].Offset) + uint64(off), true
}

// Mach-O section types and indirect symbol markers.
const (
	machoNonLazyPointers  = 0x6
	machoLazyPointers     = 0x7
	machoLazyDylibPointer = 0x10
	machoSectionType      = 0xff

	indirectSymbolLocal = 0x80000000
	indirectSymbolAbs   = 0x40000000

	nWeakRef = 0x0040
)

// machoImports resolves symbol pointer sections through the indirect
// symbol table. Undefined externals bound some other way, such as through
// chained fixups, are listed separately without an address. With a
// two-level namespace the library ordinal lives in the high byte of n_desc.
func machoImports(data []byte) ([]ImportGroup, error) {
	m, err := macho.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("macho: %w", err)
	}
	defer m.Close()

	if m.Symtab == nil {
		return nil, nil
	}
	libs := m.ImportedLibraries()
	ptrSize := uint64(4)
	if m.CPU == types.CPUAmd64 {
		ptrSize = 8
	}

	ptrs := ImportGroup{Title: "Symbol pointers", Columns: []string{"section", "offset", "lazy", "weak"}}
	seen := make(map[uint32]bool)
	if m.Dysymtab != nil {
		indirect := m.Dysymtab.IndirectSyms
		for _, sec := range m.Sections {
			kind := uint32(sec.Flags) & machoSectionType
			if kind != machoNonLazyPointers && kind != machoLazyPointers && kind != machoLazyDylibPointer {
				continue
			}
			for i := uint64(0); i < sec.Size/ptrSize; i++ {
				idx := uint64(sec.Reserved1) + i
				if idx >= uint64(len(indirect)) {
					break
				}
				si := indirect[idx]
				if si&(indirectSymbolLocal|indirectSymbolAbs) != 0 || int(si) >= len(m.Symtab.Syms) {
					continue
				}
				s := m.Symtab.Syms[si]
				seen[si] = true
				ptrs.Imports = append(ptrs.Imports, Import{
					Name:    s.Name,
					Source:  machoSource(libs, uint16(s.Desc)),
					Address: sec.Addr + i*ptrSize,
					Attrs: []string{
						sec.Seg + "," + sec.Name,
						fmt.Sprintf("%#x", uint64(sec.Offset)+i*ptrSize),
						strconv.FormatBool(kind != machoNonLazyPointers),
						strconv.FormatBool(uint16(s.Desc)&nWeakRef != 0),
					},
				})
			}
		}
	}

	other := ImportGroup{Title: "Other undefined symbols", Columns: []string{"weak"}}
	for i, s := range m.Symtab.Syms {
		if seen[uint32(i)] || s.Type&types.N_STAB != 0 || s.Type&types.N_TYPE != types.N_UNDF || s.Type&types.N_EXT == 0 {
			continue
		}
		other.Imports = append(other.Imports, Import{
			Name:   s.Name,
			Source: machoSource(libs, uint16(s.Desc)),
			Attrs:  []string{strconv.FormatBool(uint16(s.Desc)&nWeakRef != 0)},
		})
	}
	return []ImportGroup{ptrs, other}, nil
}

func machoSource(libs []string, desc uint16) string {
	if ord := int(desc >> 8); ord > 0 && ord <= len(libs) {
		return libs[ord-1]
	}
	return ""
}
