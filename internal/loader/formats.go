package loader

import (
	"bytes"
	"debug/elf"
	"debug/pe"
	"fmt"

	"github.com/blacktop/go-macho"
	"github.com/blacktop/go-macho/types"

	"gadgetry/internal/disasm"
	"gadgetry/internal/search"
)

// elfRegions returns executable PT_LOAD segments. Relocatable objects have
// no program headers, so their SHF_EXECINSTR sections are used instead.
func elfRegions(data []byte) (disasm.Arch, []search.Region, error) {
	ef, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return disasm.ArchUnknown, nil, fmt.Errorf("elf: %w", err)
	}
	defer ef.Close()

	var regions []search.Region
	for _, p := range ef.Progs {
		if p.Type != elf.PT_LOAD || p.Flags&elf.PF_X == 0 || p.Filesz == 0 {
			continue
		}
		b, err := span(data, p.Off, p.Filesz)
		if err != nil {
			return disasm.ArchUnknown, nil, err
		}
		regions = append(regions, search.Region{Base: p.Vaddr, Bytes: b})
	}
	if len(regions) == 0 {
		for _, s := range ef.Sections {
			if s.Type != elf.SHT_PROGBITS || s.Flags&elf.SHF_EXECINSTR == 0 || s.Size == 0 {
				continue
			}
			b, err := span(data, s.Offset, s.Size)
			if err != nil {
				return disasm.ArchUnknown, nil, err
			}
			regions = append(regions, search.Region{Base: s.Addr, Bytes: b})
		}
	}

	switch ef.Machine {
	case elf.EM_X86_64:
		return disasm.ArchX64, regions, nil
	case elf.EM_386:
		return disasm.ArchX86, regions, nil
	}
	return disasm.ArchUnknown, regions, fmt.Errorf("%w: elf machine %s", ErrUnsupportedArch, ef.Machine)
}

// peRegions returns sections marked executable, mapped at ImageBase+VA.
func peRegions(data []byte) (disasm.Arch, []search.Region, error) {
	pf, err := pe.NewFile(bytes.NewReader(data))
	if err != nil {
		return disasm.ArchUnknown, nil, fmt.Errorf("pe: %w", err)
	}
	defer pf.Close()

	var imageBase uint64
	switch oh := pf.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		imageBase = uint64(oh.ImageBase)
	case *pe.OptionalHeader64:
		imageBase = oh.ImageBase
	}

	var regions []search.Region
	for _, s := range pf.Sections {
		if s.Characteristics&pe.IMAGE_SCN_MEM_EXECUTE == 0 {
			continue
		}
		// SizeOfRawData is file-aligned; VirtualSize excludes the padding.
		n := s.Size
		if s.VirtualSize != 0 && s.VirtualSize < n {
			n = s.VirtualSize
		}
		if n == 0 {
			continue
		}
		b, err := span(data, uint64(s.Offset), uint64(n))
		if err != nil {
			return disasm.ArchUnknown, nil, err
		}
		regions = append(regions, search.Region{Base: imageBase + uint64(s.VirtualAddress), Bytes: b})
	}

	switch pf.Machine {
	case pe.IMAGE_FILE_MACHINE_AMD64:
		return disasm.ArchX64, regions, nil
	case pe.IMAGE_FILE_MACHINE_I386:
		return disasm.ArchX86, regions, nil
	}
	return disasm.ArchUnknown, regions, fmt.Errorf("%w: pe machine 0x%x", ErrUnsupportedArch, pf.Machine)
}

// machoRegions returns segments with execute protection.
func machoRegions(data []byte) (disasm.Arch, []search.Region, error) {
	m, err := macho.NewFile(bytes.NewReader(data))
	if err != nil {
		return disasm.ArchUnknown, nil, fmt.Errorf("macho: %w", err)
	}
	defer m.Close()

	var regions []search.Region
	for _, seg := range m.Segments() {
		if !types.VmProtection(seg.Prot).Execute() || seg.Filesz == 0 {
			continue
		}
		b, err := span(data, seg.Offset, seg.Filesz)
		if err != nil {
			return disasm.ArchUnknown, nil, err
		}
		regions = append(regions, search.Region{Base: seg.Addr, Bytes: b})
	}

	switch m.CPU {
	case types.CPUAmd64:
		return disasm.ArchX64, regions, nil
	case types.CPUI386:
		return disasm.ArchX86, regions, nil
	}
	return disasm.ArchUnknown, regions, fmt.Errorf("%w: macho cpu %s", ErrUnsupportedArch, m.CPU)
}
