// Package loader maps executables into memory and exposes their executable
// regions for gadget search. ELF, PE and Mach-O are recognized by magic;
// anything else is treated as raw code at address 0.
package loader

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"gadgetry/internal/disasm"
	"gadgetry/internal/search"
)

var (
	ErrEmptyFile       = errors.New("loader: empty file")
	ErrUnknownFormat   = errors.New("loader: unknown executable format")
	ErrUnsupportedArch = errors.New("loader: unsupported architecture")
	ErrNoExec          = errors.New("loader: no executable regions")
)

var log logrus.FieldLogger = logrus.StandardLogger()

// SetLogger replaces the package logger.
func SetLogger(l logrus.FieldLogger) { log = l }

// Format is the container format of a loaded file.
type Format int

const (
	FormatRaw Format = iota
	FormatELF
	FormatPE
	FormatMachO
)

func (f Format) String() string {
	switch f {
	case FormatELF:
		return "elf"
	case FormatPE:
		return "pe"
	case FormatMachO:
		return "macho"
	}
	return "raw"
}

var (
	elfMagic     = []byte("\x7fELF")
	peMagic      = []byte("MZ")
	machoMagic32 = []byte{0xce, 0xfa, 0xed, 0xfe}
	machoMagic64 = []byte{0xcf, 0xfa, 0xed, 0xfe}
)

// Detect identifies the container format from the leading bytes.
func Detect(data []byte) Format {
	switch {
	case bytes.HasPrefix(data, elfMagic):
		return FormatELF
	case bytes.HasPrefix(data, peMagic):
		return FormatPE
	case bytes.HasPrefix(data, machoMagic32), bytes.HasPrefix(data, machoMagic64):
		return FormatMachO
	}
	return FormatRaw
}

// Options controls loading.
type Options struct {
	// Arch overrides the architecture read from headers. Raw files have no
	// headers and stay ArchUnknown unless it is set.
	Arch disasm.Arch
	// ID names the binary in search results; defaults to the file's base name.
	ID string
}

// File is a mapped executable. Its regions alias the mapping and are only
// valid until Close.
type File struct {
	Path   string
	Format Format
	Binary search.Binary

	release func() error
}

// Open maps path and locates its executable regions.
func Open(path string, opts Options) (*File, error) {
	data, release, err := mapFile(path)
	if err != nil {
		return nil, err
	}

	id := opts.ID
	if id == "" {
		id = filepath.Base(path)
	}
	f := &File{Path: path, Format: Detect(data), release: release}
	f.Binary.ID = id

	var arch disasm.Arch
	switch f.Format {
	case FormatELF:
		arch, f.Binary.Regions, err = elfRegions(data)
	case FormatPE:
		arch, f.Binary.Regions, err = peRegions(data)
	case FormatMachO:
		arch, f.Binary.Regions, err = machoRegions(data)
	default:
		f.Binary.Regions = []search.Region{{Base: 0, Bytes: data}}
	}
	if opts.Arch != disasm.ArchUnknown {
		if errors.Is(err, ErrUnsupportedArch) {
			err = nil
		}
		arch = opts.Arch
	}
	if err == nil && len(f.Binary.Regions) == 0 {
		err = ErrNoExec
	}
	if err != nil {
		release()
		return nil, fmt.Errorf("loader: %s: %w", path, err)
	}
	f.Binary.Arch = arch

	log.WithFields(logrus.Fields{
		"path":    path,
		"format":  f.Format,
		"arch":    arch,
		"regions": len(f.Binary.Regions),
	}).Debug("loaded")
	return f, nil
}

// Close unmaps the file. The regions must not be used afterwards.
func (f *File) Close() error {
	if f.release == nil {
		return nil
	}
	err := f.release()
	f.release = nil
	f.Binary.Regions = nil
	return err
}

// span returns data[off:off+n] or an error if it does not fit.
func span(data []byte, off, n uint64) ([]byte, error) {
	end := off + n
	if end < off || end > uint64(len(data)) {
		return nil, fmt.Errorf("loader: range [0x%x,0x%x) beyond file size 0x%x", off, end, len(data))
	}
	return data[off:end], nil
}
