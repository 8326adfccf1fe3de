package search

import (
	"fmt"
	"runtime"

	"gadgetry/internal/disasm"
)

const (
	DefaultMaxGadgetBytes  = 64
	DefaultMaxInstructions = 6

	defaultChunkSize = 64 << 10
)

// Config controls gadget discovery.
type Config struct {
	// MaxGadgetBytes bounds how far before an anchor a gadget may start.
	// Gadgets needing a wider window are not found; 0 = default.
	MaxGadgetBytes int
	// MaxInstructions caps instructions per gadget, terminator included.
	// 0 = default.
	MaxInstructions int
	// AllowInternalBranches admits control transfers before the terminator.
	AllowInternalBranches bool
	// Terminators selects which categories end a gadget; 0 = default set.
	Terminators disasm.CategorySet

	Workers   int    // parallel work units; 0 = GOMAXPROCS
	ChunkSize int    // bytes of anchor search per work unit; 0 = 64KiB
	CacheSize uint32 // per-unit decode cache entries; 0 = disasm default
}

// DefaultConfig returns the documented defaults with every field filled in.
func DefaultConfig() Config {
	return Config{
		MaxGadgetBytes:  DefaultMaxGadgetBytes,
		MaxInstructions: DefaultMaxInstructions,
		Terminators:     disasm.DefaultTerminators,
		Workers:         runtime.GOMAXPROCS(0),
		ChunkSize:       defaultChunkSize,
		CacheSize:       disasm.DefaultCacheSize,
	}
}

func (c Config) EffectiveMaxBytes() int {
	if c.MaxGadgetBytes > 0 {
		return c.MaxGadgetBytes
	}
	return DefaultMaxGadgetBytes
}

func (c Config) EffectiveMaxInstructions() int {
	if c.MaxInstructions > 0 {
		return c.MaxInstructions
	}
	return DefaultMaxInstructions
}

func (c Config) EffectiveTerminators() disasm.CategorySet {
	if c.Terminators != 0 {
		return c.Terminators
	}
	return disasm.DefaultTerminators
}

func (c Config) effectiveWorkers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.GOMAXPROCS(0)
}

func (c Config) effectiveChunkSize() int {
	if c.ChunkSize > 0 {
		return c.ChunkSize
	}
	return defaultChunkSize
}

// Validate rejects negative bounds and non-terminator categories.
func (c Config) Validate() error {
	if c.MaxGadgetBytes < 0 {
		return fmt.Errorf("%w: max gadget bytes %d", ErrConfig, c.MaxGadgetBytes)
	}
	if c.MaxInstructions < 0 {
		return fmt.Errorf("%w: max instructions %d", ErrConfig, c.MaxInstructions)
	}
	if c.Workers < 0 || c.ChunkSize < 0 {
		return fmt.Errorf("%w: negative workers or chunk size", ErrConfig)
	}
	if extra := c.Terminators &^ disasm.TerminatorCategories; extra != 0 {
		return fmt.Errorf("%w: categories %s cannot terminate a gadget", ErrConfig, extra)
	}
	return nil
}
