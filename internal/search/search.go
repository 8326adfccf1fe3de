// Package search finds gadgets in executable regions: it walks every byte
// offset for terminator anchors, builds candidate gadgets backwards from
// each anchor, and deduplicates the results per binary.
package search

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"gadgetry/internal/disasm"
	"gadgetry/internal/gadget"
)

var (
	ErrConfig      = errors.New("search: invalid config")
	ErrUnknownArch = errors.New("search: unknown architecture")
	ErrNoRegions   = errors.New("search: no executable regions")
	ErrEmptyRegion = errors.New("search: empty region")
)

var log logrus.FieldLogger = logrus.StandardLogger()

// SetLogger replaces the package logger.
func SetLogger(l logrus.FieldLogger) { log = l }

// Region is a read-only view of executable bytes mapped at Base.
type Region struct {
	Base  uint64
	Bytes []byte
}

// End returns the address one past the last byte.
func (r Region) End() uint64 { return r.Base + uint64(len(r.Bytes)) }

func (r Region) Contains(addr uint64) bool { return addr >= r.Base && addr < r.End() }

// Binary is one search input. ID distinguishes occurrence provenance and
// must be unique within a run.
type Binary struct {
	ID      string
	Arch    disasm.Arch
	Regions []Region
}

// Validate checks the input contract for one binary.
func Validate(b Binary) error {
	if b.Arch.Bits() == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownArch, b.ID)
	}
	if len(b.Regions) == 0 {
		return fmt.Errorf("%w: %s", ErrNoRegions, b.ID)
	}
	for _, r := range b.Regions {
		if len(r.Bytes) == 0 {
			return fmt.Errorf("%w: %s at 0x%x", ErrEmptyRegion, b.ID, r.Base)
		}
	}
	return nil
}

// Result is the outcome for one binary of a Run. Exactly one of Set and
// Err is set.
type Result struct {
	ID  string
	Set *gadget.Set
	Err error
}

// SearchBinary runs a search over a single binary.
func SearchBinary(ctx context.Context, b Binary, cfg Config) (*gadget.Set, error) {
	res := Run(ctx, []Binary{b}, cfg)
	return res[0].Set, res[0].Err
}

// unit is one schedulable piece of work: anchors in bytes [lo, hi) of a
// region. Gadget starts may reach below lo; regions are shared read-only.
type unit struct {
	bin    int
	region int
	lo, hi int
}

// Run searches all binaries on a bounded worker pool. Binaries failing
// Validate get an error result and do not affect the others. If ctx ends
// before every unit completes, all results are discarded and carry the
// context error: a truncated set would understate cross-reference matches.
func Run(ctx context.Context, bins []Binary, cfg Config) []Result {
	results := make([]Result, len(bins))
	for i, b := range bins {
		results[i].ID = b.ID
	}
	if err := cfg.Validate(); err != nil {
		for i := range results {
			results[i].Err = err
		}
		return results
	}

	sets := make([]*gadget.Set, len(bins))
	var units []unit
	chunk := cfg.effectiveChunkSize()
	for i, b := range bins {
		if err := Validate(b); err != nil {
			log.WithError(err).WithField("binary", b.ID).Warn("skipping binary")
			results[i].Err = err
			continue
		}
		sets[i] = gadget.NewSet()
		for ri, r := range b.Regions {
			for lo := 0; lo < len(r.Bytes); lo += chunk {
				units = append(units, unit{bin: i, region: ri, lo: lo, hi: min(lo+chunk, len(r.Bytes))})
			}
		}
	}

	log.WithFields(logrus.Fields{
		"binaries": len(bins),
		"units":    len(units),
		"workers":  cfg.effectiveWorkers(),
	}).Debug("search start")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.effectiveWorkers())
	for _, u := range units {
		g.Go(func() error {
			local, err := searchUnit(gctx, bins[u.bin], u, cfg)
			if err != nil {
				return err
			}
			sets[u.bin].Merge(local)
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		log.WithError(err).Debug("search aborted, discarding partial results")
		for i := range results {
			if results[i].Err == nil {
				results[i].Err = err
			}
			results[i].Set = nil
		}
		return results
	}

	for i := range results {
		if results[i].Err == nil {
			results[i].Set = sets[i]
			log.WithFields(logrus.Fields{
				"binary":  results[i].ID,
				"gadgets": sets[i].Len(),
			}).Debug("search done")
		}
	}
	return results
}

// searchUnit finds anchors in one chunk and builds every gadget ending at
// them into a set private to the unit.
func searchUnit(ctx context.Context, b Binary, u unit, cfg Config) (*gadget.Set, error) {
	base, err := disasm.NewX86Decoder(b.Arch)
	if err != nil {
		return nil, err
	}
	dec, err := disasm.NewCachedDecoder(base, cfg.CacheSize)
	if err != nil {
		return nil, err
	}

	r := b.Regions[u.region]
	builder := &Builder{ID: b.ID, Region: r, Decoder: dec, Config: cfg}
	local := gadget.NewSet()
	// Build as anchors are found so the bytes just before each anchor are
	// still in the decode cache.
	err = WalkAnchors(dec, r, u.lo, u.hi, cfg.EffectiveTerminators(), func(anchor uint64) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		builder.BuildAll(anchor, local)
		return nil
	})
	if err != nil {
		return nil, err
	}

	hits, misses := dec.Stats()
	log.WithFields(logrus.Fields{
		"binary":  b.ID,
		"region":  fmt.Sprintf("0x%x", r.Base),
		"range":   fmt.Sprintf("[0x%x,0x%x)", u.lo, u.hi),
		"gadgets": local.Len(),
		"hits":    hits,
		"misses":  misses,
	}).Debug("unit done")
	return local, nil
}
