package filter

import (
	"fmt"
	"regexp"

	"gadgetry/internal/disasm"
)

// Config lists every filter option. Zero values disable a filter.
type Config struct {
	MinInstructions int
	MaxInstructions int
	MinBytes        int
	MaxBytes        int
	Include         []string // regexes, all must match
	Exclude         []string // regexes, none may match
	BadBytes        []byte
	Pivot           PivotPolicy
	RegPopOnly      bool
	NoDeref         bool
	Terminators     disasm.CategorySet // 0 keeps every terminator
}

// Compile turns cfg into an ordered predicate chain. Cheap checks come
// first so Apply rejects early; regex errors wrap ErrBadPattern.
func Compile(cfg Config) ([]Predicate, error) {
	var preds []Predicate
	if cfg.MinInstructions > 0 {
		preds = append(preds, MinInstructions(cfg.MinInstructions))
	}
	if cfg.MaxInstructions > 0 {
		preds = append(preds, MaxInstructions(cfg.MaxInstructions))
	}
	if cfg.MinBytes > 0 {
		preds = append(preds, MinBytes(cfg.MinBytes))
	}
	if cfg.MaxBytes > 0 {
		preds = append(preds, MaxBytes(cfg.MaxBytes))
	}
	if cfg.Terminators != 0 {
		preds = append(preds, Terminators(cfg.Terminators))
	}
	if cfg.Pivot != PivotAny {
		preds = append(preds, StackPivot(cfg.Pivot))
	}
	if cfg.RegPopOnly {
		preds = append(preds, RegPopOnly())
	}
	if cfg.NoDeref {
		preds = append(preds, NoDeref())
	}
	if len(cfg.BadBytes) > 0 {
		preds = append(preds, BadBytes(cfg.BadBytes))
	}
	for _, p := range cfg.Include {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: include %q: %v", ErrBadPattern, p, err)
		}
		preds = append(preds, Include(re))
	}
	for _, p := range cfg.Exclude {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: exclude %q: %v", ErrBadPattern, p, err)
		}
		preds = append(preds, Exclude(re))
	}
	return preds, nil
}
