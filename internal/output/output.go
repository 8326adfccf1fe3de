// Package output writes gadget search results to files.
package output

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"gadgetry/internal/gadget"
)

// InstructionRecord is one instruction of a gadget record.
type InstructionRecord struct {
	Text     string `json:"text"`
	Category string `json:"category"`
	Bytes    string `json:"bytes"`
}

// Occurrence lists the addresses of a gadget in one binary.
type Occurrence struct {
	Binary    string   `json:"binary"`
	Addresses []string `json:"addresses"`
}

// GadgetRecord is the JSONL form of one gadget.
type GadgetRecord struct {
	Text         string              `json:"text"`
	Terminator   string              `json:"terminator"`
	Instructions []InstructionRecord `json:"instructions"`
	ByteLength   uint32              `json:"byte_length"`
	OccursIn     []Occurrence        `json:"occurs_in"`
}

// NewGadgetRecord converts a gadget. Binaries and addresses are sorted and
// addresses are hex strings, since JSON numbers lose precision past 2^53.
func NewGadgetRecord(g *gadget.Gadget) GadgetRecord {
	rec := GadgetRecord{
		Text:       g.String(),
		Terminator: g.Terminator().Category.String(),
		ByteLength: g.ByteLength(),
	}
	for _, inst := range g.Instructions {
		rec.Instructions = append(rec.Instructions, InstructionRecord{
			Text:     inst.Text,
			Category: inst.Category.String(),
			Bytes:    hex.EncodeToString(inst.Raw),
		})
	}
	for _, id := range g.Binaries() {
		occ := Occurrence{Binary: id}
		for _, a := range g.Addresses(id) {
			occ.Addresses = append(occ.Addresses, fmt.Sprintf("0x%x", a))
		}
		rec.OccursIn = append(rec.OccursIn, occ)
	}
	return rec
}

// WriteJSONL writes one GadgetRecord per line, in the given order.
func WriteJSONL(path string, gs []*gadget.Gadget) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("output: create %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, g := range gs {
		if err := enc.Encode(NewGadgetRecord(g)); err != nil {
			return fmt.Errorf("output: write %s: %w", path, err)
		}
	}
	return f.Close()
}

// BinarySummary describes one searched binary.
type BinarySummary struct {
	ID      string `json:"id"`
	Path    string `json:"path,omitempty"`
	Format  string `json:"format,omitempty"`
	Arch    string `json:"arch"`
	Regions int    `json:"regions"`
	Gadgets int    `json:"gadgets"`
	Error   string `json:"error,omitempty"`
}

// Summary is the run-level report written next to the gadget records.
type Summary struct {
	Binaries   []BinarySummary `json:"binaries"`
	Match      string          `json:"match,omitempty"` // "full" or "partial" with several binaries
	Gadgets    int             `json:"gadgets"`         // after filtering
	ElapsedSec float64         `json:"elapsed_sec"`
}

// WriteSummaryJSON writes s as indented JSON to path.
func WriteSummaryJSON(path string, s *Summary) error {
	return writeJSON(path, s)
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("output: create %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("output: encode %s: %w", path, err)
	}
	return nil
}
