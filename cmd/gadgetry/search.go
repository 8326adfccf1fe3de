package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"gadgetry/internal/disasm"
	"gadgetry/internal/filter"
	"gadgetry/internal/loader"
	"gadgetry/internal/output"
	"gadgetry/internal/render"
	"gadgetry/internal/search"
	"gadgetry/internal/xref"
)

type searchFlags struct {
	arch        string
	maxBytes    int
	maxLen      int
	internalBr  bool
	terminators string
	workers     int
	timeout     time.Duration

	partial bool

	minLen   int
	include  []string
	exclude  []string
	badBytes string
	pivot    string
	regPop   bool
	noDeref  bool

	sort     string
	color    string
	maxAddrs int
	att      bool

	jsonl   string
	dot     string
	html    string
	summary string
}

func newSearchCmd() *cobra.Command {
	var f searchFlags
	cmd := &cobra.Command{
		Use:   "search <binary|glob>...",
		Short: "Find gadgets; with several binaries, cross-reference them",
		Example: `  gadgetry search /bin/ls
  gadgetry search --pivot only --bad-bytes 00,0a libc.so.6
  gadgetry search --partial 'libs/**/*.so'
  gadgetry search --arch x86 shellcode.bin`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, args, &f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.arch, "arch", "", "architecture (x86, x64); required for raw files")
	fl.IntVar(&f.maxBytes, "max-bytes", search.DefaultMaxGadgetBytes, "search window before each terminator, in bytes")
	fl.IntVarP(&f.maxLen, "max-len", "l", search.DefaultMaxInstructions, "maximum instructions per gadget, terminator included")
	fl.BoolVar(&f.internalBr, "internal-branches", false, "allow control transfers before the terminator")
	fl.StringVarP(&f.terminators, "terminators", "t", "ret,icall,ijmp", "terminators: ret, icall, ijmp, call, jmp, sys, rop, jop")
	fl.IntVarP(&f.workers, "workers", "j", 0, "parallel workers (0 = GOMAXPROCS)")
	fl.DurationVar(&f.timeout, "timeout", 0, "abort the search after this long (0 = none)")

	fl.BoolVarP(&f.partial, "partial", "p", false, "report gadgets found in some but not all binaries")

	fl.IntVar(&f.minLen, "min-len", 0, "minimum instructions per gadget")
	fl.StringArrayVarP(&f.include, "include", "i", nil, "keep gadgets matching regex (repeatable)")
	fl.StringArrayVarP(&f.exclude, "exclude", "x", nil, "drop gadgets matching regex (repeatable)")
	fl.StringVarP(&f.badBytes, "bad-bytes", "b", "", "drop gadgets whose encoding contains these hex bytes, e.g. 00,0a")
	fl.StringVar(&f.pivot, "pivot", "", "stack pivots: only, exclude")
	fl.BoolVar(&f.regPop, "reg-pop", false, "only register pops followed by the terminator")
	fl.BoolVar(&f.noDeref, "no-deref", false, "drop gadgets that dereference memory before the terminator")

	fl.StringVarP(&f.sort, "sort", "s", "addr", "sort order: addr, text")
	fl.StringVar(&f.color, "color", "auto", "colorize output: auto, always, never")
	fl.IntVar(&f.maxAddrs, "max-addrs", 0, "addresses shown per binary (0 = all)")
	fl.BoolVar(&f.att, "att", false, "print instructions in AT&T syntax")

	fl.StringVar(&f.jsonl, "jsonl", "", "also write gadgets as JSONL to this file")
	fl.StringVar(&f.dot, "dot", "", "write the binary/gadget occurrence graph as DOT to this file")
	fl.StringVar(&f.html, "html", "", "write an HTML run report to this file")
	fl.StringVar(&f.summary, "summary", "", "write a JSON run summary to this file")
	return cmd
}

func (f *searchFlags) searchConfig() (search.Config, error) {
	terms, err := disasm.ParseCategorySet(f.terminators)
	if err != nil {
		return search.Config{}, err
	}
	cfg := search.DefaultConfig()
	cfg.MaxGadgetBytes = f.maxBytes
	cfg.MaxInstructions = f.maxLen
	cfg.AllowInternalBranches = f.internalBr
	cfg.Terminators = terms
	if f.workers > 0 {
		cfg.Workers = f.workers
	}
	return cfg, cfg.Validate()
}

func (f *searchFlags) filterConfig() (filter.Config, error) {
	bad, err := filter.ParseBadBytes(f.badBytes)
	if err != nil {
		return filter.Config{}, err
	}
	pivot, err := filter.ParsePivotPolicy(f.pivot)
	if err != nil {
		return filter.Config{}, err
	}
	return filter.Config{
		MinInstructions: f.minLen,
		Include:         f.include,
		Exclude:         f.exclude,
		BadBytes:        bad,
		Pivot:           pivot,
		RegPopOnly:      f.regPop,
		NoDeref:         f.noDeref,
	}, nil
}

func runSearch(cmd *cobra.Command, args []string, f *searchFlags) error {
	start := time.Now()

	// Validate every option before touching the inputs.
	cfg, err := f.searchConfig()
	if err != nil {
		return err
	}
	fcfg, err := f.filterConfig()
	if err != nil {
		return err
	}
	preds, err := filter.Compile(fcfg)
	if err != nil {
		return err
	}
	sortKey, err := render.ParseSortKey(f.sort)
	if err != nil {
		return err
	}
	colorMode, err := render.ParseColorMode(f.color)
	if err != nil {
		return err
	}
	var arch disasm.Arch
	if f.arch != "" {
		if arch, err = disasm.ParseArch(f.arch); err != nil {
			return err
		}
	}

	paths, err := loader.ExpandPaths(args)
	if err != nil {
		return err
	}
	sum := &output.Summary{}
	var bins []search.Binary
	for _, p := range paths {
		lf, err := loader.Open(p, loader.Options{Arch: arch, ID: p})
		if err != nil {
			fmt.Fprintf(os.Stderr, "skipping %s: %v\n", p, err)
			sum.Binaries = append(sum.Binaries, output.BinarySummary{ID: p, Path: p, Arch: arch.String(), Error: err.Error()})
			continue
		}
		defer lf.Close()
		bins = append(bins, lf.Binary)
		sum.Binaries = append(sum.Binaries, output.BinarySummary{
			ID:      lf.Binary.ID,
			Path:    p,
			Format:  lf.Format.String(),
			Arch:    lf.Binary.Arch.String(),
			Regions: len(lf.Binary.Regions),
		})
	}
	if len(bins) == 0 {
		return errors.New("no binaries could be loaded")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	var inputs []xref.Input
	for _, res := range search.Run(ctx, bins, cfg) {
		bs := summaryFor(sum, res.ID)
		if res.Err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("search aborted: %w", res.Err)
			}
			fmt.Fprintf(os.Stderr, "skipping %s: %v\n", res.ID, res.Err)
			bs.Error = res.Err.Error()
			continue
		}
		bs.Gadgets = res.Set.Len()
		inputs = append(inputs, xref.Input{ID: res.ID, Set: res.Set})
	}
	if len(inputs) == 0 {
		return errors.New("no binaries could be searched")
	}

	kind := xref.Full
	if f.partial {
		kind = xref.Partial
	}
	match, err := xref.CrossReference(kind, inputs)
	if err != nil {
		return err
	}
	final := filter.Apply(match.Set, preds...)
	gadgets := final.Gadgets()
	render.Sort(gadgets, sortKey)

	opts := render.TextOptions{Color: colorMode, Binaries: match.Binaries, MaxAddrs: f.maxAddrs}
	if f.att {
		opts.Syntax = disasm.ATT
	}
	if err := render.Text(cmd.OutOrStdout(), gadgets, opts); err != nil {
		return err
	}

	if f.jsonl != "" {
		if err := output.WriteJSONL(f.jsonl, gadgets); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "wrote %s (%d gadgets)\n", f.jsonl, len(gadgets))
	}
	if f.dot != "" {
		filtered := &xref.MatchResult{Kind: match.Kind, Set: final, Binaries: match.Binaries}
		dot := render.OccurrenceDOT(filtered, "gadgetry", render.NASA, 500)
		if err := os.WriteFile(f.dot, []byte(dot), 0644); err != nil {
			return fmt.Errorf("write %s: %w", f.dot, err)
		}
		fmt.Fprintf(os.Stderr, "wrote %s\n", f.dot)
	}

	elapsed := time.Since(start)
	if len(inputs) > 1 {
		sum.Match = match.Kind.String()
	}
	sum.Gadgets = len(gadgets)
	sum.ElapsedSec = elapsed.Seconds()
	if f.summary != "" {
		if err := output.WriteSummaryJSON(f.summary, sum); err != nil {
			return err
		}
	}
	if f.html != "" {
		hf, err := os.Create(f.html)
		if err != nil {
			return err
		}
		err = render.WriteReportHTML(hf, sum, gadgets, "gadgetry", render.NASA, 1000)
		if cerr := hf.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("write %s: %w", f.html, err)
		}
		fmt.Fprintf(os.Stderr, "wrote %s\n", f.html)
	}

	what := "unique gadgets"
	if len(inputs) > 1 {
		what = fmt.Sprintf("%s-match gadgets across %d binaries", match.Kind, len(inputs))
	}
	fmt.Fprintf(os.Stderr, "found %d %s in %s\n", len(gadgets), what, elapsed.Round(time.Millisecond))
	return nil
}

func summaryFor(sum *output.Summary, id string) *output.BinarySummary {
	for i := range sum.Binaries {
		if sum.Binaries[i].ID == id {
			return &sum.Binaries[i]
		}
	}
	sum.Binaries = append(sum.Binaries, output.BinarySummary{ID: id})
	return &sum.Binaries[len(sum.Binaries)-1]
}
