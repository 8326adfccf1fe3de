package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"gadgetry/internal/loader"
	"gadgetry/internal/search"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool
	root := &cobra.Command{
		Use:   "gadgetry",
		Short: "ROP/JOP gadget finder for x86 and x86-64",
		Long: `gadgetry finds code-reuse gadgets in ELF, PE, Mach-O and raw x86/x64 code.

Given several binaries it reports the gadgets they share (full match) or
the ones only some of them contain (--partial).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(verbose)
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging to stderr")
	root.AddCommand(newSearchCmd(), newImportsCmd())
	return root
}

func setupLogging(verbose bool) {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	l.SetLevel(logrus.WarnLevel)
	if verbose {
		l.SetLevel(logrus.DebugLevel)
	}
	search.SetLogger(l)
	loader.SetLogger(l)
}
