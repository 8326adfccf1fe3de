package main

import (
	"github.com/spf13/cobra"

	"gadgetry/internal/loader"
	"gadgetry/internal/render"
)

func newImportsCmd() *cobra.Command {
	var colorFlag string
	cmd := &cobra.Command{
		Use:   "imports <binary>...",
		Short: "List imported symbols with their libraries and bound addresses",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := render.ParseColorMode(colorFlag)
			if err != nil {
				return err
			}
			paths, err := loader.ExpandPaths(args)
			if err != nil {
				return err
			}
			for _, p := range paths {
				groups, err := loader.Imports(p)
				if err != nil {
					return err
				}
				if err := render.Imports(cmd.OutOrStdout(), p, groups, mode); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&colorFlag, "color", "auto", "colorize output: auto, always, never")
	return cmd
}
