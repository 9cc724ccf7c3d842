package main

import (
	"fmt"

	"github.com/aretw0/stepwise/pkg/adapters/catalog"
	"github.com/aretw0/stepwise/pkg/registry"
	"github.com/spf13/cobra"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect catalog files",
}

var catalogValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Check a catalog file and list its conversation types",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := catalog.Load(args[0])
		if err != nil {
			return err
		}
		if err := cat.Register(registry.Builtin()); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, name := range cat.Types() {
			steps, err := cat.ListSteps(cmd.Context(), name)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s: %d steps\n", name, len(steps))
		}
		fmt.Fprintln(out, "catalog is valid")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogValidateCmd)
}
