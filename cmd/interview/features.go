package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// featuresCmd lists the feature catalog the interviewer offers.
var featuresCmd = &cobra.Command{
	Use:   "features",
	Short: "List the features agents can be given",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer e.close()

		specs, err := e.registry.Features(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(specs) == 0 {
			fmt.Fprintln(out, "No features available.")
			return nil
		}
		for _, s := range specs {
			fmt.Fprintf(out, "%s%s%s  %s\n", colorCyan, s.Name, colorReset, s.Description)
		}
		return nil
	},
}
