package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// providersCmd checks every configured completion provider.
var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Check the configured completion providers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer e.close()

		results := e.providers.HealthCheck(cmd.Context())
		out := cmd.OutOrStdout()
		if len(results) == 0 {
			fmt.Fprintln(out, "No providers configured.")
			return nil
		}

		failed := 0
		for _, h := range results {
			mark := " "
			if h.Default {
				mark = "*"
			}
			if h.Err != nil {
				failed++
				fmt.Fprintf(out, "%s %s%-12s%s %s\n", mark, colorRed, h.ID, colorReset, h.Err)
				continue
			}
			fmt.Fprintf(out, "%s %s%-12s%s ok\n", mark, colorGreen, h.ID, colorReset)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d providers unreachable", failed, len(results))
		}
		return nil
	},
}
