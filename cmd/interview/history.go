package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var historyLimit int

// historyCmd shows recorded interview transcripts.
var historyCmd = &cobra.Command{
	Use:   "history [session id]",
	Short: "List recorded interviews, or print one transcript",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of sessions to list")
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := setup(ctx)
	if err != nil {
		return err
	}
	defer e.close()
	if e.transcripts == nil {
		return errors.New("no transcript database configured")
	}
	out := cmd.OutOrStdout()

	if len(args) == 1 {
		msgs, err := e.transcripts.Messages(ctx, args[0])
		if err != nil {
			return err
		}
		for _, m := range msgs {
			fmt.Fprintf(out, "%s[%s]%s %s\n\n", colorBlue, m.Role, colorReset, m.Content)
		}
		return nil
	}

	sessions, err := e.transcripts.Sessions(ctx, historyLimit)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		fmt.Fprintf(out, "%s  %s  %-11s %-8s %s\n",
			s.ID, s.StartedAt.Format(time.DateTime), s.Mode, s.Status, s.Dir)
	}
	return nil
}
