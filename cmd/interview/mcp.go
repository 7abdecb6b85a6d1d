package main

import (
	"github.com/mark3labs/mcp-go/server"
	"github.com/nidhogg/agent-interview/internal/app"
	"github.com/nidhogg/agent-interview/internal/mcptools"
	"github.com/spf13/cobra"
)

// mcpCmd serves the interview tools to MCP clients over stdio. Logs go to
// stderr so stdout stays a clean transport.
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve create_agent and edit_agent as MCP tools over stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer e.close()

		s := mcptools.NewServer(mcptools.Deps{
			Completer: e.completer,
			Model:     e.model,
			Registry:  e.registry,
			Images:    e.images,
			Defaults:  app.Defaults(e.cfg.Interview),
			Logger:    e.logger,
		})
		return server.ServeStdio(s)
	},
}
