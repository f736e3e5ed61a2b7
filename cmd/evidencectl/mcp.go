package main

import (
	"github.com/spf13/cobra"

	mcpadapter "github.com/stewmckendry/health-assistant/internal/adapters/mcp"
)

func newMCPCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the engine as MCP tools over stdio",
		Long: `Starts a Model Context Protocol server on stdin/stdout exposing the
answer_question and classify_query tools. Logs go to stderr.

Client configuration:
  {
    "mcpServers": {
      "evidence": {
        "command": "/path/to/evidencectl",
        "args": ["mcp"]
      }
    }
  }`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := opts.app(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			server, err := mcpadapter.NewServer(app.Engine, opts.logger(cmd))
			if err != nil {
				return err
			}
			return server.Serve(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}
