// Command notion-mcp serves the Notion API as MCP tools over Streamable HTTP or stdio.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var flags serveFlags

	root := &cobra.Command{
		Use:   "notion-mcp",
		Short: "MCP server for the Notion API",
		Long: `notion-mcp exposes the Notion API as Model Context Protocol tools.

Without a subcommand it runs serve. The Notion integration token is read from
NOTION_API_TOKEN.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, flags)
		},
	}
	addServeFlags(root, &flags)

	root.AddCommand(newServeCommand(), newProbeCommand())
	return root
}
