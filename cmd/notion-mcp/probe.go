package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/TangGee/notion-mcp"
)

type probeFlags struct {
	url     string
	call    string
	args    string
	stream  bool
	timeout time.Duration
}

func newProbeCommand() *cobra.Command {
	var flags probeFlags

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check a running notion-mcp server",
		Long: `probe opens a session on a running server, lists its tools and terminates
the session again. With --call it also invokes one tool and prints its result.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), flags.timeout)
			defer cancel()
			return runProbe(ctx, cmd.OutOrStdout(), flags)
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&flags.url, "url", "http://localhost:3002/mcp", "Endpoint of the server")
	fs.StringVar(&flags.call, "call", "", "Name of a tool to call")
	fs.StringVar(&flags.args, "args", "{}", "JSON arguments of the tool call")
	fs.BoolVar(&flags.stream, "stream", false, "Ask for event-stream responses and print progress")
	fs.DurationVar(&flags.timeout, "timeout", 30*time.Second, "Time limit of the whole probe")
	return cmd
}

func runProbe(ctx context.Context, out io.Writer, flags probeFlags) (err error) {
	if flags.call != "" && !json.Valid([]byte(flags.args)) {
		return errors.New("--args must be valid JSON")
	}

	options := []mcp.ClientOption{
		mcp.WithClientLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	if flags.stream {
		options = append(options,
			mcp.WithClientEventStream(),
			mcp.WithProgressListener(func(p mcp.ProgressParams) {
				fmt.Fprintf(out, "progress %s: %g/%g\n", p.ProgressToken, p.Progress, p.Total)
			}),
		)
	}

	client := mcp.NewClient(flags.url, mcp.Info{Name: "notion-mcp-probe", Version: "1.0.0"}, options...)
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		if closeErr := client.Close(context.WithoutCancel(ctx)); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to terminate session: %w", closeErr)
		}
	}()

	info := client.ServerInfo()
	fmt.Fprintf(out, "server: %s %s (protocol %s)\n", info.Name, info.Version, client.ProtocolVersion())
	fmt.Fprintf(out, "session: %s\n", client.SessionID())

	tools, err := client.ListTools(ctx, mcp.ListToolsParams{})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "tools (%d):\n", len(tools.Tools))
	for _, tool := range tools.Tools {
		fmt.Fprintf(out, "  %s\n", tool.Name)
	}

	if flags.call == "" {
		return nil
	}

	params := mcp.CallToolParams{
		Name:      flags.call,
		Arguments: json.RawMessage(flags.args),
	}
	if flags.stream {
		params.Meta.ProgressToken = mcp.NewRequestID("probe")
	}

	result, err := client.CallTool(ctx, params)
	if err != nil {
		return err
	}
	for _, content := range result.Content {
		fmt.Fprintln(out, content.Text)
	}
	if result.IsError {
		return fmt.Errorf("tool %s failed", flags.call)
	}
	return nil
}
