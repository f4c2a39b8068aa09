package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/TangGee/notion-mcp"
	"github.com/TangGee/notion-mcp/config"
	"github.com/TangGee/notion-mcp/servers/notion"
	"github.com/TangGee/notion-mcp/servers/notion/notionapi"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	pingInterval      = 30 * time.Second
)

type serveFlags struct {
	configPath   string
	port         int
	enabledTools string
	transport    string
	logLevel     string
	logFormat    string
}

func newServeCommand() *cobra.Command {
	var flags serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the Notion tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, flags)
		},
	}
	addServeFlags(cmd, &flags)
	return cmd
}

func addServeFlags(cmd *cobra.Command, flags *serveFlags) {
	fs := cmd.Flags()
	fs.StringVar(&flags.configPath, "config", "", "Path to a YAML configuration file")
	fs.IntVar(&flags.port, "port", config.DefaultPort, "Port to listen on for HTTP requests")
	fs.StringVar(&flags.enabledTools, "enabledTools", "", "Comma-separated list of tools to enable")
	fs.StringVar(&flags.transport, "transport", config.TransportHTTP, "Transport to serve on: http or stdio")
	fs.StringVar(&flags.logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	fs.StringVar(&flags.logFormat, "log-format", config.LogFormatText, "Log format: text or json")
}

// loadConfig reads the configuration file and the environment, then applies the flags the
// user set explicitly.
func loadConfig(cmd *cobra.Command, flags serveFlags) (config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return config.Config{}, err
	}

	fs := cmd.Flags()
	if fs.Changed("port") {
		cfg.Server.Port = flags.port
	}
	if fs.Changed("enabledTools") {
		cfg.Server.EnabledTools = config.ParseToolList(flags.enabledTools)
	}
	if fs.Changed("transport") {
		cfg.Server.Transport = flags.transport
	}
	if fs.Changed("log-level") {
		cfg.Logging.Level = flags.logLevel
	}
	if fs.Changed("log-format") {
		cfg.Logging.Format = flags.logFormat
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, flags serveFlags) error {
	cfg, err := loadConfig(cmd, flags)
	if err != nil {
		return err
	}

	// Stdout carries the protocol in stdio mode, so logs always go to stderr.
	logger, err := cfg.Logging.NewLogger(os.Stderr)
	if err != nil {
		return err
	}

	// notionapi treats zero as "use the default", while a configured zero means no retries.
	maxRetries := cfg.Notion.MaxRetries
	if maxRetries == 0 {
		maxRetries = -1
	}

	client, err := notionapi.New(notionapi.Config{
		Token:             cfg.Notion.Token,
		BaseURL:           cfg.Notion.BaseURL,
		MaxRetries:        maxRetries,
		RequestsPerSecond: cfg.Notion.RequestsPerSecond,
		Logger:            logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create notion client: %w", err)
	}

	tools, err := notion.NewServer(client,
		notion.WithEnabledTools(cfg.Server.EnabledTools),
		notion.WithMarkdown(cfg.Notion.MarkdownConversion),
		notion.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("failed to create notion tool server: %w", err)
	}

	options := []mcp.ServerOption{
		mcp.WithToolServer(tools),
		mcp.WithServerLogger(logger),
		mcp.WithServerPingInterval(pingInterval),
		mcp.WithServerOnClientConnected(func(sessionID string, info mcp.Info) {
			logger.Info("client connected",
				slog.String("sessionID", sessionID),
				slog.String("client", info.Name),
				slog.String("clientVersion", info.Version))
		}),
		mcp.WithServerOnClientDisconnected(func(sessionID string) {
			logger.Info("client disconnected", slog.String("sessionID", sessionID))
		}),
	}

	if cfg.Server.Transport == config.TransportStdio {
		return serveStdio(cmd.Context(), logger, options)
	}
	return serveHTTP(cmd.Context(), cfg.Server.Port, logger, options)
}

func serveHTTP(ctx context.Context, port int, logger *slog.Logger, options []mcp.ServerOption) error {
	transport := mcp.NewStreamableHTTPServer(mcp.WithStreamableHTTPServerLogger(logger))
	srv := mcp.NewServer(notion.ServerInfo, transport, options...)

	mux := http.NewServeMux()
	mux.Handle("/mcp", transport)

	httpSrv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(port)),
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		srv.Serve()
		return nil
	})

	g.Go(func() error {
		logger.Info("notion MCP server listening", slog.String("addr", httpSrv.Addr), slog.String("path", "/mcp"))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", slog.Int("sessions", transport.SessionCount()))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Closing the sessions first ends the GET streams the HTTP server would wait for.
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown MCP server: %w", err)
		}
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown HTTP server: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func serveStdio(ctx context.Context, logger *slog.Logger, options []mcp.ServerOption) error {
	transport := mcp.NewStdIO(os.Stdin, os.Stdout, mcp.WithStdIOLogger(logger))
	srv := mcp.NewServer(notion.ServerInfo, transport, options...)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		srv.Serve()
		return nil
	})

	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-transport.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown MCP server: %w", err)
		}
		return nil
	})

	logger.Info("notion MCP server running on stdio")
	return g.Wait()
}
