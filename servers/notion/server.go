// Package notion exposes the Notion API as MCP tools.
//
// Each tool performs exactly one Notion call and answers with Notion's payload, either
// re-indented as JSON or converted to Markdown when the server enables it and the caller
// asks for it with the "format" argument. Tool failures, including invalid arguments, are
// reported as tool results whose text is {"error": message}.
package notion

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/TangGee/notion-mcp"
	"github.com/TangGee/notion-mcp/servers/notion/notionapi"
)

// Client is the part of the Notion API the tools use. *notionapi.Client implements it.
type Client interface {
	AppendBlockChildren(ctx context.Context, blockID string, children json.RawMessage) (json.RawMessage, error)
	RetrieveBlock(ctx context.Context, blockID string) (json.RawMessage, error)
	RetrieveBlockChildren(ctx context.Context, blockID string, page notionapi.Pagination) (json.RawMessage, error)
	DeleteBlock(ctx context.Context, blockID string) (json.RawMessage, error)
	UpdateBlock(ctx context.Context, blockID string, block json.RawMessage) (json.RawMessage, error)
	RetrievePage(ctx context.Context, pageID string) (json.RawMessage, error)
	UpdatePageProperties(ctx context.Context, pageID string, properties json.RawMessage) (json.RawMessage, error)
	ListAllUsers(ctx context.Context, page notionapi.Pagination) (json.RawMessage, error)
	RetrieveUser(ctx context.Context, userID string) (json.RawMessage, error)
	RetrieveBotUser(ctx context.Context) (json.RawMessage, error)
	CreateDatabase(ctx context.Context, req notionapi.CreateDatabaseRequest) (json.RawMessage, error)
	QueryDatabase(ctx context.Context, databaseID string, req notionapi.QueryDatabaseRequest) (json.RawMessage, error)
	RetrieveDatabase(ctx context.Context, databaseID string) (json.RawMessage, error)
	UpdateDatabase(ctx context.Context, databaseID string, req notionapi.UpdateDatabaseRequest) (json.RawMessage, error)
	CreateDatabaseItem(ctx context.Context, databaseID string, properties json.RawMessage) (json.RawMessage, error)
	CreateComment(ctx context.Context, req notionapi.CreateCommentRequest) (json.RawMessage, error)
	RetrieveComments(ctx context.Context, blockID string, page notionapi.Pagination) (json.RawMessage, error)
	Search(ctx context.Context, req notionapi.SearchRequest) (json.RawMessage, error)
}

// Server implements mcp.ToolServer for the Notion tools.
type Server struct {
	dispatcher Dispatcher
	tools      []mcp.Tool

	enabledTools []string
	markdown     bool
	logger       *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

var _ mcp.ToolServer = Server{}

// ServerInfo identifies the Notion server during initialization.
var ServerInfo = mcp.Info{
	Name:    "Notion MCP Server",
	Version: "1.0.0",
}

// NewServer returns a Server calling Notion through client. All tools are enabled unless
// WithEnabledTools says otherwise.
func NewServer(client Client, options ...ServerOption) (Server, error) {
	s := Server{
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(&s)
	}

	registry, err := NewRegistry(Tools()...)
	if err != nil {
		return Server{}, err
	}

	enabled := registry.Filter(s.enabledTools)
	for _, name := range s.enabledTools {
		if _, ok := registry.Lookup(name); !ok {
			s.logger.Warn("ignoring unknown tool", slog.String("tool", name))
		}
	}

	s.dispatcher = NewDispatcher(enabled, client, s.markdown, s.logger)
	s.tools = enabled.Descriptors()
	return s, nil
}

// WithEnabledTools restricts the server to the named tools. An empty list enables all of them.
func WithEnabledTools(names []string) ServerOption {
	return func(s *Server) {
		s.enabledTools = names
	}
}

// WithMarkdown allows tools to answer in Markdown when asked to.
func WithMarkdown(enabled bool) ServerOption {
	return func(s *Server) {
		s.markdown = enabled
	}
}

// WithLogger sets the logger of the server.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger.With(slog.String("component", "notion"))
	}
}

// ListTools implements mcp.ToolServer interface.
func (s Server) ListTools(context.Context, mcp.ListToolsParams) (mcp.ListToolsResult, error) {
	return mcp.ListToolsResult{Tools: s.tools}, nil
}

// CallTool implements mcp.ToolServer interface. It never returns an error: failures of the
// tool are reported in the result.
func (s Server) CallTool(
	ctx context.Context,
	params mcp.CallToolParams,
	report mcp.ProgressReporter,
) (mcp.CallToolResult, error) {
	return s.dispatcher.Dispatch(ctx, params.Name, params.Arguments, report), nil
}
