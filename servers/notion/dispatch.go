package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/TangGee/notion-mcp"
	"github.com/TangGee/notion-mcp/servers/notion/markdown"
	"github.com/tidwall/gjson"
)

// Dispatcher runs tool calls against a Registry. It never returns protocol errors: every
// failure becomes a tool result carrying {"error": message}.
type Dispatcher struct {
	registry *Registry
	client   Client
	markdown bool
	logger   *slog.Logger
}

// NewDispatcher returns a Dispatcher calling Notion through client. Markdown output is only
// produced when markdown is true.
func NewDispatcher(registry *Registry, client Client, markdown bool, logger *slog.Logger) Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return Dispatcher{
		registry: registry,
		client:   client,
		markdown: markdown,
		logger:   logger.With(slog.String("component", "dispatcher")),
	}
}

// Dispatch validates rawArgs against the named tool, performs its Notion call and renders
// the payload. report may be nil.
func (d Dispatcher) Dispatch(
	ctx context.Context,
	name string,
	rawArgs json.RawMessage,
	report mcp.ProgressReporter,
) (result mcp.CallToolResult) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("tool handler panicked", slog.String("tool", name), slog.Any("panic", r))
			result = errorResult(fmt.Sprintf("internal error: %v", r))
		}
	}()

	tool, ok := d.registry.Lookup(name)
	if !ok {
		return errorResult("Unknown tool: " + name)
	}

	if len(bytes.TrimSpace(rawArgs)) == 0 || bytes.Equal(bytes.TrimSpace(rawArgs), []byte("null")) {
		rawArgs = json.RawMessage("{}")
	}
	if !gjson.ValidBytes(rawArgs) {
		return errorResult("Invalid arguments: expected an object")
	}
	args := gjson.ParseBytes(rawArgs)
	if err := tool.Shape.Validate(args); err != nil {
		return errorResult(err.Error())
	}

	if report == nil {
		report = func(mcp.ProgressParams) {}
	}

	report(mcp.ProgressParams{Progress: 0, Total: 1})
	payload, err := tool.Handler(ctx, d.client, args)
	report(mcp.ProgressParams{Progress: 1, Total: 1})
	if err != nil {
		d.logger.Debug("tool call failed", slog.String("tool", name), slog.String("err", err.Error()))
		return errorResult(err.Error())
	}

	return d.render(name, payload, d.wantsMarkdown(args))
}

func (d Dispatcher) wantsMarkdown(args gjson.Result) bool {
	if !d.markdown {
		return false
	}
	format := args.Get(FormatArgument)
	if !format.Exists() {
		return true
	}
	return format.String() == FormatMarkdown
}

func (d Dispatcher) render(name string, payload json.RawMessage, asMarkdown bool) mcp.CallToolResult {
	if asMarkdown {
		text, err := markdown.Convert(payload)
		if err == nil {
			return textResult(text)
		}
		d.logger.Warn("markdown conversion failed, answering with JSON",
			slog.String("tool", name), slog.String("err", err.Error()))
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, payload, "", "  "); err != nil {
		return errorResult(fmt.Sprintf("invalid response from Notion: %v", err))
	}
	return textResult(buf.String())
}

func textResult(text string) mcp.CallToolResult {
	return mcp.CallToolResult{
		Content: []mcp.Content{
			{
				Type: mcp.ContentTypeText,
				Text: text,
			},
		},
	}
}

func errorResult(message string) mcp.CallToolResult {
	bs, err := json.Marshal(struct {
		Error string `json:"error"`
	}{message})
	if err != nil {
		bs = []byte(`{"error":"unknown error"}`)
	}
	result := textResult(string(bs))
	result.IsError = true
	return result
}
