package notion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/TangGee/notion-mcp"
	"github.com/tidwall/gjson"
)

// Handler performs the single Notion call behind a tool and returns Notion's payload.
// args has already been validated against the tool's Shape.
type Handler func(ctx context.Context, client Client, args gjson.Result) (json.RawMessage, error)

// Tool is a named operation exposed over MCP.
type Tool struct {
	Name        string
	Description string
	Shape       Shape
	Handler     Handler
}

// Registry is an ordered, immutable set of tools with unique names.
type Registry struct {
	tools []Tool
	index map[string]int
}

// NewRegistry returns a registry of tools in the given order. It fails on duplicate or
// empty names and on tools without a handler.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{
		tools: make([]Tool, 0, len(tools)),
		index: make(map[string]int, len(tools)),
	}
	for _, tool := range tools {
		if tool.Name == "" {
			return nil, errors.New("tool without a name")
		}
		if tool.Handler == nil {
			return nil, fmt.Errorf("tool %s has no handler", tool.Name)
		}
		if _, ok := r.index[tool.Name]; ok {
			return nil, fmt.Errorf("duplicate tool name: %s", tool.Name)
		}
		r.index[tool.Name] = len(r.tools)
		r.tools = append(r.tools, tool)
	}
	return r, nil
}

// List returns the tools in registry order.
func (r *Registry) List() []Tool {
	tools := make([]Tool, len(r.tools))
	copy(tools, r.tools)
	return tools
}

// Lookup returns the tool with the given name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	i, ok := r.index[name]
	if !ok {
		return Tool{}, false
	}
	return r.tools[i], true
}

// Filter returns the tools whose names are in names, in registry order. An empty names
// returns the registry itself. Unknown names are ignored.
func (r *Registry) Filter(names []string) *Registry {
	if len(names) == 0 {
		return r
	}

	wanted := make(map[string]struct{}, len(names))
	for _, name := range names {
		wanted[name] = struct{}{}
	}

	filtered := &Registry{index: make(map[string]int, len(wanted))}
	for _, tool := range r.tools {
		if _, ok := wanted[tool.Name]; !ok {
			continue
		}
		filtered.index[tool.Name] = len(filtered.tools)
		filtered.tools = append(filtered.tools, tool)
	}
	return filtered
}

// Descriptors returns the tools as advertised by tools/list.
func (r *Registry) Descriptors() []mcp.Tool {
	descriptors := make([]mcp.Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		descriptors = append(descriptors, mcp.Tool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.Shape.Schema(),
		})
	}
	return descriptors
}
