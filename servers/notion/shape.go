package notion

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/tidwall/gjson"
)

// Kind is the JSON type a tool argument must have.
type Kind string

// Argument kinds.
const (
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindInteger Kind = "integer"
	KindBoolean Kind = "boolean"
	KindObject  Kind = "object"
	KindArray   Kind = "array"
)

// Field describes one named argument of a tool.
type Field struct {
	Name        string
	Kind        Kind
	Required    bool
	Description string
	// ID marks a string that becomes one segment of a Notion API path.
	ID bool
}

// OneOf requires at least one of Fields to be present. Message is the tool fault reported
// when none is.
type OneOf struct {
	Fields  []string
	Message string
}

// Shape is the ordered set of arguments a tool accepts. Validation is shallow: only the
// presence and the top-level JSON type of each field are checked, Notion validates the rest.
type Shape struct {
	Fields []Field
	OneOf  []OneOf
}

// ArgumentError reports arguments that don't match a tool's Shape.
type ArgumentError struct {
	Field   string
	Message string
}

// FormatArgument selects the output format of every tool. It is accepted by all tools
// without being part of their Shape.
const FormatArgument = "format"

// Output formats.
const (
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
)

type schemaProperty struct {
	Type        Kind     `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	Default     string   `json:"default,omitempty"`
}

type inputSchema struct {
	Type       string                    `json:"type"`
	Properties map[string]schemaProperty `json:"properties"`
	Required   []string                  `json:"required,omitempty"`
}

func (e *ArgumentError) Error() string {
	return e.Message
}

// Validate checks args against the shape. Absent and null fields are treated alike.
func (s Shape) Validate(args gjson.Result) error {
	if !args.IsObject() {
		return &ArgumentError{Message: "Invalid arguments: expected an object"}
	}

	for _, field := range s.Fields {
		value := args.Get(gjson.Escape(field.Name))
		if !present(value) {
			if field.Required {
				return &ArgumentError{
					Field:   field.Name,
					Message: "Missing required argument: " + field.Name,
				}
			}
			continue
		}
		if !field.Kind.matches(value) {
			return &ArgumentError{
				Field:   field.Name,
				Message: fmt.Sprintf("Invalid argument: %s must be %s", field.Name, field.Kind.article()),
			}
		}
		if field.ID && !validID(value.String()) {
			return &ArgumentError{
				Field:   field.Name,
				Message: fmt.Sprintf("Invalid argument: %s must be a Notion ID", field.Name),
			}
		}
	}

	for _, group := range s.OneOf {
		found := false
		for _, name := range group.Fields {
			if present(args.Get(gjson.Escape(name))) {
				found = true
				break
			}
		}
		if !found {
			return &ArgumentError{Message: group.Message}
		}
	}

	return nil
}

// Schema renders the shape as the JSON Schema advertised by tools/list.
func (s Shape) Schema() json.RawMessage {
	schema := inputSchema{
		Type:       "object",
		Properties: make(map[string]schemaProperty, len(s.Fields)+1),
	}
	for _, field := range s.Fields {
		schema.Properties[field.Name] = schemaProperty{
			Type:        field.Kind,
			Description: field.Description,
		}
		if field.Required {
			schema.Required = append(schema.Required, field.Name)
		}
	}
	schema.Properties[FormatArgument] = schemaProperty{
		Type:        KindString,
		Description: "Output format of the result. Markdown is only produced when the server enables it.",
		Enum:        []string{FormatJSON, FormatMarkdown},
		Default:     FormatMarkdown,
	}

	bs, err := json.Marshal(schema)
	if err != nil {
		// Every value above is a plain string or slice of strings.
		panic(fmt.Sprintf("marshal input schema: %v", err))
	}
	return bs
}

func (k Kind) matches(value gjson.Result) bool {
	switch k {
	case KindString:
		return value.Type == gjson.String
	case KindNumber:
		return value.Type == gjson.Number
	case KindInteger:
		return value.Type == gjson.Number && value.Num == math.Trunc(value.Num)
	case KindBoolean:
		return value.Type == gjson.True || value.Type == gjson.False
	case KindObject:
		return value.IsObject()
	case KindArray:
		return value.IsArray()
	default:
		return false
	}
}

func (k Kind) article() string {
	switch k {
	case KindInteger, KindObject, KindArray:
		return "an " + string(k)
	default:
		return "a " + string(k)
	}
}

func present(value gjson.Result) bool {
	return value.Exists() && value.Type != gjson.Null
}

// validID rejects values that would change the API path they are placed in.
func validID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.Contains(id, "/")
}
