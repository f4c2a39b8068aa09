package notion

import (
	"encoding/json"

	"github.com/TangGee/notion-mcp/servers/notion/notionapi"
	"github.com/tidwall/gjson"
)

// raw returns the argument verbatim, or nil when it is absent or null so that omitempty
// request fields stay out of the Notion request.
func raw(args gjson.Result, name string) json.RawMessage {
	value := args.Get(gjson.Escape(name))
	if !present(value) {
		return nil
	}
	return json.RawMessage(value.Raw)
}

func str(args gjson.Result, name string) string {
	return args.Get(gjson.Escape(name)).String()
}

func integer(args gjson.Result, name string) int {
	return int(args.Get(gjson.Escape(name)).Int())
}

func pagination(args gjson.Result) notionapi.Pagination {
	return notionapi.Pagination{
		StartCursor: str(args, "start_cursor"),
		PageSize:    integer(args, "page_size"),
	}
}

var (
	startCursorField = Field{
		Name:        "start_cursor",
		Kind:        KindString,
		Description: "Cursor returned as next_cursor by a previous call. Omit to start from the beginning.",
	}
	pageSizeField = Field{
		Name:        "page_size",
		Kind:        KindInteger,
		Description: "Number of results to return, at most 100.",
	}
)

func idField(name, what string) Field {
	return Field{
		Name:        name,
		Kind:        KindString,
		Required:    true,
		Description: "The ID of the " + what + ".",
		ID:          true,
	}
}
