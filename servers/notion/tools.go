package notion

import (
	"context"
	"encoding/json"

	"github.com/TangGee/notion-mcp/servers/notion/notionapi"
	"github.com/tidwall/gjson"
)

// Tool names.
const (
	ToolAppendBlockChildren   = "notion_append_block_children"
	ToolRetrieveBlock         = "notion_retrieve_block"
	ToolRetrieveBlockChildren = "notion_retrieve_block_children"
	ToolDeleteBlock           = "notion_delete_block"
	ToolUpdateBlock           = "notion_update_block"
	ToolRetrievePage          = "notion_retrieve_page"
	ToolUpdatePageProperties  = "notion_update_page_properties"
	ToolListAllUsers          = "notion_list_all_users"
	ToolRetrieveUser          = "notion_retrieve_user"
	ToolRetrieveBotUser       = "notion_retrieve_bot_user"
	ToolCreateDatabase        = "notion_create_database"
	ToolQueryDatabase         = "notion_query_database"
	ToolRetrieveDatabase      = "notion_retrieve_database"
	ToolUpdateDatabase        = "notion_update_database"
	ToolCreateDatabaseItem    = "notion_create_database_item"
	ToolCreateComment         = "notion_create_comment"
	ToolRetrieveComments      = "notion_retrieve_comments"
	ToolSearch                = "notion_search"
)

// Tools returns every Notion tool, in the order tools/list advertises them.
func Tools() []Tool {
	return []Tool{
		{
			Name: ToolAppendBlockChildren,
			Description: `Append new children blocks to a specified parent block in Notion.
Requires insert content capabilities. Blocks can be appended to a page or to any block that supports children.`,
			Shape: Shape{Fields: []Field{
				idField("block_id", "parent block or page"),
				{
					Name:        "children",
					Kind:        KindArray,
					Required:    true,
					Description: "Array of block objects to append. Each block must follow the Notion block schema.",
				},
			}},
			Handler: func(ctx context.Context, c Client, args gjson.Result) (json.RawMessage, error) {
				return c.AppendBlockChildren(ctx, str(args, "block_id"), raw(args, "children"))
			},
		},
		{
			Name:        ToolRetrieveBlock,
			Description: "Retrieve a block from Notion.",
			Shape:       Shape{Fields: []Field{idField("block_id", "block")}},
			Handler: func(ctx context.Context, c Client, args gjson.Result) (json.RawMessage, error) {
				return c.RetrieveBlock(ctx, str(args, "block_id"))
			},
		},
		{
			Name:        ToolRetrieveBlockChildren,
			Description: "Retrieve the children of a block. Results are paginated.",
			Shape: Shape{Fields: []Field{
				idField("block_id", "block"),
				startCursorField,
				pageSizeField,
			}},
			Handler: func(ctx context.Context, c Client, args gjson.Result) (json.RawMessage, error) {
				return c.RetrieveBlockChildren(ctx, str(args, "block_id"), pagination(args))
			},
		},
		{
			Name:        ToolDeleteBlock,
			Description: "Delete a block in Notion. The block is moved to the trash and can be restored from there.",
			Shape:       Shape{Fields: []Field{idField("block_id", "block to delete")}},
			Handler: func(ctx context.Context, c Client, args gjson.Result) (json.RawMessage, error) {
				return c.DeleteBlock(ctx, str(args, "block_id"))
			},
		},
		{
			Name: ToolUpdateBlock,
			Description: `Update the content of a block in Notion based on its type.
The update replaces the entire value for the given field.`,
			Shape: Shape{Fields: []Field{
				idField("block_id", "block to update"),
				{
					Name:        "block",
					Kind:        KindObject,
					Required:    true,
					Description: "The updated content keyed by the block type, for example {\"paragraph\": {\"rich_text\": [...]}}.",
				},
			}},
			Handler: func(ctx context.Context, c Client, args gjson.Result) (json.RawMessage, error) {
				return c.UpdateBlock(ctx, str(args, "block_id"), raw(args, "block"))
			},
		},
		{
			Name:        ToolRetrievePage,
			Description: "Retrieve a page and its properties from Notion.",
			Shape:       Shape{Fields: []Field{idField("page_id", "page")}},
			Handler: func(ctx context.Context, c Client, args gjson.Result) (json.RawMessage, error) {
				return c.RetrievePage(ctx, str(args, "page_id"))
			},
		},
		{
			Name:        ToolUpdatePageProperties,
			Description: "Update the property values of a page in Notion.",
			Shape: Shape{Fields: []Field{
				idField("page_id", "page or database item"),
				{
					Name:        "properties",
					Kind:        KindObject,
					Required:    true,
					Description: "Property values to update, keyed by property name or ID.",
				},
			}},
			Handler: func(ctx context.Context, c Client, args gjson.Result) (json.RawMessage, error) {
				return c.UpdatePageProperties(ctx, str(args, "page_id"), raw(args, "properties"))
			},
		},
		{
			Name:        ToolListAllUsers,
			Description: "List all users in the Notion workspace. Guests are not included. Results are paginated.",
			Shape:       Shape{Fields: []Field{startCursorField, pageSizeField}},
			Handler: func(ctx context.Context, c Client, args gjson.Result) (json.RawMessage, error) {
				return c.ListAllUsers(ctx, pagination(args))
			},
		},
		{
			Name:        ToolRetrieveUser,
			Description: "Retrieve a specific user by ID in Notion.",
			Shape:       Shape{Fields: []Field{idField("user_id", "user")}},
			Handler: func(ctx context.Context, c Client, args gjson.Result) (json.RawMessage, error) {
				return c.RetrieveUser(ctx, str(args, "user_id"))
			},
		},
		{
			Name:        ToolRetrieveBotUser,
			Description: "Retrieve the bot user associated with the current token in Notion.",
			Handler: func(ctx context.Context, c Client, _ gjson.Result) (json.RawMessage, error) {
				return c.RetrieveBotUser(ctx)
			},
		},
		{
			Name:        ToolCreateDatabase,
			Description: "Create a database in Notion as a subpage of an existing page.",
			Shape: Shape{Fields: []Field{
				{
					Name:        "parent",
					Kind:        KindObject,
					Required:    true,
					Description: "Parent of the database, for example {\"type\": \"page_id\", \"page_id\": \"...\"}.",
				},
				{
					Name:        "title",
					Kind:        KindArray,
					Description: "Title of the database as a rich text array.",
				},
				{
					Name:        "properties",
					Kind:        KindObject,
					Required:    true,
					Description: "Property schema of the database, keyed by property name.",
				},
			}},
			Handler: func(ctx context.Context, c Client, args gjson.Result) (json.RawMessage, error) {
				return c.CreateDatabase(ctx, notionapi.CreateDatabaseRequest{
					Parent:     raw(args, "parent"),
					Title:      raw(args, "title"),
					Properties: raw(args, "properties"),
				})
			},
		},
		{
			Name:        ToolQueryDatabase,
			Description: "Query the items of a database in Notion, optionally filtered and sorted. Results are paginated.",
			Shape: Shape{Fields: []Field{
				idField("database_id", "database to query"),
				{
					Name:        "filter",
					Kind:        KindObject,
					Description: "Filter conditions in the Notion filter format.",
				},
				{
					Name:        "sorts",
					Kind:        KindArray,
					Description: "Sort conditions applied in order.",
				},
				startCursorField,
				pageSizeField,
			}},
			Handler: func(ctx context.Context, c Client, args gjson.Result) (json.RawMessage, error) {
				page := pagination(args)
				return c.QueryDatabase(ctx, str(args, "database_id"), notionapi.QueryDatabaseRequest{
					Filter:      raw(args, "filter"),
					Sorts:       raw(args, "sorts"),
					StartCursor: page.StartCursor,
					PageSize:    page.PageSize,
				})
			},
		},
		{
			Name:        ToolRetrieveDatabase,
			Description: "Retrieve a database and its property schema from Notion.",
			Shape:       Shape{Fields: []Field{idField("database_id", "database")}},
			Handler: func(ctx context.Context, c Client, args gjson.Result) (json.RawMessage, error) {
				return c.RetrieveDatabase(ctx, str(args, "database_id"))
			},
		},
		{
			Name:        ToolUpdateDatabase,
			Description: "Update the title, description or property schema of a database in Notion.",
			Shape: Shape{Fields: []Field{
				idField("database_id", "database to update"),
				{
					Name:        "title",
					Kind:        KindArray,
					Description: "New title of the database as a rich text array.",
				},
				{
					Name:        "description",
					Kind:        KindArray,
					Description: "New description of the database as a rich text array.",
				},
				{
					Name:        "properties",
					Kind:        KindObject,
					Description: "Property schema changes. Set a property to null to remove it.",
				},
			}},
			Handler: func(ctx context.Context, c Client, args gjson.Result) (json.RawMessage, error) {
				return c.UpdateDatabase(ctx, str(args, "database_id"), notionapi.UpdateDatabaseRequest{
					Title:       raw(args, "title"),
					Description: raw(args, "description"),
					Properties:  raw(args, "properties"),
				})
			},
		},
		{
			Name:        ToolCreateDatabaseItem,
			Description: "Create a new item (page) in a Notion database.",
			Shape: Shape{Fields: []Field{
				idField("database_id", "database to add the item to"),
				{
					Name:        "properties",
					Kind:        KindObject,
					Required:    true,
					Description: "Property values of the new item. They must match the database schema.",
				},
			}},
			Handler: func(ctx context.Context, c Client, args gjson.Result) (json.RawMessage, error) {
				return c.CreateDatabaseItem(ctx, str(args, "database_id"), raw(args, "properties"))
			},
		},
		{
			Name: ToolCreateComment,
			Description: `Create a comment in Notion. Either start a new discussion on a page with parent.page_id,
or reply to an existing discussion with discussion_id.`,
			Shape: Shape{
				Fields: []Field{
					{
						Name:        "parent",
						Kind:        KindObject,
						Description: "Page to comment on, for example {\"page_id\": \"...\"}.",
					},
					{
						Name:        "discussion_id",
						Kind:        KindString,
						Description: "The ID of an existing discussion thread to reply to.",
					},
					{
						Name:        "rich_text",
						Kind:        KindArray,
						Required:    true,
						Description: "Content of the comment as a rich text array.",
					},
				},
				OneOf: []OneOf{{
					Fields:  []string{"parent", "discussion_id"},
					Message: "Either parent.page_id or discussion_id must be provided",
				}},
			},
			Handler: func(ctx context.Context, c Client, args gjson.Result) (json.RawMessage, error) {
				return c.CreateComment(ctx, notionapi.CreateCommentRequest{
					Parent:       raw(args, "parent"),
					DiscussionID: str(args, "discussion_id"),
					RichText:     raw(args, "rich_text"),
				})
			},
		},
		{
			Name:        ToolRetrieveComments,
			Description: "Retrieve the unresolved comments of a page or block in Notion. Results are paginated.",
			Shape: Shape{Fields: []Field{
				idField("block_id", "page or block"),
				startCursorField,
				pageSizeField,
			}},
			Handler: func(ctx context.Context, c Client, args gjson.Result) (json.RawMessage, error) {
				return c.RetrieveComments(ctx, str(args, "block_id"), pagination(args))
			},
		},
		{
			Name:        ToolSearch,
			Description: "Search pages and databases shared with the integration by title.",
			Shape: Shape{Fields: []Field{
				{
					Name:        "query",
					Kind:        KindString,
					Description: "Text to search for in page and database titles.",
				},
				{
					Name:        "filter",
					Kind:        KindObject,
					Description: "Limit results to one object type, for example {\"property\": \"object\", \"value\": \"page\"}.",
				},
				{
					Name:        "sort",
					Kind:        KindObject,
					Description: "Sort order, for example {\"direction\": \"descending\", \"timestamp\": \"last_edited_time\"}.",
				},
				startCursorField,
				pageSizeField,
			}},
			Handler: func(ctx context.Context, c Client, args gjson.Result) (json.RawMessage, error) {
				page := pagination(args)
				return c.Search(ctx, notionapi.SearchRequest{
					Query:       str(args, "query"),
					Filter:      raw(args, "filter"),
					Sort:        raw(args, "sort"),
					StartCursor: page.StartCursor,
					PageSize:    page.PageSize,
				})
			},
		},
	}
}
