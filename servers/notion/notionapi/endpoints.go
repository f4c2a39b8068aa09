package notionapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
)

// Pagination selects a page of a paginated list endpoint. Zero values are omitted, so
// Notion applies its defaults.
type Pagination struct {
	StartCursor string `json:"start_cursor,omitempty"`
	PageSize    int    `json:"page_size,omitempty"`
}

// CreateDatabaseRequest is the body of POST /databases.
type CreateDatabaseRequest struct {
	Parent     json.RawMessage `json:"parent"`
	Title      json.RawMessage `json:"title,omitempty"`
	Properties json.RawMessage `json:"properties"`
}

// QueryDatabaseRequest is the body of POST /databases/{id}/query.
type QueryDatabaseRequest struct {
	Filter      json.RawMessage `json:"filter,omitempty"`
	Sorts       json.RawMessage `json:"sorts,omitempty"`
	StartCursor string          `json:"start_cursor,omitempty"`
	PageSize    int             `json:"page_size,omitempty"`
}

// UpdateDatabaseRequest is the body of PATCH /databases/{id}.
type UpdateDatabaseRequest struct {
	Title       json.RawMessage `json:"title,omitempty"`
	Description json.RawMessage `json:"description,omitempty"`
	Properties  json.RawMessage `json:"properties,omitempty"`
}

// CreateCommentRequest is the body of POST /comments. Exactly one of Parent and
// DiscussionID is expected.
type CreateCommentRequest struct {
	Parent       json.RawMessage `json:"parent,omitempty"`
	DiscussionID string          `json:"discussion_id,omitempty"`
	RichText     json.RawMessage `json:"rich_text"`
}

// SearchRequest is the body of POST /search.
type SearchRequest struct {
	Query       string          `json:"query,omitempty"`
	Filter      json.RawMessage `json:"filter,omitempty"`
	Sort        json.RawMessage `json:"sort,omitempty"`
	StartCursor string          `json:"start_cursor,omitempty"`
	PageSize    int             `json:"page_size,omitempty"`
}

// AppendBlockChildren appends children to a block or page.
func (c *Client) AppendBlockChildren(ctx context.Context, blockID string, children json.RawMessage) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPatch, "/blocks/"+url.PathEscape(blockID)+"/children", nil, struct {
		Children json.RawMessage `json:"children"`
	}{children})
}

// RetrieveBlock retrieves a block.
func (c *Client) RetrieveBlock(ctx context.Context, blockID string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/blocks/"+url.PathEscape(blockID), nil, nil)
}

// RetrieveBlockChildren lists the children of a block.
func (c *Client) RetrieveBlockChildren(ctx context.Context, blockID string, page Pagination) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/blocks/"+url.PathEscape(blockID)+"/children", page.query(), nil)
}

// DeleteBlock archives a block.
func (c *Client) DeleteBlock(ctx context.Context, blockID string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodDelete, "/blocks/"+url.PathEscape(blockID), nil, nil)
}

// UpdateBlock updates the content of a block. The block object is sent as the request
// body, keyed by its type.
func (c *Client) UpdateBlock(ctx context.Context, blockID string, block json.RawMessage) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPatch, "/blocks/"+url.PathEscape(blockID), nil, block)
}

// RetrievePage retrieves a page.
func (c *Client) RetrievePage(ctx context.Context, pageID string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/pages/"+url.PathEscape(pageID), nil, nil)
}

// UpdatePageProperties updates the properties of a page.
func (c *Client) UpdatePageProperties(ctx context.Context, pageID string, properties json.RawMessage) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPatch, "/pages/"+url.PathEscape(pageID), nil, struct {
		Properties json.RawMessage `json:"properties"`
	}{properties})
}

// ListAllUsers lists the users of the workspace.
func (c *Client) ListAllUsers(ctx context.Context, page Pagination) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/users", page.query(), nil)
}

// RetrieveUser retrieves a user.
func (c *Client) RetrieveUser(ctx context.Context, userID string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(userID), nil, nil)
}

// RetrieveBotUser retrieves the bot user of the integration token.
func (c *Client) RetrieveBotUser(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/users/me", nil, nil)
}

// CreateDatabase creates a database as a child of a page.
func (c *Client) CreateDatabase(ctx context.Context, req CreateDatabaseRequest) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/databases", nil, req)
}

// QueryDatabase queries the items of a database.
func (c *Client) QueryDatabase(ctx context.Context, databaseID string, req QueryDatabaseRequest) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/databases/"+url.PathEscape(databaseID)+"/query", nil, req)
}

// RetrieveDatabase retrieves a database.
func (c *Client) RetrieveDatabase(ctx context.Context, databaseID string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/databases/"+url.PathEscape(databaseID), nil, nil)
}

// UpdateDatabase updates the title, description or properties of a database.
func (c *Client) UpdateDatabase(ctx context.Context, databaseID string, req UpdateDatabaseRequest) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPatch, "/databases/"+url.PathEscape(databaseID), nil, req)
}

// CreateDatabaseItem creates a page inside a database.
func (c *Client) CreateDatabaseItem(ctx context.Context, databaseID string, properties json.RawMessage) (json.RawMessage, error) {
	type parent struct {
		DatabaseID string `json:"database_id"`
	}
	return c.do(ctx, http.MethodPost, "/pages", nil, struct {
		Parent     parent          `json:"parent"`
		Properties json.RawMessage `json:"properties"`
	}{parent{databaseID}, properties})
}

// CreateComment adds a comment to a page or to an existing discussion.
func (c *Client) CreateComment(ctx context.Context, req CreateCommentRequest) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/comments", nil, req)
}

// RetrieveComments lists the unresolved comments of a block or page.
func (c *Client) RetrieveComments(ctx context.Context, blockID string, page Pagination) (json.RawMessage, error) {
	query := page.query()
	query.Set("block_id", blockID)
	return c.do(ctx, http.MethodGet, "/comments", query, nil)
}

// Search searches pages and databases shared with the integration.
func (c *Client) Search(ctx context.Context, req SearchRequest) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/search", nil, req)
}

func (p Pagination) query() url.Values {
	query := url.Values{}
	if p.StartCursor != "" {
		query.Set("start_cursor", p.StartCursor)
	}
	if p.PageSize > 0 {
		query.Set("page_size", strconv.Itoa(p.PageSize))
	}
	return query
}
