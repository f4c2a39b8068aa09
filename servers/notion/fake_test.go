package notion_test

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/TangGee/notion-mcp/servers/notion/notionapi"
)

type call struct {
	method string
	args   []any
}

// fakeClient records every Notion call and answers with a canned payload.
type fakeClient struct {
	mu       sync.Mutex
	calls    []call
	payloads map[string]json.RawMessage
	err      error
	panicMsg string
}

func newFakeClient() *fakeClient {
	return &fakeClient{payloads: make(map[string]json.RawMessage)}
}

func (f *fakeClient) record(method string, args ...any) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, call{method: method, args: args})
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.err != nil {
		return nil, f.err
	}
	if payload, ok := f.payloads[method]; ok {
		return payload, nil
	}
	return json.RawMessage(`{"object":"page","id":"pg-1","properties":{}}`), nil
}

func (f *fakeClient) recorded() []call {
	f.mu.Lock()
	defer f.mu.Unlock()

	calls := make([]call, len(f.calls))
	copy(calls, f.calls)
	return calls
}

func (f *fakeClient) AppendBlockChildren(_ context.Context, blockID string, children json.RawMessage) (json.RawMessage, error) {
	return f.record("AppendBlockChildren", blockID, string(children))
}

func (f *fakeClient) RetrieveBlock(_ context.Context, blockID string) (json.RawMessage, error) {
	return f.record("RetrieveBlock", blockID)
}

func (f *fakeClient) RetrieveBlockChildren(_ context.Context, blockID string, page notionapi.Pagination) (json.RawMessage, error) {
	return f.record("RetrieveBlockChildren", blockID, page)
}

func (f *fakeClient) DeleteBlock(_ context.Context, blockID string) (json.RawMessage, error) {
	return f.record("DeleteBlock", blockID)
}

func (f *fakeClient) UpdateBlock(_ context.Context, blockID string, block json.RawMessage) (json.RawMessage, error) {
	return f.record("UpdateBlock", blockID, string(block))
}

func (f *fakeClient) RetrievePage(_ context.Context, pageID string) (json.RawMessage, error) {
	return f.record("RetrievePage", pageID)
}

func (f *fakeClient) UpdatePageProperties(_ context.Context, pageID string, properties json.RawMessage) (json.RawMessage, error) {
	return f.record("UpdatePageProperties", pageID, string(properties))
}

func (f *fakeClient) ListAllUsers(_ context.Context, page notionapi.Pagination) (json.RawMessage, error) {
	return f.record("ListAllUsers", page)
}

func (f *fakeClient) RetrieveUser(_ context.Context, userID string) (json.RawMessage, error) {
	return f.record("RetrieveUser", userID)
}

func (f *fakeClient) RetrieveBotUser(context.Context) (json.RawMessage, error) {
	return f.record("RetrieveBotUser")
}

func (f *fakeClient) CreateDatabase(_ context.Context, req notionapi.CreateDatabaseRequest) (json.RawMessage, error) {
	return f.record("CreateDatabase", string(req.Parent), string(req.Title), string(req.Properties))
}

func (f *fakeClient) QueryDatabase(_ context.Context, databaseID string, req notionapi.QueryDatabaseRequest) (json.RawMessage, error) {
	return f.record("QueryDatabase", databaseID, string(req.Filter), string(req.Sorts), req.StartCursor, req.PageSize)
}

func (f *fakeClient) RetrieveDatabase(_ context.Context, databaseID string) (json.RawMessage, error) {
	return f.record("RetrieveDatabase", databaseID)
}

func (f *fakeClient) UpdateDatabase(_ context.Context, databaseID string, req notionapi.UpdateDatabaseRequest) (json.RawMessage, error) {
	return f.record("UpdateDatabase", databaseID, string(req.Title), string(req.Description), string(req.Properties))
}

func (f *fakeClient) CreateDatabaseItem(_ context.Context, databaseID string, properties json.RawMessage) (json.RawMessage, error) {
	return f.record("CreateDatabaseItem", databaseID, string(properties))
}

func (f *fakeClient) CreateComment(_ context.Context, req notionapi.CreateCommentRequest) (json.RawMessage, error) {
	return f.record("CreateComment", string(req.Parent), req.DiscussionID, string(req.RichText))
}

func (f *fakeClient) RetrieveComments(_ context.Context, blockID string, page notionapi.Pagination) (json.RawMessage, error) {
	return f.record("RetrieveComments", blockID, page)
}

func (f *fakeClient) Search(_ context.Context, req notionapi.SearchRequest) (json.RawMessage, error) {
	return f.record("Search", req.Query, string(req.Filter), string(req.Sort), req.StartCursor, req.PageSize)
}
