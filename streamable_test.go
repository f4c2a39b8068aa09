package mcp_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/TangGee/notion-mcp"
)

type transportErrorBody struct {
	JSONRPC string           `json:"jsonrpc"`
	Error   mcp.JSONRPCError `json:"error"`
	ID      json.RawMessage  `json:"id"`
}

const initializeBody = `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","capabilities":{},"clientInfo":{"name":"test-client","version":"1.0"}}}`

func setupStreamable(t *testing.T, tools mcp.ToolServer, options ...mcp.ServerOption) (mcp.StreamableHTTPServer, *httptest.Server) {
	t.Helper()

	transport := mcp.NewStreamableHTTPServer()
	options = append([]mcp.ServerOption{
		mcp.WithToolServer(tools),
		mcp.WithServerPingInterval(-1),
	}, options...)
	srv := mcp.NewServer(testServerInfo, transport, options...)
	go srv.Serve()

	httpSrv := httptest.NewServer(transport)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			t.Errorf("failed to shutdown server: %v", err)
		}
		httpSrv.Close()
	})

	return transport, httpSrv
}

func connectClient(t *testing.T, url string, options ...mcp.ClientOption) *mcp.Client {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cli := mcp.NewClient(url, mcp.Info{Name: "test-client", Version: "1.0"}, options...)
	if err := cli.Connect(ctx); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	return cli
}

func post(t *testing.T, url, sessionID, body string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if sessionID != "" {
		req.Header.Set(mcp.SessionIDHeader, sessionID)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("failed to send request: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeTransportError(t *testing.T, resp *http.Response) transportErrorBody {
	t.Helper()

	var body transportErrorBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	if body.JSONRPC != mcp.JSONRPCVersion {
		t.Errorf("got jsonrpc %q, want %q", body.JSONRPC, mcp.JSONRPCVersion)
	}
	return body
}

func TestStreamableInitializeAssignsFreshSessionIDs(t *testing.T) {
	transport, httpSrv := setupStreamable(t, &mockToolServer{})

	seen := make(map[string]bool)
	for range 3 {
		resp := post(t, httpSrv.URL, "", initializeBody)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("got status %d, want %d", resp.StatusCode, http.StatusOK)
		}

		id := resp.Header.Get(mcp.SessionIDHeader)
		if id == "" {
			t.Fatal("initialize response has no session id")
		}
		if seen[id] {
			t.Fatalf("session id %s was issued twice", id)
		}
		seen[id] = true

		var res map[string]json.RawMessage
		if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if string(res["id"]) != "1" {
			t.Errorf("got id %s, want 1", res["id"])
		}
	}

	if got := transport.SessionCount(); got != 3 {
		t.Errorf("got %d sessions, want 3", got)
	}
}

func TestStreamablePostWithoutSessionMustInitialize(t *testing.T) {
	transport, httpSrv := setupStreamable(t, &mockToolServer{})

	tests := []struct {
		name   string
		body   string
		wantID string
	}{
		{name: "tools/list", body: `{"jsonrpc":"2.0","id":7,"method":"tools/list"}`, wantID: "7"},
		{name: "notification", body: `{"jsonrpc":"2.0","method":"notifications/initialized"}`, wantID: "null"},
		{name: "garbage", body: `{not json`, wantID: "null"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, httpSrv.URL, "", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("got status %d, want %d", resp.StatusCode, http.StatusBadRequest)
			}
			body := decodeTransportError(t, resp)
			if body.Error.Code != mcp.JSONRPCBadRequestCode {
				t.Errorf("got code %d, want %d", body.Error.Code, mcp.JSONRPCBadRequestCode)
			}
			if body.Error.Message != "Bad Request: No valid session ID provided or not an initialize request" {
				t.Errorf("unexpected message %q", body.Error.Message)
			}
			if string(body.ID) != tt.wantID {
				t.Errorf("got id %s, want %s", body.ID, tt.wantID)
			}
		})
	}

	if got := transport.SessionCount(); got != 0 {
		t.Errorf("got %d sessions, want 0", got)
	}
}

func TestStreamableUnknownSession(t *testing.T) {
	transport, httpSrv := setupStreamable(t, &mockToolServer{})

	resp := post(t, httpSrv.URL, "no-such-session", `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("got status %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
	body := decodeTransportError(t, resp)
	if body.Error.Code != mcp.JSONRPCSessionNotFoundCode {
		t.Errorf("got code %d, want %d", body.Error.Code, mcp.JSONRPCSessionNotFoundCode)
	}

	// An initialize request naming an unknown session doesn't create one either.
	resp = post(t, httpSrv.URL, "no-such-session", initializeBody)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("got status %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
	if got := transport.SessionCount(); got != 0 {
		t.Errorf("got %d sessions, want 0", got)
	}
}

func TestStreamableSessionLifecycle(t *testing.T) {
	transport, httpSrv := setupStreamable(t, &mockToolServer{})
	cli := connectClient(t, httpSrv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if !cli.ToolServerSupported() {
		t.Error("expected tools capability")
	}
	if cli.ServerInfo() != testServerInfo {
		t.Errorf("got server info %+v, want %+v", cli.ServerInfo(), testServerInfo)
	}

	tools, err := cli.ListTools(ctx, mcp.ListToolsParams{})
	if err != nil {
		t.Fatalf("failed to list tools: %v", err)
	}
	if len(tools.Tools) != 1 {
		t.Fatalf("got %d tools, want 1", len(tools.Tools))
	}

	result, err := cli.CallTool(ctx, mcp.CallToolParams{
		Name:      "echo",
		Arguments: json.RawMessage(`{"hello":"world"}`),
	})
	if err != nil {
		t.Fatalf("failed to call tool: %v", err)
	}
	if result.IsError || len(result.Content) != 1 || result.Content[0].Text != `{"hello":"world"}` {
		t.Errorf("unexpected result %+v", result)
	}

	if err := cli.Close(ctx); err != nil {
		t.Fatalf("failed to close session: %v", err)
	}
	if got := transport.SessionCount(); got != 0 {
		t.Errorf("got %d sessions, want 0", got)
	}

	// Terminating an already terminated session reports not found, every time.
	for range 2 {
		var tErr *mcp.TransportError
		if err := cli.Close(ctx); !errors.As(err, &tErr) || tErr.StatusCode != http.StatusNotFound {
			t.Errorf("expected 404 transport error, got %v", err)
		}
	}

	var tErr *mcp.TransportError
	if err := cli.Ping(ctx); !errors.As(err, &tErr) || tErr.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 transport error, got %v", err)
	}
}

func TestStreamableMissingSessionHeader(t *testing.T) {
	_, httpSrv := setupStreamable(t, &mockToolServer{})

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		t.Run(method, func(t *testing.T) {
			req, err := http.NewRequest(method, httpSrv.URL, nil)
			if err != nil {
				t.Fatalf("failed to create request: %v", err)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("failed to send request: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("got status %d, want %d", resp.StatusCode, http.StatusBadRequest)
			}
			body := decodeTransportError(t, resp)
			if body.Error.Message != "Invalid or missing session ID" {
				t.Errorf("unexpected message %q", body.Error.Message)
			}
		})
	}
}

func TestStreamableMethodNotAllowed(t *testing.T) {
	_, httpSrv := setupStreamable(t, &mockToolServer{})

	req, err := http.NewRequest(http.MethodPut, httpSrv.URL, nil)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("failed to send request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("got status %d, want %d", resp.StatusCode, http.StatusMethodNotAllowed)
	}
	if got := resp.Header.Get("Allow"); got != "GET, POST, DELETE" {
		t.Errorf("got Allow %q", got)
	}
}

func TestStreamableNotificationsAreAccepted(t *testing.T) {
	_, httpSrv := setupStreamable(t, &mockToolServer{})
	cli := connectClient(t, httpSrv.URL)

	resp := post(t, httpSrv.URL, cli.SessionID(), `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("got status %d, want %d", resp.StatusCode, http.StatusAccepted)
	}
	body, _ := io.ReadAll(resp.Body)
	if len(body) != 0 {
		t.Errorf("expected empty body, got %q", body)
	}
}

func TestStreamableUndecodableBodyKeepsSession(t *testing.T) {
	_, httpSrv := setupStreamable(t, &mockToolServer{})
	cli := connectClient(t, httpSrv.URL)

	resp := post(t, httpSrv.URL, cli.SessionID(), `{"jsonrpc":`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("got status %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	body := decodeTransportError(t, resp)
	if body.Error.Code != mcp.JSONRPCInternalErrorCode {
		t.Errorf("got code %d, want %d", body.Error.Code, mcp.JSONRPCInternalErrorCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := cli.Ping(ctx); err != nil {
		t.Errorf("session should survive a bad body: %v", err)
	}
}

func TestStreamableNumericIDIsEchoed(t *testing.T) {
	_, httpSrv := setupStreamable(t, &mockToolServer{})
	cli := connectClient(t, httpSrv.URL)

	resp := post(t, httpSrv.URL, cli.SessionID(), `{"jsonrpc":"2.0","id":42,"method":"tools/list"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var res map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if string(res["id"]) != "42" {
		t.Errorf("got id %s, want 42", res["id"])
	}
}

func TestStreamableSessionBusy(t *testing.T) {
	tools := &mockToolServer{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	_, httpSrv := setupStreamable(t, tools)
	cli := connectClient(t, httpSrv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	var callErr error
	var result mcp.CallToolResult
	wg.Add(1)
	go func() {
		defer wg.Done()
		result, callErr = cli.CallTool(ctx, mcp.CallToolParams{Name: "echo", Arguments: json.RawMessage(`{}`)})
	}()

	select {
	case <-tools.started:
	case <-time.After(5 * time.Second):
		t.Fatal("tool was not called")
	}

	resp := post(t, httpSrv.URL, cli.SessionID(), `{"jsonrpc":"2.0","id":"second","method":"tools/list"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("got status %d, want %d", resp.StatusCode, http.StatusConflict)
	}
	body := decodeTransportError(t, resp)
	if body.Error.Code != mcp.JSONRPCSessionBusyCode {
		t.Errorf("got code %d, want %d", body.Error.Code, mcp.JSONRPCSessionBusyCode)
	}

	// Notifications don't need the slot.
	resp = post(t, httpSrv.URL, cli.SessionID(), `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("got status %d, want %d", resp.StatusCode, http.StatusAccepted)
	}

	close(tools.release)
	wg.Wait()

	if callErr != nil {
		t.Fatalf("first call failed: %v", callErr)
	}
	if result.IsError {
		t.Errorf("unexpected error result %+v", result)
	}

	// The slot is free again.
	if _, err := cli.ListTools(ctx, mcp.ListToolsParams{}); err != nil {
		t.Errorf("failed to list tools after the call finished: %v", err)
	}
}

func TestStreamableEventStreamResponse(t *testing.T) {
	_, httpSrv := setupStreamable(t, &mockToolServer{})

	var progress []mcp.ProgressParams
	cli := connectClient(t, httpSrv.URL,
		mcp.WithClientEventStream(),
		mcp.WithProgressListener(func(params mcp.ProgressParams) {
			progress = append(progress, params)
		}),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := cli.CallTool(ctx, mcp.CallToolParams{
		Name:      "echo",
		Arguments: json.RawMessage(`{"a":1}`),
		Meta:      mcp.ParamsMeta{ProgressToken: mcp.NewRequestID("token")},
	})
	if err != nil {
		t.Fatalf("failed to call tool: %v", err)
	}
	if result.Content[0].Text != `{"a":1}` {
		t.Errorf("unexpected result %+v", result)
	}

	if len(progress) != 2 {
		t.Fatalf("got %d progress notifications, want 2", len(progress))
	}
	if progress[0].Progress != 0 || progress[1].Progress != 1 {
		t.Errorf("unexpected progress %+v", progress)
	}
	if progress[0].ProgressToken != mcp.NewRequestID("token") {
		t.Errorf("got progress token %s", progress[0].ProgressToken)
	}
}

func TestStreamableGetStream(t *testing.T) {
	_, httpSrv := setupStreamable(t, &mockToolServer{}, mcp.WithServerPingInterval(50*time.Millisecond))
	cli := connectClient(t, httpSrv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msgs, err := cli.Stream(ctx)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}

	// Only one stream per session.
	var tErr *mcp.TransportError
	if _, err := cli.Stream(ctx); !errors.As(err, &tErr) || tErr.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 for a second stream, got %v", err)
	}

	pings := make(chan mcp.JSONRPCMessage, 10)
	ended := make(chan struct{})
	go func() {
		defer close(ended)
		for msg := range msgs {
			select {
			case pings <- msg:
			default:
			}
		}
	}()

	select {
	case msg := <-pings:
		if msg.Method != mcp.MethodPing {
			t.Errorf("got method %q, want %q", msg.Method, mcp.MethodPing)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no server-initiated message on the stream")
	}

	if err := cli.Close(ctx); err != nil {
		t.Fatalf("failed to close session: %v", err)
	}

	select {
	case <-ended:
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not end after the session was terminated")
	}

	if _, err := cli.ListTools(ctx, mcp.ListToolsParams{}); !errors.As(err, &tErr) || tErr.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 after termination, got %v", err)
	}
}

func TestStreamableShutdownClosesSessions(t *testing.T) {
	transport := mcp.NewStreamableHTTPServer()
	srv := mcp.NewServer(testServerInfo, transport,
		mcp.WithToolServer(&mockToolServer{}),
		mcp.WithServerPingInterval(-1),
	)
	go srv.Serve()

	httpSrv := httptest.NewServer(transport)
	defer httpSrv.Close()

	clients := []*mcp.Client{
		connectClient(t, httpSrv.URL),
		connectClient(t, httpSrv.URL),
	}
	if got := transport.SessionCount(); got != 2 {
		t.Fatalf("got %d sessions, want 2", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("failed to shutdown server: %v", err)
	}
	if got := transport.SessionCount(); got != 0 {
		t.Errorf("got %d sessions after shutdown, want 0", got)
	}

	for _, cli := range clients {
		var tErr *mcp.TransportError
		if err := cli.Ping(ctx); !errors.As(err, &tErr) || tErr.StatusCode != http.StatusNotFound {
			t.Errorf("expected 404 after shutdown, got %v", err)
		}
	}

	resp := post(t, httpSrv.URL, "", initializeBody)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("got status %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
	}
}

func TestStreamableNotificationWithIDIsAnswered(t *testing.T) {
	_, httpSrv := setupStreamable(t, &mockToolServer{})
	cli := connectClient(t, httpSrv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, method := range []string{mcp.MethodNotificationsInitialized, mcp.MethodNotificationsCancelled} {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, httpSrv.URL,
			strings.NewReader(`{"jsonrpc":"2.0","id":7,"method":"`+method+`","params":{"requestId":1}}`))
		if err != nil {
			t.Fatalf("failed to create request: %v", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json, text/event-stream")
		req.Header.Set(mcp.SessionIDHeader, cli.SessionID())

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s: no answer: %v", method, err)
		}

		var res mcp.JSONRPCMessage
		err = json.NewDecoder(resp.Body).Decode(&res)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("%s: failed to decode response: %v", method, err)
		}
		if res.Error == nil || res.Error.Code != mcp.JSONRPCInvalidRequestCode {
			t.Errorf("%s: got %+v, want invalid request error", method, res)
		}
		if string(res.ID) != "7" {
			t.Errorf("%s: got id %s, want 7", method, res.ID)
		}
	}

	// The in-flight slot was released with the answer.
	if _, err := cli.ListTools(ctx, mcp.ListToolsParams{}); err != nil {
		t.Errorf("failed to list tools afterwards: %v", err)
	}
}

func TestStreamableGetStreamDisconnectKeepsSession(t *testing.T) {
	transport, httpSrv := setupStreamable(t, &mockToolServer{})
	cli := connectClient(t, httpSrv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	streamCtx, streamCancel := context.WithCancel(ctx)
	msgs, err := cli.Stream(streamCtx)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	streamCancel()
	for range msgs {
	}

	// The server notices the disconnect asynchronously, so reopening may briefly see 409.
	var reopened bool
	for !reopened {
		secondCtx, secondCancel := context.WithCancel(ctx)
		second, err := cli.Stream(secondCtx)
		secondCancel()
		var tErr *mcp.TransportError
		switch {
		case err == nil:
			for range second {
			}
			reopened = true
		case errors.As(err, &tErr) && tErr.StatusCode == http.StatusConflict:
			select {
			case <-ctx.Done():
				t.Fatal("stream was never released")
			case <-time.After(10 * time.Millisecond):
			}
		default:
			t.Fatalf("failed to reopen stream: %v", err)
		}
	}

	if got := transport.SessionCount(); got != 1 {
		t.Errorf("got %d sessions, want 1", got)
	}
	if _, err := cli.ListTools(ctx, mcp.ListToolsParams{}); err != nil {
		t.Errorf("session is not usable after the stream dropped: %v", err)
	}
}

func TestStreamableAbandonedInitializeDropsSession(t *testing.T) {
	transport := mcp.NewStreamableHTTPServer()
	// Sessions are accepted but never answered, so the client gives up first.
	go func() {
		for range transport.Sessions() {
		}
	}()

	httpSrv := httptest.NewServer(transport)
	defer httpSrv.Close()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := transport.Shutdown(ctx); err != nil {
			t.Errorf("failed to shutdown transport: %v", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, httpSrv.URL, strings.NewReader(initializeBody))
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if resp, err := http.DefaultClient.Do(req); err == nil {
		resp.Body.Close()
		t.Fatal("expected the request to time out")
	}

	deadline := time.After(5 * time.Second)
	for transport.SessionCount() != 0 {
		select {
		case <-deadline:
			t.Fatalf("got %d sessions, want 0", transport.SessionCount())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestStreamableShutdownDuringInitialize(t *testing.T) {
	transport := mcp.NewStreamableHTTPServer()
	srv := mcp.NewServer(testServerInfo, transport,
		mcp.WithToolServer(&mockToolServer{}),
		mcp.WithServerPingInterval(-1),
	)
	go srv.Serve()

	httpSrv := httptest.NewServer(transport)
	defer httpSrv.Close()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: time.Second}
			for {
				select {
				case <-stop:
					return
				default:
				}
				resp, err := client.Post(httpSrv.URL, "application/json", strings.NewReader(initializeBody))
				if err != nil {
					continue
				}
				_, _ = io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
			}
		}()
	}

	// Let some sessions in before shutting down under load.
	deadline := time.After(5 * time.Second)
	for transport.SessionCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("no session was created")
		case <-time.After(time.Millisecond):
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Errorf("failed to shutdown server: %v", err)
	}

	close(stop)
	wg.Wait()

	// Sessions created after Shutdown are stopped by their own handler.
	deadline = time.After(5 * time.Second)
	for transport.SessionCount() != 0 {
		select {
		case <-deadline:
			t.Fatalf("got %d sessions after shutdown, want 0", transport.SessionCount())
		case <-time.After(10 * time.Millisecond):
		}
	}
}
