package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"mime"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

// ClientOption is a function that configures a client.
type ClientOption func(*Client)

// Client is a Streamable HTTP client for a single MCP session. It performs the initialize
// handshake on Connect, remembers the session id the server assigned, and attaches it to
// every later request.
//
// A Client must be created using NewClient and requires Connect to be called before any
// other operation. Close terminates the session on the server.
type Client struct {
	url        string
	httpClient *http.Client
	info       Info
	logger     *slog.Logger

	eventStream      bool
	progressListener ProgressListener

	mu                 sync.RWMutex
	sessionID          string
	serverInfo         Info
	serverCapabilities ServerCapabilities
	protocolVersion    string
}

// ProgressListener receives the progress notifications streamed while a request is in
// flight.
type ProgressListener func(params ProgressParams)

// TransportError is returned when the server answers with an HTTP error status instead of
// a JSON-RPC response, for example when the session is unknown or busy.
type TransportError struct {
	StatusCode int
	Err        JSONRPCError
}

var errNotConnected = errors.New("client not connected")

// NewClient creates a client for the endpoint at url, for example http://localhost:3002/mcp.
func NewClient(url string, info Info, options ...ClientOption) *Client {
	c := &Client{
		url:        url,
		httpClient: http.DefaultClient,
		info:       info,
		logger:     slog.Default(),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// WithClientHTTPClient sets the HTTP client used for every request.
func WithClientHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithClientLogger sets the logger for the client.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger.With(
			slog.String("package", "notion-mcp"),
			slog.String("component", "client"),
		)
	}
}

// WithClientEventStream makes the client accept only text/event-stream answers to its
// requests, so progress notifications arrive ahead of the response.
func WithClientEventStream() ClientOption {
	return func(c *Client) {
		c.eventStream = true
	}
}

// WithProgressListener sets the progress listener for the client.
func WithProgressListener(listener ProgressListener) ClientOption {
	return func(c *Client) {
		c.progressListener = listener
	}
}

// Connect performs the initialize handshake and opens a session. It then acknowledges the
// result with notifications/initialized.
func (c *Client) Connect(ctx context.Context) error {
	params, err := json.Marshal(initializeParams{
		ProtocolVersion: LatestProtocolVersion,
		Capabilities:    ClientCapabilities{},
		ClientInfo:      c.info,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}

	res, header, err := c.roundTrip(ctx, JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      NewRequestID(uuid.New().String()),
		Method:  MethodInitialize,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	if res.Error != nil {
		return fmt.Errorf("result error: %w", res.Error)
	}

	var result initializeResult
	if err := json.Unmarshal(res.Result, &result); err != nil {
		return fmt.Errorf("failed to unmarshal initialize result: %w", err)
	}

	sessionID := header.Get(SessionIDHeader)
	if sessionID == "" {
		return errors.New("server did not assign a session id")
	}

	c.mu.Lock()
	c.sessionID = sessionID
	c.serverInfo = result.ServerInfo
	c.serverCapabilities = result.Capabilities
	c.protocolVersion = result.ProtocolVersion
	c.mu.Unlock()

	if _, _, err := c.roundTrip(ctx, JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		Method:  MethodNotificationsInitialized,
	}); err != nil {
		return fmt.Errorf("failed to send initialized notification: %w", err)
	}

	return nil
}

// SessionID returns the session id assigned by the server, empty before Connect.
func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// ServerInfo returns the server's info.
func (c *Client) ServerInfo() Info {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

// ProtocolVersion returns the protocol revision the server agreed to.
func (c *Client) ProtocolVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.protocolVersion
}

// ToolServerSupported reports whether the server advertised the tools capability.
func (c *Client) ToolServerSupported() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverCapabilities.Tools != nil
}

// Ping checks that the session is alive.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.sendRequest(ctx, MethodPing, nil)
	if err != nil {
		return err
	}
	if res.Error != nil {
		return fmt.Errorf("result error: %w", res.Error)
	}
	return nil
}

// ListTools retrieves the tools the server exposes.
func (c *Client) ListTools(ctx context.Context, params ListToolsParams) (ListToolsResult, error) {
	res, err := c.sendRequest(ctx, MethodToolsList, params)
	if err != nil {
		return ListToolsResult{}, err
	}
	if res.Error != nil {
		return ListToolsResult{}, fmt.Errorf("result error: %w", res.Error)
	}

	var result ListToolsResult
	if err := json.Unmarshal(res.Result, &result); err != nil {
		return ListToolsResult{}, fmt.Errorf("failed to unmarshal result: %w", err)
	}

	return result, nil
}

// CallTool executes a specific tool and returns its result. A failing tool is not an
// error: it comes back as a result with IsError set.
func (c *Client) CallTool(ctx context.Context, params CallToolParams) (CallToolResult, error) {
	res, err := c.sendRequest(ctx, MethodToolsCall, params)
	if err != nil {
		return CallToolResult{}, err
	}
	if res.Error != nil {
		return CallToolResult{}, fmt.Errorf("result error: %w", res.Error)
	}

	var result CallToolResult
	if err := json.Unmarshal(res.Result, &result); err != nil {
		return CallToolResult{}, fmt.Errorf("failed to unmarshal result: %w", err)
	}

	return result, nil
}

// Stream opens the session's GET stream and returns an iterator over the messages the
// server sends on it. The iteration ends when ctx is cancelled or the server closes the
// stream, for example because the session was terminated.
func (c *Client) Stream(ctx context.Context) (iter.Seq[JSONRPCMessage], error) {
	sessionID := c.SessionID()
	if sessionID == "" {
		return nil, errNotConnected
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set(SessionIDHeader, sessionID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, readTransportError(resp)
	}

	return func(yield func(JSONRPCMessage) bool) {
		defer resp.Body.Close()

		for ev, err := range sse.Read(resp.Body, nil) {
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					c.logger.Debug("stream ended", slog.String("err", err.Error()))
				}
				return
			}

			var msg JSONRPCMessage
			if err := json.Unmarshal([]byte(ev.Data), &msg); err != nil {
				c.logger.Error("failed to unmarshal message", slog.String("err", err.Error()))
				continue
			}
			if !yield(msg) {
				return
			}
		}
	}, nil
}

// Close terminates the session on the server. Calling it again reports the 404 the server
// answers for an unknown session.
func (c *Client) Close(ctx context.Context) error {
	sessionID := c.SessionID()
	if sessionID == "" {
		return errNotConnected
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(SessionIDHeader, sessionID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to terminate session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readTransportError(resp)
	}
	return nil
}

func (c *Client) sendRequest(ctx context.Context, method string, params any) (JSONRPCMessage, error) {
	if c.SessionID() == "" {
		return JSONRPCMessage{}, errNotConnected
	}

	msg := JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      NewRequestID(uuid.New().String()),
		Method:  method,
	}
	if params != nil {
		paramsBs, err := json.Marshal(params)
		if err != nil {
			return JSONRPCMessage{}, fmt.Errorf("failed to marshal params: %w", err)
		}
		msg.Params = paramsBs
	}

	res, _, err := c.roundTrip(ctx, msg)
	return res, err
}

// roundTrip posts msg and returns the response to it. Notifications return a zero message.
func (c *Client) roundTrip(ctx context.Context, msg JSONRPCMessage) (JSONRPCMessage, http.Header, error) {
	msgBs, err := json.Marshal(msg)
	if err != nil {
		return JSONRPCMessage{}, nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(msgBs))
	if err != nil {
		return JSONRPCMessage{}, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.eventStream {
		req.Header.Set("Accept", "text/event-stream")
	} else {
		req.Header.Set("Accept", "application/json, text/event-stream")
	}
	if sessionID := c.SessionID(); sessionID != "" {
		req.Header.Set(SessionIDHeader, sessionID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return JSONRPCMessage{}, nil, fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return JSONRPCMessage{}, resp.Header, readTransportError(resp)
	}
	if !msg.IsRequest() {
		return JSONRPCMessage{}, resp.Header, nil
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "text/event-stream" {
		res, err := c.readStreamedResponse(resp.Body, msg.ID)
		return res, resp.Header, err
	}

	var res JSONRPCMessage
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return JSONRPCMessage{}, resp.Header, fmt.Errorf("failed to decode response: %w", err)
	}
	return res, resp.Header, nil
}

// readStreamedResponse consumes an SSE answer, passing progress notifications to the
// listener until the response for id arrives.
func (c *Client) readStreamedResponse(body io.Reader, id RequestID) (JSONRPCMessage, error) {
	for ev, err := range sse.Read(body, nil) {
		if err != nil {
			return JSONRPCMessage{}, fmt.Errorf("failed to read SSE message: %w", err)
		}

		var msg JSONRPCMessage
		if err := json.Unmarshal([]byte(ev.Data), &msg); err != nil {
			c.logger.Error("failed to unmarshal message", slog.String("err", err.Error()))
			continue
		}

		switch {
		case msg.Method == MethodNotificationsProgress:
			if c.progressListener == nil {
				continue
			}
			var params ProgressParams
			if err := json.Unmarshal(msg.Params, &params); err != nil {
				c.logger.Error("failed to unmarshal progress params", slog.String("err", err.Error()))
				continue
			}
			c.progressListener(params)
		case msg.Method == "" && msg.ID == id:
			return msg, nil
		default:
			c.logger.Debug("ignoring streamed message", slog.String("method", msg.Method))
		}
	}
	return JSONRPCMessage{}, errors.New("stream ended before the response arrived")
}

func readTransportError(resp *http.Response) error {
	tErr := &TransportError{StatusCode: resp.StatusCode}
	var body transportError
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
		tErr.Err = body.Error
	}
	return tErr
}

func (e *TransportError) Error() string {
	if e.Err.Message == "" {
		return fmt.Sprintf("unexpected status code: %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status code: %d: %s", e.StatusCode, e.Err.Message)
}
