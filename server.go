package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ServerOption represents the options for the server.
type ServerOption func(*Server)

// Server implements the protocol side of a Model Context Protocol (MCP) server. It consumes
// the sessions produced by a ServerTransport and runs one protocol conversation per session:
// the initialize handshake, liveness pings, tool listing and tool calls.
//
// Server holds no per-session state of its own beyond the goroutines serving each session,
// so one Server can drive any number of concurrent sessions.
type Server struct {
	info         Info
	instructions string
	capabilities ServerCapabilities
	transport    ServerTransport

	toolServer ToolServer

	pingInterval         time.Duration
	pingTimeout          time.Duration
	pingTimeoutThreshold int
	sendTimeout          time.Duration

	logger *slog.Logger

	onClientConnected    func(string, Info)
	onClientDisconnected func(string)

	sessionsWaitGroup *sync.WaitGroup

	done   chan struct{}
	closed chan struct{}
}

type serverSession struct {
	session Session
	logger  *slog.Logger

	serverCap    ServerCapabilities
	serverInfo   Info
	instructions string

	pingInterval         time.Duration
	pingTimeout          time.Duration
	pingTimeoutThreshold int
	sendTimeout          time.Duration

	toolServer        ToolServer
	onClientConnected func(string, Info)

	inflight *inflightRequests
}

// inflightRequests maps the ids of requests being served to the cancel function of their
// context, so notifications/cancelled can reach them.
type inflightRequests struct {
	mu      sync.Mutex
	cancels map[RequestID]context.CancelFunc
}

var (
	defaultServerPingInterval         = 30 * time.Second
	defaultServerPingTimeout          = 30 * time.Second
	defaultServerPingTimeoutThreshold = 3
	defaultServerSendTimeout          = 30 * time.Second

	errInvalidJSON = errors.New("invalid json")
)

// NewServer creates a new Model Context Protocol (MCP) server with the specified configuration.
func NewServer(info Info, transport ServerTransport, options ...ServerOption) Server {
	s := Server{
		info:              info,
		transport:         transport,
		logger:            slog.Default(),
		sessionsWaitGroup: &sync.WaitGroup{},
		done:              make(chan struct{}),
		closed:            make(chan struct{}),
	}
	for _, opt := range options {
		opt(&s)
	}
	if s.pingInterval == 0 {
		s.pingInterval = defaultServerPingInterval
	}
	if s.pingTimeout == 0 {
		s.pingTimeout = defaultServerPingTimeout
	}
	if s.pingTimeoutThreshold == 0 {
		s.pingTimeoutThreshold = defaultServerPingTimeoutThreshold
	}
	if s.sendTimeout == 0 {
		s.sendTimeout = defaultServerSendTimeout
	}

	s.capabilities = ServerCapabilities{}
	if s.toolServer != nil {
		s.capabilities.Tools = &ToolsCapability{}
	}

	return s
}

// WithToolServer returns a ServerOption that configures the tool server implementation.
func WithToolServer(srv ToolServer) ServerOption {
	return func(s *Server) {
		s.toolServer = srv
	}
}

// WithInstructions returns a ServerOption that configures the server instructions.
func WithInstructions(instructions string) ServerOption {
	return func(s *Server) {
		s.instructions = instructions
	}
}

// WithServerPingInterval returns a ServerOption that configures the server's ping interval.
// A negative interval disables pings.
func WithServerPingInterval(interval time.Duration) ServerOption {
	return func(s *Server) {
		s.pingInterval = interval
	}
}

// WithServerPingTimeout returns a ServerOption that configures the server's ping timeout.
func WithServerPingTimeout(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.pingTimeout = timeout
	}
}

// WithServerPingTimeoutThreshold sets the ping timeout threshold for the server.
// If the number of consecutive ping timeouts exceeds the threshold, the server will close the session.
func WithServerPingTimeoutThreshold(threshold int) ServerOption {
	return func(s *Server) {
		s.pingTimeoutThreshold = threshold
	}
}

// WithServerSendTimeout returns a ServerOption that configures the server's send timeout.
func WithServerSendTimeout(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.sendTimeout = timeout
	}
}

// WithServerOnClientConnected sets the callback for when a client completes the initialize
// handshake. The callback's parameters are the session ID and the client's Info.
func WithServerOnClientConnected(onClientConnected func(string, Info)) ServerOption {
	return func(s *Server) {
		s.onClientConnected = onClientConnected
	}
}

// WithServerOnClientDisconnected sets the callback for when a session ends.
// The callback's parameter is the ID of the session.
func WithServerOnClientDisconnected(onClientDisconnected func(string)) ServerOption {
	return func(s *Server) {
		s.onClientDisconnected = onClientDisconnected
	}
}

// WithServerLogger sets the logger for the server.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger.With(
			slog.String("package", "notion-mcp"),
			slog.String("component", "server"),
		)
	}
}

// Serve starts the MCP server and manages its lifecycle. It serves every session the
// transport yields until the transport stops yielding.
//
// Serve blocks until the server is shut down.
func (s Server) Serve() {
	defer close(s.closed)

	// This loop would break when the transport is closed.
	for sess := range s.transport.Sessions() {
		ss := serverSession{
			session:              sess,
			logger:               s.logger.With(slog.String("sessionID", sess.ID())),
			serverCap:            s.capabilities,
			serverInfo:           s.info,
			instructions:         s.instructions,
			pingInterval:         s.pingInterval,
			pingTimeout:          s.pingTimeout,
			pingTimeoutThreshold: s.pingTimeoutThreshold,
			sendTimeout:          s.sendTimeout,
			toolServer:           s.toolServer,
			onClientConnected:    s.onClientConnected,
			inflight:             &inflightRequests{cancels: make(map[RequestID]context.CancelFunc)},
		}

		s.sessionsWaitGroup.Add(1)

		// This session would close itself when the transport stops it or when
		// consecutive pings fail beyond threshold.
		go func() {
			defer s.sessionsWaitGroup.Done()

			ss.start(s.done)

			if s.onClientDisconnected != nil {
				s.onClientDisconnected(ss.session.ID())
			}
		}()
	}
}

// Shutdown gracefully shuts down the server by terminating all active sessions and cleaning up resources.
// It returns an error if the shutdown process fails or if the context is cancelled before the shutdown completes.
func (s Server) Shutdown(ctx context.Context) error {
	// Signal the server to shutdown and terminates all sessions
	close(s.done)

	// Close the transport first, so Serve stops yielding sessions before we wait for them.
	if err := s.transport.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown transport: %w", err)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("failed to wait for serve loop: %w", ctx.Err())
	case <-s.closed:
	}

	sessionsDone := make(chan struct{})
	go func() {
		s.sessionsWaitGroup.Wait()
		close(sessionsDone)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("failed to wait for sessions: %w", ctx.Err())
	case <-sessionsDone:
	}

	return nil
}

func (s serverSession) start(done <-chan struct{}) {
	// This channel is used to feed the ping goroutine a message ID we received from the client.
	pingMessageIDs := make(chan RequestID, 10)
	// Spawn a goroutine to handle the session's lifetime with ping.
	go s.ping(pingMessageIDs, done)
	// This base context is to make sure all the operations in the loop below is cancelled
	// when the loop is broken.
	baseCtx, baseCancel := context.WithCancel(context.Background())
	// The session becomes Active once the initialize handshake succeeds. Before that,
	// only ping and initialize are served.
	initialized := false

	// This loops would break when the session is closed
	for msg := range s.session.Messages() {
		// Validate JSON-RPC version before processing any message
		if msg.JSONRPC != JSONRPCVersion {
			s.logger.Info("failed to handle message",
				slog.Any("message", msg),
				slog.String("err", errInvalidJSON.Error()),
			)
			if msg.IsRequest() {
				go s.sendError(msg.ID, JSONRPCInvalidRequestCode, "invalid jsonrpc version")
			}
			continue
		}
		switch msg.Method {
		case MethodPing:
			go s.sendResult(msg.ID, struct{}{})
		case MethodInitialize:
			if initialized {
				go s.sendError(msg.ID, JSONRPCInvalidRequestCode, "session already initialized")
				continue
			}
			initialized = s.handleInitializeRequest(msg)
		case MethodToolsList, MethodToolsCall:
			if !initialized {
				go s.sendError(msg.ID, JSONRPCInvalidRequestCode, "session not initialized")
				continue
			}
			// Calls into the tool server are cancellable, so register the context under
			// the request ID for notifications/cancelled.
			serverCtx := s.inflight.add(baseCtx, msg.ID)
			go s.handleToolMessage(serverCtx, msg)
		case MethodNotificationsInitialized, MethodNotificationsCancelled:
			if msg.IsRequest() {
				// A caller waits on every id, so a notification sent as a request is answered.
				go s.sendError(msg.ID, JSONRPCInvalidRequestCode, fmt.Sprintf("%s is a notification and takes no id", msg.Method))
				continue
			}
			if msg.Method == MethodNotificationsInitialized {
				s.logger.Debug("client acknowledged initialization")
				continue
			}
			var params notificationsCancelledParams
			if err := json.Unmarshal(msg.Params, &params); err != nil {
				s.logger.Warn("invalid cancellation params", slog.String("err", err.Error()))
				continue
			}
			s.inflight.cancel(params.RequestID)
		case "":
			// This is a response from the client, the only requests we send are pings.
			if msg.Error != nil {
				s.logger.Warn("client answered with error", slog.String("err", msg.Error.Error()))
			}
			select {
			case <-done:
			case pingMessageIDs <- msg.ID:
			}
		default:
			if msg.IsRequest() {
				go s.sendError(msg.ID, JSONRPCMethodNotFoundCode, fmt.Sprintf("method not found: %s", msg.Method))
				continue
			}
			s.logger.Debug("ignoring notification", slog.String("method", msg.Method))
		}
	}
	// Cancel all the contexts that we created
	baseCancel()
	// Close the ping message ID channel
	close(pingMessageIDs)
}

func (s serverSession) handleInitializeRequest(msg JSONRPCMessage) bool {
	var params initializeParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.logger.Info("invalid initialization request", slog.String("err", err.Error()))
		s.sendError(msg.ID, JSONRPCInvalidParamsCode, fmt.Sprintf("failed to unmarshal params: %s", err))
		return false
	}

	version := params.ProtocolVersion
	if !supportedProtocolVersions[version] {
		s.logger.Info("unsupported protocol version requested, answering with latest",
			slog.String("requested", version))
		version = LatestProtocolVersion
	}

	s.sendResult(msg.ID, initializeResult{
		ProtocolVersion: version,
		Capabilities:    s.serverCap,
		ServerInfo:      s.serverInfo,
		Instructions:    s.instructions,
	})

	if s.onClientConnected != nil {
		s.onClientConnected(s.session.ID(), params.ClientInfo)
	}

	return true
}

func (s serverSession) ping(messageIDs <-chan RequestID, done <-chan struct{}) {
	defer s.session.Stop()

	var ticks <-chan time.Time
	if s.pingInterval > 0 {
		pingTicker := time.NewTicker(s.pingInterval)
		defer pingTicker.Stop()
		ticks = pingTicker.C
	}
	failedPings := 0
	var msgID RequestID

	for {
		if failedPings > s.pingTimeoutThreshold {
			s.logger.Warn("too many pings failed, closing session")
			return
		}

		select {
		case <-done:
			return
		case id, ok := <-messageIDs:
			if !ok {
				// The message loop has ended, so the session is already closed.
				return
			}
			// Received id from client response, check whether it's the same as the one we sent.
			if id != msgID {
				continue
			}
			s.logger.Debug("received ping response, resetting failed ping counter")
			failedPings = 0
			continue
		case <-ticks:
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.pingTimeout)

		msgID = NewRequestID(uuid.New().String())

		if err := s.session.Send(ctx, JSONRPCMessage{
			JSONRPC: JSONRPCVersion,
			ID:      msgID,
			Method:  MethodPing,
		}); err != nil {
			s.logger.Warn("failed to send ping to client",
				slog.String("err", err.Error()))
			failedPings++
		}
		cancel()
	}
}

func (s serverSession) handleToolMessage(ctx context.Context, msg JSONRPCMessage) {
	defer s.inflight.remove(msg.ID)

	var result any
	// The err should always be an instance of JSONRPCError; anything else is reported
	// as an internal error.
	var err error

	switch msg.Method {
	case MethodToolsList:
		result, err = s.callListTools(ctx, msg)
	case MethodToolsCall:
		result, err = s.callCallTool(ctx, msg)
	default:
		return
	}

	if err != nil {
		jsonErr := JSONRPCError{}
		if !errors.As(err, &jsonErr) {
			jsonErr = JSONRPCError{Code: JSONRPCInternalErrorCode, Message: err.Error()}
		}
		s.logger.Error("failed to call server implementation",
			slog.String("method", msg.Method),
			slog.String("err", err.Error()))
		s.sendError(msg.ID, jsonErr.Code, jsonErr.Message)
		return
	}

	s.sendResult(msg.ID, result)
}

func (s serverSession) progressReporter(token RequestID) ProgressReporter {
	return func(params ProgressParams) {
		if token.IsZero() {
			return
		}
		params.ProgressToken = token

		paramsBs, err := json.Marshal(params)
		if err != nil {
			s.logger.Error("failed to marshal progress params", slog.String("err", err.Error()))
			return
		}

		s.send(JSONRPCMessage{
			JSONRPC: JSONRPCVersion,
			Method:  MethodNotificationsProgress,
			Params:  paramsBs,
		})
	}
}

func (s serverSession) callListTools(ctx context.Context, msg JSONRPCMessage) (ListToolsResult, error) {
	if s.toolServer == nil {
		return ListToolsResult{}, JSONRPCError{
			Code:    JSONRPCMethodNotFoundCode,
			Message: "tools not supported by server",
		}
	}

	var params ListToolsParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return ListToolsResult{}, JSONRPCError{
				Code:    JSONRPCInvalidParamsCode,
				Message: fmt.Errorf("failed to unmarshal params: %w", err).Error(),
			}
		}
	}

	ts, err := s.toolServer.ListTools(ctx, params)
	if err != nil {
		nErr := fmt.Errorf("failed to list tools: %w", err)
		return ListToolsResult{}, JSONRPCError{
			Code:    JSONRPCInternalErrorCode,
			Message: nErr.Error(),
		}
	}

	return ts, nil
}

func (s serverSession) callCallTool(ctx context.Context, msg JSONRPCMessage) (result CallToolResult, err error) {
	if s.toolServer == nil {
		return CallToolResult{}, JSONRPCError{
			Code:    JSONRPCMethodNotFoundCode,
			Message: "tools not supported by server",
		}
	}

	var params CallToolParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return CallToolResult{}, JSONRPCError{
			Code:    JSONRPCInvalidParamsCode,
			Message: fmt.Errorf("failed to unmarshal params: %w", err).Error(),
		}
	}

	// A panicking tool must not take the whole process, and every other session, down.
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("tool panicked", slog.String("tool", params.Name), slog.Any("panic", r))
			result = toolErrorResult(fmt.Errorf("tool %s panicked: %v", params.Name, r))
			err = nil
		}
	}()

	result, err = s.toolServer.CallTool(ctx, params, s.progressReporter(params.Meta.ProgressToken))
	if err != nil {
		result = toolErrorResult(err)
	}

	return result, nil
}

// toolErrorResult reports a failed call in the same {"error": message} shape the tool
// servers use for their own faults.
func toolErrorResult(err error) CallToolResult {
	payload, mErr := json.Marshal(struct {
		Error string `json:"error"`
	}{Error: err.Error()})
	if mErr != nil {
		payload = []byte(`{"error":"internal error"}`)
	}
	return CallToolResult{
		Content: []Content{
			{
				Type: ContentTypeText,
				Text: string(payload),
			},
		},
		IsError: true,
	}
}

func (s serverSession) sendResult(id RequestID, result any) {
	resBs, err := json.Marshal(result)
	if err != nil {
		s.logger.Error("failed to marshal result", slog.String("err", err.Error()))
		s.sendError(id, JSONRPCInternalErrorCode, "failed to marshal result")
		return
	}
	s.send(JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Result:  resBs,
	})
}

func (s serverSession) sendError(id RequestID, code int, message string) {
	s.send(JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
		},
	})
}

func (s serverSession) send(msg JSONRPCMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), s.sendTimeout)
	defer cancel()

	if err := s.session.Send(ctx, msg); err != nil {
		s.logger.Error("failed to send message",
			slog.String("method", msg.Method),
			slog.String("id", msg.ID.String()),
			slog.String("err", err.Error()))
	}
}

func (r *inflightRequests) add(parent context.Context, id RequestID) context.Context {
	ctx, cancel := context.WithCancel(parent)
	r.mu.Lock()
	r.cancels[id] = cancel
	r.mu.Unlock()
	return ctx
}

func (r *inflightRequests) cancel(id RequestID) {
	r.mu.Lock()
	cancel, ok := r.cancels[id]
	r.mu.Unlock()
	if ok {
		cancel()
	}
}

func (r *inflightRequests) remove(id RequestID) {
	r.mu.Lock()
	cancel, ok := r.cancels[id]
	delete(r.cancels, id)
	r.mu.Unlock()
	if ok {
		cancel()
	}
}
