package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

// StreamableHTTPServer implements the Streamable HTTP transport as an http.Handler meant to
// be mounted on a single path (conventionally /mcp).
//
// POST carries client messages. A POST without the Mcp-Session-Id header must be an
// initialize request, which creates a new session; every other POST must name a live
// session. GET opens a Server-Sent Events stream for server-initiated messages, and DELETE
// terminates a session.
//
// Instances should be created using NewStreamableHTTPServer and served by a Server, which
// consumes the sessions yielded by Sessions.
type StreamableHTTPServer struct {
	logger      *slog.Logger
	maxBodySize int64

	sessions    *sessionTable
	newSessions chan *streamableSession

	done      chan struct{}
	closed    chan struct{}
	closeOnce *sync.Once
}

// StreamableHTTPServerOption represents the options for the StreamableHTTPServer.
type StreamableHTTPServerOption func(*StreamableHTTPServer)

// sseStream serializes writes to one Server-Sent Events response. Once detached, writes are
// refused, so nothing touches the ResponseWriter after its handler returns.
type sseStream struct {
	mu       sync.Mutex
	sess     *sse.Session
	detached bool
}

// transportError is the minimal JSON-RPC error body sent with HTTP 4xx answers. Unlike
// JSONRPCMessage, it always carries an id, null when the request had none.
type transportError struct {
	JSONRPC string       `json:"jsonrpc"`
	Error   JSONRPCError `json:"error"`
	ID      RequestID    `json:"id"`
}

const (
	// SessionIDHeader carries the session id on every request after initialize.
	SessionIDHeader = "Mcp-Session-Id"

	defaultMaxBodySize = 4 << 20
)

var errStreamDetached = errors.New("stream is detached")

// NewStreamableHTTPServer creates a StreamableHTTPServer with an empty session table.
func NewStreamableHTTPServer(options ...StreamableHTTPServerOption) StreamableHTTPServer {
	s := StreamableHTTPServer{
		logger:      slog.Default(),
		maxBodySize: defaultMaxBodySize,
		sessions:    newSessionTable(),
		newSessions: make(chan *streamableSession),
		done:        make(chan struct{}),
		closed:      make(chan struct{}),
		closeOnce:   &sync.Once{},
	}
	for _, opt := range options {
		opt(&s)
	}
	return s
}

// WithStreamableHTTPServerLogger sets the logger for the transport.
func WithStreamableHTTPServerLogger(logger *slog.Logger) StreamableHTTPServerOption {
	return func(s *StreamableHTTPServer) {
		s.logger = logger.With(
			slog.String("package", "notion-mcp"),
			slog.String("component", "transport"),
		)
	}
}

// WithStreamableHTTPServerMaxBodySize limits the size of accepted POST bodies.
func WithStreamableHTTPServerMaxBodySize(size int64) StreamableHTTPServerOption {
	return func(s *StreamableHTTPServer) {
		s.maxBodySize = size
	}
}

// Sessions returns an iterator over sessions as clients initialize them. The iteration
// ends when Shutdown is called.
func (s StreamableHTTPServer) Sessions() iter.Seq[Session] {
	return func(yield func(Session) bool) {
		defer close(s.closed)

		for {
			select {
			case <-s.done:
				return
			case sess := <-s.newSessions:
				if !yield(sess) {
					return
				}
			}
		}
	}
}

// Shutdown closes every live session, which ends their GET streams and releases any
// waiting POST, then stops the Sessions iteration.
func (s StreamableHTTPServer) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() {
		close(s.done)
	})

	for _, sess := range s.sessions.snapshot() {
		s.closeSession(sess.id)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("failed to close streamable HTTP server: %w", ctx.Err())
	case <-s.closed:
	}
	return nil
}

// SessionCount returns the number of live sessions.
func (s StreamableHTTPServer) SessionCount() int {
	return s.sessions.len()
}

// ServeHTTP implements http.Handler.
func (s StreamableHTTPServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handlePost(w, r)
	case http.MethodGet:
		s.handleGet(w, r)
	case http.MethodDelete:
		s.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s StreamableHTTPServer) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, s.maxBodySize+1))
	if err != nil {
		s.logger.Warn("failed to read request body", slog.String("err", err.Error()))
		writeTransportError(w, http.StatusBadRequest, JSONRPCBadRequestCode, "Bad Request: failed to read body", "")
		return
	}
	if int64(len(body)) > s.maxBodySize {
		writeTransportError(w, http.StatusRequestEntityTooLarge, JSONRPCBadRequestCode, "Bad Request: body too large", "")
		return
	}

	var sess *streamableSession
	if sessID := r.Header.Get(SessionIDHeader); sessID != "" {
		var ok bool
		sess, ok = s.sessions.get(sessID)
		if !ok {
			s.logger.Debug("unknown session", slog.String("sessionID", sessID))
			writeTransportError(w, http.StatusNotFound, JSONRPCSessionNotFoundCode, "Session not found", "")
			return
		}
	}

	var msg JSONRPCMessage
	decodeErr := json.Unmarshal(body, &msg)

	created := false
	if sess == nil {
		if decodeErr != nil || msg.Method != MethodInitialize || !msg.IsRequest() {
			writeTransportError(w, http.StatusBadRequest, JSONRPCBadRequestCode,
				"Bad Request: No valid session ID provided or not an initialize request", msg.ID)
			return
		}
		sess, err = s.createSession(r.Context())
		if err != nil {
			s.logger.Warn("failed to create session", slog.String("err", err.Error()))
			writeTransportError(w, http.StatusServiceUnavailable, JSONRPCBadRequestCode, "Server is shutting down", msg.ID)
			return
		}
		created = true
	} else if decodeErr != nil {
		s.logger.Info("failed to decode message", slog.String("sessionID", sess.id), slog.String("err", decodeErr.Error()))
		writeTransportError(w, http.StatusBadRequest, JSONRPCInternalErrorCode,
			fmt.Sprintf("failed to decode message: %s", decodeErr), "")
		return
	}

	// Notifications and client responses don't get an answer of their own.
	if !msg.IsRequest() {
		if err := sess.deliver(r.Context(), msg); err != nil {
			writeTransportError(w, http.StatusNotFound, JSONRPCSessionNotFoundCode, "Session not found", "")
			return
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if !sess.tryAcquire() {
		writeTransportError(w, http.StatusConflict, JSONRPCSessionBusyCode, "Session busy", msg.ID)
		return
	}
	defer sess.release()

	waiter := sess.expect(msg.ID)
	defer sess.forget(msg.ID)

	if created {
		w.Header().Set(SessionIDHeader, sess.id)
	}

	// A session whose initialize response never reached the client can't be addressed by
	// anyone, so it is dropped unless the response was written.
	answered := false
	if created {
		defer func() {
			if !answered {
				s.closeSession(sess.id)
			}
		}()
	}

	var stream *sseStream
	if wantsEventStream(r) {
		stream, err = upgradeStream(w, r)
		if err != nil {
			s.logger.Error("failed to upgrade session", slog.String("err", err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		sess.attachPostStream(stream)
		defer sess.detachPostStream(stream)
	}

	if err := sess.deliver(r.Context(), msg); err != nil {
		if stream == nil {
			writeTransportError(w, http.StatusNotFound, JSONRPCSessionNotFoundCode, "Session not found", msg.ID)
		}
		return
	}

	select {
	case resp := <-waiter:
		if created && resp.Error != nil {
			// The handshake failed, so the session never became Active.
			s.closeSession(sess.id)
		}
		if stream != nil {
			if err := stream.send(resp); err != nil {
				s.logger.Warn("failed to stream response", slog.String("err", err.Error()))
				return
			}
			answered = true
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			s.logger.Warn("failed to write response", slog.String("err", err.Error()))
			return
		}
		answered = true
	case <-sess.done:
		if stream == nil {
			writeTransportError(w, http.StatusNotFound, JSONRPCSessionNotFoundCode, "Session not found", msg.ID)
		}
	case <-r.Context().Done():
		s.logger.Debug("client went away before the response was ready",
			slog.String("sessionID", sess.id),
			slog.String("id", msg.ID.String()))
	}
}

func (s StreamableHTTPServer) handleGet(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	stream, err := upgradeStream(w, r)
	if err != nil {
		s.logger.Error("failed to upgrade session", slog.String("err", err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !sess.attachGetStream(stream) {
		writeTransportError(w, http.StatusConflict, JSONRPCSessionBusyCode, "Session already has a stream", "")
		return
	}
	defer sess.detachGetStream(stream)

	if err := stream.open(); err != nil {
		s.logger.Warn("failed to open stream", slog.String("err", err.Error()))
		return
	}

	// Block until either side goes away, so the connection is left open.
	select {
	case <-r.Context().Done():
		s.logger.Debug("stream client disconnected", slog.String("sessionID", sess.id))
	case <-sess.done:
	}
}

func (s StreamableHTTPServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	s.closeSession(sess.id)
	w.WriteHeader(http.StatusOK)
}

// lookupSession resolves the session named by the request header, answering 400 when the
// header is missing and 404 when the id is not live.
func (s StreamableHTTPServer) lookupSession(w http.ResponseWriter, r *http.Request) (*streamableSession, bool) {
	sessID := r.Header.Get(SessionIDHeader)
	if sessID == "" {
		writeTransportError(w, http.StatusBadRequest, JSONRPCBadRequestCode, "Invalid or missing session ID", "")
		return nil, false
	}
	sess, ok := s.sessions.get(sessID)
	if !ok {
		writeTransportError(w, http.StatusNotFound, JSONRPCSessionNotFoundCode, "Session not found", "")
		return nil, false
	}
	return sess, true
}

func (s StreamableHTTPServer) createSession(ctx context.Context) (*streamableSession, error) {
	sess := newStreamableSession(uuid.New().String(), s.logger, func(id string) {
		s.sessions.remove(id)
	})
	s.sessions.add(sess)

	// Hand the session to the Sessions loop so the engine starts serving it.
	select {
	case s.newSessions <- sess:
		s.logger.Debug("session created", slog.String("sessionID", sess.id))
		return sess, nil
	case <-s.done:
		sess.Stop()
		return nil, errors.New("transport is shut down")
	case <-ctx.Done():
		sess.Stop()
		return nil, ctx.Err()
	}
}

// closeSession removes the session's row and stops it. Closing an unknown id does nothing.
func (s StreamableHTTPServer) closeSession(id string) {
	sess, ok := s.sessions.remove(id)
	if !ok {
		return
	}
	sess.Stop()
	s.logger.Debug("session closed", slog.String("sessionID", id))
}

func writeTransportError(w http.ResponseWriter, status, code int, message string, id RequestID) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(transportError{
		JSONRPC: JSONRPCVersion,
		Error:   JSONRPCError{Code: code, Message: message},
		ID:      id,
	})
}

// wantsEventStream reports whether the client accepts only text/event-stream, in which
// case the POST is answered as an SSE stream instead of a JSON body.
func wantsEventStream(r *http.Request) bool {
	sawEventStream := false
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		switch mediaType {
		case "text/event-stream":
			sawEventStream = true
		case "application/json", "application/*", "*/*":
			return false
		}
	}
	return sawEventStream
}

func upgradeStream(w http.ResponseWriter, r *http.Request) (*sseStream, error) {
	sess, err := sse.Upgrade(w, r)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade session: %w", err)
	}
	return &sseStream{sess: sess}, nil
}

// open sends the response headers so the client sees the stream before the first event.
func (s *sseStream) open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detached {
		return errStreamDetached
	}
	if err := s.sess.Flush(); err != nil {
		return fmt.Errorf("failed to flush SSE: %w", err)
	}
	return nil
}

func (s *sseStream) send(msg JSONRPCMessage) error {
	msgBs, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	sseMsg := &sse.Message{
		Type: sse.Type("message"),
	}
	sseMsg.AppendData(string(msgBs))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detached {
		return errStreamDetached
	}
	if err := s.sess.Send(sseMsg); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	if err := s.sess.Flush(); err != nil {
		return fmt.Errorf("failed to flush message: %w", err)
	}
	return nil
}

func (s *sseStream) detach() {
	s.mu.Lock()
	s.detached = true
	s.mu.Unlock()
}
