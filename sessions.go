package mcp

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"sync"
)

// sessionTable is the single source of truth for which session ids are live. A row exists
// from the moment an initialize request creates the session until the session is closed.
type sessionTable struct {
	mu       sync.RWMutex
	sessions map[string]*streamableSession
}

// streamableSession is the transport half of one client session. Messages decoded from
// POST bodies are delivered to the protocol engine through Messages, and everything the
// engine sends comes back through Send, which routes it to whoever is waiting for it.
type streamableSession struct {
	id     string
	logger *slog.Logger

	receivedMsgs chan JSONRPCMessage

	mu sync.Mutex
	// Responses the engine sends for these ids go to the POST handler waiting on them.
	pending map[RequestID]chan JSONRPCMessage
	// The SSE stream of the in-flight POST, if the client asked for one.
	postStream *sseStream
	// The stream opened by GET, if any.
	getStream *sseStream

	// Holds one token while a request is in flight.
	busy chan struct{}

	done     chan struct{}
	stopOnce *sync.Once
	onStop   func(id string)
}

var errSessionClosed = errors.New("session is closed")

func newSessionTable() *sessionTable {
	return &sessionTable{sessions: make(map[string]*streamableSession)}
}

func (t *sessionTable) add(sess *streamableSession) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[sess.id] = sess
}

func (t *sessionTable) get(id string) (*streamableSession, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	sess, ok := t.sessions[id]
	return sess, ok
}

func (t *sessionTable) remove(id string) (*streamableSession, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sess, ok := t.sessions[id]
	if ok {
		delete(t.sessions, id)
	}
	return sess, ok
}

func (t *sessionTable) snapshot() []*streamableSession {
	t.mu.RLock()
	defer t.mu.RUnlock()
	sessions := make([]*streamableSession, 0, len(t.sessions))
	for _, sess := range t.sessions {
		sessions = append(sessions, sess)
	}
	return sessions
}

func (t *sessionTable) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

func newStreamableSession(id string, logger *slog.Logger, onStop func(string)) *streamableSession {
	return &streamableSession{
		id:           id,
		logger:       logger.With(slog.String("sessionID", id)),
		receivedMsgs: make(chan JSONRPCMessage, 5),
		pending:      make(map[RequestID]chan JSONRPCMessage),
		busy:         make(chan struct{}, 1),
		done:         make(chan struct{}),
		stopOnce:     &sync.Once{},
		onStop:       onStop,
	}
}

func (s *streamableSession) ID() string { return s.id }

// Send routes msg to its destination. A response goes to the POST handler waiting for its
// id. Anything else goes to the in-flight POST stream, then to the GET stream. With neither
// open, the message has no route and is dropped.
func (s *streamableSession) Send(ctx context.Context, msg JSONRPCMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case <-s.done:
		return errSessionClosed
	default:
	}

	s.mu.Lock()
	if msg.Method == "" {
		if waiter, ok := s.pending[msg.ID]; ok {
			delete(s.pending, msg.ID)
			s.mu.Unlock()
			// The waiter is buffered and receives at most one message.
			waiter <- msg
			return nil
		}
	}
	stream := s.postStream
	if stream == nil {
		stream = s.getStream
	}
	s.mu.Unlock()

	if stream == nil {
		s.logger.Debug("no open stream, dropping message",
			slog.String("method", msg.Method),
			slog.String("id", msg.ID.String()))
		return nil
	}

	return stream.send(msg)
}

func (s *streamableSession) Messages() iter.Seq[JSONRPCMessage] {
	return func(yield func(JSONRPCMessage) bool) {
		for {
			select {
			case msg := <-s.receivedMsgs:
				if !yield(msg) {
					return
				}
			case <-s.done:
				return
			}
		}
	}
}

func (s *streamableSession) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.onStop != nil {
			s.onStop(s.id)
		}
	})
}

// deliver hands a message decoded from a POST body to the protocol engine.
func (s *streamableSession) deliver(ctx context.Context, msg JSONRPCMessage) error {
	select {
	case s.receivedMsgs <- msg:
		return nil
	case <-s.done:
		return errSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *streamableSession) tryAcquire() bool {
	select {
	case s.busy <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *streamableSession) release() {
	<-s.busy
}

// expect registers interest in the response to id. The returned channel receives it.
func (s *streamableSession) expect(id RequestID) <-chan JSONRPCMessage {
	waiter := make(chan JSONRPCMessage, 1)
	s.mu.Lock()
	s.pending[id] = waiter
	s.mu.Unlock()
	return waiter
}

func (s *streamableSession) forget(id RequestID) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

func (s *streamableSession) attachPostStream(stream *sseStream) {
	s.mu.Lock()
	s.postStream = stream
	s.mu.Unlock()
}

func (s *streamableSession) detachPostStream(stream *sseStream) {
	s.mu.Lock()
	if s.postStream == stream {
		s.postStream = nil
	}
	s.mu.Unlock()
	stream.detach()
}

// attachGetStream reports false when the session already has a GET stream.
func (s *streamableSession) attachGetStream(stream *sseStream) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getStream != nil {
		return false
	}
	s.getStream = stream
	return true
}

func (s *streamableSession) detachGetStream(stream *sseStream) {
	s.mu.Lock()
	if s.getStream == stream {
		s.getStream = nil
	}
	s.mu.Unlock()
	stream.detach()
}
