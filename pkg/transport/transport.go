// Package transport implements the MediaTransport adapter: it terminates a
// bidirectional media session over a websocket, decoding inbound audio
// frames and accepting outbound ones, and reports session start/stop to the
// caller. The wire idiom (coder/websocket, one connection per logical
// stream) follows the teacher's own TTS client in
// pkg/providers/tts/lokutor.go; here the module plays the server side
// instead of the client side.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Frame is one inbound audio frame from the telephony side.
type Frame struct {
	SessionID string    `json:"sessionId"`
	Timestamp time.Time `json:"timestamp"`
	Payload   []byte    `json:"payload"`
	Codec     string    `json:"codec"`
}

// EventType distinguishes session lifecycle notifications from audio frames
// on the inbound stream.
type EventType string

const (
	SessionStart EventType = "SESSION_START"
	SessionStop  EventType = "SESSION_STOP"
)

// Event reports a session lifecycle transition.
type Event struct {
	Type      EventType
	SessionID string
	Codec     string
}

// defaultCodec is assumed when the peer's session-start control message
// doesn't name one (spec.md §4.1: "companded 8 kHz mono by default").
const defaultCodec = "mulaw/8000"

// Session is one accepted bidirectional media connection.
type Session struct {
	id     string
	codec  string
	conn   *websocket.Conn
	frames chan Frame
	events chan Event

	mu     sync.Mutex
	closed bool
}

// ID returns the session's sessionId, assigned by the peer's session-start
// control message.
func (s *Session) ID() string { return s.id }

// Frames yields inbound audio frames until the session stops.
func (s *Session) Frames() <-chan Frame { return s.frames }

// Events yields session lifecycle notifications (start once, stop once).
func (s *Session) Events() <-chan Event { return s.events }

// Write sends one outbound audio frame to the peer.
func (s *Session) Write(ctx context.Context, payload []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errors.New("transport: session closed")
	}
	return s.conn.Write(ctx, websocket.MessageBinary, payload)
}

// Stop signals end of session to the peer and tears down the connection.
// Safe to call more than once.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.conn.Close(websocket.StatusNormalClosure, "session stopped")
}

// controlMessage is the JSON envelope a peer sends before the first binary
// audio frame, and optionally again at teardown.
type controlMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Codec     string `json:"codec"`
}

// Server accepts inbound media connections and hands each one back as a
// Session. One Server typically backs one HTTP listener; CallOrchestrator
// pairs each accepted Session with a call.
type Server struct {
	acceptOptions *websocket.AcceptOptions
}

// NewServer builds a Server. acceptOptions may be nil to accept the
// websocket library's defaults.
func NewServer(acceptOptions *websocket.AcceptOptions) *Server {
	return &Server{acceptOptions: acceptOptions}
}

// Accept upgrades an inbound HTTP request to a websocket, reads the
// session-start control message, and returns a Session whose Frames/Events
// channels are fed by a background read loop. The caller is responsible for
// calling Stop (directly or via the returned Session) when done.
func (srv *Server) Accept(w http.ResponseWriter, r *http.Request) (*Session, error) {
	conn, err := websocket.Accept(w, r, srv.acceptOptions)
	if err != nil {
		return nil, fmt.Errorf("transport: accept: %w", err)
	}

	ctx := r.Context()
	var start controlMessage
	if err := readJSON(ctx, conn, &start); err != nil {
		conn.Close(websocket.StatusProtocolError, "missing session-start")
		return nil, fmt.Errorf("transport: session-start: %w", err)
	}
	if start.Type != string(SessionStart) || start.SessionID == "" {
		conn.Close(websocket.StatusProtocolError, "invalid session-start")
		return nil, errors.New("transport: expected session-start control message")
	}
	codec := start.Codec
	if codec == "" {
		codec = defaultCodec
	}

	s := &Session{
		id:     start.SessionID,
		codec:  codec,
		conn:   conn,
		frames: make(chan Frame, 32),
		events: make(chan Event, 2),
	}
	s.events <- Event{Type: SessionStart, SessionID: s.id, Codec: codec}

	go s.readLoop(ctx)

	return s, nil
}

func (s *Session) readLoop(ctx context.Context) {
	defer close(s.frames)
	defer func() {
		s.events <- Event{Type: SessionStop, SessionID: s.id}
		close(s.events)
	}()

	for {
		messageType, payload, err := s.conn.Read(ctx)
		if err != nil {
			return
		}
		switch messageType {
		case websocket.MessageBinary:
			select {
			case s.frames <- Frame{SessionID: s.id, Timestamp: frameTimestamp(), Payload: payload, Codec: s.codec}:
			case <-ctx.Done():
				return
			}
		case websocket.MessageText:
			var ctrl controlMessage
			if json.Unmarshal(payload, &ctrl) == nil && ctrl.Type == string(SessionStop) {
				return
			}
		}
	}
}

// frameTimestamp is split out so tests can stub it; production callers get
// wall-clock arrival time.
var frameTimestamp = func() time.Time { return time.Now() }

func readJSON(ctx context.Context, conn *websocket.Conn, v interface{}) error {
	messageType, payload, err := conn.Read(ctx)
	if err != nil {
		return err
	}
	if messageType != websocket.MessageText {
		return errors.New("transport: expected text control message")
	}
	return json.Unmarshal(payload, v)
}
