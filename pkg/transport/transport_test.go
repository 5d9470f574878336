package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func TestServerAcceptReportsSessionStartAndFrames(t *testing.T) {
	srv := NewServer(nil)

	sessions := make(chan *Session, 1)
	httpSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, err := srv.Accept(w, r)
		if err != nil {
			t.Errorf("Accept: %v", err)
			return
		}
		sessions <- s
	}))
	defer httpSrv.Close()

	conn, _, err := websocket.Dial(context.Background(), "ws://"+strings.TrimPrefix(httpSrv.URL, "http://"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "test done")

	start, _ := json.Marshal(controlMessage{Type: string(SessionStart), SessionID: "call-1", Codec: "mulaw/8000"})
	if err := conn.Write(context.Background(), websocket.MessageText, start); err != nil {
		t.Fatalf("write session-start: %v", err)
	}
	if err := conn.Write(context.Background(), websocket.MessageBinary, []byte{1, 2, 3}); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	var session *Session
	select {
	case session = <-sessions:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for accepted session")
	}

	select {
	case ev := <-session.Events():
		if ev.Type != SessionStart || ev.SessionID != "call-1" || ev.Codec != "mulaw/8000" {
			t.Fatalf("unexpected session-start event: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session-start event")
	}

	select {
	case frame := <-session.Frames():
		if string(frame.Payload) != string([]byte{1, 2, 3}) {
			t.Fatalf("unexpected frame payload: %v", frame.Payload)
		}
		if frame.SessionID != "call-1" {
			t.Errorf("expected sessionId call-1, got %q", frame.SessionID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbound frame")
	}
}

func TestServerAcceptRejectsMissingSessionStart(t *testing.T) {
	srv := NewServer(nil)

	errs := make(chan error, 1)
	httpSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := srv.Accept(w, r)
		errs <- err
	}))
	defer httpSrv.Close()

	conn, _, err := websocket.Dial(context.Background(), "ws://"+strings.TrimPrefix(httpSrv.URL, "http://"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "test done")

	if err := conn.Write(context.Background(), websocket.MessageBinary, []byte{9}); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case err := <-errs:
		if err == nil {
			t.Fatal("expected Accept to reject a connection whose first message isn't session-start")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Accept to return")
	}
}

func TestSessionWriteAndStop(t *testing.T) {
	srv := NewServer(nil)

	sessions := make(chan *Session, 1)
	httpSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, err := srv.Accept(w, r)
		if err != nil {
			return
		}
		sessions <- s
	}))
	defer httpSrv.Close()

	conn, _, err := websocket.Dial(context.Background(), "ws://"+strings.TrimPrefix(httpSrv.URL, "http://"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "test done")

	start, _ := json.Marshal(controlMessage{Type: string(SessionStart), SessionID: "call-2"})
	if err := conn.Write(context.Background(), websocket.MessageText, start); err != nil {
		t.Fatalf("write session-start: %v", err)
	}

	var session *Session
	select {
	case session = <-sessions:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for accepted session")
	}
	<-session.Events() // drain session-start

	if err := session.Write(context.Background(), []byte{7, 8, 9}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	_, payload, err := conn.Read(context.Background())
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	if string(payload) != string([]byte{7, 8, 9}) {
		t.Errorf("expected echoed payload, got %v", payload)
	}

	if err := session.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := session.Stop(context.Background()); err != nil {
		t.Fatalf("Stop should be idempotent: %v", err)
	}
	if err := session.Write(context.Background(), []byte{1}); err == nil {
		t.Error("expected Write to fail on a stopped session")
	}
}
