package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/lokutor-ai/pharma-voice-agent/pkg/transport"
)

type fakeMediaSession struct {
	frames chan transport.Frame
	events chan transport.Event
	writes chan []byte
	stopped bool
}

func newFakeMediaSession() *fakeMediaSession {
	return &fakeMediaSession{
		frames: make(chan transport.Frame, 8),
		events: make(chan transport.Event, 2),
		writes: make(chan []byte, 8),
	}
}

func (f *fakeMediaSession) ID() string                        { return "call-1" }
func (f *fakeMediaSession) Frames() <-chan transport.Frame     { return f.frames }
func (f *fakeMediaSession) Events() <-chan transport.Event     { return f.events }
func (f *fakeMediaSession) Write(ctx context.Context, p []byte) error {
	f.writes <- p
	return nil
}
func (f *fakeMediaSession) Stop(ctx context.Context) error {
	f.stopped = true
	return nil
}

func TestServeMediaForwardsAudioChunksAndEndsOnSessionStop(t *testing.T) {
	deps := newDeps(&fakeCatalog{}, &fakeStock{}, &fakeExtractor{}, &fakeSink{})
	co := testCallOrchestrator(deps)

	stream, err := co.StartCall(context.Background(), "call-1", "+1555")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer stream.Close()

	session := newFakeMediaSession()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- co.ServeMedia(ctx, "call-1", session)
	}()

	// Pushed directly to the events channel (not via emit) to bypass
	// ManagedStream's speaking-state gate, which is irrelevant to what this
	// test exercises: ServeMedia's forwarding loop.
	stream.events <- OrchestratorEvent{Type: AudioChunk, SessionID: "call-1", Data: []byte{1, 2, 3}}

	select {
	case chunk := <-session.writes:
		if string(chunk) != string([]byte{1, 2, 3}) {
			t.Errorf("unexpected forwarded chunk: %v", chunk)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for forwarded audio chunk")
	}

	session.events <- transport.Event{Type: transport.SessionStop, SessionID: "call-1"}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error from ServeMedia: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ServeMedia to return")
	}

	if !session.stopped {
		t.Error("expected session.Stop to be called")
	}
	if co.CallContextFor("call-1") != nil {
		t.Error("expected call to be ended after ServeMedia returns")
	}
}

func TestServeMediaReturnsErrUnknownCall(t *testing.T) {
	deps := newDeps(&fakeCatalog{}, &fakeStock{}, &fakeExtractor{}, &fakeSink{})
	co := testCallOrchestrator(deps)

	session := newFakeMediaSession()
	err := co.ServeMedia(context.Background(), "no-such-call", session)
	if err != ErrUnknownCall {
		t.Fatalf("expected ErrUnknownCall, got %v", err)
	}
}
