package orchestrator

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/lokutor-ai/pharma-voice-agent/pkg/transport"
)

// mediaSession is the subset of *transport.Session CallOrchestrator needs,
// so tests can substitute a fake without opening a real websocket.
type mediaSession interface {
	ID() string
	Frames() <-chan transport.Frame
	Events() <-chan transport.Event
	Write(ctx context.Context, payload []byte) error
	Stop(ctx context.Context) error
}

// ServeMedia bridges one accepted MediaTransport session to the call's
// ManagedStream by running the inbound and outbound legs as two cooperating
// loops (spec.md §4.9 step 4): inbound frames become stream.Write calls
// (the same audio-in path cmd/agent's malgo capture callback used for a
// local mic), and the stream's AudioChunk events become outbound transport
// writes. The two loops share one errgroup so that either side's failure —
// a transport read error, a write error, or session-stop — cancels the
// other and ServeMedia returns as soon as both have unwound, rather than
// leaking the loser. Grounded on MrWong99-glyphoxa/internal/hotctx/assembler.go's
// errgroup.WithContext fan-out/fan-in shape, here with exactly two legs
// instead of N.
func (co *CallOrchestrator) ServeMedia(ctx context.Context, callID string, session mediaSession) error {
	stream := co.streamFor(callID)
	if stream == nil {
		return ErrUnknownCall
	}
	defer session.Stop(ctx)
	defer co.EndCall(callID)

	g, gctx := errgroup.WithContext(ctx)
	legCtx, stopLegs := context.WithCancel(gctx)
	defer stopLegs()

	g.Go(func() error {
		defer stopLegs()
		for {
			select {
			case frame, ok := <-session.Frames():
				if !ok {
					return nil
				}
				_ = stream.Write(frame.Payload)
			case ev, ok := <-session.Events():
				if !ok {
					return nil
				}
				if ev.Type == transport.SessionStop {
					return nil
				}
			case <-legCtx.Done():
				return nil
			}
		}
	})

	g.Go(func() error {
		defer stopLegs()
		for {
			select {
			case ev, ok := <-stream.Events():
				if !ok {
					return nil
				}
				switch ev.Type {
				case AudioChunk:
					chunk, _ := ev.Data.([]byte)
					if err := session.Write(gctx, chunk); err != nil {
						return err
					}
				case Interrupted:
					// A bare stop-of-playback frame isn't part of the wire
					// contract here; the next AudioChunk simply supersedes it.
				}
			case <-legCtx.Done():
				return nil
			}
		}
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (co *CallOrchestrator) streamFor(callID string) *ManagedStream {
	co.mu.Lock()
	defer co.mu.Unlock()
	if cs, ok := co.calls[callID]; ok {
		return cs.stream
	}
	return nil
}
