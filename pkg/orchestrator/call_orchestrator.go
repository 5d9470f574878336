package orchestrator

import (
	"context"
	"sync"
	"time"
)

// CallOrchestrator is the per-call order-taking component (C9). It wires a
// CallRegistry, a ManagedStream per call, and Dependencies (catalog, stock,
// extraction, order sink) into DialogueStateMachine.Handle, replacing
// ManagedStream's default one-shot LLM completion via SetResponder.
//
// ManagedStream keeps owning the audio-level concerns (VAD, echo
// suppression, barge-in); CallOrchestrator only overrides how a final
// transcript turns into the assistant's reply.
type CallOrchestrator struct {
	orch     *Orchestrator
	registry *CallRegistry
	deps     Dependencies
	cfg      Config
	logger   Logger

	mu    sync.Mutex
	calls map[string]*callSession
}

type callSession struct {
	cc     *CallContext
	stream *ManagedStream
}

// NewCallOrchestrator wires the providers already bundled in orch together
// with the dialogue dependencies and capacity/staleness configuration.
func NewCallOrchestrator(orch *Orchestrator, deps Dependencies, cfg Config, logger Logger) *CallOrchestrator {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &CallOrchestrator{
		orch:     orch,
		registry: NewCallRegistry(cfg.MaxConcurrentCalls, logger),
		deps:     deps,
		cfg:      cfg,
		logger:   logger,
		calls:    make(map[string]*callSession),
	}
}

// StartCall admits a new call and returns its ManagedStream, already wired
// to drive DialogueStateMachine.Handle on every final transcript. Returns
// ErrAtCapacity when the registry is full.
func (co *CallOrchestrator) StartCall(ctx context.Context, callID, phone string) (*ManagedStream, error) {
	sessionCtx, cancel := context.WithTimeout(ctx, time.Duration(co.cfg.SessionTimeout)*time.Second)

	if _, err := co.registry.Admit(callID, phone, cancel); err != nil {
		cancel()
		return nil, err
	}

	cc := NewCallContext(callID, phone, co.cfg)
	session := NewConversationSession(callID)
	session.MaxMessages = co.cfg.MaxContextMessages

	stream := NewManagedStream(sessionCtx, co.orch, session)
	stream.SetResponder(co.responderFor(cc, stream))

	co.mu.Lock()
	co.calls[callID] = &callSession{cc: cc, stream: stream}
	co.mu.Unlock()

	cc.TransitionTo(StateGreeting, co.logger)
	return stream, nil
}

// EndCall releases the call's registry slot and drops its session state.
// Safe to call more than once for the same callID.
func (co *CallOrchestrator) EndCall(callID string) {
	co.registry.Release(callID)
	co.mu.Lock()
	delete(co.calls, callID)
	co.mu.Unlock()
}

// CallContextFor returns the live CallContext for an admitted call, or nil
// if callID is unknown.
func (co *CallOrchestrator) CallContextFor(callID string) *CallContext {
	co.mu.Lock()
	defer co.mu.Unlock()
	if cs, ok := co.calls[callID]; ok {
		return cs.cc
	}
	return nil
}

// ReapStale forwards to the registry; a ticking goroutine in cmd/agent calls
// this on an interval to cancel calls admitted longer ago than olderThan.
func (co *CallOrchestrator) ReapStale(olderThan time.Duration) int {
	return co.registry.ReapStale(olderThan)
}

// responderFor closes over one call's CallContext and its ManagedStream and
// produces the responder that drives the call through the dialogue machine.
// The confidence carried into Handle comes from stream.LastConfidence(),
// which the stream's batch STT stage populates via
// Orchestrator.TranscribeWithConfidence (1.0 for providers that don't
// report one). Handle itself applies the per-operation deadlines
// (cfg.LLMTimeout/CatalogTimeout/StockTimeout/OrderSinkTimeout) around each
// suspension point; ctx only needs to carry the call's overall session
// bound here, not a deadline of its own.
func (co *CallOrchestrator) responderFor(cc *CallContext, stream *ManagedStream) func(context.Context, *ConversationSession, string) (string, error) {
	return func(ctx context.Context, _ *ConversationSession, transcript string) (string, error) {
		t := Transcript{Text: transcript, IsFinal: true, Confidence: stream.LastConfidence()}
		effects := Handle(ctx, cc, t, co.deps, co.cfg)

		if effects.Terminal {
			co.EndCall(cc.CallID)
		}

		if len(effects.Utterances) == 0 {
			return "", nil
		}
		reply := effects.Utterances[0]
		for _, u := range effects.Utterances[1:] {
			reply += " " + u
		}
		return reply, nil
	}
}
