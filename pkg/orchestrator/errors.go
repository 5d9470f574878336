package orchestrator

import "errors"

var (

	ErrEmptyTranscription = errors.New("transcription returned empty text")


	ErrTranscriptionFailed = errors.New("speech-to-text transcription failed")


	ErrLLMFailed = errors.New("language model generation failed")


	ErrTTSFailed = errors.New("text-to-speech synthesis failed")


	ErrNilProvider = errors.New("required provider is nil")


	ErrContextCancelled = errors.New("operation cancelled by context")

	// ErrAtCapacity is returned by CallRegistry.Admit when the configured
	// maximum of concurrent calls is already reached.
	ErrAtCapacity = errors.New("call registry at capacity")

	// ErrTransportFailure marks a mid-call transport drop. The call is
	// terminated and marked disconnected; no retry is attempted.
	ErrTransportFailure = errors.New("media transport failed")

	// ErrUpstreamUnavailable wraps STT/LLM/TTS provider failures that
	// survive adapter-local retry. The orchestrator reacts with a fallback
	// utterance then transitions toward Transferring.
	ErrUpstreamUnavailable = errors.New("upstream provider unavailable")

	// ErrParseFailure marks a malformed LLM extraction response. Treated as
	// empty items, not a fatal call error.
	ErrParseFailure = errors.New("response parse failure")

	// ErrNotFound marks an empty catalog search result for a requested item.
	ErrNotFound = errors.New("product not found")

	// ErrOutOfStock marks a failed stock check for an otherwise-matched item.
	ErrOutOfStock = errors.New("product out of stock")

	// ErrInsufficientStock marks a reservation race lost at order-create
	// time, after the dialogue-time stock check already passed.
	ErrInsufficientStock = errors.New("insufficient stock to reserve")

	// ErrTimeout marks a per-operation deadline breach (§5). The dialogue
	// transitions to Error.
	ErrTimeout = errors.New("operation deadline exceeded")

	// ErrInvalidState marks a disallowed state transition attempt. Callers
	// log and continue; it never fails the call.
	ErrInvalidState = errors.New("disallowed state transition")

	// ErrUnknownCall is returned by CallOrchestrator.ServeMedia when callID
	// has no admitted call (never started, or already ended).
	ErrUnknownCall = errors.New("unknown call id")
)
