package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Candidate is one ranked result of a CatalogIndex search.
type Candidate struct {
	ProductKey  string
	DisplayName string
	UnitPrice   float64
	Score       float64
}

// CatalogSearcher is the narrow capability the state machine needs from
// CatalogIndex (C4). Concrete implementations live in pkg/catalog.
type CatalogSearcher interface {
	Search(ctx context.Context, query string, k int, minScore float64) ([]Candidate, error)
}

// StockChecker is the narrow capability the state machine needs from
// StockService (C5). Concrete implementations live in pkg/stock.
type StockChecker interface {
	CheckStock(ctx context.Context, productKey string, qty int) (bool, error)
}

// Order is the payload handed to OrderSink.Create on affirmative
// confirmation (spec.md §4.10).
type Order struct {
	CallID            string
	TenantKey         string
	Items             []OrderDraftItem
	AverageConfidence float64
	AnyOutOfStock     bool
}

// OrderResult is OrderSink.Create's return value.
type OrderResult struct {
	OrderID             string
	RequiresHumanReview bool
	ReviewReason        string
}

// OrderCreator is the narrow capability the state machine needs from
// OrderSink. Concrete implementations live in pkg/ordersink.
type OrderCreator interface {
	Create(ctx context.Context, order Order) (OrderResult, error)
}

// Dependencies bundles the four external collaborators the dialogue
// handler calls. Passing them in (rather than holding a back-reference to
// the orchestrator) is what keeps Handle a pure function usable with
// hand-written fakes in tests.
type Dependencies struct {
	Catalog   CatalogSearcher
	Stock     StockChecker
	Extractor LLMExtractor
	Sink      OrderCreator
	Logger    Logger
}

// Effects is everything the per-utterance handler produced: the machine's
// resulting state and the utterances the orchestrator must hand to TTS, in
// order.
type Effects struct {
	NextState    DialogueState
	Utterances   []string
	Transitioned bool
	Terminal     bool // Completed or Transferring reached
}

var finalizeKeywords = []string{"that's all", "i confirm", "i validate", "that's good", "finished", "done"}
var affirmativeKeywords = []string{"yes", "ok", "validate", "confirm", "agreed"}
var additiveKeywords = []string{"add", "also", "again", "more"}

func matchesAny(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// errorEffects transitions cc to StateError and produces the fixed
// technical-problem utterance. Shared by every suspension point in this
// file that can breach its per-operation deadline (spec.md §5: "Deadline
// breach transitions the machine to Error").
func errorEffects(cc *CallContext, logger Logger) Effects {
	cc.TransitionTo(StateError, logger)
	return Effects{
		NextState:    cc.State,
		Utterances:   []string{"Sorry, I'm having a technical problem. Let me transfer you."},
		Transitioned: true,
	}
}

// Handle runs the per-utterance handler of spec.md §4.8 against a single
// final transcript. It mutates cc in place (the call's single writer is the
// only caller of Handle for that call) and returns the utterances produced.
//
// deps.Logger may be nil; a NoOpLogger is substituted.
func Handle(ctx context.Context, cc *CallContext, t Transcript, deps Dependencies, cfg Config) Effects {
	if deps.Logger == nil {
		deps.Logger = &NoOpLogger{}
	}

	// 1. Normalization.
	cc.AppendTurn("user", t.Text)
	cc.AppendConfidence(t.Confidence)
	cc.LastTranscript = t.Text

	// 2. Escalation check.
	if cc.ShouldEscalate(cfg) {
		cc.TransitionTo(StateTransferring, deps.Logger)
		return Effects{
			NextState:    cc.State,
			Utterances:   []string{"I'm transferring you to a human agent, please hold."},
			Transitioned: true,
			Terminal:     true,
		}
	}

	return dispatch(ctx, cc, t.Confidence, deps, cfg)
}

// dispatch is the state-dispatch step (§4.8 step 3), factored out so the
// Greeting/Clarifying/Confirming branches can recurse into Collecting at an
// injected confidence floor without re-running normalization or the
// escalation check (per "Numeric semantics": injected floors are never
// appended to the measured confidence sequence).
func dispatch(ctx context.Context, cc *CallContext, confidence float64, deps Dependencies, cfg Config) Effects {
	switch cc.State {
	case StateGreeting:
		cc.TransitionTo(StateCollecting, deps.Logger)
		eff := dispatch(ctx, cc, 0.95, deps, cfg)
		eff.Transitioned = true
		return eff

	case StateCollecting:
		return handleCollecting(ctx, cc, confidence, deps, cfg)

	case StateClarifying:
		cc.TransitionTo(StateCollecting, deps.Logger)
		eff := dispatch(ctx, cc, 0.85, deps, cfg)
		eff.Transitioned = true
		return eff

	case StateConfirming:
		return handleConfirming(ctx, cc, confidence, deps, cfg)

	default:
		return Effects{NextState: cc.State}
	}
}

func handleCollecting(ctx context.Context, cc *CallContext, confidence float64, deps Dependencies, cfg Config) Effects {
	text := cc.LastTranscript

	if matchesAny(text, finalizeKeywords) {
		cc.TransitionTo(StateConfirming, deps.Logger)
		recap := recapUtterance(cc.ActiveItems())
		return Effects{NextState: cc.State, Utterances: []string{recap}, Transitioned: true}
	}

	if confidence < 0.70 {
		attempts := cc.IncrementAttempts()
		_ = attempts
		if cc.ShouldEscalate(cfg) {
			cc.TransitionTo(StateTransferring, deps.Logger)
			return Effects{
				NextState:    cc.State,
				Utterances:   []string{"I'm transferring you to a human agent, please hold."},
				Transitioned: true,
				Terminal:     true,
			}
		}
		cc.TransitionTo(StateClarifying, deps.Logger)
		return Effects{
			NextState:    cc.State,
			Utterances:   []string{"Sorry, I didn't quite catch that. Could you repeat?"},
			Transitioned: true,
		}
	}

	extractCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.LLMTimeout)*time.Second)
	extraction, err := deps.Extractor.Extract(extractCtx, text, cc.RecentMessages(5))
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return errorEffects(cc, deps.Logger)
		}
		extraction = ExtractionResult{}
	}

	if len(extraction.Items) == 0 {
		return Effects{
			NextState:  cc.State,
			Utterances: []string{"I didn't catch the product. Can you repeat?"},
		}
	}

	var fragments []string
	for _, extracted := range extraction.Items {
		fragment, aborted := processExtractedItem(ctx, cc, extracted, deps, cfg)
		if aborted {
			return errorEffects(cc, deps.Logger)
		}
		fragments = append(fragments, fragment)
	}

	utterance := strings.Join(fragments, " ")
	cc.AppendTurn("assistant", utterance)
	return Effects{NextState: cc.State, Utterances: []string{utterance}}
}

// processExtractedItem runs the per-item Catalog+Stock lookup of §4.8 step
// 3's Collecting branch and appends an OrderDraftItem only when both the
// catalog match and the stock check succeed (spec.md §3 invariant I6). Items
// are processed strictly in extractor order (never fanned out concurrently)
// per spec.md §4.8's "order returned by the extractor" requirement.
//
// The second return value reports whether a per-operation deadline was
// breached (Catalog or Stock); the caller aborts the whole utterance to
// StateError when it is, rather than reporting a misleading not-found or
// out-of-stock fragment for a call that never actually completed.
func processExtractedItem(ctx context.Context, cc *CallContext, item ExtractedItem, deps Dependencies, cfg Config) (string, bool) {
	qty := item.Quantity
	if qty == 0 {
		qty = 1
	}
	unit := item.Unit
	if unit == "" {
		unit = "boxes"
	}
	if qty <= 0 || qty > 1000 {
		return fmt.Sprintf("Sorry, %s was not found.", item.Name), false
	}

	catalogCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.CatalogTimeout)*time.Second)
	candidates, err := deps.Catalog.Search(catalogCtx, item.Name, 3, cfg.MinMatchScore)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", true
		}
		return fmt.Sprintf("Sorry, %s was not found.", item.Name), false
	}
	if len(candidates) == 0 {
		return fmt.Sprintf("Sorry, %s was not found.", item.Name), false
	}
	best := candidates[0]

	stockCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.StockTimeout)*time.Second)
	inStock, err := deps.Stock.CheckStock(stockCtx, best.ProductKey, qty)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", true
		}
		cc.MarkOutOfStock()
		return fmt.Sprintf("Sorry, %s is out of stock.", best.DisplayName), false
	}
	if !inStock {
		cc.MarkOutOfStock()
		return fmt.Sprintf("Sorry, %s is out of stock.", best.DisplayName), false
	}

	cc.AddItem(OrderDraftItem{
		ProductKey:       best.ProductKey,
		DisplayName:      best.DisplayName,
		Quantity:         qty,
		Unit:             unit,
		UnitPrice:        best.UnitPrice,
		MatchScore:       best.Score,
		SourceTranscript: item.Name,
		LineStatus:       LineOK,
	})
	return fmt.Sprintf("Noted, %d %s of %s.", qty, unit, best.DisplayName), false
}

func recapUtterance(items []OrderDraftItem) string {
	if len(items) == 0 {
		return "Shall I confirm?"
	}
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, fmt.Sprintf("%d %s of %s", it.Quantity, it.Unit, it.DisplayName))
	}
	return strings.Join(parts, ", ") + ". Shall I confirm?"
}

func handleConfirming(ctx context.Context, cc *CallContext, confidence float64, deps Dependencies, cfg Config) Effects {
	text := cc.LastTranscript

	// Affirmative and additive sets are disjoint by design; if a transcript
	// somehow matches both, affirmative wins (spec.md §4.8 tie-break).
	if matchesAny(text, affirmativeKeywords) {
		cc.TransitionTo(StateProcessing, deps.Logger)
		sinkCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.OrderSinkTimeout)*time.Second)
		result, err := deps.Sink.Create(sinkCtx, Order{
			CallID:            cc.CallID,
			TenantKey:         cc.TenantKey,
			Items:             cc.ActiveItems(),
			AverageConfidence: cc.AverageConfidence(),
			AnyOutOfStock:     cc.AnyOutOfStock,
		})
		cancel()
		if err != nil {
			return errorEffects(cc, deps.Logger)
		}
		cc.TransitionTo(StateCompleted, deps.Logger)
		return Effects{
			NextState:    cc.State,
			Utterances:   []string{fmt.Sprintf("Your order %s has been confirmed. Thank you!", result.OrderID)},
			Transitioned: true,
			Terminal:     true,
		}
	}

	if matchesAny(text, additiveKeywords) {
		cc.TransitionTo(StateCollecting, deps.Logger)
		return dispatch(ctx, cc, 0.90, deps, cfg)
	}

	cc.TransitionTo(StateCollecting, deps.Logger)
	return Effects{
		NextState:    cc.State,
		Utterances:   []string{"Alright, what would you like to change?"},
		Transitioned: true,
	}
}

