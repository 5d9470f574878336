package orchestrator

import (
	"context"
	"errors"
	"testing"
)

type fakeCatalog struct {
	results map[string][]Candidate
	err     error
}

func (f *fakeCatalog) Search(ctx context.Context, query string, k int, minScore float64) ([]Candidate, error) {
	return f.results[query], f.err
}

type fakeStock struct {
	inStock map[string]bool
	err     error
}

func (f *fakeStock) CheckStock(ctx context.Context, productKey string, qty int) (bool, error) {
	return f.inStock[productKey], f.err
}

type fakeExtractor struct {
	result ExtractionResult
	err    error
}

func (f *fakeExtractor) Extract(ctx context.Context, finalTranscript string, recentTurns []Message) (ExtractionResult, error) {
	return f.result, f.err
}

type fakeSink struct {
	result   OrderResult
	err      error
	gotOrder Order
}

func (f *fakeSink) Create(ctx context.Context, order Order) (OrderResult, error) {
	f.gotOrder = order
	return f.result, f.err
}

func newDeps(catalog CatalogSearcher, stock StockChecker, extractor LLMExtractor, sink OrderCreator) Dependencies {
	return Dependencies{Catalog: catalog, Stock: stock, Extractor: extractor, Sink: sink, Logger: &NoOpLogger{}}
}

func TestHandleGreetingTransitionsAndRecurses(t *testing.T) {
	cfg := DefaultConfig()
	cc := NewCallContext("c1", "+1", cfg)
	cc.State = StateGreeting
	deps := newDeps(&fakeCatalog{}, &fakeStock{}, &fakeExtractor{result: ExtractionResult{}}, &fakeSink{})

	eff := Handle(context.Background(), cc, Transcript{Text: "I'd like some aspirin", Confidence: 0.93}, deps, cfg)

	if cc.State != StateCollecting {
		t.Fatalf("expected Collecting, got %v", cc.State)
	}
	if !eff.Transitioned {
		t.Error("expected Transitioned true")
	}
	// the floor confidence (0.95) injected for the Greeting recursion must
	// not have been appended to the measured sequence.
	if len(cc.Confidence) != 1 || cc.Confidence[0] != 0.93 {
		t.Errorf("expected only the measured confidence 0.93 recorded, got %v", cc.Confidence)
	}
}

func TestHandleHappyPath(t *testing.T) {
	cfg := DefaultConfig()
	cc := NewCallContext("c1", "+229000001", cfg)
	cc.State = StateCollecting

	catalog := &fakeCatalog{results: map[string][]Candidate{
		"Doliprane 1000": {{ProductKey: "p1", DisplayName: "Doliprane 1000mg", UnitPrice: 5.5, Score: 0.88}},
	}}
	stock := &fakeStock{inStock: map[string]bool{"p1": true}}
	extractor := &fakeExtractor{result: ExtractionResult{Items: []ExtractedItem{{Name: "Doliprane 1000", Quantity: 10, Unit: "boxes"}}}}
	sink := &fakeSink{result: OrderResult{OrderID: "CMD-1"}}
	deps := newDeps(catalog, stock, extractor, sink)

	eff := Handle(context.Background(), cc, Transcript{Text: "I'd like 10 boxes of Doliprane 1000", Confidence: 0.93}, deps, cfg)
	if len(eff.Utterances) != 1 {
		t.Fatalf("expected one utterance, got %v", eff.Utterances)
	}
	if len(cc.Items) != 1 || cc.Items[0].LineStatus != LineOK {
		t.Fatalf("expected one ok item, got %+v", cc.Items)
	}

	eff = Handle(context.Background(), cc, Transcript{Text: "that's all", Confidence: 0.95}, deps, cfg)
	if cc.State != StateConfirming {
		t.Fatalf("expected Confirming, got %v", cc.State)
	}
	if len(eff.Utterances) != 1 {
		t.Fatalf("expected a recap utterance")
	}

	eff = Handle(context.Background(), cc, Transcript{Text: "yes", Confidence: 0.95}, deps, cfg)
	if cc.State != StateCompleted {
		t.Fatalf("expected Completed, got %v", cc.State)
	}
	if !eff.Terminal {
		t.Error("expected terminal effect")
	}
	if sink.gotOrder.CallID != "c1" {
		t.Errorf("expected sink to receive callID c1, got %q", sink.gotOrder.CallID)
	}
}

func TestHandleOutOfStockPath(t *testing.T) {
	cfg := DefaultConfig()
	cc := NewCallContext("c2", "", cfg)
	cc.State = StateCollecting

	catalog := &fakeCatalog{results: map[string][]Candidate{
		"Spasfon": {{ProductKey: "p2", DisplayName: "Spasfon", Score: 0.8}},
	}}
	stock := &fakeStock{inStock: map[string]bool{}}
	extractor := &fakeExtractor{result: ExtractionResult{Items: []ExtractedItem{{Name: "Spasfon", Quantity: 5, Unit: "boxes"}}}}
	sink := &fakeSink{result: OrderResult{OrderID: "CMD-2", RequiresHumanReview: true}}
	deps := newDeps(catalog, stock, extractor, sink)

	Handle(context.Background(), cc, Transcript{Text: "5 Spasfon", Confidence: 0.9}, deps, cfg)
	if len(cc.Items) != 0 {
		t.Fatalf("expected no item recorded for an out-of-stock match, got %+v", cc.Items)
	}
	if !cc.AnyOutOfStock {
		t.Fatal("expected AnyOutOfStock to be set")
	}

	eff := Handle(context.Background(), cc, Transcript{Text: "that's all", Confidence: 0.9}, deps, cfg)
	if cc.State != StateConfirming {
		t.Fatalf("expected Confirming, got %v", cc.State)
	}
	if len(eff.Utterances) != 1 || eff.Utterances[0] != "Shall I confirm?" {
		t.Errorf("expected an empty recap (no items survived the out-of-stock check), got %v", eff.Utterances)
	}

	Handle(context.Background(), cc, Transcript{Text: "yes", Confidence: 0.9}, deps, cfg)
	if cc.State != StateCompleted {
		t.Fatalf("expected Completed, got %v", cc.State)
	}
	if len(sink.gotOrder.Items) != 0 {
		t.Errorf("expected no items handed to the sink, got %+v", sink.gotOrder.Items)
	}
	if !sink.gotOrder.AnyOutOfStock {
		t.Error("expected the sink to see AnyOutOfStock so it can flag review")
	}
}

func TestHandleExtractorDeadlineGoesToError(t *testing.T) {
	cfg := DefaultConfig()
	cc := NewCallContext("c2a", "", cfg)
	cc.State = StateCollecting
	extractor := &fakeExtractor{err: context.DeadlineExceeded}
	deps := newDeps(&fakeCatalog{}, &fakeStock{}, extractor, &fakeSink{})

	eff := Handle(context.Background(), cc, Transcript{Text: "some aspirin", Confidence: 0.9}, deps, cfg)
	if cc.State != StateError {
		t.Fatalf("expected Error on extractor deadline breach, got %v", cc.State)
	}
	if len(eff.Utterances) != 1 {
		t.Errorf("expected one technical-problem utterance, got %v", eff.Utterances)
	}
}

func TestHandleCatalogDeadlineGoesToError(t *testing.T) {
	cfg := DefaultConfig()
	cc := NewCallContext("c2b", "", cfg)
	cc.State = StateCollecting
	catalog := &fakeCatalog{err: context.DeadlineExceeded}
	extractor := &fakeExtractor{result: ExtractionResult{Items: []ExtractedItem{{Name: "Doliprane", Quantity: 1, Unit: "boxes"}}}}
	deps := newDeps(catalog, &fakeStock{}, extractor, &fakeSink{})

	Handle(context.Background(), cc, Transcript{Text: "Doliprane", Confidence: 0.9}, deps, cfg)
	if cc.State != StateError {
		t.Fatalf("expected Error on catalog deadline breach, got %v", cc.State)
	}
	if len(cc.Items) != 0 {
		t.Errorf("expected no item recorded on deadline breach, got %+v", cc.Items)
	}
}

func TestHandleStockDeadlineGoesToError(t *testing.T) {
	cfg := DefaultConfig()
	cc := NewCallContext("c2c", "", cfg)
	cc.State = StateCollecting
	catalog := &fakeCatalog{results: map[string][]Candidate{
		"Doliprane": {{ProductKey: "p1", DisplayName: "Doliprane", Score: 0.9}},
	}}
	stock := &fakeStock{err: context.DeadlineExceeded}
	extractor := &fakeExtractor{result: ExtractionResult{Items: []ExtractedItem{{Name: "Doliprane", Quantity: 1, Unit: "boxes"}}}}
	deps := newDeps(catalog, stock, extractor, &fakeSink{})

	Handle(context.Background(), cc, Transcript{Text: "Doliprane", Confidence: 0.9}, deps, cfg)
	if cc.State != StateError {
		t.Fatalf("expected Error on stock deadline breach, got %v", cc.State)
	}
	if cc.AnyOutOfStock {
		t.Error("a deadline breach must not be recorded as out-of-stock")
	}
}

func TestHandleEmptyExtractionDoesNotIncrementAttempts(t *testing.T) {
	cfg := DefaultConfig()
	cc := NewCallContext("c3", "", cfg)
	cc.State = StateCollecting
	deps := newDeps(&fakeCatalog{}, &fakeStock{}, &fakeExtractor{result: ExtractionResult{}}, &fakeSink{})

	Handle(context.Background(), cc, Transcript{Text: "uh something", Confidence: 0.9}, deps, cfg)
	if cc.Attempts != 0 {
		t.Errorf("expected attempts unchanged on empty extraction, got %d", cc.Attempts)
	}
	if cc.State != StateCollecting {
		t.Errorf("expected to remain in Collecting, got %v", cc.State)
	}
}

func TestHandleLowConfidenceGoesToClarifying(t *testing.T) {
	cfg := DefaultConfig()
	cc := NewCallContext("c4", "", cfg)
	cc.State = StateCollecting
	deps := newDeps(&fakeCatalog{}, &fakeStock{}, &fakeExtractor{}, &fakeSink{})

	// two earlier confident turns keep the mean (0.83) above the escalation
	// threshold, so the 0.5 turn reaches Collecting's low-confidence branch.
	cc.AppendConfidence(1.0)
	cc.AppendConfidence(1.0)

	Handle(context.Background(), cc, Transcript{Text: "mumble", Confidence: 0.5}, deps, cfg)
	if cc.State != StateClarifying {
		t.Fatalf("expected Clarifying, got %v", cc.State)
	}
	if cc.Attempts != 1 {
		t.Errorf("expected attempts incremented, got %d", cc.Attempts)
	}
}

func TestHandleEscalationOnLowMeanConfidence(t *testing.T) {
	cfg := DefaultConfig()
	cc := NewCallContext("c5", "", cfg)
	cc.State = StateCollecting
	deps := newDeps(&fakeCatalog{}, &fakeStock{}, &fakeExtractor{}, &fakeSink{})

	Handle(context.Background(), cc, Transcript{Text: "a", Confidence: 0.55}, deps, cfg)
	Handle(context.Background(), cc, Transcript{Text: "b", Confidence: 0.60}, deps, cfg)
	eff := Handle(context.Background(), cc, Transcript{Text: "c", Confidence: 0.62}, deps, cfg)

	if cc.State != StateTransferring {
		t.Fatalf("expected Transferring after repeated low confidence, got %v", cc.State)
	}
	if !eff.Terminal {
		t.Error("expected terminal effect on escalation")
	}
}

func TestHandleQuantityOutOfRangeTreatedAsNotFound(t *testing.T) {
	cfg := DefaultConfig()
	cc := NewCallContext("c6", "", cfg)
	cc.State = StateCollecting
	catalog := &fakeCatalog{results: map[string][]Candidate{
		"Doliprane": {{ProductKey: "p1", DisplayName: "Doliprane", Score: 0.9}},
	}}
	extractor := &fakeExtractor{result: ExtractionResult{Items: []ExtractedItem{{Name: "Doliprane", Quantity: 1001, Unit: "boxes"}}}}
	deps := newDeps(catalog, &fakeStock{}, extractor, &fakeSink{})

	Handle(context.Background(), cc, Transcript{Text: "1001 Doliprane", Confidence: 0.9}, deps, cfg)
	if len(cc.Items) != 0 {
		t.Errorf("expected no item recorded for out-of-range quantity, got %+v", cc.Items)
	}
}

func TestHandleFinalizeTakesPrecedenceOverAdditiveAmbiguity(t *testing.T) {
	// a transcript containing both a finalize and an additive keyword still
	// finalizes when in Collecting (finalize keyword match takes precedence
	// over confidence/extraction, per spec.md §4.8 tie-break).
	cfg := DefaultConfig()
	cc := NewCallContext("c7", "", cfg)
	cc.State = StateCollecting
	deps := newDeps(&fakeCatalog{}, &fakeStock{}, &fakeExtractor{}, &fakeSink{})

	Handle(context.Background(), cc, Transcript{Text: "also that's all", Confidence: 0.9}, deps, cfg)
	if cc.State != StateConfirming {
		t.Fatalf("expected Confirming, got %v", cc.State)
	}
}

func TestHandleConfirmingAffirmativeWinsOverAdditiveAmbiguity(t *testing.T) {
	cfg := DefaultConfig()
	cc := NewCallContext("c8", "", cfg)
	cc.State = StateConfirming
	sink := &fakeSink{result: OrderResult{OrderID: "CMD-9"}}
	deps := newDeps(&fakeCatalog{}, &fakeStock{}, &fakeExtractor{}, sink)

	Handle(context.Background(), cc, Transcript{Text: "yes also", Confidence: 0.9}, deps, cfg)
	if cc.State != StateCompleted {
		t.Fatalf("expected affirmative to win and reach Completed, got %v", cc.State)
	}
}

func TestHandleConfirmingAdditiveRecursesAtFloor(t *testing.T) {
	cfg := DefaultConfig()
	cc := NewCallContext("c9", "", cfg)
	cc.State = StateConfirming
	deps := newDeps(&fakeCatalog{}, &fakeStock{}, &fakeExtractor{result: ExtractionResult{}}, &fakeSink{})

	// two earlier confident turns keep the mean (0.73) above the escalation
	// threshold, so the 0.2 turn reaches the additive branch.
	cc.AppendConfidence(1.0)
	cc.AppendConfidence(1.0)

	Handle(context.Background(), cc, Transcript{Text: "add something", Confidence: 0.2}, deps, cfg)
	if cc.State != StateCollecting {
		t.Fatalf("expected Collecting after additive, got %v", cc.State)
	}
	// floor confidence 0.90 must not be appended; only the measured 0.2 is.
	if len(cc.Confidence) != 3 || cc.Confidence[2] != 0.2 {
		t.Errorf("expected only measured confidence recorded, got %v", cc.Confidence)
	}
}

func TestHandleOrderSinkFailureGoesToError(t *testing.T) {
	cfg := DefaultConfig()
	cc := NewCallContext("c10", "", cfg)
	cc.State = StateConfirming
	sink := &fakeSink{err: errors.New("erp unreachable")}
	deps := newDeps(&fakeCatalog{}, &fakeStock{}, &fakeExtractor{}, sink)

	Handle(context.Background(), cc, Transcript{Text: "yes", Confidence: 0.9}, deps, cfg)
	if cc.State != StateError {
		t.Fatalf("expected Error on sink failure, got %v", cc.State)
	}
}
