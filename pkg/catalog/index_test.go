package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/lokutor-ai/pharma-voice-agent/pkg/orchestrator"
)

type fakeStore struct {
	results []orchestrator.Candidate
	err     error
}

func (f *fakeStore) searchByEmbedding(ctx context.Context, embedding []float32, k int, minScore float64) ([]orchestrator.Candidate, error) {
	return f.results, f.err
}

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2}, f.err
}

func TestIndexSearchReturnsSemanticResults(t *testing.T) {
	store := &fakeStore{results: []orchestrator.Candidate{{ProductKey: "p1", DisplayName: "Doliprane", Score: 0.9}}}
	ix := NewIndex(store, &fakeEmbedder{}, nil)

	results, err := ix.Search(context.Background(), "doliprane", 3, 0.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].ProductKey != "p1" {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestIndexSearchEmptyFallsBackToFuzzy(t *testing.T) {
	store := &fakeStore{results: nil}
	fuzzy := NewFuzzyIndex([]orchestrator.Candidate{{ProductKey: "p2", DisplayName: "Spasfon"}})
	ix := NewIndex(store, &fakeEmbedder{}, fuzzy)

	results, err := ix.Search(context.Background(), "spas", 3, 0.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].Score != fuzzyScore {
		t.Fatalf("expected one fuzzy-scored result, got %+v", results)
	}
}

func TestIndexSearchEmptyNeverNil(t *testing.T) {
	store := &fakeStore{results: nil}
	ix := NewIndex(store, &fakeEmbedder{}, nil)

	results, err := ix.Search(context.Background(), "nothing", 3, 0.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results == nil {
		t.Fatal("expected a non-nil empty slice, never nil/fail")
	}
	if len(results) != 0 {
		t.Fatalf("expected no matches, got %+v", results)
	}
}

func TestIndexSearchEmbedderErrorFallsBack(t *testing.T) {
	store := &fakeStore{}
	fuzzy := NewFuzzyIndex([]orchestrator.Candidate{{ProductKey: "p3", DisplayName: "Doliprane 1000"}})
	ix := NewIndex(store, &fakeEmbedder{err: errors.New("embed service down")}, fuzzy)

	results, err := ix.Search(context.Background(), "doliprane", 3, 0.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected fuzzy fallback on embed error, got %+v", results)
	}
}

func TestFuzzyIndexTieBreakByKey(t *testing.T) {
	fuzzy := NewFuzzyIndex([]orchestrator.Candidate{
		{ProductKey: "zzz", DisplayName: "Aspirin forte"},
		{ProductKey: "aaa", DisplayName: "Aspirin light"},
	})
	results := fuzzy.Search("aspirin", 5)
	if len(results) != 2 || results[0].ProductKey != "aaa" {
		t.Fatalf("expected tie broken by ascending key, got %+v", results)
	}
}
