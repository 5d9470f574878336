// Package catalog implements CatalogIndex (spec.md §4.3): semantic product
// search over a pgvector-backed table, with a substring-containment
// fallback consulted only when the semantic search returns empty.
package catalog

import (
	"context"

	"github.com/lokutor-ai/pharma-voice-agent/pkg/orchestrator"
)

// EmbeddingProvider turns free text into the embedding space the index is
// built over. A thin capability, kept separate from Index so the index can
// be tested with a deterministic fake embedder.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Index implements orchestrator.CatalogSearcher. Search returns at most k
// results with score ≥ minScore (default 0.5), sorted by descending score;
// ties are broken by product key. An empty result is returned — never an
// error — when nothing passes the threshold and the fuzzy fallback also
// misses.
type Index struct {
	store    searchStore
	embedder EmbeddingProvider
	fuzzy    *FuzzyIndex
}

// searchStore is the narrow persistence capability Index needs; Postgres
// satisfies it (postgres.go).
type searchStore interface {
	searchByEmbedding(ctx context.Context, embedding []float32, k int, minScore float64) ([]orchestrator.Candidate, error)
}

// NewIndex wires a persistence store, an embedder, and the in-memory fuzzy
// fallback together.
func NewIndex(store searchStore, embedder EmbeddingProvider, fuzzy *FuzzyIndex) *Index {
	return &Index{store: store, embedder: embedder, fuzzy: fuzzy}
}

// Search implements orchestrator.CatalogSearcher.
func (ix *Index) Search(ctx context.Context, query string, k int, minScore float64) ([]orchestrator.Candidate, error) {
	if minScore <= 0 {
		minScore = 0.5
	}

	embedding, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return ix.fallback(query, k)
	}

	results, err := ix.store.searchByEmbedding(ctx, embedding, k, minScore)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return ix.fallback(query, k)
	}
	return results, nil
}

func (ix *Index) fallback(query string, k int) ([]orchestrator.Candidate, error) {
	if ix.fuzzy == nil {
		return []orchestrator.Candidate{}, nil
	}
	if matches := ix.fuzzy.Search(query, k); len(matches) > 0 {
		return matches, nil
	}
	return []orchestrator.Candidate{}, nil
}
