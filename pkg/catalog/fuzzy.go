package catalog

import (
	"sort"
	"strings"

	"github.com/lokutor-ai/pharma-voice-agent/pkg/orchestrator"
)

// fuzzyScore is the fixed score assigned to a substring-containment match
// (spec.md §4.3: "optional fuzzy fallback ... yields score 0.7").
const fuzzyScore = 0.7

// FuzzyIndex is the in-memory substring-containment fallback consulted
// only when the semantic search returns empty. It holds a small, read-mostly
// snapshot of the catalog's display names, refreshed alongside the
// Postgres-backed index.
type FuzzyIndex struct {
	products []orchestrator.Candidate
}

// NewFuzzyIndex builds a fallback index from a snapshot of catalog entries.
func NewFuzzyIndex(products []orchestrator.Candidate) *FuzzyIndex {
	return &FuzzyIndex{products: products}
}

// Search returns up to k products whose display name contains query as a
// case-insensitive substring, all scored fuzzyScore, ties broken by product
// key.
func (f *FuzzyIndex) Search(query string, k int) []orchestrator.Candidate {
	q := strings.ToLower(query)
	var matches []orchestrator.Candidate
	for _, p := range f.products {
		if strings.Contains(strings.ToLower(p.DisplayName), q) {
			m := p
			m.Score = fuzzyScore
			matches = append(matches, m)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].ProductKey < matches[j].ProductKey
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}
