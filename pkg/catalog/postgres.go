package catalog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/lokutor-ai/pharma-voice-agent/pkg/orchestrator"
)

// Postgres is the pgvector-backed product catalog. Products are expected to
// carry a precomputed embedding of "displayName [+ category]".
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an already-configured pgx pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Upsert writes or replaces one product's row, embedding included. Admin
// surface only (spec.md §6: "upsert is admin-only, out of scope here") —
// exposed so an external seeding tool can populate the table; the
// orchestration core itself never calls it.
func (p *Postgres) Upsert(ctx context.Context, key, displayName, category string, unitPrice float64, embedding []float32) error {
	const q = `
		INSERT INTO products (key, display_name, category, unit_price, embedding)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key) DO UPDATE SET
		    display_name = EXCLUDED.display_name,
		    category     = EXCLUDED.category,
		    unit_price   = EXCLUDED.unit_price,
		    embedding    = EXCLUDED.embedding`

	_, err := p.pool.Exec(ctx, q, key, displayName, category, unitPrice, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("catalog: upsert product: %w", err)
	}
	return nil
}

// searchByEmbedding ranks products by cosine distance to embedding,
// returning at most k whose derived score (1 - distance) is ≥ minScore.
func (p *Postgres) searchByEmbedding(ctx context.Context, embedding []float32, k int, minScore float64) ([]orchestrator.Candidate, error) {
	queryVec := pgvector.NewVector(embedding)

	const q = `
		SELECT key, display_name, unit_price, 1 - (embedding <=> $1) AS score
		FROM   products
		ORDER  BY embedding <=> $1, key
		LIMIT  $2`

	rows, err := p.pool.Query(ctx, q, queryVec, k)
	if err != nil {
		return nil, fmt.Errorf("catalog: search: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (orchestrator.Candidate, error) {
		var c orchestrator.Candidate
		if err := row.Scan(&c.ProductKey, &c.DisplayName, &c.UnitPrice, &c.Score); err != nil {
			return orchestrator.Candidate{}, err
		}
		return c, nil
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: scan rows: %w", err)
	}

	filtered := make([]orchestrator.Candidate, 0, len(results))
	for _, c := range results {
		if c.Score >= minScore {
			filtered = append(filtered, c)
		}
	}
	return filtered, nil
}
