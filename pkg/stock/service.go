// Package stock implements StockService (spec.md §4.6): stock reads backed
// by Postgres with a short-TTL Redis cache, and reservations that always
// bypass that cache.
package stock

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/lokutor-ai/pharma-voice-agent/pkg/orchestrator"
)

// cacheTTL bounds how long a stock read may be served from cache (spec.md
// §4.6: "Reads MAY be cached for up to a few seconds").
const cacheTTL = 5 * time.Second

// Service implements orchestrator.StockChecker plus reservation.
type Service struct {
	pool  *pgxpool.Pool
	cache *redis.Client
}

// New wires a Postgres pool and a Redis client together.
func New(pool *pgxpool.Pool, cache *redis.Client) *Service {
	return &Service{pool: pool, cache: cache}
}

type cachedLevel struct {
	Quantity int `json:"quantity"`
}

func cacheKey(productKey string) string {
	return "stock:" + productKey
}

// CheckStock implements orchestrator.StockChecker. A cache hit is trusted
// for up to cacheTTL; a miss or cache error falls through to Postgres and
// repopulates the cache.
func (s *Service) CheckStock(ctx context.Context, productKey string, qty int) (bool, error) {
	if level, ok := s.readCache(ctx, productKey); ok {
		return level.Quantity >= qty, nil
	}

	level, err := s.readLevel(ctx, productKey)
	if err != nil {
		return false, err
	}
	s.writeCache(ctx, productKey, level)
	return level.Quantity >= qty, nil
}

// Reserve tentatively decrements stock for productKey by qty. It always
// bypasses the cache — reservations read the authoritative row directly
// (spec.md §4.6: "reservations MUST NOT be served from cache"). Returns
// orchestrator.ErrInsufficientStock if the row can't cover qty.
func (s *Service) Reserve(ctx context.Context, productKey string, qty int) error {
	const q = `
		UPDATE stock_levels
		SET quantity = quantity - $2
		WHERE product_key = $1 AND quantity >= $2`

	tag, err := s.pool.Exec(ctx, q, productKey, qty)
	if err != nil {
		return fmt.Errorf("stock: reserve: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return orchestrator.ErrInsufficientStock
	}
	s.cache.Del(ctx, cacheKey(productKey))
	return nil
}

// Release reverts a tentative reservation, e.g. when the containing order
// fails to finalize within the order-sink's bounded window.
func (s *Service) Release(ctx context.Context, productKey string, qty int) error {
	const q = `UPDATE stock_levels SET quantity = quantity + $2 WHERE product_key = $1`
	if _, err := s.pool.Exec(ctx, q, productKey, qty); err != nil {
		return fmt.Errorf("stock: release: %w", err)
	}
	s.cache.Del(ctx, cacheKey(productKey))
	return nil
}

func (s *Service) readLevel(ctx context.Context, productKey string) (cachedLevel, error) {
	const q = `SELECT quantity FROM stock_levels WHERE product_key = $1`
	var level cachedLevel
	if err := s.pool.QueryRow(ctx, q, productKey).Scan(&level.Quantity); err != nil {
		return cachedLevel{}, fmt.Errorf("stock: read level: %w", err)
	}
	return level, nil
}

func (s *Service) readCache(ctx context.Context, productKey string) (cachedLevel, bool) {
	if s.cache == nil {
		return cachedLevel{}, false
	}
	raw, err := s.cache.Get(ctx, cacheKey(productKey)).Bytes()
	if err != nil {
		return cachedLevel{}, false
	}
	var level cachedLevel
	if err := json.Unmarshal(raw, &level); err != nil {
		return cachedLevel{}, false
	}
	return level, true
}

func (s *Service) writeCache(ctx context.Context, productKey string, level cachedLevel) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(level)
	if err != nil {
		return
	}
	s.cache.Set(ctx, cacheKey(productKey), raw, cacheTTL)
}
