// Package ordersink implements OrderSink (spec.md §4.10): order creation,
// total computation, and the human-review escalation rule.
package ordersink

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lokutor-ai/pharma-voice-agent/pkg/orchestrator"
)

// Thresholds holds the two numeric human-review triggers of spec.md §4.10
// (order amount and average confidence); the third trigger, any
// out-of-stock item, takes no threshold. They are configuration, not
// hardcoded.
type Thresholds struct {
	HighAmount    float64
	MinConfidence float64
}

// Sink implements orchestrator.OrderCreator.
type Sink struct {
	pool       *pgxpool.Pool
	thresholds Thresholds
}

// New wires a Postgres pool and the review thresholds together.
func New(pool *pgxpool.Pool, thresholds Thresholds) *Sink {
	return &Sink{pool: pool, thresholds: thresholds}
}

// Create implements orchestrator.OrderCreator. Order id is "CMD-" followed
// by a UUID, a Go-idiomatic substitute for the timestamp-string id of the
// system this was modeled on.
func (s *Sink) Create(ctx context.Context, order orchestrator.Order) (orchestrator.OrderResult, error) {
	orderID := "CMD-" + uuid.NewString()

	var totalAmount float64
	for _, item := range order.Items {
		totalAmount += float64(item.Quantity) * item.UnitPrice
	}

	requiresReview, reason := s.requiresHumanReview(totalAmount, order.AverageConfidence, order.AnyOutOfStock)

	if err := s.persist(ctx, orderID, order, totalAmount, requiresReview); err != nil {
		return orchestrator.OrderResult{}, err
	}

	return orchestrator.OrderResult{
		OrderID:             orderID,
		RequiresHumanReview: requiresReview,
		ReviewReason:        reason,
	}, nil
}

// requiresHumanReview implements the three thresholds of spec.md §4.10:
// total amount > configured high-amount, average confidence below the
// configured floor, or any item flagged out-of-stock during the dialogue.
func (s *Sink) requiresHumanReview(totalAmount, avgConfidence float64, anyOutOfStock bool) (bool, string) {
	var reasons []string
	if totalAmount > s.thresholds.HighAmount {
		reasons = append(reasons, fmt.Sprintf("total amount %.2f exceeds %.2f", totalAmount, s.thresholds.HighAmount))
	}
	if avgConfidence < s.thresholds.MinConfidence {
		reasons = append(reasons, fmt.Sprintf("average confidence %.2f below %.2f", avgConfidence, s.thresholds.MinConfidence))
	}
	if anyOutOfStock {
		reasons = append(reasons, "one or more items were out of stock")
	}
	if len(reasons) == 0 {
		return false, ""
	}
	return true, strings.Join(reasons, "; ")
}

func (s *Sink) persist(ctx context.Context, orderID string, order orchestrator.Order, totalAmount float64, requiresReview bool) error {
	if s.pool == nil {
		return nil
	}
	const q = `
		INSERT INTO orders (id, call_id, tenant_key, total_amount, average_confidence, requires_human_review, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.pool.Exec(ctx, q, orderID, order.CallID, order.TenantKey, totalAmount, order.AverageConfidence, requiresReview, time.Now())
	if err != nil {
		return fmt.Errorf("ordersink: persist order: %w", err)
	}
	return nil
}
