// Package journal records every checkout attempt transition so support staff
// can reconstruct what a shopper saw, keyed by the attempt's idempotency key.
package journal

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/repurposehub/checkout-service/pkg/db/models"
)

// Entry is one attempt snapshot. The recorder upserts by idempotency key so
// the journal holds the latest state of each attempt.
type Entry struct {
	VisitID           string
	UserID            string
	IdempotencyKey    string
	CheckoutID        string
	ProviderOrderID   string
	ProviderPaymentID string
	Total             decimal.Decimal
	CalculatedTotal   *decimal.Decimal
	State             string
	FailureKind       string
	FailureReason     string
	Resumed           bool
}

// Recorder persists attempt snapshots. Recording is best-effort from the
// orchestrator's point of view; failures are logged, never surfaced.
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

// Reader loads recorded attempts for support and history lookups.
type Reader interface {
	FindByIdempotencyKey(ctx context.Context, key string) (*models.CheckoutAttempt, error)
	ListByVisit(ctx context.Context, visitID string, limit int) ([]models.CheckoutAttempt, error)
}

// Nop discards every entry. Used when the journal database is not configured.
type Nop struct{}

func (Nop) Record(ctx context.Context, entry Entry) error { return nil }
