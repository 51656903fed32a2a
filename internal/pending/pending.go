// Package pending persists the single resumable checkout record per visit.
// The record lets a shopper who navigated away mid-checkout pick the attempt
// back up without opening a duplicate checkout on the backend.
package pending

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultMaxAge is how long a record stays resumable.
const DefaultMaxAge = 30 * time.Minute

// Record is the resumable state of an in-flight checkout.
type Record struct {
	CheckoutID     string          `json:"checkoutId"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Total          decimal.Decimal `json:"total"`
	// CreatedAt is epoch milliseconds.
	CreatedAt int64 `json:"createdAt"`
}

// Age reports how old the record is relative to now.
func (r Record) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(r.CreatedAt))
}

// Store holds at most one record per visit. Get returns (nil, nil) when no
// usable record exists: absent, expired, and unreadable records all look the
// same to callers.
type Store interface {
	Get(ctx context.Context, visitID string) (*Record, error)
	Put(ctx context.Context, visitID string, rec Record) error
	Delete(ctx context.Context, visitID string) error
}
