package models

import (
	"time"

	"github.com/google/uuid"
)

// CheckoutAttempt is the journal row for one user-initiated payment attempt.
// Every orchestrator transition updates the row keyed by the idempotency key,
// giving support staff the reference quoted on "contact support" failures.
type CheckoutAttempt struct {
	ID                uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	VisitID           string    `gorm:"column:visit_id;not null;index"`
	UserID            string    `gorm:"column:user_id;not null;index"`
	IdempotencyKey    string    `gorm:"column:idempotency_key;not null;uniqueIndex"`
	CheckoutID        *string   `gorm:"column:checkout_id"`
	ProviderOrderID   *string   `gorm:"column:provider_order_id"`
	ProviderPaymentID *string   `gorm:"column:provider_payment_id"`
	TotalAmount       string    `gorm:"column:total_amount;not null"`
	CalculatedTotal   *string   `gorm:"column:calculated_total"`
	State             string    `gorm:"column:state;not null"`
	FailureKind       *string   `gorm:"column:failure_kind"`
	FailureReason     *string   `gorm:"column:failure_reason"`
	Resumed           bool      `gorm:"column:resumed;not null;default:false"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (CheckoutAttempt) TableName() string {
	return "checkout_attempts"
}
