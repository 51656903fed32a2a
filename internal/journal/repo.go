package journal

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/repurposehub/checkout-service/pkg/db/models"
)

// Repository persists attempt snapshots with GORM.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a journal repo bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Record upserts the attempt row keyed by idempotency key.
func (r *Repository) Record(ctx context.Context, entry Entry) error {
	row := models.CheckoutAttempt{
		ID:             uuid.New(),
		VisitID:        entry.VisitID,
		UserID:         entry.UserID,
		IdempotencyKey: entry.IdempotencyKey,
		TotalAmount:    entry.Total.String(),
		State:          entry.State,
		Resumed:        entry.Resumed,
	}
	if entry.CheckoutID != "" {
		row.CheckoutID = &entry.CheckoutID
	}
	if entry.ProviderOrderID != "" {
		row.ProviderOrderID = &entry.ProviderOrderID
	}
	if entry.ProviderPaymentID != "" {
		row.ProviderPaymentID = &entry.ProviderPaymentID
	}
	if entry.CalculatedTotal != nil {
		calc := entry.CalculatedTotal.String()
		row.CalculatedTotal = &calc
	}
	if entry.FailureKind != "" {
		row.FailureKind = &entry.FailureKind
	}
	if entry.FailureReason != "" {
		row.FailureReason = &entry.FailureReason
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "idempotency_key"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"checkout_id",
				"provider_order_id",
				"provider_payment_id",
				"calculated_total",
				"state",
				"failure_kind",
				"failure_reason",
				"resumed",
				"updated_at",
			}),
		}).
		Create(&row).Error
}

// FindByIdempotencyKey loads the attempt row for a support lookup. A key
// with no recorded attempt returns (nil, nil).
func (r *Repository) FindByIdempotencyKey(ctx context.Context, key string) (*models.CheckoutAttempt, error) {
	var row models.CheckoutAttempt
	if err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// ListByVisit returns a visit's attempts, most recent first.
func (r *Repository) ListByVisit(ctx context.Context, visitID string, limit int) ([]models.CheckoutAttempt, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.CheckoutAttempt
	if err := r.db.WithContext(ctx).
		Where("visit_id = ?", visitID).
		Order("updated_at DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
