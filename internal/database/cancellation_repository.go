package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/smarttransit/booking-engine/internal/models"
)

// CancellationRepository handles cancellation and refund records
type CancellationRepository struct {
	db *sqlx.DB
}

// NewCancellationRepository creates a new CancellationRepository
func NewCancellationRepository(db *sqlx.DB) *CancellationRepository {
	return &CancellationRepository{db: db}
}

// Create inserts a cancellation record
func (r *CancellationRepository) Create(ctx context.Context, q Querier, c *models.Cancellation) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO cancellations (
			id, booking_id, customer_id, reason, hours_before_travel,
			refund_percent, refund_amount, cancelled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.BookingID, c.CustomerID, c.Reason, c.HoursBeforeTravel,
		c.RefundPercent, c.RefundAmount, c.CancelledAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create cancellation: %w", err)
	}
	return nil
}

// CreateRefund inserts a refund. refunds.payment_id is unique, so a payment
// can only ever be refunded once.
func (r *CancellationRepository) CreateRefund(ctx context.Context, q Querier, refund *models.Refund) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO refunds (
			id, booking_id, payment_id, amount, currency, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		refund.ID, refund.BookingID, refund.PaymentID, refund.Amount,
		refund.Currency, refund.Status, refund.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create refund: %w", err)
	}
	return nil
}

// GetRefundByBooking returns the refund recorded for a booking, or nil
func (r *CancellationRepository) GetRefundByBooking(ctx context.Context, bookingID uuid.UUID) (*models.Refund, error) {
	var refund models.Refund
	err := r.db.GetContext(ctx, &refund, `
		SELECT id, booking_id, payment_id, amount, currency, status, processed_at, created_at
		FROM refunds
		WHERE booking_id = $1`, bookingID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get refund: %w", err)
	}
	return &refund, nil
}
