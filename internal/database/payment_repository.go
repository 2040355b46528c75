package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/smarttransit/booking-engine/internal/models"
)

// PaymentRepository handles payment records
type PaymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository creates a new PaymentRepository
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const paymentColumns = `
	id, booking_id, amount, currency, payment_method, status, transaction_id,
	gateway_payment_id, failure_reason, payment_date, created_at, updated_at`

// Create inserts a Pending payment. A second live payment for the same booking
// or a reused transaction id fails on a unique constraint.
func (r *PaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payments (
			id, booking_id, amount, currency, payment_method, status,
			transaction_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		payment.ID, payment.BookingID, payment.Amount, payment.Currency,
		payment.PaymentMethod, payment.Status, payment.TransactionID,
		payment.CreatedAt, payment.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

// GetByTransactionID returns the payment for a gateway order id, or nil
func (r *PaymentRepository) GetByTransactionID(ctx context.Context, transactionID string) (*models.Payment, error) {
	return r.getOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE transaction_id = $1`, transactionID)
}

// GetLiveByBooking returns the booking's Pending or Success payment, or nil
func (r *PaymentRepository) GetLiveByBooking(ctx context.Context, bookingID uuid.UUID) (*models.Payment, error) {
	return r.getOne(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE booking_id = $1 AND status IN ('pending', 'success')
		ORDER BY created_at DESC
		LIMIT 1`, bookingID)
}

// GetSuccessfulByBooking returns the booking's captured payment, or nil
func (r *PaymentRepository) GetSuccessfulByBooking(ctx context.Context, bookingID uuid.UUID) (*models.Payment, error) {
	return r.getOne(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE booking_id = $1 AND status = 'success'
		LIMIT 1`, bookingID)
}

func (r *PaymentRepository) getOne(ctx context.Context, query string, args ...interface{}) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.GetContext(ctx, &payment, query, args...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &payment, nil
}

// MarkSuccess records a captured payment. A Pending payment moves, and so does
// a Failed one when the gateway captures a later attempt on the same order.
// Replays of the same callback return false.
func (r *PaymentRepository) MarkSuccess(ctx context.Context, q Querier, id uuid.UUID, gatewayPaymentID string, now time.Time) (bool, error) {
	result, err := q.ExecContext(ctx, `
		UPDATE payments
		SET status = 'success', gateway_payment_id = $2, failure_reason = NULL,
		    payment_date = $3, updated_at = $3
		WHERE id = $1 AND status IN ('pending', 'failed')`, id, gatewayPaymentID, now)
	if err != nil {
		return false, fmt.Errorf("failed to mark payment success: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to mark payment success: %w", err)
	}
	return affected == 1, nil
}

// MarkFailed records a failed payment attempt
func (r *PaymentRepository) MarkFailed(ctx context.Context, q Querier, id uuid.UUID, gatewayPaymentID, reason string, now time.Time) (bool, error) {
	result, err := q.ExecContext(ctx, `
		UPDATE payments
		SET status = 'failed', gateway_payment_id = NULLIF($2, ''), failure_reason = $3, updated_at = $4
		WHERE id = $1 AND status = 'pending'`, id, gatewayPaymentID, reason, now)
	if err != nil {
		return false, fmt.Errorf("failed to mark payment failed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to mark payment failed: %w", err)
	}
	return affected == 1, nil
}

// ListReconciliationMismatches finds captured payments whose booking expired,
// or was cancelled without a refund being recorded.
func (r *PaymentRepository) ListReconciliationMismatches(ctx context.Context, limit int) ([]models.ReconciliationMismatch, error) {
	var mismatches []models.ReconciliationMismatch
	query := `
		SELECT
			p.id AS payment_id, p.booking_id, p.transaction_id, p.amount, p.currency,
			b.status AS booking_status
		FROM payments p
		JOIN bookings b ON b.id = p.booking_id
		LEFT JOIN refunds rf ON rf.payment_id = p.id
		WHERE p.status = 'success'
		  AND (
		        b.status = 'expired'
		     OR b.status = 'pending'
		     OR (b.status = 'cancelled' AND rf.id IS NULL)
		  )
		ORDER BY p.updated_at ASC
		LIMIT $1`

	if err := r.db.SelectContext(ctx, &mismatches, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list reconciliation mismatches: %w", err)
	}
	return mismatches, nil
}
