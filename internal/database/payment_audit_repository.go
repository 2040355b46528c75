package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-engine/internal/models"
)

// PaymentAuditRepository appends to the payment audit log
type PaymentAuditRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewPaymentAuditRepository creates a new payment audit repository
func NewPaymentAuditRepository(db *sqlx.DB, logger *logrus.Logger) *PaymentAuditRepository {
	return &PaymentAuditRepository{
		db:     db,
		logger: logger,
	}
}

// Log appends an audit entry. Failures are logged loudly and returned.
func (r *PaymentAuditRepository) Log(ctx context.Context, audit *models.PaymentAudit) error {
	if audit == nil {
		return fmt.Errorf("audit entry cannot be nil")
	}

	if audit.ID == uuid.Nil {
		audit.ID = uuid.New()
	}
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payment_audits (
			id, booking_id, payment_id, transaction_id, gateway_payment_id,
			event_type, event_source, amount, currency, payment_status,
			raw_body, error_message, ip_address, user_agent, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		audit.ID, audit.BookingID, audit.PaymentID, audit.TransactionID, audit.GatewayPaymentID,
		audit.EventType, audit.EventSource, audit.Amount, audit.Currency, audit.PaymentStatus,
		audit.RawBody, audit.ErrorMessage, audit.IPAddress, audit.UserAgent, audit.CreatedAt,
	)
	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"event_type":     audit.EventType,
			"transaction_id": audit.TransactionID,
		}).Error("CRITICAL: Failed to log payment audit")
		return fmt.Errorf("failed to log payment audit: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"audit_id":   audit.ID,
		"event_type": audit.EventType,
	}).Debug("Payment audit logged")

	return nil
}

// HasEvent reports whether an event of this type was already logged for a payment
func (r *PaymentAuditRepository) HasEvent(ctx context.Context, paymentID uuid.UUID, eventType models.PaymentEventType) (bool, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM payment_audits
		WHERE payment_id = $1 AND event_type = $2`, paymentID, eventType)
	if err != nil {
		return false, fmt.Errorf("failed to check audit events: %w", err)
	}
	return count > 0, nil
}

// GetByBookingID returns the audit trail of a booking, oldest first
func (r *PaymentAuditRepository) GetByBookingID(ctx context.Context, bookingID uuid.UUID) ([]*models.PaymentAudit, error) {
	var audits []*models.PaymentAudit
	err := r.db.SelectContext(ctx, &audits, `
		SELECT
			id, booking_id, payment_id, transaction_id, gateway_payment_id,
			event_type, event_source, amount, currency, payment_status,
			raw_body, error_message, ip_address, user_agent, created_at
		FROM payment_audits
		WHERE booking_id = $1
		ORDER BY created_at ASC`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to get audits by booking ID: %w", err)
	}
	return audits, nil
}
