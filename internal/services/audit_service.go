package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-engine/internal/models"
)

// AuditService writes payment events to the audit log. Audit failures are
// logged and never fail the payment flow.
type AuditService struct {
	store  PaymentAuditStore
	logger *logrus.Logger
}

// NewAuditService creates a new audit service
func NewAuditService(store PaymentAuditStore, logger *logrus.Logger) *AuditService {
	return &AuditService{store: store, logger: logger}
}

// Record persists an audit entry
func (s *AuditService) Record(ctx context.Context, audit *models.PaymentAudit, meta RequestMeta) {
	audit.SetMetadata(meta.IPAddress, meta.UserAgent)

	if err := s.store.Log(context.WithoutCancel(ctx), audit); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"event_type": audit.EventType,
			"source":     audit.EventSource,
		}).Error("AUDIT ERROR: failed to record payment event")
	}
}

// RecordPayment records an event about an existing payment row.
// errMsg is stored when non-empty.
func (s *AuditService) RecordPayment(ctx context.Context, event models.PaymentEventType, source models.PaymentEventSource, payment *models.Payment, gatewayPaymentID, errMsg string, meta RequestMeta) {
	audit := models.NewPaymentAudit(event, source).
		SetBooking(payment.BookingID).
		SetPayment(payment.ID, payment.TransactionID).
		SetAmount(payment.Amount, payment.Currency).
		SetTransaction("", gatewayPaymentID).
		SetPaymentStatus(string(payment.Status))
	if errMsg != "" {
		audit.SetError(errMsg)
	}
	s.Record(ctx, audit, meta)
}

// Trail returns every payment event recorded for a booking, oldest first
func (s *AuditService) Trail(ctx context.Context, bookingID uuid.UUID) ([]*models.PaymentAudit, error) {
	audits, err := s.store.GetByBookingID(ctx, bookingID)
	if err != nil {
		return nil, models.NewUnexpectedError("read payment audit trail", err)
	}
	if audits == nil {
		audits = []*models.PaymentAudit{}
	}
	return audits, nil
}

// AlreadyRecorded reports whether event was logged for the payment before.
// Lookup failures count as not recorded.
func (s *AuditService) AlreadyRecorded(ctx context.Context, paymentID uuid.UUID, event models.PaymentEventType) bool {
	found, err := s.store.HasEvent(ctx, paymentID, event)
	if err != nil {
		s.logger.WithError(err).WithField("payment_id", paymentID).Warn("Failed to read payment audit log")
		return false
	}
	return found
}
