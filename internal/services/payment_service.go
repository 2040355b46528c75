package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-engine/internal/database"
	"github.com/smarttransit/booking-engine/internal/metrics"
	"github.com/smarttransit/booking-engine/internal/models"
	"github.com/smarttransit/booking-engine/pkg/gateway"
)

// ErrInvalidSignature is wrapped in an ExternalDependencyError when a
// gateway signature does not verify
var ErrInvalidSignature = errors.New("invalid payment signature")

// PaymentService binds gateway transactions to Pending bookings and drives
// the Confirmed and Cancelled transitions.
type PaymentService struct {
	bookings  BookingStore
	schedules ScheduleStore
	payments  PaymentStore
	gateway   PaymentGateway
	audit     *AuditService
	notifier  Notifier
	logger    *logrus.Logger
	now       func() time.Time
}

// NewPaymentService creates a new PaymentService
func NewPaymentService(
	bookings BookingStore,
	schedules ScheduleStore,
	payments PaymentStore,
	gw PaymentGateway,
	audit *AuditService,
	notifier Notifier,
	logger *logrus.Logger,
) *PaymentService {
	return &PaymentService{
		bookings:  bookings,
		schedules: schedules,
		payments:  payments,
		gateway:   gw,
		audit:     audit,
		notifier:  notifier,
		logger:    logger,
		now:       time.Now,
	}
}

// ============================================================================
// INITIATE
// ============================================================================

// InitiatePayment opens a gateway order sized to the booking total. A second
// call while the first payment is still Pending returns the same order.
func (s *PaymentService) InitiatePayment(ctx context.Context, customerID uuid.UUID, req *models.InitiatePaymentRequest, meta RequestMeta) (*models.InitiatePaymentResponse, error) {
	booking, err := s.bookings.GetByID(ctx, req.BookingID)
	if err != nil {
		return nil, models.NewUnexpectedError("get booking", err)
	}
	if booking == nil || booking.CustomerID != customerID {
		return nil, models.NewNotFoundError("booking", req.BookingID.String())
	}

	if booking.Status == models.BookingStatusConfirmed {
		return nil, models.NewStateError(models.StateAlreadyConfirmed, booking.Status, "booking is already confirmed")
	}
	if !booking.Status.CanTransitionTo(models.BookingStatusConfirmed) {
		return nil, models.NewStateError(models.StateInvalidBookingStatus, booking.Status,
			"payment can only be initiated for a pending booking")
	}
	if booking.IsHoldExpired(s.now()) {
		return nil, models.NewStateError(models.StateBookingExpired, booking.Status, "seat hold has expired")
	}

	existing, err := s.payments.GetLiveByBooking(ctx, booking.ID)
	if err != nil {
		return nil, models.NewUnexpectedError("get payment", err)
	}
	if existing != nil {
		if existing.Status == models.PaymentStatusSuccess {
			return nil, models.NewConflictError(models.ConflictDuplicatePayment, "booking already has a successful payment")
		}
		return s.initiateResponse(booking, existing), nil
	}

	order, err := s.gateway.CreateOrder(ctx, booking.TotalAmount, booking.Currency, booking.PNR, map[string]string{
		"booking_id": booking.ID.String(),
		"pnr":        booking.PNR,
	})
	if err != nil {
		s.audit.Record(ctx, models.NewPaymentAudit(models.PaymentEventOrderFailed, models.PaymentSourceGateway).
			SetBooking(booking.ID).
			SetAmount(booking.TotalAmount, booking.Currency).
			SetError(err.Error()), meta)
		metrics.PaymentEvent(string(models.PaymentSourceBackend), "order_failed")
		s.logger.WithError(err).WithField("booking_id", booking.ID).Error("Failed to create gateway order")
		return nil, models.NewExternalDependencyError("payment_gateway", err)
	}

	now := s.now()
	payment := &models.Payment{
		ID:            uuid.New(),
		BookingID:     booking.ID,
		Amount:        booking.TotalAmount,
		Currency:      booking.Currency,
		PaymentMethod: req.PaymentMethod,
		Status:        models.PaymentStatusPending,
		TransactionID: order.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		if _, ok := database.UniqueViolation(err); ok {
			return nil, models.NewConflictError(models.ConflictDuplicatePayment, "a payment is already in progress for this booking")
		}
		return nil, models.NewUnexpectedError("create payment", err)
	}

	s.audit.RecordPayment(ctx, models.PaymentEventInitiated, models.PaymentSourceBackend, payment, "", "", meta)
	metrics.PaymentEvent(string(models.PaymentSourceBackend), "initiated")

	s.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"payment_id": payment.ID,
		"order_id":   order.ID,
		"amount":     payment.Amount.StringFixed(2),
	}).Info("Payment initiated")

	return s.initiateResponse(booking, payment), nil
}

func (s *PaymentService) initiateResponse(booking *models.Booking, payment *models.Payment) *models.InitiatePaymentResponse {
	return &models.InitiatePaymentResponse{
		PaymentID:      payment.ID,
		BookingID:      booking.ID,
		GatewayOrderID: payment.TransactionID,
		Amount:         payment.Amount,
		Currency:       payment.Currency,
		KeyID:          s.gateway.KeyID(),
		HoldExpiresAt:  booking.HoldExpiresAt,
	}
}

// ============================================================================
// VERIFY (client relayed)
// ============================================================================

// VerifyPayment checks the gateway signature relayed by the client and then
// confirms the booking. An invalid signature is always a hard failure.
func (s *PaymentService) VerifyPayment(ctx context.Context, req *models.VerifyPaymentRequest, meta RequestMeta) (*models.PaymentResult, error) {
	s.audit.Record(ctx, models.NewPaymentAudit(models.PaymentEventVerifyReceived, models.PaymentSourceClient).
		SetBooking(req.BookingID).
		SetTransaction(req.GatewayOrderID, req.GatewayPaymentID), meta)

	if !s.gateway.VerifyPaymentSignature(req.GatewayOrderID, req.GatewayPaymentID, req.Signature) {
		s.audit.Record(ctx, models.NewPaymentAudit(models.PaymentEventSignatureInvalid, models.PaymentSourceClient).
			SetBooking(req.BookingID).
			SetTransaction(req.GatewayOrderID, req.GatewayPaymentID).
			SetError(ErrInvalidSignature.Error()), meta)
		metrics.PaymentEvent(string(models.PaymentSourceClient), "signature_invalid")
		s.logger.WithFields(logrus.Fields{
			"booking_id": req.BookingID,
			"order_id":   req.GatewayOrderID,
			"ip":         meta.IPAddress,
		}).Warn("Payment signature verification failed")
		return nil, models.NewExternalDependencyError("payment_gateway", ErrInvalidSignature)
	}

	payment, err := s.payments.GetByTransactionID(ctx, req.GatewayOrderID)
	if err != nil {
		return nil, models.NewUnexpectedError("get payment", err)
	}
	if payment == nil {
		return nil, models.NewNotFoundError("payment", req.GatewayOrderID)
	}

	if payment.BookingID != req.BookingID {
		s.audit.RecordPayment(ctx, models.PaymentEventBookingMismatch, models.PaymentSourceClient, payment,
			req.GatewayPaymentID, "caller booking "+req.BookingID.String(), meta)
		metrics.PaymentEvent(string(models.PaymentSourceClient), "booking_mismatch")
		return nil, models.NewConflictError(models.ConflictBookingMismatch, "booking ID mismatch")
	}

	return s.capture(ctx, payment, req.GatewayPaymentID, models.PaymentSourceClient, meta)
}

// ============================================================================
// WEBHOOK
// ============================================================================

// HandleWebhook processes a signed gateway event. Events other than
// payment.captured and payment.failed are acknowledged with a nil result.
func (s *PaymentService) HandleWebhook(ctx context.Context, body []byte, signature string, meta RequestMeta) (*models.PaymentResult, error) {
	if !s.gateway.VerifyWebhookSignature(body, signature) {
		s.audit.Record(ctx, models.NewPaymentAudit(models.PaymentEventSignatureInvalid, models.PaymentSourceWebhook).
			SetRawBody(string(body)).
			SetError("invalid webhook signature"), meta)
		metrics.PaymentEvent(string(models.PaymentSourceWebhook), "signature_invalid")
		s.logger.WithField("ip", meta.IPAddress).Warn("Webhook signature verification failed")
		return nil, models.NewExternalDependencyError("payment_gateway", ErrInvalidSignature)
	}

	var event models.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, models.NewValidationError("body", "malformed webhook payload")
	}
	entity := event.Entity()

	s.audit.Record(ctx, models.NewPaymentAudit(models.PaymentEventWebhookReceived, models.PaymentSourceWebhook).
		SetTransaction(entity.OrderID, entity.ID).
		SetPaymentStatus(entity.Status).
		SetRawBody(string(body)), meta)

	if event.Event != models.WebhookPaymentCaptured && event.Event != models.WebhookPaymentFailed {
		s.logger.WithField("event", event.Event).Debug("Ignoring webhook event")
		return nil, nil
	}

	payment, err := s.payments.GetByTransactionID(ctx, entity.OrderID)
	if err != nil {
		return nil, models.NewUnexpectedError("get payment", err)
	}
	if payment == nil {
		return nil, models.NewNotFoundError("payment", entity.OrderID)
	}

	if entity.Amount != 0 && entity.Amount != gateway.ToMinorUnits(payment.Amount) {
		s.logger.WithFields(logrus.Fields{
			"payment_id":     payment.ID,
			"expected_minor": gateway.ToMinorUnits(payment.Amount),
			"webhook_minor":  entity.Amount,
			"webhook_amount": gateway.FromMinorUnits(entity.Amount).StringFixed(2),
		}).Warn("Webhook amount differs from payment amount")
	}

	if event.Event == models.WebhookPaymentFailed {
		return s.fail(ctx, payment, entity.ID, entity.ErrorDescription, models.PaymentSourceWebhook, meta)
	}
	return s.capture(ctx, payment, entity.ID, models.PaymentSourceWebhook, meta)
}

// ============================================================================
// OUTCOMES
// ============================================================================

// capture records the payment as Success and confirms the booking in the
// same unit of work. The payment is recorded even when the hold has lapsed,
// so captured money is never dropped.
func (s *PaymentService) capture(ctx context.Context, payment *models.Payment, gatewayPaymentID string, source models.PaymentEventSource, meta RequestMeta) (*models.PaymentResult, error) {
	now := s.now()

	var marked, confirmed bool
	err := s.bookings.WithTx(ctx, func(q database.Querier) error {
		var err error
		marked, err = s.payments.MarkSuccess(ctx, q, payment.ID, gatewayPaymentID, now)
		if err != nil {
			return err
		}
		confirmed, err = s.bookings.ConfirmPending(ctx, q, payment.BookingID, now)
		return err
	})
	if err != nil {
		s.logger.WithError(err).WithField("payment_id", payment.ID).Error("Failed to record captured payment")
		return nil, models.NewUnexpectedError("record payment", err)
	}

	if marked {
		payment.Status = models.PaymentStatusSuccess
		s.audit.RecordPayment(ctx, models.PaymentEventSuccess, source, payment, gatewayPaymentID, "", meta)
	}

	booking, err := s.bookings.GetByID(ctx, payment.BookingID)
	if err != nil {
		return nil, models.NewUnexpectedError("get booking", err)
	}
	if booking == nil {
		return nil, models.NewNotFoundError("booking", payment.BookingID.String())
	}

	result := &models.PaymentResult{
		BookingID:     booking.ID,
		PNR:           booking.PNR,
		BookingStatus: booking.Status,
		PaymentStatus: models.PaymentStatusSuccess,
	}

	if confirmed {
		result.Outcome = models.PaymentOutcomeConfirmed
		metrics.BookingTransition(string(models.BookingStatusPending), string(models.BookingStatusConfirmed))
		metrics.PaymentEvent(string(source), "confirmed")
		s.audit.RecordPayment(ctx, models.PaymentEventBookingConfirmed, source, payment, gatewayPaymentID, "", meta)

		s.logger.WithFields(logrus.Fields{
			"booking_id": booking.ID,
			"pnr":        booking.PNR,
			"payment_id": payment.ID,
			"source":     source,
		}).Info("Booking confirmed")

		s.notifier.BookingConfirmed(booking)
		return result, nil
	}

	switch booking.Status {
	case models.BookingStatusConfirmed:
		result.Outcome = models.PaymentOutcomeAlreadyConfirmed
		metrics.PaymentEvent(string(source), "already_confirmed")
		return result, nil

	case models.BookingStatusPending, models.BookingStatusExpired:
		msg := "seat hold expired before the payment was captured"
		s.audit.RecordPayment(ctx, models.PaymentEventBookingConfirmFailed, source, payment, gatewayPaymentID, msg, meta)
		metrics.PaymentEvent(string(source), "hold_expired")
		s.logger.WithFields(logrus.Fields{
			"booking_id": booking.ID,
			"payment_id": payment.ID,
			"amount":     payment.Amount.StringFixed(2),
		}).Error("Payment captured for an expired hold, needs reconciliation")
		return nil, models.NewStateError(models.StateBookingExpired, booking.Status, msg)

	default:
		msg := "booking was cancelled before the payment was captured"
		s.audit.RecordPayment(ctx, models.PaymentEventBookingConfirmFailed, source, payment, gatewayPaymentID, msg, meta)
		metrics.PaymentEvent(string(source), "booking_cancelled")
		s.logger.WithFields(logrus.Fields{
			"booking_id": booking.ID,
			"payment_id": payment.ID,
		}).Error("Payment captured for a cancelled booking, needs reconciliation")
		return nil, models.NewStateError(models.StateInvalidBookingStatus, booking.Status, msg)
	}
}

// fail marks the payment Failed, cancels the Pending booking and returns its
// seats. This is a normal outcome, not an error.
func (s *PaymentService) fail(ctx context.Context, payment *models.Payment, gatewayPaymentID, reason string, source models.PaymentEventSource, meta RequestMeta) (*models.PaymentResult, error) {
	now := s.now()
	if reason == "" {
		reason = "payment failed at gateway"
	}

	var markedFailed, cancelled bool
	released := 0
	err := s.bookings.WithTx(ctx, func(q database.Querier) error {
		var err error
		markedFailed, err = s.payments.MarkFailed(ctx, q, payment.ID, gatewayPaymentID, reason, now)
		if err != nil || !markedFailed {
			// already settled, a late failure must not cancel a paid booking
			return err
		}

		cancelled, err = s.bookings.CancelPending(ctx, q, payment.BookingID, now)
		if err != nil || !cancelled {
			return err
		}

		released, err = releaseSegments(ctx, q, s.bookings, s.schedules, payment.BookingID)
		return err
	})
	if err != nil {
		s.logger.WithError(err).WithField("payment_id", payment.ID).Error("Failed to record payment failure")
		return nil, models.NewUnexpectedError("record payment failure", err)
	}

	if markedFailed {
		payment.Status = models.PaymentStatusFailed
		s.audit.RecordPayment(ctx, models.PaymentEventFailed, source, payment, gatewayPaymentID, reason, meta)
		metrics.PaymentEvent(string(source), "failed")
	}
	if cancelled {
		metrics.BookingTransition(string(models.BookingStatusPending), string(models.BookingStatusCancelled))
		metrics.SeatsReleased("payment_failed", released)
		s.logger.WithFields(logrus.Fields{
			"booking_id":     payment.BookingID,
			"payment_id":     payment.ID,
			"seats_released": released,
			"reason":         reason,
		}).Info("Payment failed, booking cancelled")
	}

	booking, err := s.bookings.GetByID(ctx, payment.BookingID)
	if err != nil {
		return nil, models.NewUnexpectedError("get booking", err)
	}
	if booking == nil {
		return nil, models.NewNotFoundError("booking", payment.BookingID.String())
	}

	result := &models.PaymentResult{
		BookingID:     booking.ID,
		PNR:           booking.PNR,
		BookingStatus: booking.Status,
		PaymentStatus: payment.Status,
		Outcome:       models.PaymentOutcomeFailed,
	}
	if booking.Status == models.BookingStatusConfirmed {
		result.Outcome = models.PaymentOutcomeAlreadyConfirmed
	}
	return result, nil
}

// releaseSegments returns every segment's seats to the ledger and reports
// how many seats were released.
func releaseSegments(ctx context.Context, q database.Querier, bookings BookingStore, schedules ScheduleStore, bookingID uuid.UUID) (int, error) {
	segments, err := bookings.GetSegments(ctx, q, bookingID)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, seg := range segments {
		if err := schedules.Release(ctx, q, seg.ScheduleID, seg.SeatsBooked); err != nil {
			return released, err
		}
		released += seg.SeatsBooked
	}
	return released, nil
}
