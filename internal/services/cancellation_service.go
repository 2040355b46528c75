package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-engine/internal/database"
	"github.com/smarttransit/booking-engine/internal/metrics"
	"github.com/smarttransit/booking-engine/internal/models"
)

// CancellationService cancels Confirmed bookings and records the refund owed
// under the configured policy.
type CancellationService struct {
	bookings      BookingStore
	schedules     ScheduleStore
	payments      PaymentStore
	cancellations CancellationStore
	audit         *AuditService
	notifier      Notifier
	policy        models.RefundPolicy
	logger        *logrus.Logger
	now           func() time.Time
}

// NewCancellationService creates a new CancellationService
func NewCancellationService(
	bookings BookingStore,
	schedules ScheduleStore,
	payments PaymentStore,
	cancellations CancellationStore,
	audit *AuditService,
	notifier Notifier,
	policy models.RefundPolicy,
	logger *logrus.Logger,
) *CancellationService {
	return &CancellationService{
		bookings:      bookings,
		schedules:     schedules,
		payments:      payments,
		cancellations: cancellations,
		audit:         audit,
		notifier:      notifier,
		policy:        policy,
		logger:        logger,
		now:           time.Now,
	}
}

// cancellable holds what a quote and a cancellation both need
type cancellable struct {
	booking   *models.Booking
	payment   *models.Payment
	paid      decimal.Decimal
	departure time.Time
}

// load applies the ownership and status checks shared by Quote and Cancel
func (s *CancellationService) load(ctx context.Context, customerID, bookingID uuid.UUID, now time.Time) (*cancellable, error) {
	booking, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, models.NewUnexpectedError("get booking", err)
	}
	if booking == nil {
		return nil, models.NewNotFoundError("booking", bookingID.String())
	}
	if booking.CustomerID != customerID {
		return nil, models.NewStateError(models.StateBookingNotCancellable, booking.Status, "booking belongs to another customer")
	}

	if booking.Status == models.BookingStatusCancelled {
		refund, err := s.cancellations.GetRefundByBooking(ctx, booking.ID)
		if err != nil {
			return nil, models.NewUnexpectedError("get refund", err)
		}
		if refund != nil {
			return nil, models.NewStateError(models.StateRefundAlreadyProcessed, booking.Status, "booking was already cancelled and refunded")
		}
	}
	if booking.Status != models.BookingStatusConfirmed {
		return nil, models.NewStateError(models.StateBookingNotCancellable, booking.Status, "only confirmed bookings can be cancelled")
	}

	departure, ok := booking.FirstDeparture()
	if !ok {
		return nil, models.NewUnexpectedError("cancel booking", fmt.Errorf("booking %s has no segments", booking.ID))
	}
	if !now.Before(departure) {
		return nil, models.NewStateError(models.StateBookingNotCancellable, booking.Status, "the journey has already departed")
	}

	payment, err := s.payments.GetSuccessfulByBooking(ctx, booking.ID)
	if err != nil {
		return nil, models.NewUnexpectedError("get payment", err)
	}

	paid := decimal.Zero
	if payment != nil {
		paid = payment.Amount
	}

	return &cancellable{booking: booking, payment: payment, paid: paid, departure: departure}, nil
}

// Quote returns the refund a cancellation would produce right now without
// changing anything.
func (s *CancellationService) Quote(ctx context.Context, customerID, bookingID uuid.UUID) (*models.RefundQuote, error) {
	now := s.now()
	c, err := s.load(ctx, customerID, bookingID, now)
	if err != nil {
		return nil, err
	}

	amount, percent, hours := s.policy.Calculate(c.paid, c.departure, now)
	return &models.RefundQuote{
		BookingID:         c.booking.ID,
		PaidAmount:        c.paid,
		RefundAmount:      amount,
		RefundPercent:     percent,
		HoursBeforeTravel: hours,
		Currency:          c.booking.Currency,
	}, nil
}

// Cancel moves a Confirmed booking to Cancelled, returns its seats and
// records the refund owed in one unit of work.
func (s *CancellationService) Cancel(ctx context.Context, customerID, bookingID uuid.UUID, req *models.CancelBookingRequest, meta RequestMeta) (*models.CancelBookingResponse, error) {
	now := s.now()
	c, err := s.load(ctx, customerID, bookingID, now)
	if err != nil {
		return nil, err
	}
	booking := c.booking

	amount, percent, hours := s.policy.Calculate(c.paid, c.departure, now)

	cancellation := &models.Cancellation{
		ID:                uuid.New(),
		BookingID:         booking.ID,
		CustomerID:        customerID,
		HoursBeforeTravel: hours,
		RefundPercent:     percent,
		RefundAmount:      amount,
		CancelledAt:       now,
	}
	if req != nil {
		cancellation.Reason = optionalString(req.Reason)
	}

	var refund *models.Refund
	if c.payment != nil {
		refund = &models.Refund{
			ID:        uuid.New(),
			BookingID: booking.ID,
			PaymentID: c.payment.ID,
			Amount:    amount,
			Currency:  c.payment.Currency,
			Status:    models.RefundStatusPending,
			CreatedAt: now,
		}
	}

	var cancelled bool
	released := 0
	err = s.bookings.WithTx(ctx, func(q database.Querier) error {
		var err error
		cancelled, err = s.bookings.CancelConfirmed(ctx, q, booking.ID, customerID, now)
		if err != nil || !cancelled {
			return err
		}

		if released, err = releaseSegments(ctx, q, s.bookings, s.schedules, booking.ID); err != nil {
			return err
		}
		if err := s.cancellations.Create(ctx, q, cancellation); err != nil {
			return err
		}
		if refund != nil {
			return s.cancellations.CreateRefund(ctx, q, refund)
		}
		return nil
	})
	if err != nil {
		if _, ok := database.UniqueViolation(err); ok {
			return nil, models.NewStateError(models.StateRefundAlreadyProcessed, booking.Status, "a refund was already recorded for this payment")
		}
		s.logger.WithError(err).WithField("booking_id", booking.ID).Error("Failed to cancel booking")
		return nil, models.NewUnexpectedError("cancel booking", err)
	}
	if !cancelled {
		// another request cancelled it between the read and the update
		return nil, models.NewStateError(models.StateBookingNotCancellable, models.BookingStatusCancelled, "booking is no longer confirmed")
	}

	booking.Status = models.BookingStatusCancelled
	booking.CancelledAt = &now

	metrics.BookingTransition(string(models.BookingStatusConfirmed), string(models.BookingStatusCancelled))
	metrics.SeatsReleased("cancellation", released)

	if refund != nil {
		s.audit.Record(ctx, models.NewPaymentAudit(models.PaymentEventRefundInitiated, models.PaymentSourceBackend).
			SetBooking(booking.ID).
			SetPayment(c.payment.ID, c.payment.TransactionID).
			SetAmount(amount, refund.Currency).
			SetPaymentStatus(string(c.payment.Status)), meta)
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id":     booking.ID,
		"pnr":            booking.PNR,
		"refund_amount":  amount.StringFixed(2),
		"refund_percent": percent,
		"hours_before":   hours,
		"seats_released": released,
	}).Info("Booking cancelled")

	s.notifier.BookingCancelled(booking, amount)

	resp := &models.CancelBookingResponse{
		BookingID:     booking.ID,
		PNR:           booking.PNR,
		Status:        booking.Status,
		RefundAmount:  amount,
		RefundPercent: percent,
		Currency:      booking.Currency,
		CancelledAt:   now,
	}
	if refund != nil {
		resp.RefundStatus = &refund.Status
	}
	return resp, nil
}
