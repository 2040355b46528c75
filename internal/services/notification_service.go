package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-engine/internal/models"
	"github.com/smarttransit/booking-engine/pkg/sms"
)

const notificationTimeout = 15 * time.Second

// NotificationService sends booking SMS in the background. Send failures
// are logged under component=notification and never reach the caller.
type NotificationService struct {
	sender sms.Sender
	logger *logrus.Entry
	wg     sync.WaitGroup
}

// NewNotificationService creates a new NotificationService
func NewNotificationService(sender sms.Sender, logger *logrus.Logger) *NotificationService {
	return &NotificationService{
		sender: sender,
		logger: logger.WithField("component", "notification"),
	}
}

// BookingConfirmed notifies the contact number of a confirmed booking
func (s *NotificationService) BookingConfirmed(booking *models.Booking) {
	message := fmt.Sprintf(
		"SmartTransit: booking %s confirmed for %s. %d seat(s), paid %s %s.",
		booking.PNR,
		booking.TravelDate.Format("02 Jan 2006"),
		booking.TotalSeats,
		booking.Currency,
		booking.TotalAmount.StringFixed(2),
	)
	s.dispatch(booking, "booking_confirmed", message)
}

// BookingCancelled notifies the contact number of a cancellation and its refund
func (s *NotificationService) BookingCancelled(booking *models.Booking, refund decimal.Decimal) {
	message := fmt.Sprintf("SmartTransit: booking %s has been cancelled.", booking.PNR)
	if refund.IsPositive() {
		message = fmt.Sprintf(
			"SmartTransit: booking %s has been cancelled. A refund of %s %s is being processed.",
			booking.PNR, booking.Currency, refund.StringFixed(2),
		)
	}
	s.dispatch(booking, "booking_cancelled", message)
}

func (s *NotificationService) dispatch(booking *models.Booking, kind, message string) {
	if booking.ContactPhone == nil || *booking.ContactPhone == "" {
		return
	}
	phone := *booking.ContactPhone

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.WithField("panic", r).Error("Notification dispatch panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), notificationTimeout)
		defer cancel()

		if err := s.sender.Send(ctx, phone, message); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"booking_id": booking.ID,
				"pnr":        booking.PNR,
				"kind":       kind,
			}).Warn("Failed to send booking notification")
			return
		}

		s.logger.WithFields(logrus.Fields{
			"booking_id": booking.ID,
			"kind":       kind,
		}).Debug("Booking notification sent")
	}()
}

// Wait blocks until in-flight notifications finish
func (s *NotificationService) Wait() {
	s.wg.Wait()
}
