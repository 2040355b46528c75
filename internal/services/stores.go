package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/smarttransit/booking-engine/internal/database"
	"github.com/smarttransit/booking-engine/internal/models"
	"github.com/smarttransit/booking-engine/pkg/gateway"
)

// Store interfaces are satisfied by the Postgres repositories in
// internal/database. Methods taking a database.Querier run inside the unit
// of work opened by BookingStore.WithTx.

// ScheduleStore is the schedule catalog plus the seat ledger
type ScheduleStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Schedule, error)
	FindConnectingLegs(ctx context.Context, search database.ConnectingSearch) ([]models.ConnectingLeg, error)
	Reserve(ctx context.Context, q database.Querier, scheduleID uuid.UUID, seats int) error
	Release(ctx context.Context, q database.Querier, scheduleID uuid.UUID, seats int) error
}

// BookingStore persists bookings and applies compare-and-set transitions
type BookingStore interface {
	WithTx(ctx context.Context, fn func(q database.Querier) error) error

	PNRExists(ctx context.Context, q database.Querier, pnr string) (bool, error)
	FindHeldSeats(ctx context.Context, q database.Querier, scheduleID uuid.UUID, seatNumbers []string) ([]string, error)
	Create(ctx context.Context, q database.Querier, booking *models.Booking) error

	GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	GetByPNR(ctx context.Context, pnr string) (*models.Booking, error)
	GetByIdempotencyKey(ctx context.Context, customerID uuid.UUID, key string) (*models.Booking, error)
	ListByCustomer(ctx context.Context, customerID uuid.UUID, limit, offset int) ([]*models.Booking, error)
	GetSegments(ctx context.Context, q database.Querier, bookingID uuid.UUID) ([]models.BookingSegment, error)
	CountPending(ctx context.Context) (int, error)
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)

	ConfirmPending(ctx context.Context, q database.Querier, id uuid.UUID, now time.Time) (bool, error)
	ExpirePending(ctx context.Context, q database.Querier, id uuid.UUID, now time.Time) (bool, error)
	CancelPending(ctx context.Context, q database.Querier, id uuid.UUID, now time.Time) (bool, error)
	CancelConfirmed(ctx context.Context, q database.Querier, id, customerID uuid.UUID, now time.Time) (bool, error)
}

// PaymentStore persists gateway transactions
type PaymentStore interface {
	Create(ctx context.Context, payment *models.Payment) error
	GetByTransactionID(ctx context.Context, transactionID string) (*models.Payment, error)
	GetLiveByBooking(ctx context.Context, bookingID uuid.UUID) (*models.Payment, error)
	GetSuccessfulByBooking(ctx context.Context, bookingID uuid.UUID) (*models.Payment, error)
	MarkSuccess(ctx context.Context, q database.Querier, id uuid.UUID, gatewayPaymentID string, now time.Time) (bool, error)
	MarkFailed(ctx context.Context, q database.Querier, id uuid.UUID, gatewayPaymentID, reason string, now time.Time) (bool, error)
	ListReconciliationMismatches(ctx context.Context, limit int) ([]models.ReconciliationMismatch, error)
}

// CancellationStore persists cancellations and refunds
type CancellationStore interface {
	Create(ctx context.Context, q database.Querier, c *models.Cancellation) error
	CreateRefund(ctx context.Context, q database.Querier, refund *models.Refund) error
	GetRefundByBooking(ctx context.Context, bookingID uuid.UUID) (*models.Refund, error)
}

// PaymentAuditStore is the append-only payment event log
type PaymentAuditStore interface {
	Log(ctx context.Context, audit *models.PaymentAudit) error
	HasEvent(ctx context.Context, paymentID uuid.UUID, eventType models.PaymentEventType) (bool, error)
	GetByBookingID(ctx context.Context, bookingID uuid.UUID) ([]*models.PaymentAudit, error)
}

// SeatClaimer guards seat numbers between the held-seat check and the insert
type SeatClaimer interface {
	Claim(ctx context.Context, scheduleID uuid.UUID, travelDate time.Time, seats []string, owner string, ttl time.Duration) ([]string, error)
	Release(ctx context.Context, scheduleID uuid.UUID, travelDate time.Time, seats []string) error
}

// PaymentGateway is the signed-transaction provider
type PaymentGateway interface {
	KeyID() string
	CreateOrder(ctx context.Context, amount decimal.Decimal, currency, receipt string, notes map[string]string) (*gateway.Order, error)
	VerifyPaymentSignature(orderID, paymentID, signature string) bool
	VerifyWebhookSignature(body []byte, signature string) bool
}

// Notifier dispatches customer notifications without blocking the caller
type Notifier interface {
	BookingConfirmed(booking *models.Booking)
	BookingCancelled(booking *models.Booking, refund decimal.Decimal)
}

// RequestMeta carries client details recorded in the audit log
type RequestMeta struct {
	IPAddress string
	UserAgent string
}
