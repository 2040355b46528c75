package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentStatus represents the status of a payment attempt
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusSuccess PaymentStatus = "success"
	PaymentStatusFailed  PaymentStatus = "failed"
)

// Payment is one gateway transaction for a booking.
// TransactionID holds the gateway order id and is unique.
type Payment struct {
	ID               uuid.UUID       `json:"id" db:"id"`
	BookingID        uuid.UUID       `json:"booking_id" db:"booking_id"`
	Amount           decimal.Decimal `json:"amount" db:"amount"`
	Currency         string          `json:"currency" db:"currency"`
	PaymentMethod    string          `json:"payment_method" db:"payment_method"`
	Status           PaymentStatus   `json:"status" db:"status"`
	TransactionID    string          `json:"transaction_id" db:"transaction_id"`
	GatewayPaymentID *string         `json:"gateway_payment_id,omitempty" db:"gateway_payment_id"`
	FailureReason    *string         `json:"failure_reason,omitempty" db:"failure_reason"`
	PaymentDate      *time.Time      `json:"payment_date,omitempty" db:"payment_date"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// InitiatePaymentRequest opens a gateway order for a Pending booking
type InitiatePaymentRequest struct {
	BookingID     uuid.UUID `json:"booking_id" binding:"required"`
	PaymentMethod string    `json:"payment_method" binding:"required,oneof=card upi netbanking wallet"`
}

// InitiatePaymentResponse carries what the client needs to open the checkout
type InitiatePaymentResponse struct {
	PaymentID      uuid.UUID       `json:"payment_id"`
	BookingID      uuid.UUID       `json:"booking_id"`
	GatewayOrderID string          `json:"gateway_order_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	KeyID          string          `json:"key_id"`
	HoldExpiresAt  *time.Time      `json:"hold_expires_at,omitempty"`
}

// VerifyPaymentRequest is the client-relayed gateway callback
type VerifyPaymentRequest struct {
	BookingID        uuid.UUID `json:"booking_id" binding:"required"`
	GatewayOrderID   string    `json:"gateway_order_id" binding:"required"`
	GatewayPaymentID string    `json:"gateway_payment_id" binding:"required"`
	Signature        string    `json:"signature" binding:"required"`
}

// PaymentOutcome describes how a binding attempt resolved
type PaymentOutcome string

const (
	PaymentOutcomeConfirmed        PaymentOutcome = "confirmed"
	PaymentOutcomeAlreadyConfirmed PaymentOutcome = "already_confirmed"
	PaymentOutcomeFailed           PaymentOutcome = "failed"
)

// PaymentResult is returned after a payment outcome has been bound to its booking
type PaymentResult struct {
	BookingID     uuid.UUID      `json:"booking_id"`
	PNR           string         `json:"pnr"`
	BookingStatus BookingStatus  `json:"booking_status"`
	PaymentStatus PaymentStatus  `json:"payment_status"`
	Outcome       PaymentOutcome `json:"outcome"`
}

// WebhookEventType lists the gateway events the engine acts on
type WebhookEventType string

const (
	WebhookPaymentCaptured WebhookEventType = "payment.captured"
	WebhookPaymentFailed   WebhookEventType = "payment.failed"
)

// WebhookEvent is the subset of the gateway webhook body the engine reads
type WebhookEvent struct {
	Event   WebhookEventType `json:"event"`
	Payload struct {
		Payment struct {
			Entity WebhookPaymentEntity `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// WebhookPaymentEntity is the payment object inside a webhook
type WebhookPaymentEntity struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// Entity returns the payment entity carried by the event
func (e *WebhookEvent) Entity() WebhookPaymentEntity {
	return e.Payload.Payment.Entity
}

// ReconciliationMismatch is a successful payment whose booking did not end
// up Confirmed, or was cancelled without a refund.
type ReconciliationMismatch struct {
	PaymentID     uuid.UUID       `db:"payment_id"`
	BookingID     uuid.UUID       `db:"booking_id"`
	TransactionID string          `db:"transaction_id"`
	Amount        decimal.Decimal `db:"amount"`
	Currency      string          `db:"currency"`
	BookingStatus BookingStatus   `db:"booking_status"`
}
