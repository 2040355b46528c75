package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentEventType represents the type of payment event
type PaymentEventType string

const (
	PaymentEventInitiated              PaymentEventType = "payment_initiated"
	PaymentEventOrderFailed            PaymentEventType = "order_failed"
	PaymentEventVerifyReceived         PaymentEventType = "verify_received"
	PaymentEventWebhookReceived        PaymentEventType = "webhook_received"
	PaymentEventSignatureInvalid       PaymentEventType = "signature_invalid"
	PaymentEventSuccess                PaymentEventType = "payment_success"
	PaymentEventFailed                 PaymentEventType = "payment_failed"
	PaymentEventBookingConfirmed       PaymentEventType = "booking_confirmed"
	PaymentEventBookingConfirmFailed   PaymentEventType = "booking_confirmation_failed"
	PaymentEventBookingMismatch        PaymentEventType = "booking_mismatch"
	PaymentEventRefundInitiated        PaymentEventType = "refund_initiated"
	PaymentEventReconciliationMismatch PaymentEventType = "reconciliation_mismatch"
)

// PaymentEventSource identifies where the event originated
type PaymentEventSource string

const (
	PaymentSourceBackend PaymentEventSource = "backend"
	PaymentSourceClient  PaymentEventSource = "client_verify"
	PaymentSourceWebhook PaymentEventSource = "gateway_webhook"
	PaymentSourceGateway PaymentEventSource = "gateway_api"
	PaymentSourceSystem  PaymentEventSource = "system"
)

// PaymentAudit is an append-only record of a payment event
type PaymentAudit struct {
	ID               uuid.UUID          `json:"id" db:"id"`
	BookingID        *uuid.UUID         `json:"booking_id,omitempty" db:"booking_id"`
	PaymentID        *uuid.UUID         `json:"payment_id,omitempty" db:"payment_id"`
	TransactionID    *string            `json:"transaction_id,omitempty" db:"transaction_id"`
	GatewayPaymentID *string            `json:"gateway_payment_id,omitempty" db:"gateway_payment_id"`
	EventType        PaymentEventType   `json:"event_type" db:"event_type"`
	EventSource      PaymentEventSource `json:"event_source" db:"event_source"`

	Amount        decimal.NullDecimal `json:"amount,omitempty" db:"amount"`
	Currency      *string             `json:"currency,omitempty" db:"currency"`
	PaymentStatus *string             `json:"payment_status,omitempty" db:"payment_status"`

	RawBody      *string `json:"raw_body,omitempty" db:"raw_body"`
	ErrorMessage *string `json:"error_message,omitempty" db:"error_message"`

	IPAddress *string `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent *string `json:"user_agent,omitempty" db:"user_agent"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NewPaymentAudit creates a new payment audit entry with required fields
func NewPaymentAudit(eventType PaymentEventType, source PaymentEventSource) *PaymentAudit {
	return &PaymentAudit{
		ID:          uuid.New(),
		EventType:   eventType,
		EventSource: source,
		CreatedAt:   time.Now(),
	}
}

// SetBooking sets the booking the event belongs to
func (pa *PaymentAudit) SetBooking(bookingID uuid.UUID) *PaymentAudit {
	pa.BookingID = &bookingID
	return pa
}

// SetPayment sets the payment row and gateway order id
func (pa *PaymentAudit) SetPayment(paymentID uuid.UUID, transactionID string) *PaymentAudit {
	pa.PaymentID = &paymentID
	if transactionID != "" {
		pa.TransactionID = &transactionID
	}
	return pa
}

// SetTransaction sets the gateway order and payment ids
func (pa *PaymentAudit) SetTransaction(orderID, gatewayPaymentID string) *PaymentAudit {
	if orderID != "" {
		pa.TransactionID = &orderID
	}
	if gatewayPaymentID != "" {
		pa.GatewayPaymentID = &gatewayPaymentID
	}
	return pa
}

// SetAmount records the amount involved in the event
func (pa *PaymentAudit) SetAmount(amount decimal.Decimal, currency string) *PaymentAudit {
	pa.Amount = decimal.NullDecimal{Decimal: amount, Valid: true}
	pa.Currency = &currency
	return pa
}

// SetPaymentStatus sets the payment status reported or applied
func (pa *PaymentAudit) SetPaymentStatus(status string) *PaymentAudit {
	pa.PaymentStatus = &status
	return pa
}

// SetError sets error information
func (pa *PaymentAudit) SetError(message string) *PaymentAudit {
	pa.ErrorMessage = &message
	return pa
}

// SetRawBody stores the raw body received from the gateway
func (pa *PaymentAudit) SetRawBody(body string) *PaymentAudit {
	pa.RawBody = &body
	return pa
}

// SetMetadata sets request metadata
func (pa *PaymentAudit) SetMetadata(ip, userAgent string) *PaymentAudit {
	if ip != "" {
		pa.IPAddress = &ip
	}
	if userAgent != "" {
		pa.UserAgent = &userAgent
	}
	return pa
}
