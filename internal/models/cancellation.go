package models

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RefundStatus represents the processing state of a refund
type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusProcessed RefundStatus = "processed"
	RefundStatusFailed    RefundStatus = "failed"
)

// Cancellation records a customer cancelling a Confirmed booking
type Cancellation struct {
	ID                uuid.UUID       `json:"id" db:"id"`
	BookingID         uuid.UUID       `json:"booking_id" db:"booking_id"`
	CustomerID        uuid.UUID       `json:"customer_id" db:"customer_id"`
	Reason            *string         `json:"reason,omitempty" db:"reason"`
	HoursBeforeTravel float64         `json:"hours_before_travel" db:"hours_before_travel"`
	RefundPercent     int             `json:"refund_percent" db:"refund_percent"`
	RefundAmount      decimal.Decimal `json:"refund_amount" db:"refund_amount"`
	CancelledAt       time.Time       `json:"cancelled_at" db:"cancelled_at"`
}

// Refund is money owed back against a successful payment
type Refund struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	BookingID   uuid.UUID       `json:"booking_id" db:"booking_id"`
	PaymentID   uuid.UUID       `json:"payment_id" db:"payment_id"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	Currency    string          `json:"currency" db:"currency"`
	Status      RefundStatus    `json:"status" db:"status"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty" db:"processed_at"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// CancelBookingRequest is the optional body of a cancellation
type CancelBookingRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

// RefundQuote is the refund a cancellation would produce at a point in time
type RefundQuote struct {
	BookingID         uuid.UUID       `json:"booking_id"`
	PaidAmount        decimal.Decimal `json:"paid_amount"`
	RefundAmount      decimal.Decimal `json:"refund_amount"`
	RefundPercent     int             `json:"refund_percent"`
	HoursBeforeTravel float64         `json:"hours_before_travel"`
	Currency          string          `json:"currency"`
}

// CancelBookingResponse is returned after a successful cancellation
type CancelBookingResponse struct {
	BookingID     uuid.UUID       `json:"booking_id"`
	PNR           string          `json:"pnr"`
	Status        BookingStatus   `json:"status"`
	RefundAmount  decimal.Decimal `json:"refund_amount"`
	RefundPercent int             `json:"refund_percent"`
	RefundStatus  *RefundStatus   `json:"refund_status,omitempty"`
	Currency      string          `json:"currency"`
	CancelledAt   time.Time       `json:"cancelled_at"`
}

// RefundTier is one row of a refund policy
type RefundTier struct {
	MinHoursBeforeTravel float64
	Percent              int
}

// RefundPolicy maps hours-before-departure to a refund percentage
type RefundPolicy struct {
	tiers []RefundTier
}

// NewRefundPolicy builds a policy; tiers are re-sorted by hours descending
func NewRefundPolicy(tiers []RefundTier) RefundPolicy {
	sorted := make([]RefundTier, len(tiers))
	copy(sorted, tiers)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].MinHoursBeforeTravel > sorted[j].MinHoursBeforeTravel
	})
	return RefundPolicy{tiers: sorted}
}

// PercentFor returns the refund percent for a cancellation hoursBefore departure.
// Cancellations after departure, or below every tier, refund nothing.
func (p RefundPolicy) PercentFor(hoursBefore float64) int {
	if hoursBefore < 0 {
		return 0
	}
	for _, tier := range p.tiers {
		if hoursBefore >= tier.MinHoursBeforeTravel {
			return tier.Percent
		}
	}
	return 0
}

// Calculate returns the refund amount, the percent applied and the hours
// between now and departure. Amounts are rounded to two decimal places.
func (p RefundPolicy) Calculate(paid decimal.Decimal, departure, now time.Time) (decimal.Decimal, int, float64) {
	hours := departure.Sub(now).Hours()
	percent := p.PercentFor(hours)
	refund := paid.Mul(decimal.NewFromInt(int64(percent))).Div(decimal.NewFromInt(100)).Round(2)
	return refund, percent, hours
}
