package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RankToggle selects how connecting itineraries are ordered
type RankToggle string

const (
	RankCheapest RankToggle = "cheapest"
	RankFastest  RankToggle = "fastest"
)

// ConnectingSearchRequest asks for two-leg itineraries between two cities
type ConnectingSearchRequest struct {
	Source      string     `form:"source" json:"source"`
	Destination string     `form:"destination" json:"destination"`
	TravelDate  string     `form:"travel_date" json:"travel_date"`
	Toggle      RankToggle `form:"toggle" json:"toggle"`
}

// Validate checks the search parameters against now
func (r *ConnectingSearchRequest) Validate(now time.Time) (time.Time, error) {
	r.Source = strings.TrimSpace(r.Source)
	r.Destination = strings.TrimSpace(r.Destination)

	if r.Source == "" {
		return time.Time{}, NewValidationError("source", "is required")
	}
	if r.Destination == "" {
		return time.Time{}, NewValidationError("destination", "is required")
	}
	if strings.EqualFold(r.Source, r.Destination) {
		return time.Time{}, NewValidationError("destination", "must differ from source")
	}

	date, err := time.Parse("2006-01-02", r.TravelDate)
	if err != nil {
		return time.Time{}, NewValidationError("travel_date", "must be formatted YYYY-MM-DD")
	}
	if IsPastDate(date, now) {
		return time.Time{}, NewValidationError("travel_date", "cannot be in the past")
	}

	if r.Toggle == "" {
		r.Toggle = RankCheapest
	}
	if r.Toggle != RankCheapest && r.Toggle != RankFastest {
		return time.Time{}, NewValidationError("toggle", "must be cheapest or fastest")
	}

	return date, nil
}

// Itinerary is a ranked pair of legs with a transfer in between
type Itinerary struct {
	Legs                 []ConnectingLeg `json:"legs"`
	TransferCity         string          `json:"transfer_city"`
	TotalPrice           decimal.Decimal `json:"total_price"`
	TotalDurationMinutes int             `json:"total_duration_minutes"`
	LayoverMinutes       int             `json:"layover_minutes"`
	Transfers            int             `json:"transfers"`
	RouteDescription     string          `json:"route_description"`
}

// ConnectingBookingRequest books every leg of an itinerary as one booking
type ConnectingBookingRequest struct {
	TravelDate     string           `json:"travel_date" validate:"required,datetime=2006-01-02"`
	Legs           []SegmentRequest `json:"legs" validate:"required,min=2,dive"`
	IdempotencyKey *string          `json:"idempotency_key,omitempty" validate:"omitempty,max=64"`
	ContactPhone   *string          `json:"contact_phone,omitempty" validate:"omitempty,phone"`
}

// ToCreateBookingRequest converts the legs into an ordered multi-segment request
func (r *ConnectingBookingRequest) ToCreateBookingRequest() *CreateBookingRequest {
	return &CreateBookingRequest{
		TravelDate:     r.TravelDate,
		Segments:       r.Legs,
		IdempotencyKey: r.IdempotencyKey,
		ContactPhone:   r.ContactPhone,
	}
}

// ValidatePassengerCounts requires every leg to carry the same travellers count
func (r *ConnectingBookingRequest) ValidatePassengerCounts() error {
	if len(r.Legs) < 2 {
		return NewValidationError("legs", "a connecting booking needs at least two legs")
	}
	want := len(r.Legs[0].Passengers)
	for i, leg := range r.Legs[1:] {
		if len(leg.Passengers) != want {
			return NewValidationError(segmentField(i+1), "passenger count must match the first leg")
		}
	}
	return nil
}

