package models

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BookingStatus represents the status of a booking
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusExpired   BookingStatus = "expired"
)

// bookingTransitions lists every allowed status change.
// Expired and Cancelled are terminal; Confirmed never returns to Pending.
var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusPending:   {BookingStatusConfirmed, BookingStatusExpired, BookingStatusCancelled},
	BookingStatusConfirmed: {BookingStatusCancelled},
}

// CanTransitionTo reports whether the state machine allows s -> next
func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	for _, allowed := range bookingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// HoldsSeats reports whether bookings in this status count against inventory
func (s BookingStatus) HoldsSeats() bool {
	return s == BookingStatusPending || s == BookingStatusConfirmed
}

// Booking is a customer's reservation over one or more segments
type Booking struct {
	ID             uuid.UUID        `json:"id" db:"id"`
	CustomerID     uuid.UUID        `json:"customer_id" db:"customer_id"`
	PNR            string           `json:"pnr" db:"pnr"`
	TotalSeats     int              `json:"total_seats" db:"total_seats"`
	TotalAmount    decimal.Decimal  `json:"total_amount" db:"total_amount"`
	Currency       string           `json:"currency" db:"currency"`
	TravelDate     time.Time        `json:"travel_date" db:"travel_date"`
	Status         BookingStatus    `json:"status" db:"status"`
	BookedAt       time.Time        `json:"booked_at" db:"booked_at"`
	HoldExpiresAt  *time.Time       `json:"hold_expires_at,omitempty" db:"hold_expires_at"`
	ConfirmedAt    *time.Time       `json:"confirmed_at,omitempty" db:"confirmed_at"`
	CancelledAt    *time.Time       `json:"cancelled_at,omitempty" db:"cancelled_at"`
	ExpiredAt      *time.Time       `json:"expired_at,omitempty" db:"expired_at"`
	IdempotencyKey *string          `json:"-" db:"idempotency_key"`
	ContactPhone   *string          `json:"contact_phone,omitempty" db:"contact_phone"`
	Version        int              `json:"version" db:"version"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at" db:"updated_at"`
	Segments       []BookingSegment `json:"segments,omitempty" db:"-"`
}

// IsHoldExpired reports whether a Pending booking's hold has lapsed at now.
// The hold is ignored once the booking has left Pending.
func (b *Booking) IsHoldExpired(now time.Time) bool {
	if b.Status != BookingStatusPending || b.HoldExpiresAt == nil {
		return false
	}
	return !now.Before(*b.HoldExpiresAt)
}

// FirstDeparture returns the departure time of the earliest segment
func (b *Booking) FirstDeparture() (time.Time, bool) {
	var first time.Time
	for _, seg := range b.Segments {
		if first.IsZero() || seg.DepartureTime.Before(first) {
			first = seg.DepartureTime
		}
	}
	return first, !first.IsZero()
}

// SeatCount returns the number of booked seats across all segments
func (b *Booking) SeatCount() int {
	count := 0
	for _, seg := range b.Segments {
		count += len(seg.Seats)
	}
	return count
}

// BookingSegment is one leg of a booking on a single schedule
type BookingSegment struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	BookingID      uuid.UUID       `json:"booking_id" db:"booking_id"`
	ScheduleID     uuid.UUID       `json:"schedule_id" db:"schedule_id"`
	SeatsBooked    int             `json:"seats_booked" db:"seats_booked"`
	SegmentAmount  decimal.Decimal `json:"segment_amount" db:"segment_amount"`
	SegmentOrder   int             `json:"segment_order" db:"segment_order"`
	BoardingStopID uuid.UUID       `json:"boarding_stop_id" db:"boarding_stop_id"`
	DroppingStopID uuid.UUID       `json:"dropping_stop_id" db:"dropping_stop_id"`
	DepartureTime  time.Time       `json:"departure_time" db:"departure_time"`
	Seats          []BookedSeat    `json:"seats,omitempty" db:"-"`
}

// BookedSeat is a single passenger's seat on a segment
type BookedSeat struct {
	ID              uuid.UUID `json:"id" db:"id"`
	SegmentID       uuid.UUID `json:"segment_id" db:"segment_id"`
	BookingID       uuid.UUID `json:"booking_id" db:"booking_id"`
	ScheduleID      uuid.UUID `json:"schedule_id" db:"schedule_id"`
	SeatNumber      string    `json:"seat_number" db:"seat_number"`
	SeatType        string    `json:"seat_type" db:"seat_type"`
	SeatPosition    *string   `json:"seat_position,omitempty" db:"seat_position"`
	PassengerName   string    `json:"passenger_name" db:"passenger_name"`
	PassengerAge    int       `json:"passenger_age" db:"passenger_age"`
	PassengerGender string    `json:"passenger_gender" db:"passenger_gender"`
	TravelDate      time.Time `json:"travel_date" db:"travel_date"`
}

// PassengerRequest describes one traveller on a segment
type PassengerRequest struct {
	Name   string `json:"name" validate:"required,max=100"`
	Age    int    `json:"age" validate:"gte=0,lte=120"`
	Gender string `json:"gender" validate:"required,oneof=male female other"`
}

// SegmentRequest asks for specific seats on one schedule
type SegmentRequest struct {
	ScheduleID     uuid.UUID          `json:"schedule_id" validate:"required"`
	SeatNumbers    []string           `json:"seat_numbers" validate:"required,min=1,dive,seatno"`
	Passengers     []PassengerRequest `json:"passengers" validate:"required,min=1,dive"`
	BoardingStopID uuid.UUID          `json:"boarding_stop_id" validate:"required"`
	DroppingStopID uuid.UUID          `json:"dropping_stop_id" validate:"required"`
}

// CreateBookingRequest creates a Pending booking over one or more segments
type CreateBookingRequest struct {
	TravelDate     string           `json:"travel_date" validate:"required,datetime=2006-01-02"`
	Segments       []SegmentRequest `json:"segments" validate:"required,min=1,dive"`
	IdempotencyKey *string          `json:"idempotency_key,omitempty" validate:"omitempty,max=64"`
	ContactPhone   *string          `json:"contact_phone,omitempty" validate:"omitempty,phone"`
}

// ParsedTravelDate returns the travel date at midnight UTC
func (r *CreateBookingRequest) ParsedTravelDate() (time.Time, error) {
	return time.Parse("2006-01-02", r.TravelDate)
}

// Validate checks the cross-field rules that struct tags cannot express
func (r *CreateBookingRequest) Validate(now time.Time, maxSeatsPerSegment int) error {
	if len(r.Segments) == 0 {
		return NewValidationError("segments", "at least one segment is required")
	}

	travelDate, err := r.ParsedTravelDate()
	if err != nil {
		return NewValidationError("travel_date", "must be formatted YYYY-MM-DD")
	}
	if IsPastDate(travelDate, now) {
		return NewValidationError("travel_date", "cannot be in the past")
	}

	seenSchedules := make(map[uuid.UUID]bool, len(r.Segments))
	for i, seg := range r.Segments {
		field := segmentField(i)

		if len(seg.SeatNumbers) != len(seg.Passengers) {
			return NewValidationError(field, "number of seats must equal number of passengers")
		}
		if len(seg.SeatNumbers) == 0 {
			return NewValidationError(field, "at least one seat is required")
		}
		if maxSeatsPerSegment > 0 && len(seg.SeatNumbers) > maxSeatsPerSegment {
			return NewValidationError(field, "too many seats requested")
		}
		if seg.BoardingStopID == seg.DroppingStopID {
			return NewValidationError(field, "boarding and dropping stop must differ")
		}
		if seenSchedules[seg.ScheduleID] {
			return NewValidationError(field, "schedule appears more than once")
		}
		seenSchedules[seg.ScheduleID] = true

		seenSeats := make(map[string]bool, len(seg.SeatNumbers))
		for _, seat := range seg.SeatNumbers {
			if seenSeats[seat] {
				return NewValidationError(field, "seat "+seat+" requested twice")
			}
			seenSeats[seat] = true
		}
	}

	return nil
}

// BookingResponse is returned after a booking is created or fetched
type BookingResponse struct {
	BookingID     uuid.UUID        `json:"booking_id"`
	PNR           string           `json:"pnr"`
	Status        BookingStatus    `json:"status"`
	TotalAmount   decimal.Decimal  `json:"total_amount"`
	Currency      string           `json:"currency"`
	TotalSeats    int              `json:"total_seats"`
	TravelDate    string           `json:"travel_date"`
	HoldExpiresAt *time.Time       `json:"hold_expires_at,omitempty"`
	Segments      []BookingSegment `json:"segments,omitempty"`
}

// NewBookingResponse builds the public view of a booking
func NewBookingResponse(b *Booking) *BookingResponse {
	resp := &BookingResponse{
		BookingID:   b.ID,
		PNR:         b.PNR,
		Status:      b.Status,
		TotalAmount: b.TotalAmount,
		Currency:    b.Currency,
		TotalSeats:  b.TotalSeats,
		TravelDate:  b.TravelDate.Format("2006-01-02"),
		Segments:    b.Segments,
	}
	if b.Status == BookingStatusPending {
		resp.HoldExpiresAt = b.HoldExpiresAt
	}
	return resp
}

// IsPastDate reports whether date (day precision) is before today's date at now
func IsPastDate(date, now time.Time) bool {
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	dy, dm, dd := date.Date()
	day := time.Date(dy, dm, dd, 0, 0, 0, 0, time.UTC)
	return day.Before(today)
}

// SameDay reports whether a and b fall on the same calendar date
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func segmentField(i int) string {
	return "segments[" + strconv.Itoa(i) + "]"
}
