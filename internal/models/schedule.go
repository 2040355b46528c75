package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ScheduleStatus represents the operational status of a schedule
type ScheduleStatus string

const (
	ScheduleStatusScheduled ScheduleStatus = "scheduled"
	ScheduleStatusDeparted  ScheduleStatus = "departed"
	ScheduleStatusCancelled ScheduleStatus = "cancelled"
)

// Schedule is one bookable journey of a bus on a route for a travel date.
// AvailableSeats is only ever changed through the seat ledger.
type Schedule struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	BusID           uuid.UUID       `json:"bus_id" db:"bus_id"`
	RouteID         uuid.UUID       `json:"route_id" db:"route_id"`
	SourceCity      string          `json:"source_city" db:"source_city"`
	DestinationCity string          `json:"destination_city" db:"destination_city"`
	TravelDate      time.Time       `json:"travel_date" db:"travel_date"`
	DepartureTime   time.Time       `json:"departure_time" db:"departure_time"`
	ArrivalTime     time.Time       `json:"arrival_time" db:"arrival_time"`
	TotalCapacity   int             `json:"total_capacity" db:"total_capacity"`
	AvailableSeats  int             `json:"available_seats" db:"available_seats"`
	Fare            decimal.Decimal `json:"fare" db:"fare"`
	SeatType        string          `json:"seat_type" db:"seat_type"`
	Status          ScheduleStatus  `json:"status" db:"status"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// IsBookable reports whether new seats may be reserved on this schedule
func (s *Schedule) IsBookable(now time.Time) bool {
	return s.Status == ScheduleStatusScheduled && s.DepartureTime.After(now)
}

// Duration returns the scheduled journey time
func (s *Schedule) Duration() time.Duration {
	return s.ArrivalTime.Sub(s.DepartureTime)
}

// ConnectingLeg is one leg of a joined schedule pair returned by the catalog
type ConnectingLeg struct {
	ScheduleID      uuid.UUID       `json:"schedule_id" db:"schedule_id"`
	RouteName       string          `json:"route_name" db:"route_name"`
	SourceCity      string          `json:"source_city" db:"source_city"`
	DestinationCity string          `json:"destination_city" db:"destination_city"`
	DepartureTime   time.Time       `json:"departure_time" db:"departure_time"`
	ArrivalTime     time.Time       `json:"arrival_time" db:"arrival_time"`
	Fare            decimal.Decimal `json:"fare" db:"fare"`
	AvailableSeats  int             `json:"available_seats" db:"available_seats"`
	SeatType        string          `json:"seat_type" db:"seat_type"`
	// Stops are the route's stop names in travel order
	Stops           []string        `json:"stops,omitempty" db:"-"`
}
