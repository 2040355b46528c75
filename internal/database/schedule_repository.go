package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/smarttransit/booking-engine/internal/models"
)

// ErrInsufficientSeats is returned by Reserve when the conditional decrement
// matched no row because too few seats remain.
var ErrInsufficientSeats = errors.New("insufficient seats")

// ScheduleRepository reads the schedule catalog and owns the seat ledger
// (schedules.available_seats).
type ScheduleRepository struct {
	db *sqlx.DB
}

// NewScheduleRepository creates a new ScheduleRepository
func NewScheduleRepository(db *sqlx.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

const scheduleColumns = `
	id, bus_id, route_id, source_city, destination_city, travel_date,
	departure_time, arrival_time, total_capacity, available_seats,
	fare, seat_type, status, created_at, updated_at`

// ============================================================================
// CATALOG
// ============================================================================

// GetByID returns a schedule, or nil when it does not exist
func (r *ScheduleRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Schedule, error) {
	var schedule models.Schedule
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE id = $1`

	err := r.db.GetContext(ctx, &schedule, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}
	return &schedule, nil
}

// connectingPairRow is one joined (legA, legB) row
type connectingPairRow struct {
	AScheduleID      uuid.UUID       `db:"a_schedule_id"`
	ARouteName       string          `db:"a_route_name"`
	ASourceCity      string          `db:"a_source_city"`
	ADestinationCity string          `db:"a_destination_city"`
	ADepartureTime   time.Time       `db:"a_departure_time"`
	AArrivalTime     time.Time       `db:"a_arrival_time"`
	AFare            decimal.Decimal `db:"a_fare"`
	AAvailableSeats  int             `db:"a_available_seats"`
	ASeatType        string          `db:"a_seat_type"`
	AStops           pq.StringArray  `db:"a_stops"`

	BScheduleID      uuid.UUID       `db:"b_schedule_id"`
	BRouteName       string          `db:"b_route_name"`
	BSourceCity      string          `db:"b_source_city"`
	BDestinationCity string          `db:"b_destination_city"`
	BDepartureTime   time.Time       `db:"b_departure_time"`
	BArrivalTime     time.Time       `db:"b_arrival_time"`
	BFare            decimal.Decimal `db:"b_fare"`
	BAvailableSeats  int             `db:"b_available_seats"`
	BSeatType        string          `db:"b_seat_type"`
	BStops           pq.StringArray  `db:"b_stops"`
}

// ConnectingSearch bounds a connecting-route query
type ConnectingSearch struct {
	Source      string
	Destination string
	TravelDate  time.Time
	Toggle      models.RankToggle
	MinLayover  time.Duration
	MaxLayover  time.Duration
	Limit       int
}

// FindConnectingLegs joins schedules whose first leg ends where the second
// begins. Results are flattened into consecutive (legA, legB) pairs.
func (r *ScheduleRepository) FindConnectingLegs(ctx context.Context, search ConnectingSearch) ([]models.ConnectingLeg, error) {
	orderBy := "(a.fare + b.fare) ASC, b.arrival_time ASC"
	if search.Toggle == models.RankFastest {
		orderBy = "(b.arrival_time - a.departure_time) ASC, (a.fare + b.fare) ASC"
	}

	query := `
		SELECT
			a.id AS a_schedule_id, ra.name AS a_route_name,
			a.source_city AS a_source_city, a.destination_city AS a_destination_city,
			a.departure_time AS a_departure_time, a.arrival_time AS a_arrival_time,
			a.fare AS a_fare, a.available_seats AS a_available_seats, a.seat_type AS a_seat_type,
			ARRAY(SELECT s.name FROM stops s WHERE s.route_id = a.route_id ORDER BY s.stop_order) AS a_stops,
			b.id AS b_schedule_id, rb.name AS b_route_name,
			b.source_city AS b_source_city, b.destination_city AS b_destination_city,
			b.departure_time AS b_departure_time, b.arrival_time AS b_arrival_time,
			b.fare AS b_fare, b.available_seats AS b_available_seats, b.seat_type AS b_seat_type,
			ARRAY(SELECT s.name FROM stops s WHERE s.route_id = b.route_id ORDER BY s.stop_order) AS b_stops
		FROM schedules a
		JOIN schedules b ON LOWER(b.source_city) = LOWER(a.destination_city)
		JOIN routes ra ON ra.id = a.route_id
		JOIN routes rb ON rb.id = b.route_id
		WHERE LOWER(a.source_city) = LOWER($1)
		  AND LOWER(b.destination_city) = LOWER($2)
		  AND a.travel_date = $3
		  AND a.status = 'scheduled' AND b.status = 'scheduled'
		  AND a.available_seats > 0 AND b.available_seats > 0
		  AND a.departure_time > NOW()
		  AND b.departure_time >= a.arrival_time + ($4 * INTERVAL '1 second')
		  AND b.departure_time <= a.arrival_time + ($5 * INTERVAL '1 second')
		ORDER BY ` + orderBy + `
		LIMIT $6`

	var rows []connectingPairRow
	err := r.db.SelectContext(ctx, &rows, query,
		search.Source,
		search.Destination,
		search.TravelDate.Format("2006-01-02"),
		int64(search.MinLayover.Seconds()),
		int64(search.MaxLayover.Seconds()),
		search.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search connecting schedules: %w", err)
	}

	legs := make([]models.ConnectingLeg, 0, len(rows)*2)
	for _, row := range rows {
		legs = append(legs,
			models.ConnectingLeg{
				ScheduleID:      row.AScheduleID,
				RouteName:       row.ARouteName,
				SourceCity:      row.ASourceCity,
				DestinationCity: row.ADestinationCity,
				DepartureTime:   row.ADepartureTime,
				ArrivalTime:     row.AArrivalTime,
				Fare:            row.AFare,
				AvailableSeats:  row.AAvailableSeats,
				SeatType:        row.ASeatType,
				Stops:           []string(row.AStops),
			},
			models.ConnectingLeg{
				ScheduleID:      row.BScheduleID,
				RouteName:       row.BRouteName,
				SourceCity:      row.BSourceCity,
				DestinationCity: row.BDestinationCity,
				DepartureTime:   row.BDepartureTime,
				ArrivalTime:     row.BArrivalTime,
				Fare:            row.BFare,
				AvailableSeats:  row.BAvailableSeats,
				SeatType:        row.BSeatType,
				Stops:           []string(row.BStops),
			},
		)
	}

	return legs, nil
}

// ============================================================================
// SEAT LEDGER
// ============================================================================

// Reserve atomically decrements available seats. The decrement only applies
// when enough seats remain, so concurrent reservations can never oversell.
// Returns sql.ErrNoRows for an unknown schedule and ErrInsufficientSeats
// when the schedule cannot cover the request.
func (r *ScheduleRepository) Reserve(ctx context.Context, q Querier, scheduleID uuid.UUID, seats int) error {
	if seats <= 0 {
		return fmt.Errorf("seat count must be positive, got %d", seats)
	}

	result, err := q.ExecContext(ctx, `
		UPDATE schedules
		SET available_seats = available_seats - $2, updated_at = NOW()
		WHERE id = $1 AND available_seats >= $2 AND status = 'scheduled'
	`, scheduleID, seats)
	if err != nil {
		return fmt.Errorf("failed to reserve seats: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to reserve seats: %w", err)
	}
	if affected == 1 {
		return nil
	}

	// Distinguish a missing schedule from an exhausted one
	var available int
	err = q.GetContext(ctx, &available, `SELECT available_seats FROM schedules WHERE id = $1`, scheduleID)
	if err == sql.ErrNoRows {
		return sql.ErrNoRows
	}
	if err != nil {
		return fmt.Errorf("failed to read available seats: %w", err)
	}
	return ErrInsufficientSeats
}

// Release returns seats to a schedule, never exceeding its capacity
func (r *ScheduleRepository) Release(ctx context.Context, q Querier, scheduleID uuid.UUID, seats int) error {
	if seats <= 0 {
		return nil
	}

	_, err := q.ExecContext(ctx, `
		UPDATE schedules
		SET available_seats = LEAST(total_capacity, available_seats + $2), updated_at = NOW()
		WHERE id = $1
	`, scheduleID, seats)
	if err != nil {
		return fmt.Errorf("failed to release seats: %w", err)
	}
	return nil
}
