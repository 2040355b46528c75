package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/smarttransit/booking-engine/internal/models"
)

// BookingRepository handles bookings, their segments and booked seats
type BookingRepository struct {
	db *sqlx.DB
}

// NewBookingRepository creates a new BookingRepository
func NewBookingRepository(db *sqlx.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

// WithTx runs fn as a single unit of work
func (r *BookingRepository) WithTx(ctx context.Context, fn func(q Querier) error) error {
	return RunInTx(ctx, r.db, fn)
}

const bookingColumns = `
	id, customer_id, pnr, total_seats, total_amount, currency, travel_date,
	status, booked_at, hold_expires_at, confirmed_at, cancelled_at, expired_at,
	idempotency_key, contact_phone, version, created_at, updated_at`

// ============================================================================
// CREATE
// ============================================================================

// PNRExists reports whether a PNR is already taken
func (r *BookingRepository) PNRExists(ctx context.Context, q Querier, pnr string) (bool, error) {
	var count int
	if err := q.GetContext(ctx, &count, `SELECT COUNT(*) FROM bookings WHERE pnr = $1`, pnr); err != nil {
		return false, fmt.Errorf("failed to check pnr: %w", err)
	}
	return count > 0, nil
}

// FindHeldSeats returns which of seatNumbers are already held by a Pending or
// Confirmed booking on the schedule.
func (r *BookingRepository) FindHeldSeats(ctx context.Context, q Querier, scheduleID uuid.UUID, seatNumbers []string) ([]string, error) {
	var held []string
	query := `
		SELECT bs.seat_number
		FROM booked_seats bs
		JOIN bookings b ON b.id = bs.booking_id
		WHERE bs.schedule_id = $1
		  AND bs.seat_number = ANY($2)
		  AND b.status IN ('pending', 'confirmed')
		ORDER BY bs.seat_number`

	if err := q.SelectContext(ctx, &held, query, scheduleID, pq.Array(seatNumbers)); err != nil {
		return nil, fmt.Errorf("failed to check held seats: %w", err)
	}
	return held, nil
}

// Create inserts a booking with all of its segments and seats
func (r *BookingRepository) Create(ctx context.Context, q Querier, booking *models.Booking) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO bookings (
			id, customer_id, pnr, total_seats, total_amount, currency, travel_date,
			status, booked_at, hold_expires_at, idempotency_key, contact_phone,
			version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		booking.ID, booking.CustomerID, booking.PNR, booking.TotalSeats, booking.TotalAmount,
		booking.Currency, booking.TravelDate, booking.Status, booking.BookedAt,
		booking.HoldExpiresAt, booking.IdempotencyKey, booking.ContactPhone,
		booking.Version, booking.CreatedAt, booking.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert booking: %w", err)
	}

	for _, seg := range booking.Segments {
		_, err := q.ExecContext(ctx, `
			INSERT INTO booking_segments (
				id, booking_id, schedule_id, seats_booked, segment_amount,
				segment_order, boarding_stop_id, dropping_stop_id
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			seg.ID, booking.ID, seg.ScheduleID, seg.SeatsBooked, seg.SegmentAmount,
			seg.SegmentOrder, seg.BoardingStopID, seg.DroppingStopID,
		)
		if err != nil {
			return fmt.Errorf("failed to insert booking segment: %w", err)
		}

		for _, seat := range seg.Seats {
			_, err := q.ExecContext(ctx, `
				INSERT INTO booked_seats (
					id, segment_id, booking_id, schedule_id, seat_number, seat_type,
					seat_position, passenger_name, passenger_age, passenger_gender, travel_date
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
				seat.ID, seg.ID, booking.ID, seg.ScheduleID, seat.SeatNumber, seat.SeatType,
				seat.SeatPosition, seat.PassengerName, seat.PassengerAge, seat.PassengerGender, seat.TravelDate,
			)
			if err != nil {
				return fmt.Errorf("failed to insert booked seat: %w", err)
			}
		}
	}

	return nil
}

// ============================================================================
// READ
// ============================================================================

// GetByID returns a booking with segments and seats, or nil when not found
func (r *BookingRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	return r.getOne(ctx, r.db, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
}

// GetByPNR returns a booking by its PNR, or nil when not found
func (r *BookingRepository) GetByPNR(ctx context.Context, pnr string) (*models.Booking, error) {
	return r.getOne(ctx, r.db, `SELECT `+bookingColumns+` FROM bookings WHERE pnr = $1`, pnr)
}

// GetByIdempotencyKey returns the customer's booking created with key, or nil
func (r *BookingRepository) GetByIdempotencyKey(ctx context.Context, customerID uuid.UUID, key string) (*models.Booking, error) {
	return r.getOne(ctx, r.db,
		`SELECT `+bookingColumns+` FROM bookings WHERE customer_id = $1 AND idempotency_key = $2`,
		customerID, key)
}

// ListByCustomer returns a customer's bookings, newest first, without seats
func (r *BookingRepository) ListByCustomer(ctx context.Context, customerID uuid.UUID, limit, offset int) ([]*models.Booking, error) {
	var bookings []*models.Booking
	query := `SELECT ` + bookingColumns + `
		FROM bookings
		WHERE customer_id = $1
		ORDER BY booked_at DESC
		LIMIT $2 OFFSET $3`

	if err := r.db.SelectContext(ctx, &bookings, query, customerID, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	return bookings, nil
}

// GetSegments loads the ordered segments of a booking with their seats
func (r *BookingRepository) GetSegments(ctx context.Context, q Querier, bookingID uuid.UUID) ([]models.BookingSegment, error) {
	var segments []models.BookingSegment
	err := q.SelectContext(ctx, &segments, `
		SELECT
			bs.id, bs.booking_id, bs.schedule_id, bs.seats_booked, bs.segment_amount,
			bs.segment_order, bs.boarding_stop_id, bs.dropping_stop_id, s.departure_time
		FROM booking_segments bs
		JOIN schedules s ON s.id = bs.schedule_id
		WHERE bs.booking_id = $1
		ORDER BY bs.segment_order`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to get booking segments: %w", err)
	}

	var seats []models.BookedSeat
	err = q.SelectContext(ctx, &seats, `
		SELECT
			id, segment_id, booking_id, schedule_id, seat_number, seat_type,
			seat_position, passenger_name, passenger_age, passenger_gender, travel_date
		FROM booked_seats
		WHERE booking_id = $1
		ORDER BY seat_number`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to get booked seats: %w", err)
	}

	bySegment := make(map[uuid.UUID][]models.BookedSeat, len(segments))
	for _, seat := range seats {
		bySegment[seat.SegmentID] = append(bySegment[seat.SegmentID], seat)
	}
	for i := range segments {
		segments[i].Seats = bySegment[segments[i].ID]
	}

	return segments, nil
}

func (r *BookingRepository) getOne(ctx context.Context, q Querier, query string, args ...interface{}) (*models.Booking, error) {
	var booking models.Booking
	err := q.GetContext(ctx, &booking, query, args...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}

	segments, err := r.GetSegments(ctx, q, booking.ID)
	if err != nil {
		return nil, err
	}
	booking.Segments = segments

	return &booking, nil
}

// CountPending returns how many bookings currently hold seats unpaid
func (r *BookingRepository) CountPending(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM bookings WHERE status = 'pending'`); err != nil {
		return 0, fmt.Errorf("failed to count pending bookings: %w", err)
	}
	return count, nil
}

// ListExpiredPending returns Pending bookings whose hold lapsed at or before now
func (r *BookingRepository) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	query := `
		SELECT id FROM bookings
		WHERE status = 'pending' AND hold_expires_at <= $1
		ORDER BY hold_expires_at ASC
		LIMIT $2`

	if err := r.db.SelectContext(ctx, &ids, query, now, limit); err != nil {
		return nil, fmt.Errorf("failed to list expired bookings: %w", err)
	}
	return ids, nil
}

// ============================================================================
// STATE TRANSITIONS
// Each is a compare-and-set on status; false means another writer got there first.
// ============================================================================

// ConfirmPending moves Pending -> Confirmed while the hold is still live
func (r *BookingRepository) ConfirmPending(ctx context.Context, q Querier, id uuid.UUID, now time.Time) (bool, error) {
	return r.transition(ctx, q, `
		UPDATE bookings
		SET status = 'confirmed', confirmed_at = $2, hold_expires_at = NULL,
		    version = version + 1, updated_at = $2
		WHERE id = $1 AND status = 'pending' AND hold_expires_at > $2`, id, now)
}

// ExpirePending moves Pending -> Expired once the hold has lapsed
func (r *BookingRepository) ExpirePending(ctx context.Context, q Querier, id uuid.UUID, now time.Time) (bool, error) {
	return r.transition(ctx, q, `
		UPDATE bookings
		SET status = 'expired', expired_at = $2, version = version + 1, updated_at = $2
		WHERE id = $1 AND status = 'pending' AND hold_expires_at <= $2`, id, now)
}

// CancelPending moves Pending -> Cancelled after a failed payment
func (r *BookingRepository) CancelPending(ctx context.Context, q Querier, id uuid.UUID, now time.Time) (bool, error) {
	return r.transition(ctx, q, `
		UPDATE bookings
		SET status = 'cancelled', cancelled_at = $2, hold_expires_at = NULL,
		    version = version + 1, updated_at = $2
		WHERE id = $1 AND status = 'pending'`, id, now)
}

// CancelConfirmed moves the customer's Confirmed booking to Cancelled
func (r *BookingRepository) CancelConfirmed(ctx context.Context, q Querier, id, customerID uuid.UUID, now time.Time) (bool, error) {
	return r.transition(ctx, q, `
		UPDATE bookings
		SET status = 'cancelled', cancelled_at = $3, version = version + 1, updated_at = $3
		WHERE id = $1 AND customer_id = $2 AND status = 'confirmed'`, id, customerID, now)
}

func (r *BookingRepository) transition(ctx context.Context, q Querier, query string, args ...interface{}) (bool, error) {
	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update booking status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to update booking status: %w", err)
	}
	return affected == 1, nil
}
