package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/smarttransit/booking-engine/internal/database"
	"github.com/smarttransit/booking-engine/internal/models"
	"github.com/smarttransit/booking-engine/pkg/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateBooking(t *testing.T) {
	t.Run("Holds seats as a pending booking", func(t *testing.T) {
		env := newTestEnv(t)
		s := env.addSchedule("Chennai", "Bengaluru", testDeparture, 40, "450.00")
		customer := uuid.New()

		booking := env.book(t, customer, bookingRequest(segment(s.ID, "A1", "A2")))

		assert.Equal(t, models.BookingStatusPending, booking.Status)
		assert.Equal(t, "PNR00001", booking.PNR)
		assert.Equal(t, 2, booking.TotalSeats)
		assert.True(t, decimal.RequireFromString("900").Equal(booking.TotalAmount))
		require.NotNil(t, booking.HoldExpiresAt)
		assert.Equal(t, testNow.Add(testHoldWindow), *booking.HoldExpiresAt)
		require.Len(t, booking.Segments, 1)
		assert.Len(t, booking.Segments[0].Seats, 2)

		assert.Equal(t, 38, env.db.schedule(s.ID).AvailableSeats)
		assert.Zero(t, env.claims.held(), "claims are dropped after the attempt")
	})

	t.Run("Normalizes the contact phone", func(t *testing.T) {
		env := newTestEnv(t)
		s := env.addSchedule("Chennai", "Bengaluru", testDeparture, 40, "450.00")

		phone := "98765 43210"
		req := bookingRequest(segment(s.ID, "A1"))
		req.ContactPhone = &phone

		booking := env.book(t, uuid.New(), req)
		require.NotNil(t, booking.ContactPhone)
		assert.Equal(t, "+919876543210", *booking.ContactPhone)
	})

	t.Run("Seat already held", func(t *testing.T) {
		env := newTestEnv(t)
		s := env.addSchedule("Chennai", "Bengaluru", testDeparture, 40, "450.00")
		env.book(t, uuid.New(), bookingRequest(segment(s.ID, "A1", "A2")))

		_, err := env.bookings.CreateBooking(ctxBG, uuid.New(), bookingRequest(segment(s.ID, "A2", "A3")))
		require.Error(t, err)
		assert.True(t, models.IsConflictReason(err, models.ConflictSeatsTaken))

		var conflict *models.ConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, []string{"A2"}, conflict.Seats)
		assert.Equal(t, 38, env.db.schedule(s.ID).AvailableSeats)
	})

	t.Run("Seat claimed by a concurrent attempt", func(t *testing.T) {
		env := newTestEnv(t)
		s := env.addSchedule("Chennai", "Bengaluru", testDeparture, 40, "450.00")
		_, err := env.claims.Claim(ctxBG, s.ID, s.TravelDate, []string{"B4"}, "someone-else", time.Minute)
		require.NoError(t, err)

		_, err = env.bookings.CreateBooking(ctxBG, uuid.New(), bookingRequest(segment(s.ID, "B4")))
		assert.True(t, models.IsConflictReason(err, models.ConflictSeatsTaken))
		assert.Equal(t, 40, env.db.schedule(s.ID).AvailableSeats)
	})

	t.Run("Claim store unavailable", func(t *testing.T) {
		env := newTestEnv(t)
		s := env.addSchedule("Chennai", "Bengaluru", testDeparture, 40, "450.00")
		env.claims.err = errBoom

		_, err := env.bookings.CreateBooking(ctxBG, uuid.New(), bookingRequest(segment(s.ID, "A1")))
		assert.True(t, models.IsExternal(err))
		assert.Equal(t, 40, env.db.schedule(s.ID).AvailableSeats)
	})

	t.Run("Not enough seats left", func(t *testing.T) {
		env := newTestEnv(t)
		s := env.addSchedule("Chennai", "Bengaluru", testDeparture, 2, "450.00")

		_, err := env.bookings.CreateBooking(ctxBG, uuid.New(), bookingRequest(segment(s.ID, "A1", "A2", "A3")))
		assert.True(t, models.IsConflictReason(err, models.ConflictInsufficientSeats))
		assert.Equal(t, 2, env.db.schedule(s.ID).AvailableSeats)
	})

	t.Run("Failed segment rolls back earlier segments", func(t *testing.T) {
		env := newTestEnv(t)
		first := env.addSchedule("Chennai", "Vellore", testDeparture, 40, "200.00")
		second := env.addSchedule("Vellore", "Bengaluru", testDeparture.Add(5*time.Hour), 1, "300.00")

		_, err := env.bookings.CreateBooking(ctxBG, uuid.New(), bookingRequest(
			segment(first.ID, "A1", "A2"),
			segment(second.ID, "C1", "C2"),
		))
		assert.True(t, models.IsConflictReason(err, models.ConflictInsufficientSeats))
		assert.Equal(t, 40, env.db.schedule(first.ID).AvailableSeats)
		assert.Equal(t, 1, env.db.schedule(second.ID).AvailableSeats)
		assert.Empty(t, env.db.bookings)
	})

	t.Run("Unknown schedule", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.bookings.CreateBooking(ctxBG, uuid.New(), bookingRequest(segment(uuid.New(), "A1")))
		assert.True(t, models.IsNotFound(err))
	})

	t.Run("Schedule already departed", func(t *testing.T) {
		env := newTestEnv(t)
		s := env.addSchedule("Chennai", "Bengaluru", testDeparture, 40, "450.00")
		env.clock.Advance(50 * time.Hour)

		req := bookingRequest(segment(s.ID, "A1"))
		_, err := env.bookings.CreateBooking(ctxBG, uuid.New(), req)
		assert.True(t, models.IsValidation(err))
	})

	t.Run("Seat and passenger counts differ", func(t *testing.T) {
		env := newTestEnv(t)
		s := env.addSchedule("Chennai", "Bengaluru", testDeparture, 40, "450.00")

		seg := segment(s.ID, "A1", "A2")
		seg.Passengers = seg.Passengers[:1]

		_, err := env.bookings.CreateBooking(ctxBG, uuid.New(), bookingRequest(seg))
		assert.True(t, models.IsValidation(err))
		assert.Equal(t, 40, env.db.schedule(s.ID).AvailableSeats)
	})

	t.Run("Segments out of order", func(t *testing.T) {
		env := newTestEnv(t)
		first := env.addSchedule("Chennai", "Vellore", testDeparture, 40, "200.00")
		second := env.addSchedule("Vellore", "Bengaluru", testDeparture.Add(time.Hour), 40, "300.00")

		_, err := env.bookings.CreateBooking(ctxBG, uuid.New(), bookingRequest(
			segment(first.ID, "A1"),
			segment(second.ID, "A1"),
		))
		var verr *models.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "segments[1]", verr.Field)
	})
}

func TestCreateBooking_Idempotency(t *testing.T) {
	env := newTestEnv(t)
	s := env.addSchedule("Chennai", "Bengaluru", testDeparture, 40, "450.00")
	customer := uuid.New()
	key := "checkout-7f3a"

	req := bookingRequest(segment(s.ID, "A1"))
	req.IdempotencyKey = &key

	first := env.book(t, customer, req)

	retry := bookingRequest(segment(s.ID, "A1"))
	retry.IdempotencyKey = &key
	second := env.book(t, customer, retry)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 39, env.db.schedule(s.ID).AvailableSeats)

	t.Run("Same key from another customer is independent", func(t *testing.T) {
		other := bookingRequest(segment(s.ID, "A2"))
		other.IdempotencyKey = &key
		third := env.book(t, uuid.New(), other)
		assert.NotEqual(t, first.ID, third.ID)
	})
}

func TestCreateBooking_NoOversellUnderConcurrency(t *testing.T) {
	env := newTestEnv(t)
	s := env.addSchedule("Chennai", "Bengaluru", testDeparture, 10, "450.00")

	const attempts = 30
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := env.bookings.CreateBooking(ctxBG, uuid.New(), bookingRequest(segment(s.ID, fmt.Sprintf("S%d", i+1))))

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if models.IsConflictReason(err, models.ConflictInsufficientSeats) {
				rejected++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	assert.Equal(t, attempts-10, rejected)
	assert.Equal(t, 0, env.db.schedule(s.ID).AvailableSeats)
}

func TestCreateBooking_SameSeatConcurrently(t *testing.T) {
	env := newTestEnv(t)
	s := env.addSchedule("Chennai", "Bengaluru", testDeparture, 40, "450.00")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.bookings.CreateBooking(ctxBG, uuid.New(), bookingRequest(segment(s.ID, "W1"))); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 39, env.db.schedule(s.ID).AvailableSeats)
}

// callLog records ledger and seat-check calls in the order they run
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

type recordingSchedules struct {
	ScheduleStore
	log *callLog
}

func (r recordingSchedules) Reserve(ctx context.Context, q database.Querier, scheduleID uuid.UUID, seats int) error {
	r.log.add("reserve:" + scheduleID.String())
	return r.ScheduleStore.Reserve(ctx, q, scheduleID, seats)
}

type recordingBookings struct {
	BookingStore
	log *callLog
}

func (r recordingBookings) FindHeldSeats(ctx context.Context, q database.Querier, scheduleID uuid.UUID, seatNumbers []string) ([]string, error) {
	r.log.add("held:" + scheduleID.String())
	return r.BookingStore.FindHeldSeats(ctx, q, scheduleID, seatNumbers)
}

// The held-seat check must run after Reserve has locked the schedule row,
// otherwise it reads a snapshot taken before a concurrent booking commits.
func TestCreateBooking_ReservesBeforeCheckingHeldSeats(t *testing.T) {
	env := newTestEnv(t)
	first := env.addSchedule("Chennai", "Vellore", testDeparture, 40, "200.00")
	second := env.addSchedule("Vellore", "Bengaluru", testDeparture.Add(5*time.Hour), 40, "300.00")

	log := &callLog{}
	svc := NewBookingService(
		recordingBookings{BookingStore: memBookings{env.db}, log: log},
		recordingSchedules{ScheduleStore: memSchedules{env.db}, log: log},
		newMemClaims(), validator.New("91"), BookingServiceConfig{
			HoldWindow:         testHoldWindow,
			SeatClaimTTL:       30 * time.Second,
			PNRLength:          8,
			PNRMaxAttempts:     5,
			MaxSeatsPerSegment: 6,
			Currency:           "INR",
		}, quietLogger())
	svc.now = env.clock.Now

	_, err := svc.CreateBooking(ctxBG, uuid.New(), bookingRequest(
		segment(first.ID, "A1"),
		segment(second.ID, "B1"),
	))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"reserve:" + first.ID.String(),
		"held:" + first.ID.String(),
		"reserve:" + second.ID.String(),
		"held:" + second.ID.String(),
	}, log.calls)

	t.Run("Taken seat rolls the reservation back", func(t *testing.T) {
		log.calls = nil
		_, err := svc.CreateBooking(ctxBG, uuid.New(), bookingRequest(segment(first.ID, "A1")))
		assert.True(t, models.IsConflictReason(err, models.ConflictSeatsTaken))
		assert.Equal(t, []string{"reserve:" + first.ID.String(), "held:" + first.ID.String()}, log.calls)
		assert.Equal(t, 39, env.db.schedule(first.ID).AvailableSeats)
	})
}

func TestBookingReads(t *testing.T) {
	env := newTestEnv(t)
	s := env.addSchedule("Chennai", "Bengaluru", testDeparture, 40, "450.00")
	customer := uuid.New()
	booking := env.book(t, customer, bookingRequest(segment(s.ID, "A1")))

	t.Run("Get own booking", func(t *testing.T) {
		got, err := env.bookings.GetBooking(ctxBG, customer, booking.ID)
		require.NoError(t, err)
		assert.Equal(t, booking.PNR, got.PNR)
	})

	t.Run("Another customer's booking is not found", func(t *testing.T) {
		_, err := env.bookings.GetBooking(ctxBG, uuid.New(), booking.ID)
		assert.True(t, models.IsNotFound(err))
	})

	t.Run("Lookup by PNR ignores case", func(t *testing.T) {
		got, err := env.bookings.GetBookingByPNR(ctxBG, customer, " pnr00001 ")
		require.NoError(t, err)
		assert.Equal(t, booking.ID, got.ID)
	})

	t.Run("List", func(t *testing.T) {
		list, err := env.bookings.ListBookings(ctxBG, customer, 1, 10)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("Schedule availability", func(t *testing.T) {
		got, err := env.bookings.GetSchedule(ctxBG, s.ID)
		require.NoError(t, err)
		assert.Equal(t, 39, got.AvailableSeats)

		_, err = env.bookings.GetSchedule(ctxBG, uuid.New())
		assert.True(t, models.IsNotFound(err))
	})
}
