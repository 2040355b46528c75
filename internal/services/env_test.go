package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/smarttransit/booking-engine/internal/models"
	"github.com/smarttransit/booking-engine/pkg/gateway"
	"github.com/smarttransit/booking-engine/pkg/validator"
	"github.com/stretchr/testify/require"
)

// testClock is a settable clock shared by every service in a testEnv
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var (
	ctxBG          = context.Background()
	testNow        = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	testTravelDate = "2026-03-12"
	testDeparture  = time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC)
	testHoldWindow = 10 * time.Minute
)

type testEnv struct {
	db       *memDB
	claims   *memClaims
	gateway  *fakeGateway
	notifier *recordingNotifier
	clock    *testClock

	bookings      *BookingService
	connecting    *ConnectingRouteService
	payments      *PaymentService
	cancellations *CancellationService
	sweeper       *ExpirySweeper
	cron          *CronService
	audit         *AuditService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := newMemDB()
	logger := quietLogger()
	clock := &testClock{now: testNow}
	v := validator.New("91")

	env := &testEnv{
		db:       db,
		claims:   newMemClaims(),
		gateway:  &fakeGateway{},
		notifier: newRecordingNotifier(),
		clock:    clock,
	}

	schedules := memSchedules{db}
	bookings := memBookings{db}
	payments := memPayments{db}
	audit := NewAuditService(memAudit{db}, logger)
	env.audit = audit

	pnrs := 0
	var pnrMu sync.Mutex

	env.bookings = NewBookingService(bookings, schedules, env.claims, v, BookingServiceConfig{
		HoldWindow:         testHoldWindow,
		SeatClaimTTL:       30 * time.Second,
		PNRLength:          8,
		PNRMaxAttempts:     5,
		MaxSeatsPerSegment: 6,
		Currency:           "INR",
	}, logger)
	env.bookings.now = clock.Now
	env.bookings.newPNR = func(int) (string, error) {
		pnrMu.Lock()
		defer pnrMu.Unlock()
		pnrs++
		return fmt.Sprintf("PNR%05d", pnrs), nil
	}

	env.connecting = NewConnectingRouteService(schedules, env.bookings, v, ConnectingRouteConfig{
		MinLayover:  30 * time.Minute,
		MaxLayover:  6 * time.Hour,
		ResultLimit: 10,
	}, logger)
	env.connecting.now = clock.Now

	env.payments = NewPaymentService(bookings, schedules, payments, env.gateway, audit, env.notifier, logger)
	env.payments.now = clock.Now

	env.cancellations = NewCancellationService(bookings, schedules, payments, memCancellations{db}, audit, env.notifier,
		models.NewRefundPolicy([]models.RefundTier{
			{MinHoursBeforeTravel: 24, Percent: 100},
			{MinHoursBeforeTravel: 12, Percent: 75},
			{MinHoursBeforeTravel: 6, Percent: 50},
			{MinHoursBeforeTravel: 0, Percent: 25},
		}), logger)
	env.cancellations.now = clock.Now

	env.sweeper = NewExpirySweeper(bookings, schedules, time.Minute, 50, logger)
	env.sweeper.now = clock.Now

	env.cron = NewCronService("0 */15 * * * *", payments, audit, logger)

	return env
}

// addSchedule stores a bookable schedule with capacity seats, all available
func (e *testEnv) addSchedule(source, destination string, departure time.Time, capacity int, fare string) *models.Schedule {
	s := &models.Schedule{
		ID:              uuid.New(),
		BusID:           uuid.New(),
		RouteID:         uuid.New(),
		SourceCity:      source,
		DestinationCity: destination,
		TravelDate:      time.Date(departure.Year(), departure.Month(), departure.Day(), 0, 0, 0, 0, time.UTC),
		DepartureTime:   departure,
		ArrivalTime:     departure.Add(4 * time.Hour),
		TotalCapacity:   capacity,
		AvailableSeats:  capacity,
		Fare:            decimal.RequireFromString(fare),
		SeatType:        "seater",
		Status:          models.ScheduleStatusScheduled,
	}
	e.db.addSchedule(s)
	return s
}

func segment(scheduleID uuid.UUID, seats ...string) models.SegmentRequest {
	seg := models.SegmentRequest{
		ScheduleID:     scheduleID,
		SeatNumbers:    seats,
		BoardingStopID: uuid.New(),
		DroppingStopID: uuid.New(),
	}
	for i := range seats {
		seg.Passengers = append(seg.Passengers, models.PassengerRequest{
			Name:   fmt.Sprintf("Passenger %d", i+1),
			Age:    30 + i,
			Gender: "female",
		})
	}
	return seg
}

func bookingRequest(segments ...models.SegmentRequest) *models.CreateBookingRequest {
	return &models.CreateBookingRequest{TravelDate: testTravelDate, Segments: segments}
}

// book creates a Pending booking and fails the test on error
func (e *testEnv) book(t *testing.T, customerID uuid.UUID, req *models.CreateBookingRequest) *models.Booking {
	t.Helper()
	booking, err := e.bookings.CreateBooking(ctxBG, customerID, req)
	require.NoError(t, err)
	return booking
}

// confirm drives a booking through initiate and a signed verify
func (e *testEnv) confirm(t *testing.T, customerID uuid.UUID, booking *models.Booking) *models.InitiatePaymentResponse {
	t.Helper()
	resp, err := e.payments.InitiatePayment(ctxBG, customerID, &models.InitiatePaymentRequest{
		BookingID:     booking.ID,
		PaymentMethod: "card",
	}, RequestMeta{})
	require.NoError(t, err)

	result, err := e.payments.VerifyPayment(ctxBG, verifyRequest(booking.ID, resp.GatewayOrderID, "pay_"+resp.GatewayOrderID), RequestMeta{})
	require.NoError(t, err)
	require.Equal(t, models.PaymentOutcomeConfirmed, result.Outcome)
	return resp
}

func verifyRequest(bookingID uuid.UUID, orderID, paymentID string) *models.VerifyPaymentRequest {
	return &models.VerifyPaymentRequest{
		BookingID:        bookingID,
		GatewayOrderID:   orderID,
		GatewayPaymentID: paymentID,
		Signature:        gateway.Sign(testKeySecret, []byte(orderID+"|"+paymentID)),
	}
}
