package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-engine/internal/database"
	"github.com/smarttransit/booking-engine/internal/metrics"
	"github.com/smarttransit/booking-engine/internal/models"
	"github.com/smarttransit/booking-engine/internal/utils"
	"github.com/smarttransit/booking-engine/pkg/validator"
)

// BookingServiceConfig holds booking creation settings
type BookingServiceConfig struct {
	HoldWindow         time.Duration // how long a Pending booking holds its seats
	SeatClaimTTL       time.Duration
	PNRLength          int
	PNRMaxAttempts     int
	MaxSeatsPerSegment int
	Currency           string
}

// BookingService creates Pending bookings over one or more segments and
// serves booking reads.
type BookingService struct {
	bookings  BookingStore
	schedules ScheduleStore
	claims    SeatClaimer
	validator *validator.Validator
	config    BookingServiceConfig
	logger    *logrus.Logger

	now    func() time.Time
	newPNR func(length int) (string, error)
}

// NewBookingService creates a new BookingService
func NewBookingService(
	bookings BookingStore,
	schedules ScheduleStore,
	claims SeatClaimer,
	v *validator.Validator,
	config BookingServiceConfig,
	logger *logrus.Logger,
) *BookingService {
	if config.PNRMaxAttempts <= 0 {
		config.PNRMaxAttempts = 10
	}
	return &BookingService{
		bookings:  bookings,
		schedules: schedules,
		claims:    claims,
		validator: v,
		config:    config,
		logger:    logger,
		now:       time.Now,
		newPNR:    utils.GeneratePNR,
	}
}

// ============================================================================
// CREATE
// ============================================================================

// CreateBooking validates the request and reserves every segment as one
// unit of work. Either all segments are reserved and a Pending booking is
// stored, or nothing is.
func (s *BookingService) CreateBooking(ctx context.Context, customerID uuid.UUID, req *models.CreateBookingRequest) (*models.Booking, error) {
	return s.create(ctx, customerID, req, false)
}

// create is shared with the connecting-route path; connected additionally
// requires each leg to start in the city where the previous one ends.
func (s *BookingService) create(ctx context.Context, customerID uuid.UUID, req *models.CreateBookingRequest, connected bool) (*models.Booking, error) {
	now := s.now()

	if err := s.validateRequest(req, now); err != nil {
		metrics.BookingCreated("rejected")
		return nil, err
	}
	travelDate, _ := req.ParsedTravelDate()

	var contactPhone *string
	if req.ContactPhone != nil && *req.ContactPhone != "" {
		phone, err := s.validator.NormalizePhone(*req.ContactPhone)
		if err != nil {
			metrics.BookingCreated("rejected")
			return nil, models.NewValidationError("contact_phone", err.Error())
		}
		contactPhone = &phone
	}

	// 1. Idempotent replay
	if key := idempotencyKey(req); key != "" {
		existing, err := s.bookings.GetByIdempotencyKey(ctx, customerID, key)
		if err != nil {
			return nil, models.NewUnexpectedError("check idempotency key", err)
		}
		if existing != nil {
			metrics.BookingCreated("replayed")
			s.logger.WithFields(logrus.Fields{
				"booking_id":  existing.ID,
				"customer_id": customerID,
			}).Info("Returning existing booking for idempotency key")
			return existing, nil
		}
	}

	// 2. Schedules must exist, be open and line up
	schedules, err := s.loadSchedules(ctx, req, travelDate, now, connected)
	if err != nil {
		metrics.BookingCreated("rejected")
		return nil, err
	}

	booking := s.buildBooking(customerID, req, schedules, travelDate, contactPhone, now)

	// 3. Claim seat numbers so concurrent requests for the same seats serialize
	claimed, err := s.claimSeats(ctx, booking.ID, req, schedules)
	if err != nil {
		if models.IsConflict(err) {
			metrics.BookingCreated("conflict")
		} else {
			metrics.BookingCreated("error")
		}
		return nil, err
	}
	defer s.releaseClaims(ctx, req, schedules, claimed)

	// 4. Reserve every segment, then persist; any failure rolls back all of it
	err = s.bookings.WithTx(ctx, func(q database.Querier) error {
		for i, seg := range req.Segments {
			// Reserve locks the schedule row until commit, so the held-seat
			// check after it sees seats committed by any booking that held
			// the lock before us.
			if err := s.schedules.Reserve(ctx, q, seg.ScheduleID, len(seg.SeatNumbers)); err != nil {
				return reserveError(i, seg.ScheduleID, err)
			}

			held, err := s.bookings.FindHeldSeats(ctx, q, seg.ScheduleID, seg.SeatNumbers)
			if err != nil {
				return err
			}
			if len(held) > 0 {
				return seatsTakenError(held)
			}
		}

		pnr, err := s.generatePNR(ctx, q)
		if err != nil {
			return err
		}
		booking.PNR = pnr

		return s.bookings.Create(ctx, q, booking)
	})
	if err != nil {
		return s.creationFailed(ctx, customerID, req, err)
	}

	metrics.BookingCreated("created")
	s.logger.WithFields(logrus.Fields{
		"booking_id":   booking.ID,
		"pnr":          booking.PNR,
		"customer_id":  customerID,
		"segments":     len(booking.Segments),
		"total_seats":  booking.TotalSeats,
		"total_amount": booking.TotalAmount.StringFixed(2),
		"hold_expires": booking.HoldExpiresAt,
	}).Info("Booking created and seats held")

	return booking, nil
}

func (s *BookingService) validateRequest(req *models.CreateBookingRequest, now time.Time) error {
	if err := s.validator.Struct(req); err != nil {
		return toValidationError(err)
	}
	return req.Validate(now, s.config.MaxSeatsPerSegment)
}

func (s *BookingService) loadSchedules(
	ctx context.Context,
	req *models.CreateBookingRequest,
	travelDate, now time.Time,
	connected bool,
) ([]*models.Schedule, error) {
	schedules := make([]*models.Schedule, 0, len(req.Segments))

	for i, seg := range req.Segments {
		field := fmt.Sprintf("segments[%d]", i)

		schedule, err := s.schedules.GetByID(ctx, seg.ScheduleID)
		if err != nil {
			return nil, models.NewUnexpectedError("load schedule", err)
		}
		if schedule == nil {
			return nil, models.NewNotFoundError("schedule", seg.ScheduleID.String())
		}
		if !schedule.IsBookable(now) {
			return nil, models.NewValidationError(field, "schedule is not open for booking")
		}

		if i == 0 && !models.SameDay(schedule.TravelDate, travelDate) {
			return nil, models.NewValidationError("travel_date", "does not match the schedule's travel date")
		}
		if i > 0 {
			prev := schedules[i-1]
			if schedule.DepartureTime.Before(prev.ArrivalTime) {
				return nil, models.NewValidationError(field, "departs before the previous segment arrives")
			}
			if connected && !strings.EqualFold(prev.DestinationCity, schedule.SourceCity) {
				return nil, models.NewValidationError(field, "does not start where the previous leg ends")
			}
		}

		schedules = append(schedules, schedule)
	}

	return schedules, nil
}

func (s *BookingService) buildBooking(
	customerID uuid.UUID,
	req *models.CreateBookingRequest,
	schedules []*models.Schedule,
	travelDate time.Time,
	contactPhone *string,
	now time.Time,
) *models.Booking {
	holdExpiresAt := now.Add(s.config.HoldWindow)

	booking := &models.Booking{
		ID:             uuid.New(),
		CustomerID:     customerID,
		Currency:       s.config.Currency,
		TravelDate:     travelDate,
		Status:         models.BookingStatusPending,
		BookedAt:       now,
		HoldExpiresAt:  &holdExpiresAt,
		IdempotencyKey: optionalString(idempotencyKey(req)),
		ContactPhone:   contactPhone,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
		TotalAmount:    decimal.Zero,
	}

	for i, seg := range req.Segments {
		schedule := schedules[i]
		seats := len(seg.SeatNumbers)
		amount := schedule.Fare.Mul(decimal.NewFromInt(int64(seats)))

		segment := models.BookingSegment{
			ID:             uuid.New(),
			BookingID:      booking.ID,
			ScheduleID:     seg.ScheduleID,
			SeatsBooked:    seats,
			SegmentAmount:  amount,
			SegmentOrder:   i + 1,
			BoardingStopID: seg.BoardingStopID,
			DroppingStopID: seg.DroppingStopID,
			DepartureTime:  schedule.DepartureTime,
		}

		for j, seatNumber := range seg.SeatNumbers {
			passenger := seg.Passengers[j]
			segment.Seats = append(segment.Seats, models.BookedSeat{
				ID:              uuid.New(),
				SegmentID:       segment.ID,
				BookingID:       booking.ID,
				ScheduleID:      seg.ScheduleID,
				SeatNumber:      seatNumber,
				SeatType:        schedule.SeatType,
				PassengerName:   strings.TrimSpace(passenger.Name),
				PassengerAge:    passenger.Age,
				PassengerGender: passenger.Gender,
				TravelDate:      schedule.TravelDate,
			})
		}

		booking.Segments = append(booking.Segments, segment)
		booking.TotalSeats += seats
		booking.TotalAmount = booking.TotalAmount.Add(amount)
	}

	return booking
}

// claimSeats claims the seat numbers of every segment. On contention the
// claims already taken are dropped and a ConflictError lists the seats.
func (s *BookingService) claimSeats(ctx context.Context, bookingID uuid.UUID, req *models.CreateBookingRequest, schedules []*models.Schedule) ([]int, error) {
	var claimed []int

	for i, seg := range req.Segments {
		taken, err := s.claims.Claim(ctx, seg.ScheduleID, schedules[i].TravelDate, seg.SeatNumbers, bookingID.String(), s.config.SeatClaimTTL)
		if err != nil {
			s.releaseClaims(ctx, req, schedules, claimed)
			return nil, models.NewExternalDependencyError("seat_claims", err)
		}
		if len(taken) > 0 {
			s.releaseClaims(ctx, req, schedules, claimed)
			return nil, seatsTakenError(taken)
		}
		claimed = append(claimed, i)
	}

	return claimed, nil
}

func (s *BookingService) releaseClaims(ctx context.Context, req *models.CreateBookingRequest, schedules []*models.Schedule, claimed []int) {
	ctx = context.WithoutCancel(ctx)
	for _, i := range claimed {
		seg := req.Segments[i]
		if err := s.claims.Release(ctx, seg.ScheduleID, schedules[i].TravelDate, seg.SeatNumbers); err != nil {
			// claims still lapse on their TTL
			s.logger.WithError(err).WithField("schedule_id", seg.ScheduleID).Warn("Failed to release seat claims")
		}
	}
}

func (s *BookingService) generatePNR(ctx context.Context, q database.Querier) (string, error) {
	for attempt := 0; attempt < s.config.PNRMaxAttempts; attempt++ {
		pnr, err := s.newPNR(s.config.PNRLength)
		if err != nil {
			return "", err
		}

		exists, err := s.bookings.PNRExists(ctx, q, pnr)
		if err != nil {
			return "", err
		}
		if !exists {
			return pnr, nil
		}

		s.logger.WithField("attempt", attempt+1).Warn("PNR collision, regenerating")
	}

	return "", models.NewConflictError(models.ConflictPNRCollision, "could not allocate a unique PNR")
}

// creationFailed classifies an error from the reservation unit of work
func (s *BookingService) creationFailed(ctx context.Context, customerID uuid.UUID, req *models.CreateBookingRequest, err error) (*models.Booking, error) {
	if constraint, ok := database.UniqueViolation(err); ok {
		switch {
		case strings.Contains(constraint, "idempotency"):
			// a concurrent request with the same key committed first
			existing, getErr := s.bookings.GetByIdempotencyKey(ctx, customerID, idempotencyKey(req))
			if getErr == nil && existing != nil {
				metrics.BookingCreated("replayed")
				return existing, nil
			}
		case strings.Contains(constraint, "pnr"):
			metrics.BookingCreated("conflict")
			return nil, models.NewConflictError(models.ConflictPNRCollision, "booking reference already in use, please retry")
		}
	}

	if isDomainError(err) {
		if models.IsConflict(err) {
			metrics.BookingCreated("conflict")
		} else {
			metrics.BookingCreated("rejected")
		}
		s.logger.WithFields(logrus.Fields{
			"customer_id": customerID,
			"reason":      err.Error(),
		}).Info("Booking rejected, no seats reserved")
		return nil, err
	}

	metrics.BookingCreated("error")
	s.logger.WithError(err).WithField("customer_id", customerID).Error("Failed to create booking")
	return nil, models.NewUnexpectedError("create booking", err)
}

func seatsTakenError(seats []string) error {
	conflict := models.NewConflictError(models.ConflictSeatsTaken,
		fmt.Sprintf("seats no longer available: %s", strings.Join(seats, ", ")))
	conflict.Seats = seats
	return conflict
}

func reserveError(segment int, scheduleID uuid.UUID, err error) error {
	switch {
	case errors.Is(err, database.ErrInsufficientSeats):
		return models.NewConflictError(models.ConflictInsufficientSeats,
			fmt.Sprintf("not enough seats left on segment %d", segment+1))
	case errors.Is(err, sql.ErrNoRows):
		return models.NewNotFoundError("schedule", scheduleID.String())
	default:
		return err
	}
}

// ============================================================================
// READ
// ============================================================================

// GetBooking returns the caller's booking
func (s *BookingService) GetBooking(ctx context.Context, customerID, bookingID uuid.UUID) (*models.Booking, error) {
	booking, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, models.NewUnexpectedError("get booking", err)
	}
	if booking == nil || booking.CustomerID != customerID {
		return nil, models.NewNotFoundError("booking", bookingID.String())
	}
	return booking, nil
}

// GetBookingByPNR returns the caller's booking by reference
func (s *BookingService) GetBookingByPNR(ctx context.Context, customerID uuid.UUID, pnr string) (*models.Booking, error) {
	pnr = strings.ToUpper(strings.TrimSpace(pnr))

	booking, err := s.bookings.GetByPNR(ctx, pnr)
	if err != nil {
		return nil, models.NewUnexpectedError("get booking by pnr", err)
	}
	if booking == nil || booking.CustomerID != customerID {
		return nil, models.NewNotFoundError("booking", pnr)
	}
	return booking, nil
}

// ListBookings returns a page of the caller's bookings, newest first
func (s *BookingService) ListBookings(ctx context.Context, customerID uuid.UUID, page, pageSize int) ([]*models.Booking, error) {
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	if page < 1 {
		page = 1
	}

	bookings, err := s.bookings.ListByCustomer(ctx, customerID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, models.NewUnexpectedError("list bookings", err)
	}
	return bookings, nil
}

// GetSchedule returns a schedule with its live availability
func (s *BookingService) GetSchedule(ctx context.Context, scheduleID uuid.UUID) (*models.Schedule, error) {
	schedule, err := s.schedules.GetByID(ctx, scheduleID)
	if err != nil {
		return nil, models.NewUnexpectedError("get schedule", err)
	}
	if schedule == nil {
		return nil, models.NewNotFoundError("schedule", scheduleID.String())
	}
	return schedule, nil
}

// ============================================================================
// HELPERS
// ============================================================================

func idempotencyKey(req *models.CreateBookingRequest) string {
	if req.IdempotencyKey == nil {
		return ""
	}
	return strings.TrimSpace(*req.IdempotencyKey)
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func toValidationError(err error) error {
	var fe *validator.FieldError
	if errors.As(err, &fe) {
		return models.NewValidationError(fe.Field, fe.Msg)
	}
	return models.NewValidationError("", err.Error())
}

func isDomainError(err error) bool {
	return models.IsValidation(err) ||
		models.IsNotFound(err) ||
		models.IsConflict(err) ||
		models.IsState(err) ||
		models.IsExternal(err)
}
