package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-engine/internal/database"
	"github.com/smarttransit/booking-engine/internal/models"
	"github.com/smarttransit/booking-engine/pkg/validator"
)

// ConnectingRouteConfig bounds the transfer between two legs
type ConnectingRouteConfig struct {
	MinLayover  time.Duration
	MaxLayover  time.Duration
	ResultLimit int
}

// ConnectingRouteService finds two-leg itineraries and books them through
// the multi-segment booking path.
type ConnectingRouteService struct {
	schedules ScheduleStore
	bookings  *BookingService
	validator *validator.Validator
	config    ConnectingRouteConfig
	logger    *logrus.Logger
	now       func() time.Time
}

// NewConnectingRouteService creates a new ConnectingRouteService
func NewConnectingRouteService(
	schedules ScheduleStore,
	bookings *BookingService,
	v *validator.Validator,
	config ConnectingRouteConfig,
	logger *logrus.Logger,
) *ConnectingRouteService {
	if config.ResultLimit <= 0 {
		config.ResultLimit = 20
	}
	return &ConnectingRouteService{
		schedules: schedules,
		bookings:  bookings,
		validator: v,
		config:    config,
		logger:    logger,
		now:       time.Now,
	}
}

// Search returns itineraries ordered by the requested toggle. No match is
// reported as NotFoundError.
func (s *ConnectingRouteService) Search(ctx context.Context, req *models.ConnectingSearchRequest) ([]models.Itinerary, error) {
	travelDate, err := req.Validate(s.now())
	if err != nil {
		return nil, err
	}

	legs, err := s.schedules.FindConnectingLegs(ctx, database.ConnectingSearch{
		Source:      req.Source,
		Destination: req.Destination,
		TravelDate:  travelDate,
		Toggle:      req.Toggle,
		MinLayover:  s.config.MinLayover,
		MaxLayover:  s.config.MaxLayover,
		Limit:       s.config.ResultLimit,
	})
	if err != nil {
		return nil, models.NewUnexpectedError("search connecting routes", err)
	}
	if len(legs) == 0 {
		return nil, models.NewNotFoundError("connecting route", fmt.Sprintf("%s to %s", req.Source, req.Destination))
	}
	if len(legs)%2 != 0 {
		return nil, models.NewUnexpectedError("search connecting routes", fmt.Errorf("catalog returned %d legs, expected pairs", len(legs)))
	}

	itineraries := make([]models.Itinerary, 0, len(legs)/2)
	for i := 0; i < len(legs); i += 2 {
		itineraries = append(itineraries, BuildItinerary(legs[i], legs[i+1]))
	}

	RankItineraries(itineraries, req.Toggle)

	s.logger.WithFields(logrus.Fields{
		"source":      req.Source,
		"destination": req.Destination,
		"travel_date": req.TravelDate,
		"toggle":      req.Toggle,
		"results":     len(itineraries),
	}).Debug("Connecting route search")

	return itineraries, nil
}

// BuildItinerary computes the totals for one (legA, legB) pair
func BuildItinerary(first, second models.ConnectingLeg) models.Itinerary {
	return models.Itinerary{
		Legs:                 []models.ConnectingLeg{first, second},
		TransferCity:         second.SourceCity,
		TotalPrice:           first.Fare.Add(second.Fare),
		TotalDurationMinutes: int(second.ArrivalTime.Sub(first.DepartureTime).Minutes()),
		LayoverMinutes:       int(second.DepartureTime.Sub(first.ArrivalTime).Minutes()),
		Transfers:            1,
		RouteDescription:     routeDescription(first, second),
	}
}

// routeDescription joins the stop names of both legs, writing the transfer
// stop once. A leg without catalogued stops contributes its cities.
func routeDescription(first, second models.ConnectingLeg) string {
	stops := legStops(first)
	for i, name := range legStops(second) {
		if i == 0 && strings.EqualFold(name, stops[len(stops)-1]) {
			continue
		}
		stops = append(stops, name)
	}
	return strings.Join(stops, " - ")
}

func legStops(leg models.ConnectingLeg) []string {
	if len(leg.Stops) > 0 {
		return append([]string(nil), leg.Stops...)
	}
	return []string{leg.SourceCity, leg.DestinationCity}
}

// RankItineraries sorts in place: cheapest orders by price then duration,
// fastest by duration then price.
func RankItineraries(itineraries []models.Itinerary, toggle models.RankToggle) {
	sort.SliceStable(itineraries, func(i, j int) bool {
		a, b := itineraries[i], itineraries[j]
		if toggle == models.RankFastest {
			if a.TotalDurationMinutes != b.TotalDurationMinutes {
				return a.TotalDurationMinutes < b.TotalDurationMinutes
			}
			return a.TotalPrice.LessThan(b.TotalPrice)
		}
		if !a.TotalPrice.Equal(b.TotalPrice) {
			return a.TotalPrice.LessThan(b.TotalPrice)
		}
		return a.TotalDurationMinutes < b.TotalDurationMinutes
	})
}

// Book reserves every leg of an itinerary as a single booking. The same
// travellers must ride every leg.
func (s *ConnectingRouteService) Book(ctx context.Context, customerID uuid.UUID, req *models.ConnectingBookingRequest) (*models.Booking, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, toValidationError(err)
	}
	if err := req.ValidatePassengerCounts(); err != nil {
		return nil, err
	}

	booking, err := s.bookings.create(ctx, customerID, req.ToCreateBookingRequest(), true)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"pnr":        booking.PNR,
		"legs":       len(req.Legs),
	}).Info("Connecting itinerary booked")

	return booking, nil
}
