package services

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/smarttransit/booking-engine/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leg(source, destination string, departure time.Time, hours int, fare string) models.ConnectingLeg {
	return models.ConnectingLeg{
		ScheduleID:      uuid.New(),
		SourceCity:      source,
		DestinationCity: destination,
		DepartureTime:   departure,
		ArrivalTime:     departure.Add(time.Duration(hours) * time.Hour),
		Fare:            decimal.RequireFromString(fare),
		AvailableSeats:  20,
	}
}

func TestConnectingRouteService_Search(t *testing.T) {
	search := &models.ConnectingSearchRequest{Source: "Chennai", Destination: "Mysuru", TravelDate: testTravelDate}

	t.Run("No route", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.connecting.Search(ctxBG, search)
		assert.True(t, models.IsNotFound(err))
	})

	t.Run("Ranks cheapest and fastest", func(t *testing.T) {
		env := newTestEnv(t)
		dep := testDeparture

		// via Bengaluru: 1000 total, 9h door to door
		// via Salem: 800 total, 12h door to door
		env.db.legs = []models.ConnectingLeg{
			leg("Chennai", "Bengaluru", dep, 6, "600"), leg("Bengaluru", "Mysuru", dep.Add(7*time.Hour), 2, "400"),
			leg("Chennai", "Salem", dep, 5, "350"), leg("Salem", "Mysuru", dep.Add(8*time.Hour), 4, "450"),
		}

		cheapest, err := env.connecting.Search(ctxBG, search)
		require.NoError(t, err)
		require.Len(t, cheapest, 2)
		assert.Equal(t, "Salem", cheapest[0].TransferCity)
		assert.True(t, decimal.RequireFromString("800").Equal(cheapest[0].TotalPrice))
		assert.Equal(t, 12*60, cheapest[0].TotalDurationMinutes)
		assert.Equal(t, 3*60, cheapest[0].LayoverMinutes)
		assert.Equal(t, "Chennai - Salem - Mysuru", cheapest[0].RouteDescription)

		fastest, err := env.connecting.Search(ctxBG, &models.ConnectingSearchRequest{
			Source: "Chennai", Destination: "Mysuru", TravelDate: testTravelDate, Toggle: models.RankFastest,
		})
		require.NoError(t, err)
		assert.Equal(t, "Bengaluru", fastest[0].TransferCity)
	})

	t.Run("Describes the route by stop names", func(t *testing.T) {
		first := leg("Chennai", "Trichy", testDeparture, 5, "400")
		first.Stops = []string{"Koyambedu", "Tambaram", "Trichy Central"}
		second := leg("Trichy", "Madurai", testDeparture.Add(6*time.Hour), 3, "250")
		second.Stops = []string{"Trichy Central", "Madurai Mattuthavani"}

		itinerary := BuildItinerary(first, second)
		assert.Equal(t, "Koyambedu - Tambaram - Trichy Central - Madurai Mattuthavani", itinerary.RouteDescription)

		second.Stops = []string{"Chatram", "Madurai Mattuthavani"}
		assert.Equal(t, "Koyambedu - Tambaram - Trichy Central - Chatram - Madurai Mattuthavani",
			BuildItinerary(first, second).RouteDescription)
	})

	t.Run("Invalid toggle", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.connecting.Search(ctxBG, &models.ConnectingSearchRequest{
			Source: "Chennai", Destination: "Mysuru", TravelDate: testTravelDate, Toggle: "scenic",
		})
		assert.True(t, models.IsValidation(err))
	})
}

func TestConnectingRouteService_Book(t *testing.T) {
	newLegs := func(env *testEnv) (*models.Schedule, *models.Schedule) {
		first := env.addSchedule("Chennai", "Bengaluru", testDeparture, 30, "600.00")
		second := env.addSchedule("Bengaluru", "Mysuru", testDeparture.Add(5*time.Hour), 30, "400.00")
		return first, second
	}

	t.Run("Books both legs as one booking", func(t *testing.T) {
		env := newTestEnv(t)
		first, second := newLegs(env)

		booking, err := env.connecting.Book(ctxBG, uuid.New(), &models.ConnectingBookingRequest{
			TravelDate: testTravelDate,
			Legs:       []models.SegmentRequest{segment(first.ID, "A1", "A2"), segment(second.ID, "C1", "C2")},
		})
		require.NoError(t, err)

		assert.Len(t, booking.Segments, 2)
		assert.Equal(t, 4, booking.TotalSeats)
		assert.True(t, decimal.RequireFromString("2000").Equal(booking.TotalAmount))
		assert.Equal(t, 28, env.db.schedule(first.ID).AvailableSeats)
		assert.Equal(t, 28, env.db.schedule(second.ID).AvailableSeats)
	})

	t.Run("Passenger count differs between legs", func(t *testing.T) {
		env := newTestEnv(t)
		first, second := newLegs(env)

		secondLeg := segment(second.ID, "C1", "C2")
		secondLeg.Passengers = secondLeg.Passengers[:1]

		_, err := env.connecting.Book(ctxBG, uuid.New(), &models.ConnectingBookingRequest{
			TravelDate: testTravelDate,
			Legs:       []models.SegmentRequest{segment(first.ID, "A1", "A2"), secondLeg},
		})
		assert.True(t, models.IsValidation(err))
		assert.Equal(t, 30, env.db.schedule(first.ID).AvailableSeats)
		assert.Equal(t, 30, env.db.schedule(second.ID).AvailableSeats)
	})

	t.Run("Legs that do not connect", func(t *testing.T) {
		env := newTestEnv(t)
		first := env.addSchedule("Chennai", "Bengaluru", testDeparture, 30, "600.00")
		elsewhere := env.addSchedule("Salem", "Mysuru", testDeparture.Add(5*time.Hour), 30, "400.00")

		_, err := env.connecting.Book(ctxBG, uuid.New(), &models.ConnectingBookingRequest{
			TravelDate: testTravelDate,
			Legs:       []models.SegmentRequest{segment(first.ID, "A1"), segment(elsewhere.ID, "C1")},
		})
		assert.True(t, models.IsValidation(err))
		assert.Equal(t, 30, env.db.schedule(first.ID).AvailableSeats)
	})

	t.Run("Single leg is rejected", func(t *testing.T) {
		env := newTestEnv(t)
		first, _ := newLegs(env)

		_, err := env.connecting.Book(ctxBG, uuid.New(), &models.ConnectingBookingRequest{
			TravelDate: testTravelDate,
			Legs:       []models.SegmentRequest{segment(first.ID, "A1")},
		})
		assert.True(t, models.IsValidation(err))
	})
}
