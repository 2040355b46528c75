package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	bookingsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_created_total",
			Help: "Booking creation attempts by outcome",
		},
		[]string{"outcome"},
	)

	bookingTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_transitions_total",
			Help: "Booking status transitions",
		},
		[]string{"from", "to"},
	)

	seatsReleased = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_seats_released_total",
			Help: "Seats returned to inventory by reason",
		},
		[]string{"reason"},
	)

	paymentEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_events_total",
			Help: "Payment binding events by source and outcome",
		},
		[]string{"source", "outcome"},
	)

	reconciliationMismatches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "payment_reconciliation_mismatches_total",
			Help: "Successful payments found without a matching confirmed or refunded booking",
		},
	)

	pendingBookings = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "booking_pending_current",
			Help: "Bookings currently Pending payment",
		},
	)

	sweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "booking_expiry_sweep_duration_seconds",
			Help:    "Duration of an expiry sweep pass",
			Buckets: prometheus.DefBuckets,
		},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// BookingCreated counts a creation attempt ("created", "replayed", "conflict", "rejected", "error")
func BookingCreated(outcome string) {
	bookingsCreated.WithLabelValues(outcome).Inc()
}

// BookingTransition counts a status change
func BookingTransition(from, to string) {
	bookingTransitions.WithLabelValues(from, to).Inc()
}

// SeatsReleased counts seats returned by expiry, payment failure or cancellation
func SeatsReleased(reason string, seats int) {
	seatsReleased.WithLabelValues(reason).Add(float64(seats))
}

// PaymentEvent counts a payment callback outcome
func PaymentEvent(source, outcome string) {
	paymentEvents.WithLabelValues(source, outcome).Inc()
}

// ReconciliationMismatch counts a flagged payment
func ReconciliationMismatch() {
	reconciliationMismatches.Inc()
}

// SetPendingBookings records the current Pending count
func SetPendingBookings(n int) {
	pendingBookings.Set(float64(n))
}

// ObserveSweep records how long a sweep pass took
func ObserveSweep(started time.Time) {
	sweepDuration.Observe(time.Since(started).Seconds())
}

// ObserveHTTPRequest records one request's latency
func ObserveHTTPRequest(method, route, status string, elapsed time.Duration) {
	httpRequestDuration.WithLabelValues(method, route, status).Observe(elapsed.Seconds())
}
