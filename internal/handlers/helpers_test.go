package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-engine/internal/middleware"
	"github.com/smarttransit/booking-engine/internal/models"
	"github.com/smarttransit/booking-engine/internal/services"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// withCustomer stands in for AuthMiddleware
func withCustomer(customerID uuid.UUID) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.UserContextKey, middleware.UserContext{CustomerID: customerID, Roles: []string{"passenger"}})
		c.Next()
	}
}

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(handlers...)
	return router
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

type stubBookings struct {
	create func(customerID uuid.UUID, req *models.CreateBookingRequest) (*models.Booking, error)
	get    func(customerID, bookingID uuid.UUID) (*models.Booking, error)
	byPNR  func(customerID uuid.UUID, pnr string) (*models.Booking, error)
	list   func(customerID uuid.UUID, page, pageSize int) ([]*models.Booking, error)
}

func (s *stubBookings) CreateBooking(_ context.Context, customerID uuid.UUID, req *models.CreateBookingRequest) (*models.Booking, error) {
	return s.create(customerID, req)
}

func (s *stubBookings) GetBooking(_ context.Context, customerID, bookingID uuid.UUID) (*models.Booking, error) {
	return s.get(customerID, bookingID)
}

func (s *stubBookings) GetBookingByPNR(_ context.Context, customerID uuid.UUID, pnr string) (*models.Booking, error) {
	return s.byPNR(customerID, pnr)
}

func (s *stubBookings) ListBookings(_ context.Context, customerID uuid.UUID, page, pageSize int) ([]*models.Booking, error) {
	return s.list(customerID, page, pageSize)
}

type stubPayments struct {
	initiate func(customerID uuid.UUID, req *models.InitiatePaymentRequest) (*models.InitiatePaymentResponse, error)
	verify   func(req *models.VerifyPaymentRequest) (*models.PaymentResult, error)
	webhook  func(body []byte, signature string, meta services.RequestMeta) (*models.PaymentResult, error)
}

func (s *stubPayments) InitiatePayment(_ context.Context, customerID uuid.UUID, req *models.InitiatePaymentRequest, _ services.RequestMeta) (*models.InitiatePaymentResponse, error) {
	return s.initiate(customerID, req)
}

func (s *stubPayments) VerifyPayment(_ context.Context, req *models.VerifyPaymentRequest, _ services.RequestMeta) (*models.PaymentResult, error) {
	return s.verify(req)
}

func (s *stubPayments) HandleWebhook(_ context.Context, body []byte, signature string, meta services.RequestMeta) (*models.PaymentResult, error) {
	return s.webhook(body, signature, meta)
}

type stubCancellations struct {
	quote  func(customerID, bookingID uuid.UUID) (*models.RefundQuote, error)
	cancel func(customerID, bookingID uuid.UUID, req *models.CancelBookingRequest) (*models.CancelBookingResponse, error)
}

func (s *stubCancellations) Quote(_ context.Context, customerID, bookingID uuid.UUID) (*models.RefundQuote, error) {
	return s.quote(customerID, bookingID)
}

func (s *stubCancellations) Cancel(_ context.Context, customerID, bookingID uuid.UUID, req *models.CancelBookingRequest, _ services.RequestMeta) (*models.CancelBookingResponse, error) {
	return s.cancel(customerID, bookingID, req)
}

type stubConnecting struct {
	search func(req *models.ConnectingSearchRequest) ([]models.Itinerary, error)
	book   func(customerID uuid.UUID, req *models.ConnectingBookingRequest) (*models.Booking, error)
}

func (s *stubConnecting) Search(_ context.Context, req *models.ConnectingSearchRequest) ([]models.Itinerary, error) {
	return s.search(req)
}

func (s *stubConnecting) Book(_ context.Context, customerID uuid.UUID, req *models.ConnectingBookingRequest) (*models.Booking, error) {
	return s.book(customerID, req)
}

type stubSchedules func(scheduleID uuid.UUID) (*models.Schedule, error)

func (f stubSchedules) GetSchedule(_ context.Context, scheduleID uuid.UUID) (*models.Schedule, error) {
	return f(scheduleID)
}
