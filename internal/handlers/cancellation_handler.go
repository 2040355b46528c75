package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-engine/internal/middleware"
	"github.com/smarttransit/booking-engine/internal/models"
	"github.com/smarttransit/booking-engine/internal/services"
)

// CancellationAPI quotes and performs refunds
type CancellationAPI interface {
	Quote(ctx context.Context, customerID, bookingID uuid.UUID) (*models.RefundQuote, error)
	Cancel(ctx context.Context, customerID, bookingID uuid.UUID, req *models.CancelBookingRequest, meta services.RequestMeta) (*models.CancelBookingResponse, error)
}

// CancellationHandler handles cancellation of confirmed bookings
type CancellationHandler struct {
	cancellations CancellationAPI
	logger        *logrus.Logger
}

// NewCancellationHandler creates a new CancellationHandler
func NewCancellationHandler(cancellations CancellationAPI, logger *logrus.Logger) *CancellationHandler {
	return &CancellationHandler{cancellations: cancellations, logger: logger}
}

// RefundQuote previews the refund a cancellation would produce now
// @Summary Refund preview
// @Tags Cancellations
// @Produce json
// @Param id path string true "Booking ID"
// @Success 200 {object} models.RefundQuote
// @Failure 409 {object} map[string]interface{} "Booking not cancellable"
// @Security BearerAuth
// @Router /api/v1/bookings/{id}/refund-quote [get]
func (h *CancellationHandler) RefundQuote(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		unauthorized(c)
		return
	}

	bookingID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	quote, err := h.cancellations.Quote(c.Request.Context(), userCtx.CustomerID, bookingID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, quote)
}

// CancelBooking cancels a confirmed booking and opens its refund
// @Summary Cancel booking
// @Tags Cancellations
// @Accept json
// @Produce json
// @Param id path string true "Booking ID"
// @Param request body models.CancelBookingRequest false "Optional reason"
// @Success 200 {object} models.CancelBookingResponse
// @Failure 409 {object} map[string]interface{} "Booking not cancellable or already refunded"
// @Security BearerAuth
// @Router /api/v1/bookings/{id}/cancel [post]
func (h *CancellationHandler) CancelBooking(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		unauthorized(c)
		return
	}

	bookingID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	// the body is optional
	var req models.CancelBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		bindError(c, err)
		return
	}

	resp, err := h.cancellations.Cancel(c.Request.Context(), userCtx.CustomerID, bookingID, &req, requestMeta(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
