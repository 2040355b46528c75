package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-engine/internal/middleware"
	"github.com/smarttransit/booking-engine/internal/models"
)

// BookingAPI is the part of the booking service the HTTP layer uses
type BookingAPI interface {
	CreateBooking(ctx context.Context, customerID uuid.UUID, req *models.CreateBookingRequest) (*models.Booking, error)
	GetBooking(ctx context.Context, customerID, bookingID uuid.UUID) (*models.Booking, error)
	GetBookingByPNR(ctx context.Context, customerID uuid.UUID, pnr string) (*models.Booking, error)
	ListBookings(ctx context.Context, customerID uuid.UUID, page, pageSize int) ([]*models.Booking, error)
}

// BookingHandler handles passenger booking operations
type BookingHandler struct {
	bookings BookingAPI
	logger   *logrus.Logger
}

// NewBookingHandler creates a new BookingHandler
func NewBookingHandler(bookings BookingAPI, logger *logrus.Logger) *BookingHandler {
	return &BookingHandler{
		bookings: bookings,
		logger:   logger,
	}
}

// CreateBooking holds seats on one or more schedules
// @Summary Create a booking
// @Description Reserve seats on one or more schedules. The booking stays Pending until paid.
// @Tags Bookings
// @Accept json
// @Produce json
// @Param request body models.CreateBookingRequest true "Booking request"
// @Success 201 {object} models.BookingResponse "Booking created"
// @Failure 400 {object} map[string]interface{} "Invalid request"
// @Failure 401 {object} map[string]interface{} "Unauthorized"
// @Failure 409 {object} map[string]interface{} "Seats not available"
// @Failure 502 {object} map[string]interface{} "Seat claim store unavailable"
// @Security BearerAuth
// @Router /api/v1/bookings [post]
func (h *BookingHandler) CreateBooking(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		unauthorized(c)
		return
	}

	var req models.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	booking, err := h.bookings.CreateBooking(c.Request.Context(), userCtx.CustomerID, &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, models.NewBookingResponse(booking))
}

// GetBooking returns one of the caller's bookings
// @Summary Get booking
// @Tags Bookings
// @Produce json
// @Param id path string true "Booking ID"
// @Success 200 {object} models.BookingResponse
// @Failure 404 {object} map[string]interface{} "Booking not found"
// @Security BearerAuth
// @Router /api/v1/bookings/{id} [get]
func (h *BookingHandler) GetBooking(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		unauthorized(c)
		return
	}

	bookingID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	booking, err := h.bookings.GetBooking(c.Request.Context(), userCtx.CustomerID, bookingID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, models.NewBookingResponse(booking))
}

// GetBookingByPNR returns one of the caller's bookings by reference
// @Summary Get booking by PNR
// @Tags Bookings
// @Produce json
// @Param pnr path string true "Booking reference"
// @Success 200 {object} models.BookingResponse
// @Failure 404 {object} map[string]interface{} "Booking not found"
// @Security BearerAuth
// @Router /api/v1/bookings/pnr/{pnr} [get]
func (h *BookingHandler) GetBookingByPNR(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		unauthorized(c)
		return
	}

	booking, err := h.bookings.GetBookingByPNR(c.Request.Context(), userCtx.CustomerID, c.Param("pnr"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, models.NewBookingResponse(booking))
}

// ListBookings returns a page of the caller's bookings
// @Summary List my bookings
// @Tags Bookings
// @Produce json
// @Param page query int false "Page (default 1)"
// @Param page_size query int false "Page size (default 20, max 100)"
// @Success 200 {object} map[string]interface{}
// @Security BearerAuth
// @Router /api/v1/bookings [get]
func (h *BookingHandler) ListBookings(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		unauthorized(c)
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	bookings, err := h.bookings.ListBookings(c.Request.Context(), userCtx.CustomerID, page, pageSize)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	items := make([]*models.BookingResponse, 0, len(bookings))
	for _, b := range bookings {
		items = append(items, models.NewBookingResponse(b))
	}

	c.JSON(http.StatusOK, gin.H{
		"bookings": items,
		"page":     page,
		"count":    len(items),
	})
}

// pathUUID parses a uuid path parameter, writing a 400 when it is malformed
func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}
