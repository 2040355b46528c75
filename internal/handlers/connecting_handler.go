package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-engine/internal/middleware"
	"github.com/smarttransit/booking-engine/internal/models"
)

// ConnectingAPI searches and books two-leg itineraries
type ConnectingAPI interface {
	Search(ctx context.Context, req *models.ConnectingSearchRequest) ([]models.Itinerary, error)
	Book(ctx context.Context, customerID uuid.UUID, req *models.ConnectingBookingRequest) (*models.Booking, error)
}

// ConnectingHandler handles connecting-route search and booking
type ConnectingHandler struct {
	routes ConnectingAPI
	logger *logrus.Logger
}

// NewConnectingHandler creates a new ConnectingHandler
func NewConnectingHandler(routes ConnectingAPI, logger *logrus.Logger) *ConnectingHandler {
	return &ConnectingHandler{routes: routes, logger: logger}
}

// Search finds itineraries with one transfer
// @Summary Find connecting routes
// @Tags Connecting Routes
// @Produce json
// @Param source query string true "Source city"
// @Param destination query string true "Destination city"
// @Param travel_date query string true "Travel date (YYYY-MM-DD)"
// @Param toggle query string false "cheapest (default) or fastest"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{} "No connecting route"
// @Security BearerAuth
// @Router /api/v1/routes/connecting [get]
func (h *ConnectingHandler) Search(c *gin.Context) {
	var req models.ConnectingSearchRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		bindError(c, err)
		return
	}

	itineraries, err := h.routes.Search(c.Request.Context(), &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"itineraries": itineraries,
		"count":       len(itineraries),
	})
}

// Book reserves every leg of an itinerary as one booking
// @Summary Book a connecting itinerary
// @Tags Connecting Routes
// @Accept json
// @Produce json
// @Param request body models.ConnectingBookingRequest true "Legs to book"
// @Success 201 {object} models.BookingResponse
// @Failure 400 {object} map[string]interface{} "Invalid request"
// @Failure 409 {object} map[string]interface{} "Seats not available"
// @Security BearerAuth
// @Router /api/v1/routes/connecting/book [post]
func (h *ConnectingHandler) Book(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		unauthorized(c)
		return
	}

	var req models.ConnectingBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	booking, err := h.routes.Book(c.Request.Context(), userCtx.CustomerID, &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, models.NewBookingResponse(booking))
}
