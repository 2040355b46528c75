package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-engine/internal/models"
)

// AuditTrailReader reads the payment audit log
type AuditTrailReader interface {
	Trail(ctx context.Context, bookingID uuid.UUID) ([]*models.PaymentAudit, error)
}

// AuditHandler exposes the payment audit log to operators
type AuditHandler struct {
	audit  AuditTrailReader
	logger *logrus.Logger
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(audit AuditTrailReader, logger *logrus.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, logger: logger}
}

// GetPaymentTrail lists every payment event of a booking
// @Summary Payment audit trail
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param id path string true "Booking ID"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/admin/bookings/{id}/payment-audits [get]
func (h *AuditHandler) GetPaymentTrail(c *gin.Context) {
	bookingID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	trail, err := h.audit.Trail(c.Request.Context(), bookingID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"booking_id": bookingID,
		"events":     trail,
		"count":      len(trail),
	})
}
