package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-engine/internal/models"
	"github.com/smarttransit/booking-engine/internal/services"
)

// respondError maps the engine's error taxonomy onto an HTTP status and a
// {"error": code, "message": ...} body.
func respondError(c *gin.Context, logger *logrus.Logger, err error) {
	var (
		validation *models.ValidationError
		notFound   *models.NotFoundError
		conflict   *models.ConflictError
		state      *models.StateError
		external   *models.ExternalDependencyError
	)

	switch {
	case errors.As(err, &validation):
		body := gin.H{"error": "validation_error", "message": validation.Error()}
		if validation.Field != "" {
			body["field"] = validation.Field
		}
		c.JSON(http.StatusBadRequest, body)

	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": notFound.Error()})

	case errors.As(err, &conflict):
		body := gin.H{"error": string(conflict.Reason), "message": conflict.Msg}
		if len(conflict.Seats) > 0 {
			body["seats"] = conflict.Seats
		}
		c.JSON(http.StatusConflict, body)

	case errors.As(err, &state):
		status := http.StatusConflict
		if state.Kind == models.StateBookingExpired {
			status = http.StatusGone
		}
		c.JSON(status, gin.H{
			"error":          string(state.Kind),
			"message":        state.Error(),
			"booking_status": state.Status,
		})

	case errors.Is(err, services.ErrInvalidSignature):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_signature", "message": "Signature verification failed"})

	case errors.As(err, &external):
		logger.WithError(err).WithField("dependency", external.Dependency).Error("External dependency failed")
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "dependency_unavailable",
			"message": external.Dependency + " is unavailable, please retry",
		})

	default:
		logger.WithError(err).WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
		}).Error("Unexpected error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Something went wrong"})
	}
}

// bindError reports a body or query that could not be decoded
func bindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
}

func unauthorized(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "Authentication required"})
}
