package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-engine/internal/models"
)

// ScheduleReader looks up a schedule with live availability
type ScheduleReader interface {
	GetSchedule(ctx context.Context, scheduleID uuid.UUID) (*models.Schedule, error)
}

// ScheduleHandler serves public schedule reads
type ScheduleHandler struct {
	schedules ScheduleReader
	logger    *logrus.Logger
}

// NewScheduleHandler creates a new ScheduleHandler
func NewScheduleHandler(schedules ScheduleReader, logger *logrus.Logger) *ScheduleHandler {
	return &ScheduleHandler{schedules: schedules, logger: logger}
}

// GetSchedule returns a schedule and its remaining seats
// @Summary Get schedule
// @Tags Schedules
// @Produce json
// @Param id path string true "Schedule ID"
// @Success 200 {object} models.Schedule
// @Failure 404 {object} map[string]interface{} "Schedule not found"
// @Router /api/v1/schedules/{id} [get]
func (h *ScheduleHandler) GetSchedule(c *gin.Context) {
	scheduleID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	schedule, err := h.schedules.GetSchedule(c.Request.Context(), scheduleID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, schedule)
}
