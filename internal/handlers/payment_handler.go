package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-engine/internal/middleware"
	"github.com/smarttransit/booking-engine/internal/models"
	"github.com/smarttransit/booking-engine/internal/services"
	"github.com/smarttransit/booking-engine/internal/utils"
)

// SignatureHeader carries the gateway's HMAC over the raw webhook body
const SignatureHeader = "X-Gateway-Signature"

// PaymentAPI binds gateway payments to bookings
type PaymentAPI interface {
	InitiatePayment(ctx context.Context, customerID uuid.UUID, req *models.InitiatePaymentRequest, meta services.RequestMeta) (*models.InitiatePaymentResponse, error)
	VerifyPayment(ctx context.Context, req *models.VerifyPaymentRequest, meta services.RequestMeta) (*models.PaymentResult, error)
	HandleWebhook(ctx context.Context, body []byte, signature string, meta services.RequestMeta) (*models.PaymentResult, error)
}

// PaymentHandler handles payment initiation, client verification and gateway webhooks
type PaymentHandler struct {
	payments PaymentAPI
	logger   *logrus.Logger
}

// NewPaymentHandler creates a new PaymentHandler
func NewPaymentHandler(payments PaymentAPI, logger *logrus.Logger) *PaymentHandler {
	return &PaymentHandler{payments: payments, logger: logger}
}

func requestMeta(c *gin.Context) services.RequestMeta {
	return services.RequestMeta{
		IPAddress: utils.GetRealIP(c),
		UserAgent: utils.GetUserAgent(c),
	}
}

// InitiatePayment opens a gateway order for a Pending booking
// @Summary Initiate payment
// @Tags Payments
// @Accept json
// @Produce json
// @Param request body models.InitiatePaymentRequest true "Booking to pay for"
// @Success 200 {object} models.InitiatePaymentResponse
// @Failure 409 {object} map[string]interface{} "Booking not payable"
// @Failure 410 {object} map[string]interface{} "Seat hold expired"
// @Failure 502 {object} map[string]interface{} "Gateway unavailable"
// @Security BearerAuth
// @Router /api/v1/payments/initiate [post]
func (h *PaymentHandler) InitiatePayment(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		unauthorized(c)
		return
	}

	var req models.InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	resp, err := h.payments.InitiatePayment(c.Request.Context(), userCtx.CustomerID, &req, requestMeta(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// VerifyPayment binds a client-relayed gateway callback to its booking
// @Summary Verify payment
// @Tags Payments
// @Accept json
// @Produce json
// @Param request body models.VerifyPaymentRequest true "Gateway callback"
// @Success 200 {object} models.PaymentResult
// @Failure 401 {object} map[string]interface{} "Invalid signature"
// @Failure 409 {object} map[string]interface{} "Booking mismatch"
// @Failure 410 {object} map[string]interface{} "Seat hold expired"
// @Security BearerAuth
// @Router /api/v1/payments/verify [post]
func (h *PaymentHandler) VerifyPayment(c *gin.Context) {
	if _, exists := middleware.GetUserContext(c); !exists {
		unauthorized(c)
		return
	}

	var req models.VerifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	result, err := h.payments.VerifyPayment(c.Request.Context(), &req, requestMeta(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// Webhook receives signed gateway events
// @Summary Payment gateway webhook
// @Tags Payments
// @Accept json
// @Produce json
// @Param X-Gateway-Signature header string true "HMAC-SHA256 of the body"
// @Success 200 {object} map[string]interface{}
// @Failure 401 {object} map[string]interface{} "Invalid signature"
// @Router /api/v1/payments/webhook [post]
func (h *PaymentHandler) Webhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		bindError(c, err)
		return
	}

	result, err := h.payments.HandleWebhook(c.Request.Context(), body, c.GetHeader(SignatureHeader), requestMeta(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	if result == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "processed", "result": result})
}
