package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ErrNotConfigured is returned when the key id or secret is missing
var ErrNotConfigured = errors.New("payment gateway not configured: missing key credentials")

// Config holds the gateway credentials
type Config struct {
	BaseURL       string
	KeyID         string
	KeySecret     string
	WebhookSecret string
	Timeout       time.Duration
}

// Client talks to a signed-transaction payment gateway (orders API with
// HMAC-SHA256 payment and webhook signatures)
type Client struct {
	config Config
	logger *logrus.Logger
	client *http.Client
}

// OrderRequest is the body of POST /orders. Amount is in minor units.
type OrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

// Order is the gateway's view of a created order
type Order struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

type errorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// NewClient creates a new gateway client
func NewClient(cfg Config, logger *logrus.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		config: cfg,
		logger: logger,
		client: &http.Client{Timeout: timeout},
	}
}

// IsConfigured returns true if the key credentials are present
func (c *Client) IsConfigured() bool {
	return c.config.KeyID != "" && c.config.KeySecret != ""
}

// KeyID is the public key handed to clients for checkout
func (c *Client) KeyID() string {
	return c.config.KeyID
}

// ToMinorUnits converts 123.45 to 12345
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// FromMinorUnits converts 12345 to 123.45
func FromMinorUnits(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}

// CreateOrder registers an order for amount and returns the gateway order id
func (c *Client) CreateOrder(ctx context.Context, amount decimal.Decimal, currency, receipt string, notes map[string]string) (*Order, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	body, err := json.Marshal(OrderRequest{
		Amount:   ToMinorUnits(amount),
		Currency: currency,
		Receipt:  receipt,
		Notes:    notes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.config.KeyID, c.config.KeySecret)

	c.logger.WithFields(logrus.Fields{
		"receipt":  receipt,
		"amount":   amount.StringFixed(2),
		"currency": currency,
	}).Info("Creating gateway order")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call payment gateway: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		var gwErr errorResponse
		if json.Unmarshal(raw, &gwErr) == nil && gwErr.Error.Description != "" {
			return nil, fmt.Errorf("payment gateway returned status %d: %s", resp.StatusCode, gwErr.Error.Description)
		}
		return nil, fmt.Errorf("payment gateway returned status %d", resp.StatusCode)
	}

	var order Order
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if order.ID == "" {
		return nil, fmt.Errorf("payment gateway returned no order id")
	}

	c.logger.WithFields(logrus.Fields{
		"receipt":  receipt,
		"order_id": order.ID,
	}).Info("Gateway order created")

	return &order, nil
}

// VerifyPaymentSignature checks the client-relayed signature:
// hex(HMAC-SHA256(key_secret, order_id + "|" + payment_id))
func (c *Client) VerifyPaymentSignature(orderID, paymentID, signature string) bool {
	if c.config.KeySecret == "" || signature == "" {
		return false
	}
	return validHMAC(c.config.KeySecret, []byte(orderID+"|"+paymentID), signature)
}

// VerifyWebhookSignature checks hex(HMAC-SHA256(webhook_secret, body))
func (c *Client) VerifyWebhookSignature(body []byte, signature string) bool {
	if c.config.WebhookSecret == "" || signature == "" {
		return false
	}
	return validHMAC(c.config.WebhookSecret, body, signature)
}

// Sign computes the hex HMAC-SHA256 of payload
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func validHMAC(secret string, payload []byte, signature string) bool {
	expected, err := hex.DecodeString(Sign(secret, payload))
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(signature)))
	if err != nil {
		return false
	}
	return hmac.Equal(expected, got)
}
