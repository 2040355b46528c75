package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Sender delivers a text message to one phone number
type Sender interface {
	Send(ctx context.Context, phone, message string) error
}

// DialogGateway sends SMS through the Dialog eSMS v2 API
type DialogGateway struct {
	apiURL   string
	username string
	password string
	mask     string
	client   *http.Client

	token       string
	tokenMutex  sync.RWMutex
	tokenExpiry time.Time
}

// DialogConfig holds configuration for Dialog SMS Gateway
type DialogConfig struct {
	APIURL   string
	Username string
	Password string
	Mask     string
	Timeout  time.Duration
}

// NewDialogGateway creates a new Dialog SMS Gateway client
func NewDialogGateway(config DialogConfig) *DialogGateway {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &DialogGateway{
		apiURL:   strings.TrimRight(config.APIURL, "/"),
		username: config.Username,
		password: config.Password,
		mask:     config.Mask,
		client:   &http.Client{Timeout: timeout},
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Status     string `json:"status"`
	Comment    string `json:"comment"`
	Token      string `json:"token"`
	Expiration int    `json:"expiration"` // seconds
	ErrCode    string `json:"errCode"`
}

type smsRecipient struct {
	Mobile string `json:"mobile"`
}

type sendSMSRequest struct {
	MSISDN        []smsRecipient `json:"msisdn"`
	Message       string         `json:"message"`
	SourceAddress string         `json:"sourceAddress,omitempty"`
	TransactionID int64          `json:"transaction_id"`
	PaymentMethod int            `json:"payment_method"` // 0 = wallet
}

type sendSMSResponse struct {
	Status  string `json:"status"`
	Comment string `json:"comment"`
	ErrCode string `json:"errCode"`
}

// login retrieves a fresh access token
func (d *DialogGateway) login(ctx context.Context) error {
	var resp loginResponse
	if err := d.post(ctx, "/login", "", loginRequest{Username: d.username, Password: d.password}, &resp); err != nil {
		return fmt.Errorf("failed to log in to sms gateway: %w", err)
	}
	if resp.Status != "success" {
		return fmt.Errorf("login failed: %s (error code: %s)", resp.Comment, resp.ErrCode)
	}

	d.tokenMutex.Lock()
	d.token = resp.Token
	d.tokenExpiry = time.Now().Add(time.Duration(resp.Expiration) * time.Second)
	d.tokenMutex.Unlock()

	return nil
}

// validToken returns the cached token, refreshing it 5 minutes before expiry
func (d *DialogGateway) validToken(ctx context.Context) (string, error) {
	d.tokenMutex.RLock()
	token, expiry := d.token, d.tokenExpiry
	d.tokenMutex.RUnlock()

	if token != "" && time.Now().Before(expiry.Add(-5*time.Minute)) {
		return token, nil
	}

	if err := d.login(ctx); err != nil {
		return "", err
	}

	d.tokenMutex.RLock()
	defer d.tokenMutex.RUnlock()
	return d.token, nil
}

// Send delivers message to an E.164 phone number
func (d *DialogGateway) Send(ctx context.Context, phone, message string) error {
	token, err := d.validToken(ctx)
	if err != nil {
		return err
	}

	req := sendSMSRequest{
		MSISDN:        []smsRecipient{{Mobile: strings.TrimPrefix(phone, "+")}},
		Message:       message,
		SourceAddress: d.mask,
		TransactionID: time.Now().UnixMicro(),
	}

	var resp sendSMSResponse
	if err := d.post(ctx, "/sms", token, req, &resp); err != nil {
		return fmt.Errorf("failed to send sms: %w", err)
	}
	if resp.Status != "success" {
		return fmt.Errorf("sms sending failed: %s (error code: %s)", resp.Comment, resp.ErrCode)
	}
	return nil
}

func (d *DialogGateway) post(ctx context.Context, path, token string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.apiURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("gateway returned %d", resp.StatusCode)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// LogSender writes messages to the log instead of sending them (SMS_MODE=dev)
type LogSender struct {
	logger *logrus.Logger
}

// NewLogSender creates a development sender
func NewLogSender(logger *logrus.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send logs the message
func (s *LogSender) Send(_ context.Context, phone, message string) error {
	s.logger.WithFields(logrus.Fields{
		"phone":   phone,
		"message": message,
	}).Info("SMS (dev mode, not sent)")
	return nil
}
