package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-engine/internal/metrics"
	"github.com/smarttransit/booking-engine/internal/models"
)

const reconciliationBatchSize = 200

// CronService manages scheduled background jobs
type CronService struct {
	cron     *cron.Cron
	schedule string
	payments PaymentStore
	audit    *AuditService
	logger   *logrus.Logger
}

// NewCronService creates a new CronService. schedule uses the six-field
// format with seconds.
func NewCronService(schedule string, payments PaymentStore, audit *AuditService, logger *logrus.Logger) *CronService {
	return &CronService{
		cron:     cron.New(cron.WithSeconds()),
		schedule: schedule,
		payments: payments,
		audit:    audit,
		logger:   logger,
	}
}

// Start starts all cron jobs
func (s *CronService) Start() error {
	// "0 */15 * * * *" = every 15 minutes
	if _, err := s.cron.AddFunc(s.schedule, s.reconcileJob); err != nil {
		return fmt.Errorf("failed to schedule reconciliation job: %w", err)
	}

	s.cron.Start()
	s.logger.WithField("schedule", s.schedule).Info("Cron service started (payment reconciliation)")
	return nil
}

// Stop stops all cron jobs and waits for a running job to finish
func (s *CronService) Stop() {
	s.logger.Info("Stopping cron service")
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *CronService) reconcileJob() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithField("panic", r).Error("[CRON] reconciliation job panicked")
		}
	}()

	startTime := time.Now()
	flagged, err := s.RunOnce(context.Background())
	if err != nil {
		s.logger.WithError(err).Error("[CRON] reconciliation job failed")
		return
	}
	s.logger.WithFields(logrus.Fields{
		"flagged":  flagged,
		"duration": time.Since(startTime).String(),
	}).Debug("[CRON] reconciliation job finished")
}

// RunOnce scans for successful payments whose booking is not Confirmed, or
// was cancelled without a refund, and returns how many were newly flagged.
// Mismatches are logged every run but audited only once.
func (s *CronService) RunOnce(ctx context.Context) (int, error) {
	mismatches, err := s.payments.ListReconciliationMismatches(ctx, reconciliationBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list reconciliation mismatches: %w", err)
	}

	flagged := 0
	for _, m := range mismatches {
		s.logger.WithFields(logrus.Fields{
			"payment_id":     m.PaymentID,
			"booking_id":     m.BookingID,
			"transaction_id": m.TransactionID,
			"amount":         m.Amount.StringFixed(2),
			"booking_status": m.BookingStatus,
		}).Warn("Successful payment without a confirmed booking")

		if s.audit.AlreadyRecorded(ctx, m.PaymentID, models.PaymentEventReconciliationMismatch) {
			continue
		}

		s.audit.Record(ctx, models.NewPaymentAudit(models.PaymentEventReconciliationMismatch, models.PaymentSourceSystem).
			SetBooking(m.BookingID).
			SetPayment(m.PaymentID, m.TransactionID).
			SetAmount(m.Amount, m.Currency).
			SetPaymentStatus(string(models.PaymentStatusSuccess)).
			SetError("booking status is "+string(m.BookingStatus)), RequestMeta{})
		metrics.ReconciliationMismatch()
		flagged++
	}

	return flagged, nil
}

// GetJobStatus returns the status of scheduled jobs
func (s *CronService) GetJobStatus() map[string]interface{} {
	entries := s.cron.Entries()

	jobs := make([]map[string]interface{}, 0, len(entries))
	for _, entry := range entries {
		jobs = append(jobs, map[string]interface{}{
			"id":       entry.ID,
			"next_run": entry.Next,
			"prev_run": entry.Prev,
		})
	}

	return map[string]interface{}{
		"running":   len(entries) > 0,
		"job_count": len(entries),
		"jobs":      jobs,
	}
}
