package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-engine/internal/database"
	"github.com/smarttransit/booking-engine/internal/metrics"
	"github.com/smarttransit/booking-engine/internal/models"
)

// ExpirySweeper moves Pending bookings whose hold has lapsed to Expired and
// returns their seats to the ledger.
type ExpirySweeper struct {
	bookings  BookingStore
	schedules ScheduleStore
	logger    *logrus.Logger
	interval  time.Duration
	batchSize int
	now       func() time.Time

	started  atomic.Bool
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewExpirySweeper creates a new expiry sweeper
func NewExpirySweeper(bookings BookingStore, schedules ScheduleStore, interval time.Duration, batchSize int, logger *logrus.Logger) *ExpirySweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &ExpirySweeper{
		bookings:  bookings,
		schedules: schedules,
		logger:    logger,
		interval:  interval,
		batchSize: batchSize,
		now:       time.Now,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start begins sweeping in the background
func (s *ExpirySweeper) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.logger.WithField("interval", s.interval.String()).Info("Starting hold expiry sweeper")
	go s.run()
}

// Stop halts the sweeper and waits for an in-flight pass to finish
func (s *ExpirySweeper) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping hold expiry sweeper")
		close(s.stopCh)
	})
	if s.started.Load() {
		<-s.done
	}
}

func (s *ExpirySweeper) run() {
	defer close(s.done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-s.stopCh:
			s.logger.Info("Hold expiry sweeper stopped")
			return
		}
	}
}

func (s *ExpirySweeper) sweep(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.WithError(err).Error("Hold expiry sweep failed")
	}
}

// RunOnce expires every lapsed hold, listing them batchSize at a time, and
// returns the number of bookings expired. A failure on one booking does not
// stop the pass; a batch that expires nothing ends it.
func (s *ExpirySweeper) RunOnce(ctx context.Context) (int, error) {
	started := time.Now()
	defer metrics.ObserveSweep(started)

	now := s.now()
	expired, scanned := 0, 0
	for ctx.Err() == nil {
		ids, err := s.bookings.ListExpiredPending(ctx, now, s.batchSize)
		if err != nil {
			return expired, fmt.Errorf("list expired bookings: %w", err)
		}
		scanned += len(ids)

		n := s.expireBatch(ctx, ids, now)
		expired += n
		if len(ids) < s.batchSize || n == 0 {
			break
		}
	}

	if pending, err := s.bookings.CountPending(ctx); err == nil {
		metrics.SetPendingBookings(pending)
	} else {
		s.logger.WithError(err).Warn("Failed to count pending bookings")
	}

	if expired > 0 {
		s.logger.WithFields(logrus.Fields{
			"expired":  expired,
			"scanned":  scanned,
			"duration": time.Since(started).String(),
		}).Info("Hold expiry sweep complete")
	}
	return expired, nil
}

func (s *ExpirySweeper) expireBatch(ctx context.Context, ids []uuid.UUID, now time.Time) int {
	expired := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}

		ok, released, err := s.expireOne(ctx, id, now)
		if err != nil {
			s.logger.WithError(err).WithField("booking_id", id).Error("Failed to expire booking")
			continue
		}
		if !ok {
			// confirmed or cancelled since it was listed
			continue
		}

		expired++
		metrics.BookingTransition(string(models.BookingStatusPending), string(models.BookingStatusExpired))
		metrics.SeatsReleased("expiry", released)
		s.logger.WithFields(logrus.Fields{
			"booking_id":     id,
			"seats_released": released,
		}).Info("Booking hold expired")
	}
	return expired
}

func (s *ExpirySweeper) expireOne(ctx context.Context, id uuid.UUID, now time.Time) (ok bool, released int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while expiring booking: %v", r)
		}
	}()

	err = s.bookings.WithTx(ctx, func(q database.Querier) error {
		var txErr error
		ok, txErr = s.bookings.ExpirePending(ctx, q, id, now)
		if txErr != nil || !ok {
			return txErr
		}
		released, txErr = releaseSegments(ctx, q, s.bookings, s.schedules, id)
		return txErr
	})
	if err != nil {
		return false, 0, err
	}
	return ok, released, nil
}
