package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-engine/internal/database"
	"github.com/smarttransit/booking-engine/internal/models"
	"github.com/smarttransit/booking-engine/pkg/gateway"
)

// memDB is an in-memory stand-in for Postgres. WithTx serializes units of
// work and restores a snapshot when fn fails, like a rolled back transaction.
type memDB struct {
	txMu sync.Mutex
	mu   sync.Mutex

	schedules     map[uuid.UUID]*models.Schedule
	bookings      map[uuid.UUID]*models.Booking
	payments      map[uuid.UUID]*models.Payment
	cancellations []*models.Cancellation
	refunds       map[uuid.UUID]*models.Refund
	audits        []*models.PaymentAudit
	legs          []models.ConnectingLeg

	// failures injected by tests
	failRefund error
	failAudit  error
}

type memSnapshot struct {
	schedules     map[uuid.UUID]models.Schedule
	bookings      map[uuid.UUID]models.Booking
	payments      map[uuid.UUID]models.Payment
	cancellations int
	refunds       map[uuid.UUID]models.Refund
}

func newMemDB() *memDB {
	return &memDB{
		schedules: make(map[uuid.UUID]*models.Schedule),
		bookings:  make(map[uuid.UUID]*models.Booking),
		payments:  make(map[uuid.UUID]*models.Payment),
		refunds:   make(map[uuid.UUID]*models.Refund),
	}
}

func uniqueViolation(constraint string) error {
	return &pq.Error{Code: "23505", Constraint: constraint, Message: "duplicate key value violates unique constraint"}
}

func (m *memDB) snapshot() memSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := memSnapshot{
		schedules:     make(map[uuid.UUID]models.Schedule, len(m.schedules)),
		bookings:      make(map[uuid.UUID]models.Booking, len(m.bookings)),
		payments:      make(map[uuid.UUID]models.Payment, len(m.payments)),
		cancellations: len(m.cancellations),
		refunds:       make(map[uuid.UUID]models.Refund, len(m.refunds)),
	}
	for id, v := range m.schedules {
		s.schedules[id] = *v
	}
	for id, v := range m.bookings {
		s.bookings[id] = *v
	}
	for id, v := range m.payments {
		s.payments[id] = *v
	}
	for id, v := range m.refunds {
		s.refunds[id] = *v
	}
	return s
}

func (m *memDB) restore(s memSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.schedules = make(map[uuid.UUID]*models.Schedule, len(s.schedules))
	for id, v := range s.schedules {
		v := v
		m.schedules[id] = &v
	}
	m.bookings = make(map[uuid.UUID]*models.Booking, len(s.bookings))
	for id, v := range s.bookings {
		v := v
		m.bookings[id] = &v
	}
	m.payments = make(map[uuid.UUID]*models.Payment, len(s.payments))
	for id, v := range s.payments {
		v := v
		m.payments[id] = &v
	}
	m.cancellations = m.cancellations[:s.cancellations]
	m.refunds = make(map[uuid.UUID]*models.Refund, len(s.refunds))
	for id, v := range s.refunds {
		v := v
		m.refunds[id] = &v
	}
}

func (m *memDB) addSchedule(s *models.Schedule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[s.ID] = s
}

func (m *memDB) schedule(id uuid.UUID) models.Schedule {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.schedules[id]
}

func (m *memDB) booking(id uuid.UUID) models.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.bookings[id]
}

func (m *memDB) setBooking(id uuid.UUID, fn func(b *models.Booking)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.bookings[id])
}

func (m *memDB) payment(id uuid.UUID) models.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.payments[id]
}

func (m *memDB) auditEvents(bookingID uuid.UUID) []models.PaymentEventType {
	m.mu.Lock()
	defer m.mu.Unlock()

	var events []models.PaymentEventType
	for _, a := range m.audits {
		if a.BookingID != nil && *a.BookingID == bookingID {
			events = append(events, a.EventType)
		}
	}
	return events
}

func (m *memDB) countAudits(event models.PaymentEventType) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, a := range m.audits {
		if a.EventType == event {
			n++
		}
	}
	return n
}

// ============================================================================
// SCHEDULES
// ============================================================================

type memSchedules struct{ *memDB }

func (s memSchedules) GetByID(ctx context.Context, id uuid.UUID) (*models.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[id]
	if !ok {
		return nil, nil
	}
	out := *sched
	return &out, nil
}

func (s memSchedules) FindConnectingLegs(ctx context.Context, search database.ConnectingSearch) ([]models.ConnectingLeg, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ConnectingLeg(nil), s.legs...), nil
}

func (s memSchedules) Reserve(ctx context.Context, q database.Querier, scheduleID uuid.UUID, seats int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[scheduleID]
	if !ok {
		return sql.ErrNoRows
	}
	if sched.AvailableSeats < seats {
		return database.ErrInsufficientSeats
	}
	sched.AvailableSeats -= seats
	return nil
}

func (s memSchedules) Release(ctx context.Context, q database.Querier, scheduleID uuid.UUID, seats int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[scheduleID]
	if !ok {
		return sql.ErrNoRows
	}
	sched.AvailableSeats += seats
	if sched.AvailableSeats > sched.TotalCapacity {
		sched.AvailableSeats = sched.TotalCapacity
	}
	return nil
}

// ============================================================================
// BOOKINGS
// ============================================================================

type memBookings struct{ *memDB }

func (b memBookings) WithTx(ctx context.Context, fn func(q database.Querier) error) error {
	b.txMu.Lock()
	defer b.txMu.Unlock()

	snap := b.snapshot()
	if err := fn(nil); err != nil {
		b.restore(snap)
		return err
	}
	return nil
}

func (b memBookings) PNRExists(ctx context.Context, q database.Querier, pnr string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, bk := range b.bookings {
		if bk.PNR == pnr {
			return true, nil
		}
	}
	return false, nil
}

func (b memBookings) FindHeldSeats(ctx context.Context, q database.Querier, scheduleID uuid.UUID, seatNumbers []string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	wanted := make(map[string]bool, len(seatNumbers))
	for _, s := range seatNumbers {
		wanted[s] = true
	}

	var held []string
	for _, bk := range b.bookings {
		if !bk.Status.HoldsSeats() {
			continue
		}
		for _, seg := range bk.Segments {
			if seg.ScheduleID != scheduleID {
				continue
			}
			for _, seat := range seg.Seats {
				if wanted[seat.SeatNumber] {
					held = append(held, seat.SeatNumber)
				}
			}
		}
	}
	sort.Strings(held)
	return held, nil
}

func (b memBookings) Create(ctx context.Context, q database.Querier, booking *models.Booking) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, bk := range b.bookings {
		if bk.PNR == booking.PNR {
			return uniqueViolation("bookings_pnr_key")
		}
		if booking.IdempotencyKey != nil && bk.IdempotencyKey != nil &&
			bk.CustomerID == booking.CustomerID && *bk.IdempotencyKey == *booking.IdempotencyKey {
			return uniqueViolation("bookings_customer_idempotency_key")
		}
	}
	stored := *booking
	b.bookings[booking.ID] = &stored
	return nil
}

func (b memBookings) GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bk, ok := b.bookings[id]
	if !ok {
		return nil, nil
	}
	out := *bk
	return &out, nil
}

func (b memBookings) GetByPNR(ctx context.Context, pnr string) (*models.Booking, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, bk := range b.bookings {
		if bk.PNR == pnr {
			out := *bk
			return &out, nil
		}
	}
	return nil, nil
}

func (b memBookings) GetByIdempotencyKey(ctx context.Context, customerID uuid.UUID, key string) (*models.Booking, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, bk := range b.bookings {
		if bk.CustomerID == customerID && bk.IdempotencyKey != nil && *bk.IdempotencyKey == key {
			out := *bk
			return &out, nil
		}
	}
	return nil, nil
}

func (b memBookings) ListByCustomer(ctx context.Context, customerID uuid.UUID, limit, offset int) ([]*models.Booking, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []*models.Booking
	for _, bk := range b.bookings {
		if bk.CustomerID == customerID {
			c := *bk
			c.Segments = nil
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BookedAt.After(out[j].BookedAt) })

	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (b memBookings) GetSegments(ctx context.Context, q database.Querier, bookingID uuid.UUID) ([]models.BookingSegment, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bk, ok := b.bookings[bookingID]
	if !ok {
		return nil, nil
	}
	return append([]models.BookingSegment(nil), bk.Segments...), nil
}

func (b memBookings) CountPending(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, bk := range b.bookings {
		if bk.Status == models.BookingStatusPending {
			n++
		}
	}
	return n, nil
}

func (b memBookings) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var ids []uuid.UUID
	for id, bk := range b.bookings {
		if bk.Status == models.BookingStatusPending && bk.HoldExpiresAt != nil && !bk.HoldExpiresAt.After(now) {
			ids = append(ids, id)
		}
		if len(ids) == limit {
			break
		}
	}
	return ids, nil
}

// transition moves a booking to status `to` when cond holds, like a
// conditional UPDATE. A move the state machine forbids fails the test run.
func (b memBookings) transition(id uuid.UUID, to models.BookingStatus, cond func(*models.Booking) bool, fn func(*models.Booking)) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	bk, ok := b.bookings[id]
	if !ok || !cond(bk) {
		return false
	}
	if !bk.Status.CanTransitionTo(to) {
		panic(fmt.Sprintf("booking %s: illegal transition %s -> %s", id, bk.Status, to))
	}
	fn(bk)
	bk.Status = to
	bk.Version++
	return true
}

func (b memBookings) ConfirmPending(ctx context.Context, q database.Querier, id uuid.UUID, now time.Time) (bool, error) {
	return b.transition(id, models.BookingStatusConfirmed,
		func(bk *models.Booking) bool {
			return bk.Status == models.BookingStatusPending && bk.HoldExpiresAt != nil && bk.HoldExpiresAt.After(now)
		},
		func(bk *models.Booking) {
			bk.ConfirmedAt = &now
			bk.HoldExpiresAt = nil
		}), nil
}

func (b memBookings) ExpirePending(ctx context.Context, q database.Querier, id uuid.UUID, now time.Time) (bool, error) {
	return b.transition(id, models.BookingStatusExpired,
		func(bk *models.Booking) bool {
			return bk.Status == models.BookingStatusPending && bk.HoldExpiresAt != nil && !bk.HoldExpiresAt.After(now)
		},
		func(bk *models.Booking) {
			bk.ExpiredAt = &now
		}), nil
}

func (b memBookings) CancelPending(ctx context.Context, q database.Querier, id uuid.UUID, now time.Time) (bool, error) {
	return b.transition(id, models.BookingStatusCancelled,
		func(bk *models.Booking) bool { return bk.Status == models.BookingStatusPending },
		func(bk *models.Booking) {
			bk.CancelledAt = &now
			bk.HoldExpiresAt = nil
		}), nil
}

func (b memBookings) CancelConfirmed(ctx context.Context, q database.Querier, id, customerID uuid.UUID, now time.Time) (bool, error) {
	return b.transition(id, models.BookingStatusCancelled,
		func(bk *models.Booking) bool {
			return bk.Status == models.BookingStatusConfirmed && bk.CustomerID == customerID
		},
		func(bk *models.Booking) {
			bk.CancelledAt = &now
		}), nil
}

// ============================================================================
// PAYMENTS
// ============================================================================

type memPayments struct{ *memDB }

func (p memPayments) Create(ctx context.Context, payment *models.Payment) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, existing := range p.payments {
		if existing.TransactionID == payment.TransactionID {
			return uniqueViolation("payments_transaction_id_key")
		}
		if existing.BookingID == payment.BookingID &&
			(existing.Status == models.PaymentStatusPending || existing.Status == models.PaymentStatusSuccess) {
			return uniqueViolation("payments_live_booking_idx")
		}
	}
	stored := *payment
	p.payments[payment.ID] = &stored
	return nil
}

func (p memPayments) find(match func(*models.Payment) bool) *models.Payment {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pay := range p.payments {
		if match(pay) {
			out := *pay
			return &out
		}
	}
	return nil
}

func (p memPayments) GetByTransactionID(ctx context.Context, transactionID string) (*models.Payment, error) {
	return p.find(func(pay *models.Payment) bool { return pay.TransactionID == transactionID }), nil
}

func (p memPayments) GetLiveByBooking(ctx context.Context, bookingID uuid.UUID) (*models.Payment, error) {
	return p.find(func(pay *models.Payment) bool {
		return pay.BookingID == bookingID &&
			(pay.Status == models.PaymentStatusPending || pay.Status == models.PaymentStatusSuccess)
	}), nil
}

func (p memPayments) GetSuccessfulByBooking(ctx context.Context, bookingID uuid.UUID) (*models.Payment, error) {
	return p.find(func(pay *models.Payment) bool {
		return pay.BookingID == bookingID && pay.Status == models.PaymentStatusSuccess
	}), nil
}

func (p memPayments) MarkSuccess(ctx context.Context, q database.Querier, id uuid.UUID, gatewayPaymentID string, now time.Time) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pay, ok := p.payments[id]
	if !ok || (pay.Status != models.PaymentStatusPending && pay.Status != models.PaymentStatusFailed) {
		return false, nil
	}
	pay.Status = models.PaymentStatusSuccess
	pay.GatewayPaymentID = &gatewayPaymentID
	pay.FailureReason = nil
	pay.PaymentDate = &now
	return true, nil
}

func (p memPayments) MarkFailed(ctx context.Context, q database.Querier, id uuid.UUID, gatewayPaymentID, reason string, now time.Time) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pay, ok := p.payments[id]
	if !ok || pay.Status != models.PaymentStatusPending {
		return false, nil
	}
	pay.Status = models.PaymentStatusFailed
	pay.FailureReason = &reason
	return true, nil
}

func (p memPayments) ListReconciliationMismatches(ctx context.Context, limit int) ([]models.ReconciliationMismatch, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []models.ReconciliationMismatch
	for _, pay := range p.payments {
		if pay.Status != models.PaymentStatusSuccess {
			continue
		}
		bk := p.bookings[pay.BookingID]
		_, refunded := p.refunds[pay.ID]
		switch {
		case bk.Status == models.BookingStatusExpired,
			bk.Status == models.BookingStatusPending,
			bk.Status == models.BookingStatusCancelled && !refunded:
			out = append(out, models.ReconciliationMismatch{
				PaymentID:     pay.ID,
				BookingID:     bk.ID,
				TransactionID: pay.TransactionID,
				Amount:        pay.Amount,
				Currency:      pay.Currency,
				BookingStatus: bk.Status,
			})
		}
	}
	return out, nil
}

// ============================================================================
// CANCELLATIONS AND AUDIT
// ============================================================================

type memCancellations struct{ *memDB }

func (c memCancellations) Create(ctx context.Context, q database.Querier, cancellation *models.Cancellation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancellations = append(c.cancellations, cancellation)
	return nil
}

func (c memCancellations) CreateRefund(ctx context.Context, q database.Querier, refund *models.Refund) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failRefund != nil {
		return c.failRefund
	}
	if _, exists := c.refunds[refund.PaymentID]; exists {
		return uniqueViolation("refunds_payment_id_key")
	}
	stored := *refund
	c.refunds[refund.PaymentID] = &stored
	return nil
}

func (c memCancellations) GetRefundByBooking(ctx context.Context, bookingID uuid.UUID) (*models.Refund, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.refunds {
		if r.BookingID == bookingID {
			out := *r
			return &out, nil
		}
	}
	return nil, nil
}

type memAudit struct{ *memDB }

func (a memAudit) Log(ctx context.Context, audit *models.PaymentAudit) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failAudit != nil {
		return a.failAudit
	}
	a.audits = append(a.audits, audit)
	return nil
}

func (a memAudit) HasEvent(ctx context.Context, paymentID uuid.UUID, eventType models.PaymentEventType) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, audit := range a.audits {
		if audit.PaymentID != nil && *audit.PaymentID == paymentID && audit.EventType == eventType {
			return true, nil
		}
	}
	return false, nil
}

func (a memAudit) GetByBookingID(ctx context.Context, bookingID uuid.UUID) ([]*models.PaymentAudit, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []*models.PaymentAudit
	for _, audit := range a.audits {
		if audit.BookingID != nil && *audit.BookingID == bookingID {
			out = append(out, audit)
		}
	}
	return out, nil
}

// ============================================================================
// COLLABORATORS
// ============================================================================

// memClaims mirrors the Redis SET NX claims
type memClaims struct {
	mu     sync.Mutex
	owners map[string]string
	err    error
}

func newMemClaims() *memClaims {
	return &memClaims{owners: make(map[string]string)}
}

func claimKey(scheduleID uuid.UUID, travelDate time.Time, seat string) string {
	return fmt.Sprintf("%s:%s:%s", scheduleID, travelDate.Format("2006-01-02"), seat)
}

func (c *memClaims) Claim(ctx context.Context, scheduleID uuid.UUID, travelDate time.Time, seats []string, owner string, ttl time.Duration) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}

	var taken []string
	for _, seat := range seats {
		if o, ok := c.owners[claimKey(scheduleID, travelDate, seat)]; ok && o != owner {
			taken = append(taken, seat)
		}
	}
	if len(taken) > 0 {
		return taken, nil
	}
	for _, seat := range seats {
		c.owners[claimKey(scheduleID, travelDate, seat)] = owner
	}
	return nil, nil
}

func (c *memClaims) Release(ctx context.Context, scheduleID uuid.UUID, travelDate time.Time, seats []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, seat := range seats {
		delete(c.owners, claimKey(scheduleID, travelDate, seat))
	}
	return nil
}

func (c *memClaims) held() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.owners)
}

const (
	testKeySecret     = "test-key-secret"
	testWebhookSecret = "test-webhook-secret"
)

// fakeGateway issues sequential order ids and verifies signatures with the
// same HMAC scheme as the real client
type fakeGateway struct {
	mu      sync.Mutex
	orders  int
	failErr error
}

func (g *fakeGateway) KeyID() string { return "key_test" }

func (g *fakeGateway) CreateOrder(ctx context.Context, amount decimal.Decimal, currency, receipt string, notes map[string]string) (*gateway.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failErr != nil {
		return nil, g.failErr
	}
	g.orders++
	return &gateway.Order{
		ID:       fmt.Sprintf("order_%d", g.orders),
		Amount:   gateway.ToMinorUnits(amount),
		Currency: currency,
		Receipt:  receipt,
		Status:   "created",
	}, nil
}

func (g *fakeGateway) VerifyPaymentSignature(orderID, paymentID, signature string) bool {
	return gateway.Sign(testKeySecret, []byte(orderID+"|"+paymentID)) == signature
}

func (g *fakeGateway) VerifyWebhookSignature(body []byte, signature string) bool {
	return gateway.Sign(testWebhookSecret, body) == signature
}

func (g *fakeGateway) orderCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.orders
}

// recordingNotifier records notifications instead of sending them
type recordingNotifier struct {
	mu        sync.Mutex
	confirmed []uuid.UUID
	cancelled map[uuid.UUID]decimal.Decimal
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{cancelled: make(map[uuid.UUID]decimal.Decimal)}
}

func (n *recordingNotifier) BookingConfirmed(booking *models.Booking) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confirmed = append(n.confirmed, booking.ID)
}

func (n *recordingNotifier) BookingCancelled(booking *models.Booking, refund decimal.Decimal) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancelled[booking.ID] = refund
}

func (n *recordingNotifier) confirmedCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.confirmed)
}

// fakeSender is an sms.Sender that can be told to fail
type fakeSender struct {
	mu       sync.Mutex
	messages map[string][]string
	err      error
}

func (s *fakeSender) Send(ctx context.Context, phone, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.messages == nil {
		s.messages = make(map[string][]string)
	}
	s.messages[phone] = append(s.messages[phone], message)
	return nil
}

var errBoom = errors.New("boom")

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
