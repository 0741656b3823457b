// Package reservation implements the order-reservation lifecycle: a
// customer's time-boxed hold on ticket inventory that is either paid
// (CONFIRMED), given up (CANCELLED) or reclaimed after its deadline
// (EXPIRED).
//
// Every transition runs inside one Store transaction that locks the
// reservation row first, so Confirm, Cancel and Expire on the same
// reservation are mutually exclusive and at most one of them succeeds.
// Capacity arithmetic is delegated to the inventory ledger exposed by the
// transaction.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/iliyamo/ticket-reservation/internal/clock"
	"github.com/iliyamo/ticket-reservation/internal/inventory"
	"github.com/iliyamo/ticket-reservation/internal/lock"
	"github.com/iliyamo/ticket-reservation/internal/logging"
	"github.com/iliyamo/ticket-reservation/internal/metrics"
	"github.com/iliyamo/ticket-reservation/internal/model"
)

const (
	DefaultTTL           = 15 * time.Minute
	DefaultMaxItems      = 10
	DefaultLockTTL       = 10 * time.Second
	DefaultLockWait      = 3 * time.Second
	DefaultNotifyTimeout = 5 * time.Second

	tracerName = "reservation_service"
)

// Service drives reservations through their state machine.
//
// Fields:
//  store         – persistence and transactional ledger access.
//  locker        – per-customer serialization point for creation.
//  clock         – source of "now" for every deadline comparison.
//  notifier      – optional transition sink, called after commit.
//  payments      – optional payment collaborator for InitiatePayment.
//  logger        – structured log sink; a no-op logger by default.
//  tracer        – span source for every public operation.
//  ttl           – hold duration for new and extended reservations.
//  maxItems      – upper bound on distinct ticket types per order.
//  lockTTL       – longest time the customer lock is held.
//  lockWait      – how long creation waits for the customer lock.
//  notifyTimeout – budget for one post-commit notification.
//  newCode       – ticket check-in code generator.
type Service struct {
	store    Store
	locker   Locker
	clock    clock.Clock
	notifier Notifier
	payments PaymentGateway
	logger   *zap.Logger
	tracer   trace.Tracer

	ttl           time.Duration
	maxItems      int
	lockTTL       time.Duration
	lockWait      time.Duration
	notifyTimeout time.Duration
	newCode       func(reservationID uint64) string
}

// Option customizes a Service.
type Option func(*Service)

func WithClock(c clock.Clock) Option { return func(s *Service) { s.clock = c } }

func WithLocker(l Locker) Option { return func(s *Service) { s.locker = l } }

func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

func WithPaymentGateway(p PaymentGateway) Option { return func(s *Service) { s.payments = p } }

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTTL sets the payment deadline applied at creation and extension.
func WithTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.ttl = d
		}
	}
}

func WithMaxItems(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxItems = n
		}
	}
}

// WithLockTiming sets how long the customer lock is held at most and how
// long a creation waits for it.
func WithLockTiming(ttl, wait time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.lockTTL = ttl
		}
		if wait > 0 {
			s.lockWait = wait
		}
	}
}

func WithNotifyTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.notifyTimeout = d
		}
	}
}

// WithTracerProvider takes spans from tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) {
		if tp != nil {
			s.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithTicketCodes replaces the ticket code generator.
func WithTicketCodes(fn func(reservationID uint64) string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newCode = fn
		}
	}
}

// NewService returns a Service over store.  Without options it uses the
// real clock, an in-process customer lock, no notifier and no payment
// gateway.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:         store,
		locker:        lock.NewLocal(),
		clock:         clock.Real(),
		logger:        zap.NewNop(),
		tracer:        otel.Tracer(tracerName),
		ttl:           DefaultTTL,
		maxItems:      DefaultMaxItems,
		lockTTL:       DefaultLockTTL,
		lockWait:      DefaultLockWait,
		notifyTimeout: DefaultNotifyTimeout,
		newCode:       NewTicketCode,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ItemRequest is one requested ticket type and quantity.
type ItemRequest struct {
	TicketTypeID uint64
	Quantity     uint32
}

// CreateRequest carries everything needed to open a reservation.
type CreateRequest struct {
	CustomerID uint64
	EventID    uint64
	Items      []ItemRequest
	Recipient  model.Recipient
}

// CreateReservation validates the order against the catalog, enforces
// the single-pending-order rule and reserves every line item.  Either
// all line items are reserved and the reservation is stored in
// PENDING_PAYMENT, or nothing changes.
func (s *Service) CreateReservation(ctx context.Context, req CreateRequest) (*model.Reservation, error) {
	ctx, span := s.tracer.Start(ctx, "CreateReservation", trace.WithAttributes(
		attribute.Int64("customer_id", int64(req.CustomerID)),
		attribute.Int64("event_id", int64(req.EventID)),
	))
	defer span.End()

	lines, err := s.normalizeItems(req.Items)
	if err != nil {
		metrics.ReservationCreateFailed(failureReason(err))
		return nil, err
	}

	release, err := s.lockCustomer(ctx, req.CustomerID)
	if err != nil {
		metrics.ReservationCreateFailed(failureReason(err))
		return nil, err
	}
	defer release()

	var now time.Time
	var created, reclaimed *model.Reservation
	err = s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		created, reclaimed = nil, nil
		now = s.clock.Now()

		types, err := checkCatalog(ctx, tx, req.EventID, lines, now)
		if err != nil {
			return err
		}
		reclaimed, err = s.enforceSinglePending(ctx, tx, req.CustomerID, now)
		if err != nil {
			return err
		}
		if err := inventory.ReserveAll(ctx, tx, lines); err != nil {
			return translateLedgerError(err)
		}

		r := &model.Reservation{
			CustomerID:  req.CustomerID,
			EventID:     req.EventID,
			Status:      model.StatusPendingPayment,
			Recipient:   req.Recipient,
			TotalAmount: decimal.Zero,
			CreatedAt:   now,
			ExpiresAt:   now.Add(s.ttl),
			UpdatedAt:   now,
		}
		for _, l := range lines {
			li := model.LineItem{
				TicketTypeID: l.TicketTypeID,
				Quantity:     l.Quantity,
				UnitPrice:    types[l.TicketTypeID].UnitPrice,
			}
			r.Items = append(r.Items, li)
			r.TotalAmount = r.TotalAmount.Add(li.Subtotal())
		}
		if err := tx.InsertReservation(ctx, r); err != nil {
			return err
		}
		created = r
		return nil
	})
	if err != nil {
		metrics.ReservationCreateFailed(failureReason(err))
		span.RecordError(err)
		return nil, err
	}

	if reclaimed != nil {
		metrics.ReservationTransitioned(string(model.StatusExpired))
		logging.Info(ctx, s.logger, "stale reservation reclaimed",
			zap.Uint64("reservation_id", reclaimed.ID),
			zap.Uint64("customer_id", reclaimed.CustomerID))
		s.notify(ctx, NotifyExpired, reclaimed, now)
	}
	metrics.ReservationCreated()
	logging.Info(ctx, s.logger, "reservation created",
		zap.Uint64("reservation_id", created.ID),
		zap.Uint64("customer_id", created.CustomerID),
		zap.Uint64("event_id", created.EventID),
		zap.Uint32("quantity", created.TotalQuantity()),
		zap.Time("expires_at", created.ExpiresAt))
	return created, nil
}

// ConfirmReservation records a verified payment.  The deadline is checked
// under the reservation lock, so a confirm racing the sweeper either wins
// before the deadline or fails with ErrReservationExpired.  Repeating a
// confirm with the same payment reference returns the confirmed
// reservation unchanged.
func (s *Service) ConfirmReservation(ctx context.Context, reservationID uint64, paymentRef string) (*model.Reservation, error) {
	ctx, span := s.tracer.Start(ctx, "ConfirmReservation",
		trace.WithAttributes(attribute.Int64("reservation_id", int64(reservationID))))
	defer span.End()

	paymentRef = strings.TrimSpace(paymentRef)
	if paymentRef == "" {
		return nil, ErrInvalidPaymentRef
	}

	var now time.Time
	var out *model.Reservation
	var changed bool
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		out, changed = nil, false

		r, err := tx.LockReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		now = s.clock.Now()
		switch r.Status {
		case model.StatusConfirmed:
			if r.PaymentRef != nil && *r.PaymentRef == paymentRef {
				out = r
				return nil
			}
			return fmt.Errorf("%w: reservation %d already confirmed", ErrInvalidState, r.ID)
		case model.StatusExpired:
			return ErrReservationExpired
		case model.StatusCancelled:
			return fmt.Errorf("%w: reservation %d is cancelled", ErrInvalidState, r.ID)
		}
		if r.IsExpired(now) {
			return ErrReservationExpired
		}

		ok, err := tx.TransitionStatus(ctx, r.ID, model.StatusPendingPayment, model.StatusConfirmed, now, &paymentRef)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: reservation %d changed concurrently", ErrInvalidState, r.ID)
		}
		tickets, err := s.issueTickets(ctx, tx, r, now)
		if err != nil {
			return err
		}

		r.Status = model.StatusConfirmed
		r.PaymentRef = &paymentRef
		r.CompletedAt = &now
		r.UpdatedAt = now
		r.Tickets = tickets
		out, changed = r, true
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if changed {
		metrics.ReservationTransitioned(string(model.StatusConfirmed))
		logging.Info(ctx, s.logger, "reservation confirmed",
			zap.Uint64("reservation_id", out.ID),
			zap.String("payment_ref", paymentRef),
			zap.Int("tickets", len(out.Tickets)))
		s.notify(ctx, NotifyConfirmed, out, now)
	}
	return out, nil
}

// CancelReservation gives up a pending reservation on behalf of its
// owner and returns its capacity to the ledger.
func (s *Service) CancelReservation(ctx context.Context, customerID, reservationID uint64) error {
	ctx, span := s.tracer.Start(ctx, "CancelReservation",
		trace.WithAttributes(attribute.Int64("reservation_id", int64(reservationID))))
	defer span.End()

	var now time.Time
	var cancelled *model.Reservation
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		cancelled = nil

		r, err := tx.LockReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		now = s.clock.Now()
		if r.CustomerID != customerID {
			return ErrNotOwner
		}
		if r.Status != model.StatusPendingPayment {
			return fmt.Errorf("%w: reservation %d is %s", ErrInvalidState, r.ID, r.Status)
		}
		ok, err := releaseHold(ctx, tx, r, model.StatusCancelled, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: reservation %d changed concurrently", ErrInvalidState, r.ID)
		}
		cancelled = r
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	metrics.ReservationTransitioned(string(model.StatusCancelled))
	logging.Info(ctx, s.logger, "reservation cancelled",
		zap.Uint64("reservation_id", cancelled.ID),
		zap.Uint64("customer_id", customerID))
	s.notify(ctx, NotifyCancelled, cancelled, now)
	return nil
}

// ExpireReservation moves a pending reservation whose deadline has passed
// to EXPIRED and releases its capacity.  It reports false, without error,
// when the reservation is already terminal or not yet due, so repeated
// and overlapping sweeps are harmless.
func (s *Service) ExpireReservation(ctx context.Context, reservationID uint64) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "ExpireReservation",
		trace.WithAttributes(attribute.Int64("reservation_id", int64(reservationID))))
	defer span.End()

	var now time.Time
	var expired *model.Reservation
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		expired = nil

		r, err := tx.LockReservation(ctx, reservationID)
		if err != nil {
			if errors.Is(err, ErrReservationNotFound) {
				return nil
			}
			return err
		}
		now = s.clock.Now()
		if r.Status != model.StatusPendingPayment || !r.IsExpired(now) {
			return nil
		}
		ok, err := releaseHold(ctx, tx, r, model.StatusExpired, now)
		if err != nil || !ok {
			return err
		}
		expired = r
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	if expired == nil {
		return false, nil
	}

	metrics.ReservationTransitioned(string(model.StatusExpired))
	logging.Info(ctx, s.logger, "reservation expired",
		zap.Uint64("reservation_id", expired.ID),
		zap.Uint64("customer_id", expired.CustomerID),
		zap.Time("expires_at", expired.ExpiresAt))
	s.notify(ctx, NotifyExpired, expired, now)
	return true, nil
}

// ExtendReservation pushes the deadline of an unexpired pending
// reservation to now + TTL.
func (s *Service) ExtendReservation(ctx context.Context, customerID, reservationID uint64) (*model.Reservation, error) {
	var now time.Time
	var out *model.Reservation
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		r, err := tx.LockReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		now = s.clock.Now()
		if r.CustomerID != customerID {
			return ErrNotOwner
		}
		if err := pendingAndLive(r, now); err != nil {
			return err
		}
		deadline := now.Add(s.ttl)
		ok, err := tx.ExtendDeadline(ctx, r.ID, deadline)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: reservation %d changed concurrently", ErrInvalidState, r.ID)
		}
		r.ExpiresAt = deadline
		r.UpdatedAt = now
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	logging.Debug(ctx, s.logger, "reservation extended",
		zap.Uint64("reservation_id", out.ID),
		zap.Time("expires_at", out.ExpiresAt))
	return out, nil
}

// InitiatePayment asks the payment collaborator for a handle the owner is
// redirected to.  A pending reservation found past its deadline is
// expired on the spot and ErrReservationExpired is returned.
func (s *Service) InitiatePayment(ctx context.Context, customerID, reservationID uint64, returnURL string) (string, error) {
	if s.payments == nil {
		return "", ErrPaymentUnavailable
	}

	var now time.Time
	var pending, expired *model.Reservation
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		pending, expired = nil, nil

		r, err := tx.LockReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		now = s.clock.Now()
		if r.CustomerID != customerID {
			return ErrNotOwner
		}
		if r.Status == model.StatusPendingPayment && r.IsExpired(now) {
			ok, err := releaseHold(ctx, tx, r, model.StatusExpired, now)
			if err != nil {
				return err
			}
			if ok {
				expired = r
			}
			return nil
		}
		if err := pendingAndLive(r, now); err != nil {
			return err
		}
		pending = r
		return nil
	})
	if err != nil {
		return "", err
	}
	if expired != nil {
		metrics.ReservationTransitioned(string(model.StatusExpired))
		s.notify(ctx, NotifyExpired, expired, now)
		return "", ErrReservationExpired
	}
	if pending == nil {
		return "", ErrReservationExpired
	}

	return s.payments.PaymentURL(ctx, PaymentRequest{
		ReservationID: pending.ID,
		Amount:        pending.TotalAmount,
		Description:   "Reservation " + strconv.FormatUint(pending.ID, 10),
		ReturnURL:     returnURL,
		ExpiresAt:     pending.ExpiresAt,
	})
}

// GetReservation returns one of the customer's reservations.
func (s *Service) GetReservation(ctx context.Context, customerID, reservationID uint64) (*model.Reservation, error) {
	r, err := s.store.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if r.CustomerID != customerID {
		return nil, ErrNotOwner
	}
	return r, nil
}

// ListReservations returns the customer's reservations, newest first.
func (s *Service) ListReservations(ctx context.Context, customerID uint64) ([]*model.Reservation, error) {
	return s.store.ListByCustomer(ctx, customerID)
}

// GetActivePendingReservation returns the customer's unexpired pending
// reservation, or nil when there is none.
func (s *Service) GetActivePendingReservation(ctx context.Context, customerID uint64) (*model.Reservation, error) {
	return s.store.FindActivePending(ctx, customerID, s.clock.Now())
}

// Now exposes the service clock to callers that render deadlines.
func (s *Service) Now() time.Time { return s.clock.Now() }

func (s *Service) normalizeItems(items []ItemRequest) ([]inventory.Line, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: at least one line item is required", ErrInvalidLineItems)
	}
	raw := make([]inventory.Line, len(items))
	for i, it := range items {
		raw[i] = inventory.Line{TicketTypeID: it.TicketTypeID, Quantity: it.Quantity}
	}
	lines, err := inventory.Normalize(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLineItems, err)
	}
	if len(lines) > s.maxItems {
		return nil, fmt.Errorf("%w: at most %d ticket types per order", ErrInvalidLineItems, s.maxItems)
	}
	return lines, nil
}

// lockCustomer takes the per-customer creation lock.  When the lock
// backend itself fails, creation proceeds and relies on the store's
// unique pending key.
func (s *Service) lockCustomer(ctx context.Context, customerID uint64) (func(), error) {
	wctx, cancel := context.WithTimeout(ctx, s.lockWait)
	defer cancel()

	release, err := s.locker.Acquire(wctx, "customer:"+strconv.FormatUint(customerID, 10), s.lockTTL)
	if err == nil {
		return release, nil
	}
	if errors.Is(err, lock.ErrNotAcquired) {
		return nil, ErrCustomerBusy
	}
	logging.Warn(ctx, s.logger, "customer lock unavailable, relying on store constraint",
		zap.Uint64("customer_id", customerID), zap.Error(err))
	return func() {}, nil
}

// notify hands a committed transition to the notifier.  The transition is
// final at this point; a failed delivery is only logged.
func (s *Service) notify(ctx context.Context, typ NotificationType, r *model.Reservation, at time.Time) {
	if s.notifier == nil {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
	defer cancel()
	if err := s.notifier.Notify(nctx, Notification{Type: typ, Reservation: r, OccurredAt: at}); err != nil {
		logging.Warn(ctx, s.logger, "notification failed",
			zap.String("type", string(typ)),
			zap.Uint64("reservation_id", r.ID),
			zap.Error(err))
	}
}

// checkCatalog verifies the event and every requested ticket type are on
// sale and returns the ticket types keyed by id.
func checkCatalog(ctx context.Context, tx Tx, eventID uint64, lines []inventory.Line, now time.Time) (map[uint64]*model.TicketType, error) {
	ev, err := tx.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !ev.OpenForSales(now) {
		return nil, fmt.Errorf("%w: event %d", ErrSaleWindowClosed, eventID)
	}

	ids := make([]uint64, len(lines))
	for i, l := range lines {
		ids[i] = l.TicketTypeID
	}
	types, err := tx.GetTicketTypes(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, l := range lines {
		tt, ok := types[l.TicketTypeID]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrTicketTypeNotFound, l.TicketTypeID)
		}
		if tt.EventID != eventID {
			return nil, fmt.Errorf("%w: ticket type %d belongs to another event", ErrInvalidLineItems, tt.ID)
		}
		if !tt.OnSale(now) {
			return nil, fmt.Errorf("%w: ticket type %d", ErrSaleWindowClosed, tt.ID)
		}
		if ev.MaxTicketsPerOrder != nil && l.Quantity > *ev.MaxTicketsPerOrder {
			return nil, fmt.Errorf("%w: ticket type %d allows %d per order", ErrQuantityLimit, tt.ID, *ev.MaxTicketsPerOrder)
		}
	}
	return types, nil
}

func translateLedgerError(err error) error {
	switch {
	case errors.Is(err, inventory.ErrTicketTypeInactive):
		return fmt.Errorf("%w: %v", ErrSaleWindowClosed, err)
	case errors.Is(err, inventory.ErrUnknownTicketType):
		return fmt.Errorf("%w: %v", ErrTicketTypeNotFound, err)
	}
	return err
}

func pendingAndLive(r *model.Reservation, now time.Time) error {
	switch {
	case r.Status == model.StatusExpired:
		return ErrReservationExpired
	case r.Status != model.StatusPendingPayment:
		return fmt.Errorf("%w: reservation %d is %s", ErrInvalidState, r.ID, r.Status)
	case r.IsExpired(now):
		return ErrReservationExpired
	}
	return nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientInventory):
		return "insufficient_inventory"
	case errors.Is(err, ErrDuplicatePendingOrder):
		return "duplicate_pending"
	case errors.Is(err, ErrSaleWindowClosed):
		return "sale_window_closed"
	case errors.Is(err, ErrInvalidLineItems), errors.Is(err, ErrQuantityLimit):
		return "invalid_items"
	case errors.Is(err, ErrEventNotFound), errors.Is(err, ErrTicketTypeNotFound):
		return "not_found"
	case errors.Is(err, ErrCustomerBusy):
		return "customer_busy"
	}
	return "error"
}
