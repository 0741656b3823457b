package reservation

import (
	"context"
	"time"

	"github.com/iliyamo/ticket-reservation/internal/inventory"
	"github.com/iliyamo/ticket-reservation/internal/model"
)

// Store persists reservations and exposes transactional access to them
// together with the inventory ledger.
//
// WithTx runs fn inside one atomic unit: either every ledger call and
// row change made through tx is committed, or none is.  Returning an
// error from fn rolls the unit back.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// GetReservation loads a reservation with its items and tickets.
	GetReservation(ctx context.Context, id uint64) (*model.Reservation, error)
	// ListByCustomer returns a customer's reservations newest first.
	ListByCustomer(ctx context.Context, customerID uint64) ([]*model.Reservation, error)
	// FindActivePending returns the customer's PENDING_PAYMENT reservation
	// whose deadline is after now, or nil when there is none.
	FindActivePending(ctx context.Context, customerID uint64, now time.Time) (*model.Reservation, error)
	// ListExpiredPending returns up to limit ids greater than afterID of
	// PENDING_PAYMENT reservations whose deadline is at or before now,
	// in ascending id order.
	ListExpiredPending(ctx context.Context, now time.Time, afterID uint64, limit int) ([]uint64, error)
}

// Tx is the view of the store inside a WithTx unit.  Its ledger methods
// participate in the same unit as the reservation changes.
type Tx interface {
	inventory.Ledger

	// GetEvent returns ErrEventNotFound when the event does not exist.
	GetEvent(ctx context.Context, eventID uint64) (*model.Event, error)
	// GetTicketTypes returns the requested ticket types keyed by id;
	// unknown ids are absent from the map.
	GetTicketTypes(ctx context.Context, ids []uint64) (map[uint64]*model.TicketType, error)

	// LockPendingByCustomer locks and returns the customer's
	// PENDING_PAYMENT reservation regardless of its deadline, or nil.
	LockPendingByCustomer(ctx context.Context, customerID uint64) (*model.Reservation, error)
	// LockReservation locks one reservation for the rest of the unit.
	// It returns ErrReservationNotFound for an unknown id.
	LockReservation(ctx context.Context, id uint64) (*model.Reservation, error)

	// InsertReservation stores r and its items, assigning ids.  A second
	// PENDING_PAYMENT row for the same customer fails with a
	// *DuplicatePendingError naming the blocking reservation.
	InsertReservation(ctx context.Context, r *model.Reservation) error
	// TransitionStatus moves a reservation from one status to another
	// only if it is still in from, reporting whether a row changed.
	// Moving to CONFIRMED also records paymentRef and completedAt = at.
	TransitionStatus(ctx context.Context, id uint64, from, to model.ReservationStatus, at time.Time, paymentRef *string) (bool, error)
	// ExtendDeadline sets a new deadline on a PENDING_PAYMENT reservation.
	ExtendDeadline(ctx context.Context, id uint64, expiresAt time.Time) (bool, error)

	TicketCodeExists(ctx context.Context, code string) (bool, error)
	// InsertTickets stores tickets, assigning ids in place.
	InsertTickets(ctx context.Context, tickets []model.Ticket) error
}

// Locker provides the per-customer serialization point for creation.
// Acquire blocks until the key is held or ctx is done; the returned
// release function must be called exactly once.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}
