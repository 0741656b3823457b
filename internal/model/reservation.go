package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ReservationStatus is the state of a reservation.  PENDING_PAYMENT is
// the only non-terminal state.
type ReservationStatus string

const (
	StatusPendingPayment ReservationStatus = "PENDING_PAYMENT"
	StatusConfirmed      ReservationStatus = "CONFIRMED"
	StatusCancelled      ReservationStatus = "CANCELLED"
	StatusExpired        ReservationStatus = "EXPIRED"
)

// ErrInvalidTransition is returned by CheckTransition for any move that
// is not listed in the transition table.
var ErrInvalidTransition = errors.New("invalid reservation status transition")

// reservationTransitions lists every permitted status change.  Terminal
// states have no outgoing edges.
var reservationTransitions = map[ReservationStatus][]ReservationStatus{
	StatusPendingPayment: {StatusConfirmed, StatusCancelled, StatusExpired},
	StatusConfirmed:      nil,
	StatusCancelled:      nil,
	StatusExpired:        nil,
}

// ParseReservationStatus converts a stored status string into a
// ReservationStatus, rejecting unknown values.
func ParseReservationStatus(s string) (ReservationStatus, error) {
	st := ReservationStatus(s)
	if _, ok := reservationTransitions[st]; !ok {
		return "", fmt.Errorf("unknown reservation status %q", s)
	}
	return st, nil
}

// Terminal reports whether no further transition is possible.
func (s ReservationStatus) Terminal() bool {
	return len(reservationTransitions[s]) == 0
}

// CheckTransition returns nil when moving from s to next is allowed.
func (s ReservationStatus) CheckTransition(next ReservationStatus) error {
	for _, allowed := range reservationTransitions[s] {
		if allowed == next {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, next)
}

// Recipient holds optional delivery details captured with an order.
type Recipient struct {
	Name    *string // reservations.recipient_name (nullable)
	Phone   *string // reservations.recipient_phone (nullable)
	Email   *string // reservations.recipient_email (nullable)
	Address *string // reservations.recipient_address (nullable)
	Notes   *string // reservations.recipient_notes (nullable)
}

// LineItem is one ticket type and quantity inside a reservation.  The
// unit price is captured when the reservation is created so later price
// changes do not alter the order total.
type LineItem struct {
	ID            uint64          // reservation_items.id
	ReservationID uint64          // reservation_items.reservation_id
	TicketTypeID  uint64          // reservation_items.ticket_type_id
	Quantity      uint32          // reservation_items.quantity
	UnitPrice     decimal.Decimal // reservation_items.unit_price
}

// Subtotal returns UnitPrice × Quantity.
func (li LineItem) Subtotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// Reservation is a customer's time-boxed claim on a set of ticket-type
// quantities.  While it is PENDING_PAYMENT it holds capacity in the
// inventory ledger for the sum of its line-item quantities; it stops
// holding capacity when cancelled or expired, and its capacity stays
// consumed once confirmed.
//
// Fields:
//  ID          – primary key identifier.
//  CustomerID  – owning customer.
//  EventID     – event the tickets are for.
//  Items       – ordered line items.
//  TotalAmount – sum of the line-item subtotals.
//  Status      – see ReservationStatus.
//  PaymentRef  – external payment transaction reference once confirmed.
//  CreatedAt   – creation time.
//  ExpiresAt   – payment deadline; authoritative for both confirm and sweep.
//  CompletedAt – set when the reservation is confirmed.
type Reservation struct {
	ID          uint64
	CustomerID  uint64
	EventID     uint64
	Items       []LineItem
	TotalAmount decimal.Decimal
	Status      ReservationStatus
	PaymentRef  *string
	Recipient   Recipient
	CreatedAt   time.Time
	ExpiresAt   time.Time
	CompletedAt *time.Time
	UpdatedAt   time.Time
	Tickets     []Ticket
}

// IsExpired reports whether the payment deadline has passed at now.  The
// deadline itself counts as expired.
func (r *Reservation) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// IsActivePending reports whether the reservation is an unexpired hold.
func (r *Reservation) IsActivePending(now time.Time) bool {
	return r.Status == StatusPendingPayment && !r.IsExpired(now)
}

// TotalQuantity sums the quantities of all line items.
func (r *Reservation) TotalQuantity() uint32 {
	var n uint32
	for _, li := range r.Items {
		n += li.Quantity
	}
	return n
}

// RemainingSeconds returns the whole seconds left before the deadline
// for a pending reservation and zero otherwise.
func (r *Reservation) RemainingSeconds(now time.Time) int64 {
	if r.Status != StatusPendingPayment {
		return 0
	}
	d := r.ExpiresAt.Sub(now)
	if d <= 0 {
		return 0
	}
	return int64(d / time.Second)
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (r *Reservation) Clone() *Reservation {
	if r == nil {
		return nil
	}
	c := *r
	c.Items = append([]LineItem(nil), r.Items...)
	c.Tickets = append([]Ticket(nil), r.Tickets...)
	if r.PaymentRef != nil {
		ref := *r.PaymentRef
		c.PaymentRef = &ref
	}
	if r.CompletedAt != nil {
		at := *r.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}
