package reservation

import (
	"errors"
	"fmt"

	"github.com/iliyamo/ticket-reservation/internal/inventory"
)

// Business outcomes of the reservation operations.  They are expected
// results rather than failures of the system and callers tell them apart
// with errors.Is.  Anything else returned by the service is a storage or
// infrastructure error and leaves no partial mutation behind.
var (
	// ErrInsufficientInventory means a line item asked for more tickets
	// than were available.  It is the same value as
	// inventory.ErrInsufficientInventory so *inventory.InsufficientError
	// matches it.
	ErrInsufficientInventory = inventory.ErrInsufficientInventory

	// ErrDuplicatePendingOrder means the customer already holds an
	// unexpired pending reservation.  See DuplicatePendingError.
	ErrDuplicatePendingOrder = errors.New("customer already has a pending reservation")

	// ErrSaleWindowClosed means the event or a ticket type is not on sale.
	ErrSaleWindowClosed = errors.New("sale window closed")

	// ErrReservationExpired means the payment deadline has passed.
	ErrReservationExpired = errors.New("reservation expired")

	// ErrInvalidState means the reservation is not in a state that
	// permits the requested transition.
	ErrInvalidState = errors.New("invalid reservation state")

	// ErrNotOwner means the reservation belongs to another customer.
	ErrNotOwner = errors.New("reservation belongs to another customer")

	ErrReservationNotFound = errors.New("reservation not found")
	ErrEventNotFound       = errors.New("event not found")
	ErrTicketTypeNotFound  = errors.New("ticket type not found")

	// ErrInvalidLineItems covers empty orders, too many line items, zero
	// quantities and ticket types from another event.
	ErrInvalidLineItems = errors.New("invalid line items")

	// ErrQuantityLimit means a line item exceeds the event's per-order cap.
	ErrQuantityLimit = errors.New("ticket quantity limit exceeded")

	// ErrPaymentUnavailable means no payment collaborator is configured.
	ErrPaymentUnavailable = errors.New("payment gateway not configured")

	// ErrCustomerBusy means another creation for the same customer held
	// the customer lock for longer than the configured wait.
	ErrCustomerBusy = errors.New("another order for this customer is in progress")

	// ErrInvalidPaymentRef means a confirmation arrived without a payment
	// reference.
	ErrInvalidPaymentRef = errors.New("payment reference required")
)

// DuplicatePendingError carries the identifier of the reservation that
// blocks a new one so the client can resume it.  ReservationID is zero
// when the conflict was detected by the store's unique constraint and the
// blocking row could not be read back.
type DuplicatePendingError struct {
	ReservationID uint64
}

func (e *DuplicatePendingError) Error() string {
	if e.ReservationID == 0 {
		return ErrDuplicatePendingOrder.Error()
	}
	return fmt.Sprintf("%s: reservation %d", ErrDuplicatePendingOrder, e.ReservationID)
}

func (e *DuplicatePendingError) Unwrap() error { return ErrDuplicatePendingOrder }
