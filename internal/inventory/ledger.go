// Package inventory owns the capacity accounting for ticket types.  It is
// the only place in the module where available counts are decremented or
// incremented; reservations go through a Ledger and never touch the
// counters directly.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ErrInsufficientInventory is returned when a reserve asks for more units
// than are currently available.  No counter is changed in that case.
var ErrInsufficientInventory = errors.New("insufficient inventory")

// ErrUnknownTicketType is returned for a ticket type the ledger does not
// track.
var ErrUnknownTicketType = errors.New("unknown ticket type")

// ErrTicketTypeInactive is returned when reserving a ticket type that has
// been soft-deactivated.  Releases are still accepted.
var ErrTicketTypeInactive = errors.New("ticket type inactive")

// ErrInvalidQuantity is returned for a zero quantity.
var ErrInvalidQuantity = errors.New("quantity must be positive")

// InsufficientError describes a failed reserve.  It unwraps to
// ErrInsufficientInventory.
type InsufficientError struct {
	TicketTypeID uint64
	Requested    uint32
	Available    uint32
}

func (e *InsufficientError) Error() string {
	return fmt.Sprintf("insufficient inventory for ticket type %d: requested %d, available %d",
		e.TicketTypeID, e.Requested, e.Available)
}

func (e *InsufficientError) Unwrap() error { return ErrInsufficientInventory }

// Ledger is the sole arbiter of available counts.  Implementations must
// make Reserve an atomic floor-checked decrement with respect to every
// other Reserve and Release on the same ticket type.
type Ledger interface {
	// Reserve decrements the available count by quantity, or fails with
	// an *InsufficientError and changes nothing.
	Reserve(ctx context.Context, ticketTypeID uint64, quantity uint32) error
	// Release increments the available count by quantity, clamped to the
	// total capacity.
	Release(ctx context.Context, ticketTypeID uint64, quantity uint32) error
}

// Stock is the counter pair the ledger protects.  Callers must hold
// whatever lock guards the ticket type while calling its methods.
type Stock struct {
	Total     uint32
	Available uint32
}

// Take removes q units when enough are available.
func (s *Stock) Take(q uint32) error {
	if q == 0 {
		return ErrInvalidQuantity
	}
	if q > s.Available {
		return &InsufficientError{Requested: q, Available: s.Available}
	}
	s.Available -= q
	return nil
}

// Put returns q units, never exceeding Total.  It reports whether the
// clamp was applied, which only happens on a double release.
func (s *Stock) Put(q uint32) (clamped bool) {
	if uint64(s.Available)+uint64(q) > uint64(s.Total) {
		s.Available = s.Total
		return true
	}
	s.Available += q
	return false
}

// Line is a ticket type and the quantity to reserve or release for it.
type Line struct {
	TicketTypeID uint64
	Quantity     uint32
}

// Normalize merges duplicate ticket types, rejects zero quantities and
// sorts by ticket type id.  Reserving in ascending id order gives every
// multi-item reservation the same lock order.
func Normalize(lines []Line) ([]Line, error) {
	merged := make(map[uint64]uint64, len(lines))
	for _, l := range lines {
		if l.Quantity == 0 {
			return nil, fmt.Errorf("ticket type %d: %w", l.TicketTypeID, ErrInvalidQuantity)
		}
		merged[l.TicketTypeID] += uint64(l.Quantity)
	}
	out := make([]Line, 0, len(merged))
	for id, q := range merged {
		if q > uint64(^uint32(0)) {
			return nil, fmt.Errorf("ticket type %d: quantity overflow", id)
		}
		out = append(out, Line{TicketTypeID: id, Quantity: uint32(q)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TicketTypeID < out[j].TicketTypeID })
	return out, nil
}

// ReserveAll reserves every line in order.  If any reserve fails, the
// lines already reserved are released in reverse order and the original
// error is returned, so a multi-item reservation is all-or-nothing even
// on a ledger without transactions.
func ReserveAll(ctx context.Context, l Ledger, lines []Line) error {
	for i, line := range lines {
		if err := l.Reserve(ctx, line.TicketTypeID, line.Quantity); err != nil {
			if rerr := ReleaseAll(ctx, l, reversed(lines[:i])); rerr != nil {
				return errors.Join(err, fmt.Errorf("compensating release: %w", rerr))
			}
			return err
		}
	}
	return nil
}

// ReleaseAll releases every line, continuing past failures and returning
// them joined.
func ReleaseAll(ctx context.Context, l Ledger, lines []Line) error {
	var errs []error
	for _, line := range lines {
		if err := l.Release(ctx, line.TicketTypeID, line.Quantity); err != nil {
			errs = append(errs, fmt.Errorf("release ticket type %d: %w", line.TicketTypeID, err))
		}
	}
	return errors.Join(errs...)
}

func reversed(lines []Line) []Line {
	out := make([]Line, len(lines))
	for i, l := range lines {
		out[len(lines)-1-i] = l
	}
	return out
}
