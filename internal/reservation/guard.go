package reservation

import (
	"context"
	"sort"
	"time"

	"github.com/iliyamo/ticket-reservation/internal/inventory"
	"github.com/iliyamo/ticket-reservation/internal/model"
)

// enforceSinglePending locks the customer's PENDING_PAYMENT reservation,
// if any.  A live one blocks creation with a *DuplicatePendingError.  One
// whose deadline has passed but that the sweeper has not reached yet is
// expired here, in the caller's transaction, and returned so the caller
// can report the transition once it commits.
func (s *Service) enforceSinglePending(ctx context.Context, tx Tx, customerID uint64, now time.Time) (*model.Reservation, error) {
	existing, err := tx.LockPendingByCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, nil
	}
	if !existing.IsExpired(now) {
		return nil, &DuplicatePendingError{ReservationID: existing.ID}
	}
	ok, err := releaseHold(ctx, tx, existing, model.StatusExpired, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return existing, nil
}

// releaseHold moves a locked PENDING_PAYMENT reservation to a releasing
// terminal status and gives its capacity back.  It reports false when the
// row was no longer pending, in which case nothing is released.
func releaseHold(ctx context.Context, tx Tx, r *model.Reservation, to model.ReservationStatus, now time.Time) (bool, error) {
	if err := r.Status.CheckTransition(to); err != nil {
		return false, err
	}
	ok, err := tx.TransitionStatus(ctx, r.ID, model.StatusPendingPayment, to, now, nil)
	if err != nil || !ok {
		return false, err
	}
	if err := inventory.ReleaseAll(ctx, tx, heldLines(r)); err != nil {
		return false, err
	}
	r.Status = to
	r.UpdatedAt = now
	return true, nil
}

// heldLines returns the reservation's line items as ledger lines in
// ascending ticket type order.
func heldLines(r *model.Reservation) []inventory.Line {
	lines := make([]inventory.Line, 0, len(r.Items))
	for _, li := range r.Items {
		lines = append(lines, inventory.Line{TicketTypeID: li.TicketTypeID, Quantity: li.Quantity})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].TicketTypeID < lines[j].TicketTypeID })
	return lines
}
