package memstore

import (
	"context"
	"time"

	"github.com/iliyamo/ticket-reservation/internal/model"
	"github.com/iliyamo/ticket-reservation/internal/reservation"
)

// tx applies changes directly to the store and records an inverse for
// each one.  The store mutex is held for the whole transaction.
type tx struct {
	s    *Store
	undo []func()
}

func (t *tx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *tx) Reserve(ctx context.Context, ticketTypeID uint64, quantity uint32) error {
	if err := t.s.ledger.Reserve(ctx, ticketTypeID, quantity); err != nil {
		return err
	}
	t.undo = append(t.undo, func() { _ = t.s.ledger.Release(context.Background(), ticketTypeID, quantity) })
	return nil
}

func (t *tx) Release(ctx context.Context, ticketTypeID uint64, quantity uint32) error {
	before, err := t.s.ledger.Snapshot(ticketTypeID)
	if err != nil {
		return err
	}
	if err := t.s.ledger.Release(ctx, ticketTypeID, quantity); err != nil {
		return err
	}
	t.undo = append(t.undo, func() { _ = t.s.ledger.Restore(ticketTypeID, before) })
	return nil
}

func (t *tx) GetEvent(_ context.Context, eventID uint64) (*model.Event, error) {
	e, ok := t.s.events[eventID]
	if !ok {
		return nil, reservation.ErrEventNotFound
	}
	cp := *e
	return &cp, nil
}

func (t *tx) GetTicketTypes(_ context.Context, ids []uint64) (map[uint64]*model.TicketType, error) {
	out := make(map[uint64]*model.TicketType, len(ids))
	for _, id := range ids {
		tt, ok := t.s.ticketTypes[id]
		if !ok {
			continue
		}
		cp := *tt
		if stock, err := t.s.ledger.Snapshot(id); err == nil {
			cp.AvailableCount = stock.Available
		}
		out[id] = &cp
	}
	return out, nil
}

func (t *tx) LockPendingByCustomer(_ context.Context, customerID uint64) (*model.Reservation, error) {
	return t.s.pendingOf(customerID).Clone(), nil
}

func (t *tx) LockReservation(_ context.Context, id uint64) (*model.Reservation, error) {
	r, ok := t.s.reservations[id]
	if !ok {
		return nil, reservation.ErrReservationNotFound
	}
	return r.Clone(), nil
}

func (t *tx) InsertReservation(_ context.Context, r *model.Reservation) error {
	if r.Status == model.StatusPendingPayment {
		if p := t.s.pendingOf(r.CustomerID); p != nil {
			return &reservation.DuplicatePendingError{ReservationID: p.ID}
		}
	}
	prevRes, prevItem := t.s.nextReservationID, t.s.nextItemID

	t.s.nextReservationID++
	r.ID = t.s.nextReservationID
	for i := range r.Items {
		t.s.nextItemID++
		r.Items[i].ID = t.s.nextItemID
		r.Items[i].ReservationID = r.ID
	}
	t.s.reservations[r.ID] = r.Clone()

	id := r.ID
	t.undo = append(t.undo, func() {
		delete(t.s.reservations, id)
		t.s.nextReservationID, t.s.nextItemID = prevRes, prevItem
	})
	return nil
}

func (t *tx) TransitionStatus(_ context.Context, id uint64, from, to model.ReservationStatus, at time.Time, paymentRef *string) (bool, error) {
	r, ok := t.s.reservations[id]
	if !ok || r.Status != from {
		return false, nil
	}
	old := r.Clone()
	r.Status = to
	r.UpdatedAt = at
	if to == model.StatusConfirmed {
		if paymentRef != nil {
			ref := *paymentRef
			r.PaymentRef = &ref
		}
		done := at
		r.CompletedAt = &done
	}
	t.undo = append(t.undo, func() { t.s.reservations[id] = old })
	return true, nil
}

func (t *tx) ExtendDeadline(_ context.Context, id uint64, expiresAt time.Time) (bool, error) {
	r, ok := t.s.reservations[id]
	if !ok || r.Status != model.StatusPendingPayment {
		return false, nil
	}
	old := r.Clone()
	r.ExpiresAt = expiresAt
	t.undo = append(t.undo, func() { t.s.reservations[id] = old })
	return true, nil
}

func (t *tx) TicketCodeExists(_ context.Context, code string) (bool, error) {
	_, ok := t.s.codes[code]
	return ok, nil
}

func (t *tx) InsertTickets(_ context.Context, tickets []model.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}
	prevID := t.s.nextTicketID
	byReservation := make(map[uint64][]model.Ticket)
	for i := range tickets {
		t.s.nextTicketID++
		tickets[i].ID = t.s.nextTicketID
		t.s.codes[tickets[i].Code] = struct{}{}
		byReservation[tickets[i].ReservationID] = append(byReservation[tickets[i].ReservationID], tickets[i])
	}
	olds := make(map[uint64]*model.Reservation, len(byReservation))
	for resID, ts := range byReservation {
		if r, ok := t.s.reservations[resID]; ok {
			olds[resID] = r.Clone()
			r.Tickets = append(r.Tickets, ts...)
		}
	}
	t.undo = append(t.undo, func() {
		for _, tk := range tickets {
			delete(t.s.codes, tk.Code)
		}
		for resID, old := range olds {
			t.s.reservations[resID].Tickets = old.Tickets
		}
		t.s.nextTicketID = prevID
	})
	return nil
}

var (
	_ reservation.Store = (*Store)(nil)
	_ reservation.Tx    = (*tx)(nil)
)
