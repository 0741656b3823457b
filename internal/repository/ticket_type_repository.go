package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/iliyamo/ticket-reservation/internal/inventory"
	"github.com/iliyamo/ticket-reservation/internal/model"
	"github.com/iliyamo/ticket-reservation/internal/reservation"
)

// Reserve implements inventory.Ledger as one conditional decrement.  The
// floor check and the decrement happen in the same statement, so two
// transactions racing for the last unit cannot both succeed.  When no
// row matched, the row is read back to report why.
func (t *Tx) Reserve(ctx context.Context, ticketTypeID uint64, quantity uint32) error {
	if quantity == 0 {
		return inventory.ErrInvalidQuantity
	}
	res, err := t.tx.ExecContext(ctx,
		`UPDATE ticket_types SET available_count = available_count - ?
		 WHERE id = ? AND is_active = 1 AND available_count >= ?`,
		quantity, ticketTypeID, quantity)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var available uint32
	var active bool
	err = t.tx.QueryRowContext(ctx,
		`SELECT available_count, is_active FROM ticket_types WHERE id = ?`, ticketTypeID,
	).Scan(&available, &active)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return inventory.ErrUnknownTicketType
	case err != nil:
		return err
	case !active:
		return inventory.ErrTicketTypeInactive
	}
	return &inventory.InsufficientError{TicketTypeID: ticketTypeID, Requested: quantity, Available: available}
}

// Release implements inventory.Ledger.  LEAST keeps the count at or
// below total_capacity even on a double release.
func (t *Tx) Release(ctx context.Context, ticketTypeID uint64, quantity uint32) error {
	if quantity == 0 {
		return inventory.ErrInvalidQuantity
	}
	res, err := t.tx.ExecContext(ctx,
		`UPDATE ticket_types SET available_count = LEAST(total_capacity, available_count + ?)
		 WHERE id = ?`, quantity, ticketTypeID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return inventory.ErrUnknownTicketType
	}
	return nil
}

// GetEvent implements reservation.Tx.
func (t *Tx) GetEvent(ctx context.Context, eventID uint64) (*model.Event, error) {
	var e model.Event
	var status string
	var maxPerOrder sql.NullInt32
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, organizer_id, name, status, starts_at, ends_at, max_tickets_per_order, created_at, updated_at
		 FROM events WHERE id = ?`, eventID,
	).Scan(&e.ID, &e.OrganizerID, &e.Name, &status, &e.StartsAt, &e.EndsAt, &maxPerOrder, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, reservation.ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	e.Status = model.EventStatus(status)
	if maxPerOrder.Valid && maxPerOrder.Int32 > 0 {
		v := uint32(maxPerOrder.Int32)
		e.MaxTicketsPerOrder = &v
	}
	return &e, nil
}

// GetTicketTypes implements reservation.Tx.
func (t *Tx) GetTicketTypes(ctx context.Context, ids []uint64) (map[uint64]*model.TicketType, error) {
	out := make(map[uint64]*model.TicketType, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := t.tx.QueryContext(ctx,
		`SELECT id, event_id, name, description, unit_price, total_capacity, available_count,
		        sale_starts_at, sale_ends_at, is_active, created_at, updated_at
		 FROM ticket_types WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var tt model.TicketType
		var desc sql.NullString
		var saleStart, saleEnd sql.NullTime
		if err := rows.Scan(&tt.ID, &tt.EventID, &tt.Name, &desc, &tt.UnitPrice, &tt.TotalCapacity,
			&tt.AvailableCount, &saleStart, &saleEnd, &tt.IsActive, &tt.CreatedAt, &tt.UpdatedAt); err != nil {
			return nil, err
		}
		tt.Description = nullString(desc)
		if saleStart.Valid {
			at := saleStart.Time.UTC()
			tt.SaleStartsAt = &at
		}
		if saleEnd.Valid {
			at := saleEnd.Time.UTC()
			tt.SaleEndsAt = &at
		}
		out[tt.ID] = &tt
	}
	return out, rows.Err()
}
