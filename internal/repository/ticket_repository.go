package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iliyamo/ticket-reservation/internal/model"
)

func loadTickets(ctx context.Context, q querier, reservationID uint64) ([]model.Ticket, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, reservation_id, ticket_type_id, code, status, checked_in_at, created_at
		 FROM tickets WHERE reservation_id = ? ORDER BY id`, reservationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tickets := make([]model.Ticket, 0)
	for rows.Next() {
		var tk model.Ticket
		var status string
		var checkedIn sql.NullTime
		if err := rows.Scan(&tk.ID, &tk.ReservationID, &tk.TicketTypeID, &tk.Code, &status, &checkedIn, &tk.CreatedAt); err != nil {
			return nil, err
		}
		tk.Status = model.TicketStatus(status)
		if checkedIn.Valid {
			at := checkedIn.Time.UTC()
			tk.CheckedInAt = &at
		}
		tickets = append(tickets, tk)
	}
	return tickets, rows.Err()
}

// TicketCodeExists implements reservation.Tx.
func (t *Tx) TicketCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM tickets WHERE code = ?)`, code).Scan(&exists)
	return exists, err
}

// InsertTickets implements reservation.Tx with one multi-row INSERT.
func (t *Tx) InsertTickets(ctx context.Context, tickets []model.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}
	query := `INSERT INTO tickets (reservation_id, ticket_type_id, code, status, created_at) VALUES `
	args := make([]any, 0, len(tickets)*5)
	for i, tk := range tickets {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?, ?)"
		args = append(args, tk.ReservationID, tk.TicketTypeID, tk.Code, string(tk.Status), tk.CreatedAt.UTC())
	}
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("%w: ticket code", ErrConflict)
		}
		return err
	}
	first, err := res.LastInsertId()
	if err != nil {
		return err
	}
	for i := range tickets {
		tickets[i].ID = uint64(first) + uint64(i)
	}
	return nil
}
