package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/ticket-reservation/internal/model"
	"github.com/iliyamo/ticket-reservation/internal/reservation"
)

// Tx implements reservation.Tx on one *sql.Tx.
type Tx struct {
	tx *sql.Tx
}

const reservationColumns = `id, customer_id, event_id, status, total_amount, payment_ref,
	recipient_name, recipient_phone, recipient_email, recipient_address, recipient_notes,
	created_at, expires_at, completed_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanReservation reads one row selected with reservationColumns.
func scanReservation(row rowScanner) (*model.Reservation, error) {
	var (
		r                               model.Reservation
		status                          string
		total                           decimal.Decimal
		paymentRef                      sql.NullString
		name, phone, email, addr, notes sql.NullString
		completedAt                     sql.NullTime
	)
	err := row.Scan(
		&r.ID, &r.CustomerID, &r.EventID, &status, &total, &paymentRef,
		&name, &phone, &email, &addr, &notes,
		&r.CreatedAt, &r.ExpiresAt, &completedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	st, err := model.ParseReservationStatus(status)
	if err != nil {
		return nil, err
	}
	r.Status = st
	r.TotalAmount = total
	r.PaymentRef = nullString(paymentRef)
	r.Recipient = model.Recipient{
		Name:    nullString(name),
		Phone:   nullString(phone),
		Email:   nullString(email),
		Address: nullString(addr),
		Notes:   nullString(notes),
	}
	if completedAt.Valid {
		at := completedAt.Time.UTC()
		r.CompletedAt = &at
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.ExpiresAt = r.ExpiresAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return &r, nil
}

// loadChildren fills in the line items and tickets of r.
func loadChildren(ctx context.Context, q querier, r *model.Reservation) error {
	items, err := loadItems(ctx, q, r.ID)
	if err != nil {
		return err
	}
	r.Items = items
	tickets, err := loadTickets(ctx, q, r.ID)
	if err != nil {
		return err
	}
	r.Tickets = tickets
	return nil
}

func loadItems(ctx context.Context, q querier, reservationID uint64) ([]model.LineItem, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, reservation_id, ticket_type_id, quantity, unit_price
		 FROM reservation_items WHERE reservation_id = ? ORDER BY ticket_type_id`, reservationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]model.LineItem, 0)
	for rows.Next() {
		var li model.LineItem
		if err := rows.Scan(&li.ID, &li.ReservationID, &li.TicketTypeID, &li.Quantity, &li.UnitPrice); err != nil {
			return nil, err
		}
		items = append(items, li)
	}
	return items, rows.Err()
}

// LockPendingByCustomer implements reservation.Tx.  The row it returns,
// if any, stays locked until the transaction ends.
func (t *Tx) LockPendingByCustomer(ctx context.Context, customerID uint64) (*model.Reservation, error) {
	r, err := scanReservation(t.tx.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations
		 WHERE customer_id = ? AND status = 'PENDING_PAYMENT'
		 LIMIT 1 FOR UPDATE`, customerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if r.Items, err = loadItems(ctx, t.tx, r.ID); err != nil {
		return nil, err
	}
	return r, nil
}

// LockReservation implements reservation.Tx.
func (t *Tx) LockReservation(ctx context.Context, id uint64) (*model.Reservation, error) {
	r, err := scanReservation(t.tx.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = ? FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, reservation.ErrReservationNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := loadChildren(ctx, t.tx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// InsertReservation implements reservation.Tx.  The generated
// pending_customer_id column carries a unique key, so a second
// PENDING_PAYMENT row for a customer fails with ER_DUP_ENTRY; the
// blocking reservation is then read back for the caller.
func (t *Tx) InsertReservation(ctx context.Context, r *model.Reservation) error {
	const q = `INSERT INTO reservations
		(customer_id, event_id, status, total_amount,
		 recipient_name, recipient_phone, recipient_email, recipient_address, recipient_notes,
		 created_at, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := t.tx.ExecContext(ctx, q,
		r.CustomerID, r.EventID, string(r.Status), r.TotalAmount.StringFixed(2),
		r.Recipient.Name, r.Recipient.Phone, r.Recipient.Email, r.Recipient.Address, r.Recipient.Notes,
		r.CreatedAt.UTC(), r.ExpiresAt.UTC(), r.UpdatedAt.UTC(),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return &reservation.DuplicatePendingError{ReservationID: t.blockingPending(ctx, r.CustomerID)}
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	r.ID = uint64(id)

	if len(r.Items) == 0 {
		return nil
	}
	query := `INSERT INTO reservation_items (reservation_id, ticket_type_id, quantity, unit_price) VALUES `
	args := make([]any, 0, len(r.Items)*4)
	for i, li := range r.Items {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?)"
		args = append(args, r.ID, li.TicketTypeID, li.Quantity, li.UnitPrice.StringFixed(2))
	}
	res, err = t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	// A multi-row INSERT gets consecutive ids starting at LastInsertId.
	first, err := res.LastInsertId()
	if err != nil {
		return err
	}
	for i := range r.Items {
		r.Items[i].ID = uint64(first) + uint64(i)
		r.Items[i].ReservationID = r.ID
	}
	return nil
}

// blockingPending returns the id of the customer's committed pending
// reservation, or 0 when it cannot be read.  The locking read sees the
// latest committed row rather than the transaction's snapshot.
func (t *Tx) blockingPending(ctx context.Context, customerID uint64) uint64 {
	var id uint64
	err := t.tx.QueryRowContext(ctx,
		`SELECT id FROM reservations WHERE pending_customer_id = ? LOCK IN SHARE MODE`, customerID).Scan(&id)
	if err != nil {
		return 0
	}
	return id
}

// TransitionStatus implements reservation.Tx.
func (t *Tx) TransitionStatus(ctx context.Context, id uint64, from, to model.ReservationStatus, at time.Time, paymentRef *string) (bool, error) {
	var (
		res sql.Result
		err error
	)
	if to == model.StatusConfirmed {
		res, err = t.tx.ExecContext(ctx,
			`UPDATE reservations SET status = ?, payment_ref = ?, completed_at = ?, updated_at = ?
			 WHERE id = ? AND status = ?`,
			string(to), paymentRef, at.UTC(), at.UTC(), id, string(from))
	} else {
		res, err = t.tx.ExecContext(ctx,
			`UPDATE reservations SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			string(to), at.UTC(), id, string(from))
	}
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ExtendDeadline implements reservation.Tx.
func (t *Tx) ExtendDeadline(ctx context.Context, id uint64, expiresAt time.Time) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE reservations SET expires_at = ? WHERE id = ? AND status = 'PENDING_PAYMENT'`,
		expiresAt.UTC(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

var _ reservation.Tx = (*Tx)(nil)
