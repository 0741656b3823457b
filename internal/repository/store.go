package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/ticket-reservation/internal/model"
	"github.com/iliyamo/ticket-reservation/internal/reservation"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements reservation.Store on a MySQL pool.  The DSN must set
// clientFoundRows=true so conditional updates report matched rows.
type Store struct {
	db *sql.DB
}

// NewStore returns a Store bound to db.
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

// WithTx runs fn in a READ COMMITTED transaction and commits when fn
// returns nil.  Any error, or a panic, rolls the transaction back.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx reservation.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = sqlTx.Rollback()
		}
	}()

	if err := fn(ctx, &Tx{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// GetReservation implements reservation.Store.
func (s *Store) GetReservation(ctx context.Context, id uint64) (*model.Reservation, error) {
	r, err := scanReservation(s.db.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, reservation.ErrReservationNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := loadChildren(ctx, s.db, r); err != nil {
		return nil, err
	}
	return r, nil
}

// ListByCustomer implements reservation.Store.
func (s *Store) ListByCustomer(ctx context.Context, customerID uint64) ([]*model.Reservation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE customer_id = ? ORDER BY created_at DESC, id DESC`,
		customerID)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Reservation, 0)
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, r := range out {
		if err := loadChildren(ctx, s.db, r); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// FindActivePending implements reservation.Store.
func (s *Store) FindActivePending(ctx context.Context, customerID uint64, now time.Time) (*model.Reservation, error) {
	r, err := scanReservation(s.db.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations
		 WHERE customer_id = ? AND status = 'PENDING_PAYMENT' AND expires_at > ?
		 LIMIT 1`, customerID, now.UTC()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := loadChildren(ctx, s.db, r); err != nil {
		return nil, err
	}
	return r, nil
}

// ListExpiredPending implements reservation.Store.  Pages are keyed on
// id so a row that keeps failing to expire never hides the ones after it.
func (s *Store) ListExpiredPending(ctx context.Context, now time.Time, afterID uint64, limit int) ([]uint64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM reservations
		 WHERE status = 'PENDING_PAYMENT' AND expires_at <= ? AND id > ?
		 ORDER BY id LIMIT ?`, now.UTC(), afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := make([]uint64, 0)
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

var _ reservation.Store = (*Store)(nil)
