package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/ticket-reservation/internal/clock"
	"github.com/iliyamo/ticket-reservation/internal/inventory"
	"github.com/iliyamo/ticket-reservation/internal/model"
	"github.com/iliyamo/ticket-reservation/internal/reservation"
)

var now = time.Date(2026, 4, 2, 15, 0, 0, 0, time.UTC)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db), mock
}

var reservationCols = []string{"id", "customer_id", "event_id", "status", "total_amount", "payment_ref",
	"recipient_name", "recipient_phone", "recipient_email", "recipient_address", "recipient_notes",
	"created_at", "expires_at", "completed_at", "updated_at"}

func reservationRow(id, customerID uint64, status string, expiresAt time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(reservationCols).AddRow(
		id, customerID, 1, status, "50.00", nil,
		"Ana", nil, "ana@example.com", nil, nil,
		expiresAt.Add(-15*time.Minute), expiresAt, nil, expiresAt.Add(-15*time.Minute))
}

func itemRows(reservationID uint64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "reservation_id", "ticket_type_id", "quantity", "unit_price"}).
		AddRow(1, reservationID, 5, 2, "25.00")
}

func emptyTickets() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "reservation_id", "ticket_type_id", "code", "status", "checked_in_at", "created_at"})
}

func TestReserve_ConditionalDecrement(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE ticket_types SET available_count = available_count - \?\s+WHERE id = \? AND is_active = 1 AND available_count >= \?`).
		WithArgs(2, 5, 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.WithTx(context.Background(), func(ctx context.Context, tx reservation.Tx) error {
		return tx.Reserve(ctx, 5, 2)
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReserve_ReportsWhyNothingMatched(t *testing.T) {
	cases := []struct {
		name string
		rows *sqlmock.Rows
		err  error
		want error
	}{
		{"insufficient", sqlmock.NewRows([]string{"available_count", "is_active"}).AddRow(1, true), nil, inventory.ErrInsufficientInventory},
		{"inactive", sqlmock.NewRows([]string{"available_count", "is_active"}).AddRow(9, false), nil, inventory.ErrTicketTypeInactive},
		{"unknown", nil, sql.ErrNoRows, inventory.ErrUnknownTicketType},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store, mock := newMock(t)
			mock.ExpectBegin()
			mock.ExpectExec(`UPDATE ticket_types SET available_count = available_count -`).
				WithArgs(3, 5, 3).
				WillReturnResult(sqlmock.NewResult(0, 0))
			q := mock.ExpectQuery(`SELECT available_count, is_active FROM ticket_types WHERE id = \?`).WithArgs(5)
			if tc.rows != nil {
				q.WillReturnRows(tc.rows)
			} else {
				q.WillReturnError(tc.err)
			}
			mock.ExpectRollback()

			err := store.WithTx(context.Background(), func(ctx context.Context, tx reservation.Tx) error {
				return tx.Reserve(ctx, 5, 3)
			})
			assert.ErrorIs(t, err, tc.want)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestReserve_InsufficientDetail(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE ticket_types`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT available_count, is_active`).
		WillReturnRows(sqlmock.NewRows([]string{"available_count", "is_active"}).AddRow(1, true))
	mock.ExpectRollback()

	err := store.WithTx(context.Background(), func(ctx context.Context, tx reservation.Tx) error {
		return tx.Reserve(ctx, 5, 3)
	})
	var ie *inventory.InsufficientError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, inventory.InsufficientError{TicketTypeID: 5, Requested: 3, Available: 1}, *ie)
}

func TestRelease_ClampsToCapacity(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE ticket_types SET available_count = LEAST\(total_capacity, available_count \+ \?\)\s+WHERE id = \?`).
		WithArgs(4, 5).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.WithTx(context.Background(), func(ctx context.Context, tx reservation.Tx) error {
		return tx.Release(ctx, 5, 4)
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertReservation_DuplicatePending(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO reservations`).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry '7' for key 'uq_reservations_pending_customer'"})
	mock.ExpectQuery(`SELECT id FROM reservations WHERE pending_customer_id = \? LOCK IN SHARE MODE`).
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(55))
	mock.ExpectRollback()

	err := store.WithTx(context.Background(), func(ctx context.Context, tx reservation.Tx) error {
		return tx.InsertReservation(ctx, &model.Reservation{
			CustomerID: 7, EventID: 1, Status: model.StatusPendingPayment,
			TotalAmount: decimal.NewFromInt(10), CreatedAt: now, ExpiresAt: now.Add(15 * time.Minute), UpdatedAt: now,
		})
	})
	assert.ErrorIs(t, err, reservation.ErrDuplicatePendingOrder)
	var dup *reservation.DuplicatePendingError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, uint64(55), dup.ReservationID, "the blocking reservation is surfaced")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertReservation_DuplicatePendingUnreadable(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO reservations`).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry '7' for key 'uq_reservations_pending_customer'"})
	mock.ExpectQuery(`SELECT id FROM reservations WHERE pending_customer_id`).
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	err := store.WithTx(context.Background(), func(ctx context.Context, tx reservation.Tx) error {
		return tx.InsertReservation(ctx, &model.Reservation{
			CustomerID: 7, EventID: 1, Status: model.StatusPendingPayment,
			TotalAmount: decimal.NewFromInt(10), CreatedAt: now, ExpiresAt: now.Add(15 * time.Minute), UpdatedAt: now,
		})
	})
	var dup *reservation.DuplicatePendingError
	require.ErrorAs(t, err, &dup)
	assert.Zero(t, dup.ReservationID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertReservation_AssignsIDs(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO reservations`).WillReturnResult(sqlmock.NewResult(31, 1))
	mock.ExpectExec(`INSERT INTO reservation_items \(reservation_id, ticket_type_id, quantity, unit_price\) VALUES \(\?, \?, \?, \?\),\(\?, \?, \?, \?\)`).
		WithArgs(31, 5, 2, "25.00", 31, 6, 1, "40.50").
		WillReturnResult(sqlmock.NewResult(100, 2))
	mock.ExpectCommit()

	r := &model.Reservation{
		CustomerID: 7, EventID: 1, Status: model.StatusPendingPayment,
		TotalAmount: decimal.RequireFromString("90.50"),
		Items: []model.LineItem{
			{TicketTypeID: 5, Quantity: 2, UnitPrice: decimal.RequireFromString("25")},
			{TicketTypeID: 6, Quantity: 1, UnitPrice: decimal.RequireFromString("40.5")},
		},
		CreatedAt: now, ExpiresAt: now.Add(15 * time.Minute), UpdatedAt: now,
	}
	err := store.WithTx(context.Background(), func(ctx context.Context, tx reservation.Tx) error {
		return tx.InsertReservation(ctx, r)
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(31), r.ID)
	assert.Equal(t, uint64(100), r.Items[0].ID)
	assert.Equal(t, uint64(101), r.Items[1].ID)
	assert.Equal(t, uint64(31), r.Items[1].ReservationID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionStatus_OnlyFromExpectedStatus(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE reservations SET status = \?, updated_at = \? WHERE id = \? AND status = \?`).
		WithArgs("EXPIRED", sqlmock.AnyArg(), 7, "PENDING_PAYMENT").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	var changed bool
	err := store.WithTx(context.Background(), func(ctx context.Context, tx reservation.Tx) error {
		var err error
		changed, err = tx.TransitionStatus(ctx, 7, model.StatusPendingPayment, model.StatusExpired, now, nil)
		return err
	})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetReservation_NotFound(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery(`SELECT .+ FROM reservations WHERE id = \?`).WithArgs(99).WillReturnError(sql.ErrNoRows)

	_, err := store.GetReservation(context.Background(), 99)
	assert.ErrorIs(t, err, reservation.ErrReservationNotFound)
}

func TestGetReservation_ScansRow(t *testing.T) {
	store, mock := newMock(t)
	deadline := now.Add(10 * time.Minute)
	mock.ExpectQuery(`SELECT .+ FROM reservations WHERE id = \?`).WithArgs(7).
		WillReturnRows(reservationRow(7, 3, "PENDING_PAYMENT", deadline))
	mock.ExpectQuery(`FROM reservation_items WHERE reservation_id = \?`).WithArgs(7).WillReturnRows(itemRows(7))
	mock.ExpectQuery(`FROM tickets WHERE reservation_id = \?`).WithArgs(7).WillReturnRows(emptyTickets())

	r, err := store.GetReservation(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingPayment, r.Status)
	assert.Equal(t, deadline, r.ExpiresAt)
	assert.True(t, decimal.RequireFromString("50").Equal(r.TotalAmount))
	require.NotNil(t, r.Recipient.Email)
	assert.Equal(t, "ana@example.com", *r.Recipient.Email)
	assert.Nil(t, r.Recipient.Phone)
	require.Len(t, r.Items, 1)
	assert.Equal(t, uint32(2), r.Items[0].Quantity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListExpiredPending(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery(`SELECT id FROM reservations\s+WHERE status = 'PENDING_PAYMENT' AND expires_at <= \? AND id > \?\s+ORDER BY id LIMIT \?`).
		WithArgs(now, 3, 100).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(4).AddRow(9))

	ids, err := store.ListExpiredPending(context.Background(), now, 3, 100)
	require.NoError(t, err)
	assert.Equal(t, []uint64{4, 9}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestCancelFlow_SQLContract drives a cancel through the service against
// the MySQL store and pins the exact statement sequence: lock the row,
// move it out of PENDING_PAYMENT conditionally, release capacity, commit.
func TestCancelFlow_SQLContract(t *testing.T) {
	store, mock := newMock(t)
	svc := reservation.NewService(store, reservation.WithClock(clock.NewFake(now)))

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM reservations WHERE id = \? FOR UPDATE`).WithArgs(7).
		WillReturnRows(reservationRow(7, 3, "PENDING_PAYMENT", now.Add(10*time.Minute)))
	mock.ExpectQuery(`FROM reservation_items`).WithArgs(7).WillReturnRows(itemRows(7))
	mock.ExpectQuery(`FROM tickets`).WithArgs(7).WillReturnRows(emptyTickets())
	mock.ExpectExec(`UPDATE reservations SET status = \?, updated_at = \? WHERE id = \? AND status = \?`).
		WithArgs("CANCELLED", now, 7, "PENDING_PAYMENT").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE ticket_types SET available_count = LEAST`).
		WithArgs(2, 5).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, svc.CancelReservation(context.Background(), 3, 7))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelFlow_StorageErrorRollsBack(t *testing.T) {
	store, mock := newMock(t)
	svc := reservation.NewService(store, reservation.WithClock(clock.NewFake(now)))

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs(7).
		WillReturnRows(reservationRow(7, 3, "PENDING_PAYMENT", now.Add(10*time.Minute)))
	mock.ExpectQuery(`FROM reservation_items`).WillReturnRows(itemRows(7))
	mock.ExpectQuery(`FROM tickets`).WillReturnRows(emptyTickets())
	mock.ExpectExec(`UPDATE reservations SET status`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE ticket_types`).WillReturnError(errors.New("lock wait timeout exceeded"))
	mock.ExpectRollback()

	err := svc.CancelReservation(context.Background(), 3, 7)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
