package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/ticket-reservation/internal/model"
	"github.com/iliyamo/ticket-reservation/internal/reservation"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seeded() *Store {
	s := New()
	s.PutEvent(model.Event{ID: 1, Status: model.EventActive, EndsAt: now.Add(time.Hour)})
	s.PutTicketType(model.TicketType{ID: 1, EventID: 1, TotalCapacity: 10, UnitPrice: decimal.NewFromInt(5), IsActive: true})
	return s
}

func pending(customerID uint64) *model.Reservation {
	return &model.Reservation{
		CustomerID: customerID,
		EventID:    1,
		Status:     model.StatusPendingPayment,
		Items:      []model.LineItem{{TicketTypeID: 1, Quantity: 2, UnitPrice: decimal.NewFromInt(5)}},
		CreatedAt:  now,
		ExpiresAt:  now.Add(15 * time.Minute),
	}
}

func TestWithTx_RollbackUndoesEverything(t *testing.T) {
	s := seeded()
	boom := errors.New("boom")

	err := s.WithTx(context.Background(), func(ctx context.Context, tx reservation.Tx) error {
		require.NoError(t, tx.Reserve(ctx, 1, 4))
		require.NoError(t, tx.Release(ctx, 1, 1))
		require.NoError(t, tx.InsertReservation(ctx, pending(7)))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	stock, err := s.Available(1)
	require.NoError(t, err)
	assert.Equal(t, uint32(10), stock.Available)

	list, err := s.ListByCustomer(context.Background(), 7)
	require.NoError(t, err)
	assert.Empty(t, list)

	// ids are reused after a rollback
	require.NoError(t, s.WithTx(context.Background(), func(ctx context.Context, tx reservation.Tx) error {
		r := pending(7)
		require.NoError(t, tx.InsertReservation(ctx, r))
		assert.Equal(t, uint64(1), r.ID)
		return nil
	}))
}

func TestInsertReservation_OnePendingPerCustomer(t *testing.T) {
	s := seeded()
	ctx := context.Background()

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx reservation.Tx) error {
		return tx.InsertReservation(ctx, pending(7))
	}))
	err := s.WithTx(ctx, func(ctx context.Context, tx reservation.Tx) error {
		return tx.InsertReservation(ctx, pending(7))
	})
	assert.ErrorIs(t, err, reservation.ErrDuplicatePendingOrder)
	var dup *reservation.DuplicatePendingError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, uint64(1), dup.ReservationID)
}

func TestTransitionStatus_Conditional(t *testing.T) {
	s := seeded()
	ctx := context.Background()
	r := pending(7)
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx reservation.Tx) error {
		return tx.InsertReservation(ctx, r)
	}))

	ref := "PAY-1"
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx reservation.Tx) error {
		ok, err := tx.TransitionStatus(ctx, r.ID, model.StatusPendingPayment, model.StatusConfirmed, now, &ref)
		assert.True(t, ok)
		return err
	}))
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx reservation.Tx) error {
		ok, err := tx.TransitionStatus(ctx, r.ID, model.StatusPendingPayment, model.StatusExpired, now, nil)
		assert.False(t, ok)
		return err
	}))

	got, err := s.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, got.Status)
	require.NotNil(t, got.PaymentRef)
	assert.Equal(t, "PAY-1", *got.PaymentRef)
}

func TestListExpiredPending(t *testing.T) {
	s := seeded()
	ctx := context.Background()
	for c := uint64(1); c <= 3; c++ {
		r := pending(c)
		r.ExpiresAt = now.Add(time.Duration(c) * time.Minute)
		require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx reservation.Tx) error {
			return tx.InsertReservation(ctx, r)
		}))
	}

	ids, err := s.ListExpiredPending(ctx, now.Add(2*time.Minute), 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, ids, "deadline itself counts as expired")

	ids, err = s.ListExpiredPending(ctx, now.Add(time.Hour), 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, ids)

	ids, err = s.ListExpiredPending(ctx, now.Add(time.Hour), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, []uint64{2, 3}, ids, "cursor excludes ids already visited")

	active, err := s.FindActivePending(ctx, 3, now.Add(2*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, uint64(3), active.ID)

	none, err := s.FindActivePending(ctx, 1, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Nil(t, none)
}
