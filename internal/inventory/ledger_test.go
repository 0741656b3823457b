package inventory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStock_TakeAndPut(t *testing.T) {
	s := Stock{Total: 5, Available: 5}
	require.NoError(t, s.Take(3))
	assert.Equal(t, uint32(2), s.Available)

	err := s.Take(3)
	var ie *InsufficientError
	require.ErrorAs(t, err, &ie)
	assert.True(t, errors.Is(err, ErrInsufficientInventory))
	assert.Equal(t, uint32(2), ie.Available)
	assert.Equal(t, uint32(2), s.Available, "failed take must not mutate")

	assert.ErrorIs(t, s.Take(0), ErrInvalidQuantity)

	assert.False(t, s.Put(3))
	assert.Equal(t, uint32(5), s.Available)
	assert.True(t, s.Put(1), "release beyond capacity is clamped")
	assert.Equal(t, uint32(5), s.Available)
}

func TestMemoryLedger_RoundTrip(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	l.Track(7, 10)

	require.NoError(t, l.Reserve(ctx, 7, 4))
	s, err := l.Snapshot(7)
	require.NoError(t, err)
	assert.Equal(t, uint32(6), s.Available)

	require.NoError(t, l.Release(ctx, 7, 4))
	s, _ = l.Snapshot(7)
	assert.Equal(t, uint32(10), s.Available)
}

func TestMemoryLedger_InsufficientAndUnknown(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	l.Track(1, 2)

	err := l.Reserve(ctx, 1, 3)
	var ie *InsufficientError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, uint64(1), ie.TicketTypeID)
	assert.Equal(t, uint32(3), ie.Requested)

	assert.ErrorIs(t, l.Reserve(ctx, 99, 1), ErrUnknownTicketType)

	require.NoError(t, l.SetActive(1, false))
	assert.ErrorIs(t, l.Reserve(ctx, 1, 1), ErrTicketTypeInactive)
}

func TestMemoryLedger_ConcurrentNoOversell(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	l.Track(1, 50)

	var ok, failed int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Reserve(ctx, 1, 1); err == nil {
				atomic.AddInt64(&ok, 1)
			} else {
				assert.ErrorIs(t, err, ErrInsufficientInventory)
				atomic.AddInt64(&failed, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), ok)
	assert.Equal(t, int64(150), failed)
	s, _ := l.Snapshot(1)
	assert.Equal(t, uint32(0), s.Available)
}

func TestNormalize(t *testing.T) {
	lines, err := Normalize([]Line{{3, 1}, {1, 2}, {3, 4}})
	require.NoError(t, err)
	assert.Equal(t, []Line{{1, 2}, {3, 5}}, lines)

	_, err = Normalize([]Line{{1, 0}})
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestReserveAll_AllOrNothing(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	l.Track(1, 5)
	l.Track(2, 5)
	l.Track(3, 1)

	err := ReserveAll(ctx, l, []Line{{1, 2}, {2, 3}, {3, 2}})
	assert.ErrorIs(t, err, ErrInsufficientInventory)

	for _, id := range []uint64{1, 2} {
		s, _ := l.Snapshot(id)
		assert.Equal(t, uint32(5), s.Available, "ticket type %d must be restored", id)
	}
	s, _ := l.Snapshot(3)
	assert.Equal(t, uint32(1), s.Available)

	require.NoError(t, ReserveAll(ctx, l, []Line{{1, 2}, {3, 1}}))
	s, _ = l.Snapshot(3)
	assert.Equal(t, uint32(0), s.Available)
}
