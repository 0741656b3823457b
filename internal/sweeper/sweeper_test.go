package sweeper_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/iliyamo/ticket-reservation/internal/clock"
	"github.com/iliyamo/ticket-reservation/internal/memstore"
	"github.com/iliyamo/ticket-reservation/internal/model"
	"github.com/iliyamo/ticket-reservation/internal/reservation"
	"github.com/iliyamo/ticket-reservation/internal/sweeper"
)

var t0 = time.Date(2026, 5, 4, 18, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*memstore.Store, *clock.Fake, *reservation.Service) {
	t.Helper()
	store := memstore.New()
	store.PutEvent(model.Event{ID: 1, Status: model.EventActive, EndsAt: t0.Add(72 * time.Hour)})
	store.PutTicketType(model.TicketType{ID: 1, EventID: 1, TotalCapacity: 50,
		UnitPrice: decimal.NewFromInt(30), IsActive: true})
	clk := clock.NewFake(t0)
	return store, clk, reservation.NewService(store, reservation.WithClock(clk))
}

func reserve(t *testing.T, svc *reservation.Service, customerID uint64, q uint32) *model.Reservation {
	t.Helper()
	r, err := svc.CreateReservation(context.Background(), reservation.CreateRequest{
		CustomerID: customerID,
		EventID:    1,
		Items:      []reservation.ItemRequest{{TicketTypeID: 1, Quantity: q}},
	})
	require.NoError(t, err)
	return r
}

func available(t *testing.T, store *memstore.Store) uint32 {
	t.Helper()
	s, err := store.Available(1)
	require.NoError(t, err)
	return s.Available
}

func TestSweepOnce_ExpiresOverdue(t *testing.T) {
	store, clk, svc := setup(t)
	sw := sweeper.New(store, svc, sweeper.WithClock(clk), sweeper.WithBatchSize(2))

	overdue := []*model.Reservation{reserve(t, svc, 1, 2), reserve(t, svc, 2, 3), reserve(t, svc, 3, 1)}
	clk.Advance(10 * time.Minute)
	fresh := reserve(t, svc, 4, 4)
	assert.Equal(t, uint32(40), available(t, store))

	clk.Advance(6 * time.Minute) // first three are 16 minutes old
	res, err := sw.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sweeper.Result{Expired: 3}, res)
	assert.Equal(t, uint32(46), available(t, store))

	for _, r := range overdue {
		got, err := store.GetReservation(context.Background(), r.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusExpired, got.Status)
	}
	got, err := store.GetReservation(context.Background(), fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingPayment, got.Status)

	res, err = sw.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sweeper.Result{}, res, "second sweep is a no-op")
	assert.Equal(t, uint32(46), available(t, store))
}

func TestSweepOnce_LeavesConfirmed(t *testing.T) {
	store, clk, svc := setup(t)
	sw := sweeper.New(store, svc, sweeper.WithClock(clk))

	r := reserve(t, svc, 1, 2)
	clk.Advance(14 * time.Minute)
	_, err := svc.ConfirmReservation(context.Background(), r.ID, "PAY-1")
	require.NoError(t, err)

	clk.Advance(time.Hour)
	res, err := sw.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Expired)
	assert.Equal(t, uint32(48), available(t, store))
}

func TestSweepOnce_OverlappingSweeps(t *testing.T) {
	store, clk, svc := setup(t)
	for c := uint64(1); c <= 10; c++ {
		reserve(t, svc, c, 1)
	}
	clk.Advance(20 * time.Minute)

	var wg sync.WaitGroup
	var mu sync.Mutex
	total := 0
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := sweeper.New(store, svc, sweeper.WithClock(clk), sweeper.WithBatchSize(3)).SweepOnce(context.Background())
			assert.NoError(t, err)
			mu.Lock()
			total += res.Expired
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, total, "each reservation expires exactly once")
	assert.Equal(t, uint32(50), available(t, store))
}

type listStub struct {
	ids []uint64
	err error
}

func (l listStub) ListExpiredPending(_ context.Context, _ time.Time, afterID uint64, limit int) ([]uint64, error) {
	if l.err != nil {
		return nil, l.err
	}
	out := make([]uint64, 0, limit)
	for _, id := range l.ids {
		if id > afterID && len(out) < limit {
			out = append(out, id)
		}
	}
	return out, nil
}

type expirerStub struct {
	mu    sync.Mutex
	fail  map[uint64]bool
	calls []uint64
}

func (e *expirerStub) ExpireReservation(_ context.Context, id uint64) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, id)
	if e.fail[id] {
		return false, errors.New("deadlock found when trying to get lock")
	}
	return true, nil
}

func TestSweepOnce_IsolatesFailures(t *testing.T) {
	exp := &expirerStub{fail: map[uint64]bool{2: true}}
	sw := sweeper.New(listStub{ids: []uint64{1, 2, 3}}, exp)

	res, err := sw.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sweeper.Result{Expired: 2, Failed: 1}, res)
	assert.Equal(t, []uint64{1, 2, 3}, exp.calls)
}

// pendingList behaves like a store: ids leave the list once expired, ids
// whose expiry fails stay listed.
type pendingList struct {
	mu      sync.Mutex
	pending map[uint64]bool
	fail    map[uint64]bool
}

func (p *pendingList) ListExpiredPending(_ context.Context, _ time.Time, afterID uint64, limit int) ([]uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]uint64, 0, limit)
	for id := uint64(1); id <= 10 && len(out) < limit; id++ {
		if id > afterID && p.pending[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

func (p *pendingList) ExpireReservation(_ context.Context, id uint64) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail[id] {
		return false, errors.New("lock wait timeout exceeded")
	}
	if !p.pending[id] {
		return false, nil
	}
	delete(p.pending, id)
	return true, nil
}

func TestSweepOnce_FailingRowsFillingABatch(t *testing.T) {
	list := &pendingList{
		pending: map[uint64]bool{1: true, 2: true, 3: true, 4: true},
		fail:    map[uint64]bool{1: true, 2: true},
	}
	sw := sweeper.New(list, list, sweeper.WithBatchSize(2))

	res, err := sw.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sweeper.Result{Expired: 2, Failed: 2}, res)
	assert.False(t, list.pending[3], "reservation 3 is expired past the failing page")
	assert.False(t, list.pending[4], "reservation 4 is expired past the failing page")

	res, err = sw.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sweeper.Result{Failed: 2}, res, "failing rows are retried every sweep")
}

func TestSweepOnce_RecordsSpan(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	exp := &expirerStub{fail: map[uint64]bool{2: true}}
	sw := sweeper.New(listStub{ids: []uint64{1, 2, 3}}, exp, sweeper.WithTracerProvider(tp))
	_, err := sw.SweepOnce(context.Background())
	require.NoError(t, err)

	ended := sr.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "Sweeper.SweepOnce", ended[0].Name())
	assert.Contains(t, ended[0].Attributes(), attribute.Int("expired", 2))
	assert.Contains(t, ended[0].Attributes(), attribute.Int("failed", 1))
}

func TestSweepOnce_ListError(t *testing.T) {
	sw := sweeper.New(listStub{err: errors.New("connection reset")}, &expirerStub{})
	_, err := sw.SweepOnce(context.Background())
	assert.Error(t, err)
}

func TestRun_StopsOnCancel(t *testing.T) {
	exp := &expirerStub{}
	sw := sweeper.New(listStub{ids: []uint64{5}}, exp, sweeper.WithInterval(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sw.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		exp.mu.Lock()
		defer exp.mu.Unlock()
		return len(exp.calls) >= 2
	}, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
