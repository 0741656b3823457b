// Package memstore is an in-process implementation of reservation.Store.
// A single mutex serializes every transaction and an undo log rolls a
// failed transaction back, which gives the same all-or-nothing behaviour
// as the MySQL store.  It backs the tests and the "memory" server backend;
// its state does not survive a restart.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/ticket-reservation/internal/inventory"
	"github.com/iliyamo/ticket-reservation/internal/model"
	"github.com/iliyamo/ticket-reservation/internal/reservation"
)

// Store keeps events, ticket types, reservations and tickets in maps.
// Capacity lives in an inventory.MemoryLedger.
type Store struct {
	mu sync.Mutex

	ledger       *inventory.MemoryLedger
	events       map[uint64]*model.Event
	ticketTypes  map[uint64]*model.TicketType
	reservations map[uint64]*model.Reservation
	codes        map[string]struct{}

	nextReservationID uint64
	nextItemID        uint64
	nextTicketID      uint64
}

// New returns an empty store.
func New() *Store {
	return &Store{
		ledger:       inventory.NewMemoryLedger(),
		events:       make(map[uint64]*model.Event),
		ticketTypes:  make(map[uint64]*model.TicketType),
		reservations: make(map[uint64]*model.Reservation),
		codes:        make(map[string]struct{}),
	}
}

// PutEvent adds or replaces an event in the catalog.
func (s *Store) PutEvent(e model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[e.ID] = &e
}

// PutTicketType adds a ticket type with its whole capacity available.
func (s *Store) PutTicketType(t model.TicketType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.AvailableCount = t.TotalCapacity
	s.ticketTypes[t.ID] = &t
	s.ledger.Track(t.ID, t.TotalCapacity)
	if !t.IsActive {
		_ = s.ledger.SetActive(t.ID, false)
	}
}

// SetTicketTypeActive soft-activates or deactivates a ticket type.
func (s *Store) SetTicketTypeActive(id uint64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.ticketTypes[id]
	if !ok {
		return reservation.ErrTicketTypeNotFound
	}
	t.IsActive = active
	return s.ledger.SetActive(id, active)
}

// Available returns the current counters of a ticket type.
func (s *Store) Available(id uint64) (inventory.Stock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Snapshot(id)
}

// WithTx implements reservation.Store.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx reservation.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{s: s}
	if err := fn(ctx, t); err != nil {
		t.rollback()
		return err
	}
	return nil
}

// GetReservation implements reservation.Store.
func (s *Store) GetReservation(_ context.Context, id uint64) (*model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	if !ok {
		return nil, reservation.ErrReservationNotFound
	}
	return r.Clone(), nil
}

// ListByCustomer implements reservation.Store.
func (s *Store) ListByCustomer(_ context.Context, customerID uint64) ([]*model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Reservation, 0)
	for _, r := range s.reservations {
		if r.CustomerID == customerID {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// FindActivePending implements reservation.Store.
func (s *Store) FindActivePending(_ context.Context, customerID uint64, now time.Time) (*model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r := s.pendingOf(customerID); r != nil && r.IsActivePending(now) {
		return r.Clone(), nil
	}
	return nil, nil
}

// ListExpiredPending implements reservation.Store.
func (s *Store) ListExpiredPending(_ context.Context, now time.Time, afterID uint64, limit int) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uint64, 0)
	for id, r := range s.reservations {
		if id > afterID && r.Status == model.StatusPendingPayment && r.IsExpired(now) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// pendingOf returns the stored PENDING_PAYMENT reservation of a customer.
// Callers hold s.mu.
func (s *Store) pendingOf(customerID uint64) *model.Reservation {
	for _, r := range s.reservations {
		if r.CustomerID == customerID && r.Status == model.StatusPendingPayment {
			return r
		}
	}
	return nil
}
