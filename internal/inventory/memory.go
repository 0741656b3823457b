package inventory

import (
	"context"
	"sync"
)

type memoryEntry struct {
	mu     sync.Mutex
	stock  Stock
	active bool
}

// MemoryLedger is an in-process Ledger.  Each ticket type has its own
// mutex, so reserves on different ticket types never contend while
// reserves and releases on the same ticket type are strictly serialized.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries map[uint64]*memoryEntry
}

// NewMemoryLedger returns an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[uint64]*memoryEntry)}
}

// Track registers a ticket type with the given capacity, fully available.
// Tracking an existing ticket type resets it.
func (l *MemoryLedger) Track(ticketTypeID uint64, capacity uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[ticketTypeID] = &memoryEntry{
		stock:  Stock{Total: capacity, Available: capacity},
		active: true,
	}
}

// SetActive soft-activates or deactivates a ticket type.
func (l *MemoryLedger) SetActive(ticketTypeID uint64, active bool) error {
	e, err := l.entry(ticketTypeID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.active = active
	e.mu.Unlock()
	return nil
}

// Snapshot returns the current counters of a ticket type.
func (l *MemoryLedger) Snapshot(ticketTypeID uint64) (Stock, error) {
	e, err := l.entry(ticketTypeID)
	if err != nil {
		return Stock{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stock, nil
}

// Restore overwrites the counters of a ticket type with a snapshot taken
// earlier.  It exists for rolling back a failed transaction and must not
// be used for ordinary capacity changes.
func (l *MemoryLedger) Restore(ticketTypeID uint64, s Stock) error {
	e, err := l.entry(ticketTypeID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.stock = s
	e.mu.Unlock()
	return nil
}

// Reserve implements Ledger.
func (l *MemoryLedger) Reserve(_ context.Context, ticketTypeID uint64, quantity uint32) error {
	e, err := l.entry(ticketTypeID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.active {
		return ErrTicketTypeInactive
	}
	if err := e.stock.Take(quantity); err != nil {
		if ie, ok := err.(*InsufficientError); ok {
			ie.TicketTypeID = ticketTypeID
		}
		return err
	}
	return nil
}

// Release implements Ledger.
func (l *MemoryLedger) Release(_ context.Context, ticketTypeID uint64, quantity uint32) error {
	if quantity == 0 {
		return ErrInvalidQuantity
	}
	e, err := l.entry(ticketTypeID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.stock.Put(quantity)
	e.mu.Unlock()
	return nil
}

func (l *MemoryLedger) entry(ticketTypeID uint64) (*memoryEntry, error) {
	l.mu.RLock()
	e, ok := l.entries[ticketTypeID]
	l.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownTicketType
	}
	return e, nil
}
