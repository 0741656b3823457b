package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TicketType is a priced category of admission for an event with a
// fixed capacity.  AvailableCount is owned by the inventory ledger and is
// only ever changed through its Reserve and Release operations; readers
// outside the ledger treat it as a snapshot.  Ticket types are never
// deleted once referenced by an order, they are soft-deactivated by
// clearing IsActive.
//
// Fields:
//  ID             – primary key identifier.
//  EventID        – event the ticket type belongs to.
//  Name           – display name (e.g. "VIP", "Early bird").
//  UnitPrice      – price of one ticket.
//  TotalCapacity  – number of tickets that exist; immutable once sales start.
//  AvailableCount – tickets not held by a pending or confirmed order.
//  SaleStartsAt   – optional start of the sale window.
//  SaleEndsAt     – optional end of the sale window.
//  IsActive       – false once the organizer withdraws the ticket type.
type TicketType struct {
	ID             uint64          // ticket_types.id
	EventID        uint64          // ticket_types.event_id
	Name           string          // ticket_types.name
	Description    *string         // ticket_types.description (nullable)
	UnitPrice      decimal.Decimal // ticket_types.unit_price
	TotalCapacity  uint32          // ticket_types.total_capacity
	AvailableCount uint32          // ticket_types.available_count
	SaleStartsAt   *time.Time      // ticket_types.sale_starts_at (nullable)
	SaleEndsAt     *time.Time      // ticket_types.sale_ends_at (nullable)
	IsActive       bool            // ticket_types.is_active
	CreatedAt      time.Time       // ticket_types.created_at
	UpdatedAt      time.Time       // ticket_types.updated_at
}

// OnSale reports whether the ticket type can be sold at now.  A nil
// window bound is treated as open.
func (t *TicketType) OnSale(now time.Time) bool {
	if !t.IsActive {
		return false
	}
	if t.SaleStartsAt != nil && now.Before(*t.SaleStartsAt) {
		return false
	}
	if t.SaleEndsAt != nil && !now.Before(*t.SaleEndsAt) {
		return false
	}
	return true
}
