package model

import "time"

// TicketStatus is the admission state of a materialized ticket.
type TicketStatus string

const (
	TicketConfirmed TicketStatus = "CONFIRMED"
	TicketUsed      TicketStatus = "USED"
	TicketRefunded  TicketStatus = "REFUNDED"
	TicketCancelled TicketStatus = "CANCELLED"
)

// Ticket is one admission materialized from a confirmed reservation.
// There is exactly one ticket per reserved unit of each line item and
// every ticket carries a globally unique check-in code.
//
// Fields:
//  ID            – primary key identifier.
//  ReservationID – reservation the ticket was issued for.
//  TicketTypeID  – ticket type of the line item it came from.
//  Code          – unique check-in code rendered as a QR code downstream.
//  Status        – admission status.
//  CheckedInAt   – set once the ticket has been scanned at the door.
//  CreatedAt     – issue time.
type Ticket struct {
	ID            uint64       // tickets.id
	ReservationID uint64       // tickets.reservation_id
	TicketTypeID  uint64       // tickets.ticket_type_id
	Code          string       // tickets.code
	Status        TicketStatus // tickets.status
	CheckedInAt   *time.Time   // tickets.checked_in_at (nullable)
	CreatedAt     time.Time    // tickets.created_at
}
