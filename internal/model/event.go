package model

import "time"

// EventStatus is the lifecycle state of an event as managed by the
// organizer and admin workflows.  Only ACTIVE events accept new
// reservations.
type EventStatus string

const (
	EventDraft           EventStatus = "DRAFT"
	EventPendingApproval EventStatus = "PENDING_APPROVAL"
	EventActive          EventStatus = "ACTIVE"
	EventInactive        EventStatus = "INACTIVE"
	EventCancelled       EventStatus = "CANCELLED"
	EventCompleted       EventStatus = "COMPLETED"
)

// Event is the catalog view of an event that the reservation core needs
// at order-creation time.  Approval, editing and publishing are handled
// elsewhere; this struct mirrors the columns the core reads from the
// `events` table.
//
// Fields:
//  ID                 – primary key identifier.
//  OrganizerID        – user ID of the organizer.
//  Name               – display name.
//  Status             – lifecycle status (see EventStatus).
//  StartsAt           – when the event begins.
//  EndsAt             – when the event ends; the event has occurred after it.
//  MaxTicketsPerOrder – optional cap on the quantity of any single line item.
type Event struct {
	ID                 uint64      // events.id
	OrganizerID        uint64      // events.organizer_id
	Name               string      // events.name
	Status             EventStatus // events.status
	StartsAt           time.Time   // events.starts_at
	EndsAt             time.Time   // events.ends_at
	MaxTicketsPerOrder *uint32     // events.max_tickets_per_order (nullable)
	CreatedAt          time.Time   // events.created_at
	UpdatedAt          time.Time   // events.updated_at
}

// HasOccurred reports whether the event is over at the given instant.
func (e *Event) HasOccurred(now time.Time) bool {
	return now.After(e.EndsAt)
}

// OpenForSales reports whether the event accepts reservations at now:
// it must be ACTIVE and must not have occurred yet.
func (e *Event) OpenForSales(now time.Time) bool {
	return e.Status == EventActive && !e.HasOccurred(now)
}
