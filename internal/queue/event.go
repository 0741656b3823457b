// Package queue carries reservation transition events over RabbitMQ: the
// publisher is the notification collaborator of the reservation service
// and the consumer records every event for the email/SMS hand-off.
package queue

import (
	"time"

	"github.com/iliyamo/ticket-reservation/internal/reservation"
)

// Queue names, one durable queue per transition type.
const (
	QueueConfirmed = string(reservation.NotifyConfirmed)
	QueueCancelled = string(reservation.NotifyCancelled)
	QueueExpired   = string(reservation.NotifyExpired)
)

// Queues lists every queue the consumer listens on.
var Queues = []string{QueueConfirmed, QueueCancelled, QueueExpired}

// ReservationEvent is the message body published after a reservation
// leaves PENDING_PAYMENT.  It carries enough for downstream consumers to
// notify the customer without querying the primary database.
type ReservationEvent struct {
	Type          string      `json:"type"`
	ReservationID uint64      `json:"reservation_id"`
	CustomerID    uint64      `json:"customer_id"`
	EventID       uint64      `json:"event_id"`
	Status        string      `json:"status"`
	Items         []EventItem `json:"items"`
	TotalAmount   string      `json:"total_amount"`
	PaymentRef    string      `json:"payment_ref,omitempty"`
	TicketCodes   []string    `json:"ticket_codes,omitempty"`
	Email         string      `json:"email,omitempty"`
	Phone         string      `json:"phone,omitempty"`
	OccurredAt    string      `json:"occurred_at"`
}

// EventItem is one line item of a ReservationEvent.
type EventItem struct {
	TicketTypeID uint64 `json:"ticket_type_id"`
	Quantity     uint32 `json:"quantity"`
	UnitPrice    string `json:"unit_price"`
}

// NewReservationEvent flattens a notification into its wire form.
func NewReservationEvent(n reservation.Notification) ReservationEvent {
	r := n.Reservation
	ev := ReservationEvent{
		Type:          string(n.Type),
		ReservationID: r.ID,
		CustomerID:    r.CustomerID,
		EventID:       r.EventID,
		Status:        string(r.Status),
		Items:         make([]EventItem, 0, len(r.Items)),
		TotalAmount:   r.TotalAmount.StringFixed(2),
		OccurredAt:    n.OccurredAt.UTC().Format(time.RFC3339),
	}
	for _, li := range r.Items {
		ev.Items = append(ev.Items, EventItem{
			TicketTypeID: li.TicketTypeID,
			Quantity:     li.Quantity,
			UnitPrice:    li.UnitPrice.StringFixed(2),
		})
	}
	for _, t := range r.Tickets {
		ev.TicketCodes = append(ev.TicketCodes, t.Code)
	}
	if r.PaymentRef != nil {
		ev.PaymentRef = *r.PaymentRef
	}
	if r.Recipient.Email != nil {
		ev.Email = *r.Recipient.Email
	}
	if r.Recipient.Phone != nil {
		ev.Phone = *r.Recipient.Phone
	}
	return ev
}
