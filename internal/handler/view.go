package handler

import (
	"time"

	"github.com/iliyamo/ticket-reservation/internal/model"
)

type recipientView struct {
	Name    *string `json:"name,omitempty"`
	Phone   *string `json:"phone,omitempty"`
	Email   *string `json:"email,omitempty"`
	Address *string `json:"address,omitempty"`
	Notes   *string `json:"notes,omitempty"`
}

type itemView struct {
	TicketTypeID uint64 `json:"ticket_type_id"`
	Quantity     uint32 `json:"quantity"`
	UnitPrice    string `json:"unit_price"`
	Subtotal     string `json:"subtotal"`
}

type ticketView struct {
	Code         string     `json:"code"`
	TicketTypeID uint64     `json:"ticket_type_id"`
	Status       string     `json:"status"`
	CheckedInAt  *time.Time `json:"checked_in_at,omitempty"`
}

type reservationView struct {
	ID               uint64        `json:"id"`
	EventID          uint64        `json:"event_id"`
	Status           string        `json:"status"`
	TotalAmount      string        `json:"total_amount"`
	PaymentRef       *string       `json:"payment_ref,omitempty"`
	Items            []itemView    `json:"items"`
	Tickets          []ticketView  `json:"tickets,omitempty"`
	Recipient        recipientView `json:"recipient"`
	CreatedAt        time.Time     `json:"created_at"`
	ExpiresAt        time.Time     `json:"expires_at"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`
	RemainingSeconds int64         `json:"remaining_seconds"`
}

func toView(r *model.Reservation, now time.Time) reservationView {
	v := reservationView{
		ID:               r.ID,
		EventID:          r.EventID,
		Status:           string(r.Status),
		TotalAmount:      r.TotalAmount.StringFixed(2),
		PaymentRef:       r.PaymentRef,
		Items:            make([]itemView, 0, len(r.Items)),
		Recipient:        recipientView(r.Recipient),
		CreatedAt:        r.CreatedAt,
		ExpiresAt:        r.ExpiresAt,
		CompletedAt:      r.CompletedAt,
		RemainingSeconds: r.RemainingSeconds(now),
	}
	for _, li := range r.Items {
		v.Items = append(v.Items, itemView{
			TicketTypeID: li.TicketTypeID,
			Quantity:     li.Quantity,
			UnitPrice:    li.UnitPrice.StringFixed(2),
			Subtotal:     li.Subtotal().StringFixed(2),
		})
	}
	for _, tk := range r.Tickets {
		v.Tickets = append(v.Tickets, ticketView{
			Code:         tk.Code,
			TicketTypeID: tk.TicketTypeID,
			Status:       string(tk.Status),
			CheckedInAt:  tk.CheckedInAt,
		})
	}
	return v
}
