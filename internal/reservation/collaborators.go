package reservation

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/ticket-reservation/internal/model"
)

// NotificationType names a reservation transition reported downstream.
type NotificationType string

const (
	NotifyConfirmed NotificationType = "reservation.confirmed"
	NotifyCancelled NotificationType = "reservation.cancelled"
	NotifyExpired   NotificationType = "reservation.expired"
)

// Notification is handed to the Notifier after a transition commits.
type Notification struct {
	Type        NotificationType
	Reservation *model.Reservation
	OccurredAt  time.Time
}

// Notifier delivers transition notifications for email/SMS follow-up.
// Errors are logged by the service and never undo the transition.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// PaymentRequest describes the charge for one pending reservation.
type PaymentRequest struct {
	ReservationID uint64
	Amount        decimal.Decimal
	Description   string
	ReturnURL     string
	ExpiresAt     time.Time
}

// PaymentGateway issues a payment handle the customer is redirected to.
// Payment verification arrives later through ConfirmReservation.
type PaymentGateway interface {
	PaymentURL(ctx context.Context, req PaymentRequest) (string, error)
}
