package reservation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/ticket-reservation/internal/model"
)

const maxCodeAttempts = 5

// NewTicketCode returns a check-in code of the form TKT-<reservation>-<8 hex>.
func NewTicketCode(reservationID uint64) string {
	return fmt.Sprintf("TKT-%d-%s", reservationID, strings.ToUpper(uuid.NewString()[:8]))
}

// issueTickets materializes one ticket per reserved unit of every line
// item and stores them in tx.
func (s *Service) issueTickets(ctx context.Context, tx Tx, r *model.Reservation, now time.Time) ([]model.Ticket, error) {
	tickets := make([]model.Ticket, 0, r.TotalQuantity())
	taken := make(map[string]struct{}, cap(tickets))
	for _, li := range r.Items {
		for i := uint32(0); i < li.Quantity; i++ {
			code, err := s.uniqueCode(ctx, tx, r.ID, taken)
			if err != nil {
				return nil, err
			}
			tickets = append(tickets, model.Ticket{
				ReservationID: r.ID,
				TicketTypeID:  li.TicketTypeID,
				Code:          code,
				Status:        model.TicketConfirmed,
				CreatedAt:     now,
			})
		}
	}
	if err := tx.InsertTickets(ctx, tickets); err != nil {
		return nil, fmt.Errorf("insert tickets: %w", err)
	}
	return tickets, nil
}

func (s *Service) uniqueCode(ctx context.Context, tx Tx, reservationID uint64, taken map[string]struct{}) (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code := s.newCode(reservationID)
		if _, dup := taken[code]; dup {
			continue
		}
		exists, err := tx.TicketCodeExists(ctx, code)
		if err != nil {
			return "", err
		}
		if !exists {
			taken[code] = struct{}{}
			return code, nil
		}
	}
	return "", fmt.Errorf("ticket code: no unique code after %d attempts", maxCodeAttempts)
}
