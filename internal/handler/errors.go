package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/ticket-reservation/internal/inventory"
	"github.com/iliyamo/ticket-reservation/internal/logging"
	"github.com/iliyamo/ticket-reservation/internal/middleware"
	"github.com/iliyamo/ticket-reservation/internal/payment"
	"github.com/iliyamo/ticket-reservation/internal/reservation"
)

// getUserID returns the authenticated customer id or writes 401.
func getUserID(c echo.Context) (uint64, bool) {
	id, err := middleware.UserID(c)
	if err != nil {
		_ = c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
		return 0, false
	}
	return id, true
}

// writeError maps a service outcome to its HTTP status.  Anything that is
// not a known outcome is logged and reported as 500 without detail.
func writeError(c echo.Context, logger *zap.Logger, err error) error {
	body := echo.Map{"error": err.Error()}

	var dup *reservation.DuplicatePendingError
	var short *inventory.InsufficientError
	switch {
	case errors.As(err, &dup):
		if dup.ReservationID != 0 {
			body["pending_reservation_id"] = dup.ReservationID
		}
		return c.JSON(http.StatusConflict, body)
	case errors.As(err, &short):
		body["ticket_type_id"] = short.TicketTypeID
		body["available"] = short.Available
		return c.JSON(http.StatusConflict, body)

	case errors.Is(err, reservation.ErrInvalidLineItems),
		errors.Is(err, reservation.ErrQuantityLimit),
		errors.Is(err, reservation.ErrInvalidPaymentRef),
		errors.Is(err, payment.ErrMalformedCallback):
		return c.JSON(http.StatusBadRequest, body)
	case errors.Is(err, payment.ErrInvalidSignature):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid signature"})
	case errors.Is(err, reservation.ErrNotOwner):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	case errors.Is(err, reservation.ErrReservationNotFound),
		errors.Is(err, reservation.ErrEventNotFound),
		errors.Is(err, reservation.ErrTicketTypeNotFound):
		return c.JSON(http.StatusNotFound, body)
	case errors.Is(err, reservation.ErrInsufficientInventory),
		errors.Is(err, reservation.ErrDuplicatePendingOrder),
		errors.Is(err, reservation.ErrInvalidState),
		errors.Is(err, reservation.ErrSaleWindowClosed),
		errors.Is(err, reservation.ErrCustomerBusy):
		return c.JSON(http.StatusConflict, body)
	case errors.Is(err, reservation.ErrReservationExpired):
		return c.JSON(http.StatusGone, body)
	case errors.Is(err, reservation.ErrPaymentUnavailable):
		return c.JSON(http.StatusServiceUnavailable, body)
	}

	logging.Error(c.Request().Context(), logger, "request failed",
		zap.String("method", c.Request().Method),
		zap.String("path", c.Path()),
		zap.Error(err))
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}
