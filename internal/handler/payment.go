package handler

import (
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/ticket-reservation/internal/logging"
	"github.com/iliyamo/ticket-reservation/internal/payment"
	"github.com/iliyamo/ticket-reservation/internal/reservation"
)

// CallbackVerifier is implemented by *payment.Gateway.
type CallbackVerifier interface {
	VerifyCallback(params url.Values) (payment.Callback, error)
}

// PaymentHandler receives the payment provider's redirect.  It is not
// behind JWTAuth; the signature is the authentication.
type PaymentHandler struct {
	svc      *reservation.Service
	verifier CallbackVerifier
	logger   *zap.Logger
}

func NewPaymentHandler(svc *reservation.Service, verifier CallbackVerifier, logger *zap.Logger) *PaymentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentHandler{svc: svc, verifier: verifier, logger: logger}
}

// Callback handles GET /v1/payments/callback.  A verified success confirms
// the reservation; a verified failure leaves it pending until it is paid,
// cancelled or expired.
func (h *PaymentHandler) Callback(c echo.Context) error {
	if h.verifier == nil {
		return writeError(c, h.logger, reservation.ErrPaymentUnavailable)
	}
	cb, err := h.verifier.VerifyCallback(c.QueryParams())
	if err != nil {
		logging.Warn(c.Request().Context(), h.logger, "payment callback rejected", zap.Error(err))
		return writeError(c, h.logger, err)
	}
	if !cb.Succeeded() {
		logging.Info(c.Request().Context(), h.logger, "payment not completed",
			zap.Uint64("reservation_id", cb.ReservationID),
			zap.String("response_code", cb.ResponseCode))
		return c.JSON(http.StatusOK, echo.Map{
			"reservation_id": cb.ReservationID,
			"status":         "PAYMENT_FAILED",
			"response_code":  cb.ResponseCode,
		})
	}

	r, err := h.svc.ConfirmReservation(c.Request().Context(), cb.ReservationID, cb.TransactionRef)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, toView(r, h.svc.Now()))
}
