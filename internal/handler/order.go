package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/ticket-reservation/internal/model"
	"github.com/iliyamo/ticket-reservation/internal/reservation"
)

// OrderHandler exposes the reservation service to authenticated
// customers.  All methods assume JWTAuth and RequireRole("CUSTOMER") ran
// first.
type OrderHandler struct {
	svc    *reservation.Service
	logger *zap.Logger
}

// NewOrderHandler panics on a nil service.
func NewOrderHandler(svc *reservation.Service, logger *zap.Logger) *OrderHandler {
	if svc == nil {
		panic("nil reservation service passed to NewOrderHandler")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderHandler{svc: svc, logger: logger}
}

type createOrderRequest struct {
	EventID uint64 `json:"event_id"`
	Items   []struct {
		TicketTypeID uint64 `json:"ticket_type_id"`
		Quantity     uint32 `json:"quantity"`
	} `json:"items"`
	Recipient recipientView `json:"recipient"`
}

// Create handles POST /v1/orders.  It returns 201 with the pending
// reservation and its payment deadline.
func (h *OrderHandler) Create(c echo.Context) error {
	userID, ok := getUserID(c)
	if !ok {
		return nil
	}
	var body createOrderRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.EventID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "event_id is required"})
	}

	req := reservation.CreateRequest{
		CustomerID: userID,
		EventID:    body.EventID,
		Recipient:  model.Recipient(body.Recipient),
	}
	for _, it := range body.Items {
		req.Items = append(req.Items, reservation.ItemRequest{TicketTypeID: it.TicketTypeID, Quantity: it.Quantity})
	}

	r, err := h.svc.CreateReservation(c.Request().Context(), req)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusCreated, toView(r, h.svc.Now()))
}

// List handles GET /v1/orders.
func (h *OrderHandler) List(c echo.Context) error {
	userID, ok := getUserID(c)
	if !ok {
		return nil
	}
	rs, err := h.svc.ListReservations(c.Request().Context(), userID)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	now := h.svc.Now()
	out := make([]reservationView, 0, len(rs))
	for _, r := range rs {
		out = append(out, toView(r, now))
	}
	return c.JSON(http.StatusOK, echo.Map{"reservations": out})
}

// Pending handles GET /v1/orders/pending.  It returns 404 when the
// customer has no unexpired pending reservation.
func (h *OrderHandler) Pending(c echo.Context) error {
	userID, ok := getUserID(c)
	if !ok {
		return nil
	}
	r, err := h.svc.GetActivePendingReservation(c.Request().Context(), userID)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	if r == nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "no pending reservation"})
	}
	return c.JSON(http.StatusOK, toView(r, h.svc.Now()))
}

// Get handles GET /v1/orders/:id.
func (h *OrderHandler) Get(c echo.Context) error {
	userID, id, ok := h.params(c)
	if !ok {
		return nil
	}
	r, err := h.svc.GetReservation(c.Request().Context(), userID, id)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, toView(r, h.svc.Now()))
}

// Cancel handles DELETE /v1/orders/:id and returns 204.
func (h *OrderHandler) Cancel(c echo.Context) error {
	userID, id, ok := h.params(c)
	if !ok {
		return nil
	}
	if err := h.svc.CancelReservation(c.Request().Context(), userID, id); err != nil {
		return writeError(c, h.logger, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Extend handles POST /v1/orders/:id/extend.
func (h *OrderHandler) Extend(c echo.Context) error {
	userID, id, ok := h.params(c)
	if !ok {
		return nil
	}
	r, err := h.svc.ExtendReservation(c.Request().Context(), userID, id)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, toView(r, h.svc.Now()))
}

// Pay handles POST /v1/orders/:id/payment.  The optional return_url
// overrides the gateway's configured one.
func (h *OrderHandler) Pay(c echo.Context) error {
	userID, id, ok := h.params(c)
	if !ok {
		return nil
	}
	var body struct {
		ReturnURL string `json:"return_url"`
	}
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&body); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
		}
	}
	u, err := h.svc.InitiatePayment(c.Request().Context(), userID, id, body.ReturnURL)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"payment_url": u})
}

// params reads the customer id and the :id path parameter, writing 401
// or 400 when either is missing.
func (h *OrderHandler) params(c echo.Context) (uint64, uint64, bool) {
	userID, ok := getUserID(c)
	if !ok {
		return 0, 0, false
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		_ = c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation id"})
		return 0, 0, false
	}
	return userID, id, true
}
