package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/ticket-reservation/internal/handler"
	"github.com/iliyamo/ticket-reservation/internal/middleware"
)

// RegisterCustomer registers the order endpoints under /v1.  All routes
// require a valid JWT and the CUSTOMER role; ownership of a reservation
// is checked by the service.  limiter wraps order creation only.
func RegisterCustomer(e *echo.Echo, h *handler.OrderHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	g := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole("CUSTOMER"),
	)
	if limiter != nil {
		g.POST("/orders", h.Create, limiter)
	} else {
		g.POST("/orders", h.Create)
	}
	g.GET("/orders", h.List)
	g.GET("/orders/pending", h.Pending)
	g.GET("/orders/:id", h.Get)
	g.DELETE("/orders/:id", h.Cancel)
	g.POST("/orders/:id/extend", h.Extend)
	g.POST("/orders/:id/payment", h.Pay)
}
