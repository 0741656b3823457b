package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iliyamo/ticket-reservation/internal/handler"
)

// RegisterRoutes registers the routes that do not require authentication:
// the health check, the Prometheus scrape endpoint and the payment
// provider callback, which is authenticated by its signature.
func RegisterRoutes(e *echo.Echo, health *handler.HealthHandler, payments *handler.PaymentHandler) {
	e.GET("/healthz", health.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	if payments != nil {
		e.GET("/v1/payments/callback", payments.Callback)
	}
}
