package handler // declare the package name; contains HTTP handlers

import (
    "context"
    "net/http"
    "time"

    "github.com/labstack/echo/v4"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
    PingContext(ctx context.Context) error
}

// HealthHandler reports liveness and, when a database is configured,
// whether it answers a ping.
type HealthHandler struct {
    Backend string // store backend name, "mysql" or "memory"
    DB      Pinger // nil for the memory backend
}

// Health handles GET /healthz.  It returns 200 with {"status":"ok"} or
// 503 when the database ping fails.
func (h *HealthHandler) Health(c echo.Context) error {
    body := echo.Map{"status": "ok", "store": h.Backend}
    if h.DB != nil {
        ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
        defer cancel()
        if err := h.DB.PingContext(ctx); err != nil {
            body["status"] = "degraded"
            body["error"] = "database unreachable"
            return c.JSON(http.StatusServiceUnavailable, body)
        }
    }
    return c.JSON(http.StatusOK, body)
}
