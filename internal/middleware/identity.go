package middleware

// identity.go holds the context keys JWTAuth populates and the helpers
// that read them back.  The authenticated customer id is stored as a
// uint64 so handlers never re-parse it.

import (
    "errors"
    "strconv"

    "github.com/labstack/echo/v4"
)

const (
    ctxUserID = "user_id"
    ctxRole   = "role"
)

// ErrNoIdentity is returned by UserID when no authenticated subject is
// present in the context.
var ErrNoIdentity = errors.New("no authenticated user in context")

// UserID returns the authenticated subject stored by JWTAuth.
func UserID(c echo.Context) (uint64, error) {
    if id, ok := c.Get(ctxUserID).(uint64); ok && id != 0 {
        return id, nil
    }
    return 0, ErrNoIdentity
}

// Role returns the role claim stored by JWTAuth, or "".
func Role(c echo.Context) string {
    role, _ := c.Get(ctxRole).(string)
    return role
}

// userKey renders the subject for rate-limit keys; anonymous callers
// share the "anon" bucket segment.
func userKey(c echo.Context) string {
    if id, err := UserID(c); err == nil {
        return strconv.FormatUint(id, 10)
    }
    return "anon"
}
