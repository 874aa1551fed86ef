package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// RequestIDHeader is the header name carrying the request id on both the
// incoming request (if the caller already has one) and every response.
const RequestIDHeader = "X-Request-ID"

// requestIDContextKey is the echo.Context key the request id is stored
// under for downstream middleware and handlers.
const requestIDContextKey = "request_id"

// newRequestID mints an 8-character request id.
func newRequestID() string {
	return uuid.New().String()[:8]
}

// RequestID returns middleware that assigns every request an id (reusing
// one supplied via X-Request-ID) and echoes it back on the response.
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rid := c.Request().Header.Get(RequestIDHeader)
			if rid == "" {
				rid = newRequestID()
			}
			c.Set(requestIDContextKey, rid)
			c.Response().Header().Set(RequestIDHeader, rid)
			return next(c)
		}
	}
}

// RequestIDFromContext returns the request id stashed by RequestID, or ""
// if the middleware never ran.
func RequestIDFromContext(c echo.Context) string {
	rid, _ := c.Get(requestIDContextKey).(string)
	return rid
}
