package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Logger emits one structured line per request. Only structural facts are
// logged: method, route path, status, latency, sizes. Query strings and
// request bodies are never logged; they can carry patient identifiers.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			res := c.Response()
			evt := logger.Info()
			if err != nil || res.Status >= 500 {
				evt = logger.Error().Err(err)
			} else if res.Status >= 400 {
				evt = logger.Warn()
			}

			path := c.Path()
			if path == "" {
				path = c.Request().URL.Path
			}

			evt.
				Str("request_id", RequestIDFromContext(c)).
				Str("method", c.Request().Method).
				Str("path", path).
				Int("status", res.Status).
				Dur("latency", time.Since(start)).
				Int64("bytes_out", res.Size).
				Str("remote_ip", c.RealIP()).
				Msg("request")

			return err
		}
	}
}
