package middleware

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fhirflow/fhirflow/pkg/fhirtypes"
)

// MaxRequestBodyBytes is the fixed request-size ceiling: 1 MiB is accepted,
// one byte over is rejected. Not configurable per-route; the HTTP edge
// guards every request the same way before any handler sees the body.
const MaxRequestBodyBytes int64 = 1 << 20

// BodyLimit returns middleware that rejects any request whose body exceeds
// MaxRequestBodyBytes with 413, before the handler runs. Content-Length is
// checked first for a cheap early reject; the body reader is also wrapped
// so a missing or understated Content-Length can't be used to smuggle a
// larger payload past the guard.
func BodyLimit() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil || req.Body == http.NoBody {
				return next(c)
			}

			if req.ContentLength > MaxRequestBodyBytes {
				return payloadTooLargeError(c)
			}

			req.Body = &limitedReadCloser{
				r:     req.Body,
				limit: MaxRequestBodyBytes,
			}
			return next(c)
		}
	}
}

// limitedReadCloser enforces limit across Read calls regardless of what
// Content-Length claimed, returning ErrBodyTooLarge once exceeded.
type limitedReadCloser struct {
	r     io.ReadCloser
	limit int64
	read  int64
}

// ErrBodyTooLarge is returned by limitedReadCloser.Read once more than
// MaxRequestBodyBytes has been read from the underlying body.
var ErrBodyTooLarge = &BodyTooLargeError{}

// BodyTooLargeError reports that a request body exceeded MaxRequestBodyBytes
// while being streamed, independent of what Content-Length declared.
type BodyTooLargeError struct{}

func (*BodyTooLargeError) Error() string { return "request body exceeds maximum allowed size" }

func (l *limitedReadCloser) Read(p []byte) (int, error) {
	if l.read >= l.limit {
		var probe [1]byte
		n, err := l.r.Read(probe[:])
		if n > 0 {
			return 0, ErrBodyTooLarge
		}
		return 0, err
	}
	if int64(len(p)) > l.limit-l.read {
		p = p[:l.limit-l.read]
	}
	n, err := l.r.Read(p)
	l.read += int64(n)
	return n, err
}

func (l *limitedReadCloser) Close() error {
	return l.r.Close()
}

func payloadTooLargeError(c echo.Context) error {
	outcome := fhirtypes.NewOperationOutcome("error", "too-long", "request body exceeds the 1 MiB limit")
	return c.JSON(http.StatusRequestEntityTooLarge, outcome)
}
