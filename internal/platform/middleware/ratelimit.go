package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/fhirflow/fhirflow/pkg/fhirtypes"
)

// RateLimitConfig holds the sliding-window rate limit configuration:
// Requests admissions per client key within Window.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// DefaultRateLimitConfig returns the default of 100 requests per 60s.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{Requests: 100, Window: 60 * time.Second}
}

// clientWindow is the sliding-window deque of admission timestamps for one
// client key. One mutex guards the whole store; at 100 rps per-key locking
// buys nothing.
type clientWindow struct {
	timestamps []time.Time
}

// RateLimiterStore is the process-wide rate limiter: a sliding window
// per client key, guarded by a single mutex.
type RateLimiterStore struct {
	mu      sync.Mutex
	clients map[string]*clientWindow
	cfg     RateLimitConfig
}

// NewRateLimiterStore constructs a rate limiter with cfg.
func NewRateLimiterStore(cfg RateLimitConfig) *RateLimiterStore {
	if cfg.Requests <= 0 {
		cfg.Requests = 100
	}
	if cfg.Window <= 0 {
		cfg.Window = 60 * time.Second
	}
	return &RateLimiterStore{
		clients: make(map[string]*clientWindow),
		cfg:     cfg,
	}
}

// Admit prunes timestamps outside the window and admits the request if the
// remaining count is under the limit. It returns whether the request is
// allowed and, when it is not, the number of seconds until the oldest
// timestamp ages out of the window (the advisory Retry-After value).
func (s *RateLimiterStore) Admit(key string) (allowed bool, retryAfterSeconds int) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.clients[key]
	if !ok {
		w = &clientWindow{}
		s.clients[key] = w
	}

	cutoff := now.Add(-s.cfg.Window)
	pruned := w.timestamps[:0]
	for _, ts := range w.timestamps {
		if ts.After(cutoff) {
			pruned = append(pruned, ts)
		}
	}
	w.timestamps = pruned

	if len(w.timestamps) >= s.cfg.Requests {
		oldest := w.timestamps[0]
		retryAfter := int(oldest.Add(s.cfg.Window).Sub(now).Seconds()) + 1
		if retryAfter < 1 {
			retryAfter = 1
		}
		return false, retryAfter
	}

	w.timestamps = append(w.timestamps, now)
	return true, 0
}

// clientKey derives the rate-limit key: the first entry of
// X-Forwarded-For, else the socket peer, else "anonymous".
func clientKey(c echo.Context) string {
	if xff := c.Request().Header.Get("X-Forwarded-For"); xff != "" {
		for i, r := range xff {
			if r == ',' {
				return xff[:i]
			}
		}
		return xff
	}
	if ip := c.RealIP(); ip != "" {
		return ip
	}
	return "anonymous"
}

// RateLimit returns middleware enforcing cfg's sliding window, responding
// 429 with a numeric Retry-After header on overquota requests.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	store := NewRateLimiterStore(cfg)
	return RateLimitWithStore(store)
}

// RateLimitWithStore wraps a pre-built store, so the HTTP edge and the
// admin status surface can share one process-wide limiter instance.
func RateLimitWithStore(store *RateLimiterStore) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := clientKey(c)
			allowed, retryAfter := store.Admit(key)
			if !allowed {
				c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))
				outcome := fhirtypes.NewOperationOutcome("error", "throttled", "rate limit exceeded")
				return c.JSON(http.StatusTooManyRequests, outcome)
			}
			return next(c)
		}
	}
}
