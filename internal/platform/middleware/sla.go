// Package middleware implements the HTTP edge: request-size guard, rate
// limiting, SLA timing, and security headers, plus the ambient
// request-id/logger/recovery middlewares every route runs through.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// DefaultSLAThreshold is the soft end-to-end response-time target.
const DefaultSLAThreshold = 2 * time.Second

// DefaultHardCeiling is the hard processing ceiling: past the soft SLA the
// request still runs to completion, but past the hard ceiling the in-flight
// outbound call is aborted and a 500 returned.
const DefaultHardCeiling = 30 * time.Second

const (
	maxRecentViolations = 50
	maxResponseSamples  = 100
)

// SLAViolation records one request that exceeded the SLA threshold.
type SLAViolation struct {
	RequestID  string
	Path       string
	Method     string
	DurationMs float64
	Timestamp  time.Time
}

// EndpointStats tracks per-endpoint counters for the admin/status surface.
type EndpointStats struct {
	Count       int64
	Errors      int64
	Violations  int64
	samples     []float64 // last maxResponseSamples durations, ms
	sampleHead  int
	totalMs     float64
	totalCount  int64
}

// AvgMs returns the running average response time across every recorded
// request for this endpoint (not just the retained sample window).
func (s EndpointStats) AvgMs() float64 {
	if s.totalCount == 0 {
		return 0
	}
	return s.totalMs / float64(s.totalCount)
}

// P95Ms returns the 95th percentile of the last maxResponseSamples samples.
func (s EndpointStats) P95Ms() float64 {
	if len(s.samples) == 0 {
		return 0
	}
	sorted := append([]float64(nil), s.samples...)
	sort.Float64s(sorted)
	idx := int(float64(len(sorted))*0.95 + 0.5)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// ComplianceRate returns (total - violations) / total, or 1.0 if no
// requests have been recorded yet.
func (s EndpointStats) ComplianceRate() float64 {
	if s.Count == 0 {
		return 1.0
	}
	return float64(s.Count-s.Violations) / float64(s.Count)
}

// MarshalJSON serializes the counters together with the derived
// average/percentile/compliance figures the admin views report.
func (s EndpointStats) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"count":           s.Count,
		"errors":          s.Errors,
		"violations":      s.Violations,
		"avg_ms":          s.AvgMs(),
		"p95_ms":          s.P95Ms(),
		"compliance_rate": s.ComplianceRate(),
	})
}

// SLATracker is the process-wide timing/SLA state: bounded recent
// violations ring plus per-endpoint response-time counters.
type SLATracker struct {
	mu         sync.Mutex
	violations []SLAViolation
	endpoints  map[string]*EndpointStats
	threshold  time.Duration
	hardCeil   time.Duration
	logger     zerolog.Logger
}

// NewSLATracker builds a tracker using threshold as the soft SLA and
// hardCeiling as the abort point for in-flight outbound calls.
func NewSLATracker(threshold, hardCeiling time.Duration, logger zerolog.Logger) *SLATracker {
	if threshold <= 0 {
		threshold = DefaultSLAThreshold
	}
	if hardCeiling <= 0 {
		hardCeiling = DefaultHardCeiling
	}
	return &SLATracker{
		endpoints: make(map[string]*EndpointStats),
		threshold: threshold,
		hardCeil:  hardCeiling,
		logger:    logger,
	}
}

func endpointKey(method, path string) string { return method + " " + path }

func (t *SLATracker) record(method, path, requestID string, duration time.Duration, isError bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := endpointKey(method, path)
	stats, ok := t.endpoints[key]
	if !ok {
		stats = &EndpointStats{}
		t.endpoints[key] = stats
	}

	ms := float64(duration.Microseconds()) / 1000.0
	stats.Count++
	stats.totalCount++
	stats.totalMs += ms
	if isError {
		stats.Errors++
	}
	if len(stats.samples) < maxResponseSamples {
		stats.samples = append(stats.samples, ms)
	} else {
		stats.samples[stats.sampleHead] = ms
		stats.sampleHead = (stats.sampleHead + 1) % maxResponseSamples
	}

	violated := duration > t.threshold
	if violated {
		stats.Violations++
		t.violations = append(t.violations, SLAViolation{
			RequestID:  requestID,
			Path:       path,
			Method:     method,
			DurationMs: ms,
			Timestamp:  time.Now().UTC(),
		})
		if len(t.violations) > maxRecentViolations {
			t.violations = t.violations[len(t.violations)-maxRecentViolations:]
		}
	}
	return violated
}

// RecentViolations returns a copy of the bounded ring of recent SLA
// violations, most recent last.
func (t *SLATracker) RecentViolations() []SLAViolation {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]SLAViolation, len(t.violations))
	copy(out, t.violations)
	return out
}

// EndpointSnapshot returns a copy of the per-endpoint counters, keyed
// "METHOD path".
func (t *SLATracker) EndpointSnapshot() map[string]EndpointStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]EndpointStats, len(t.endpoints))
	for k, v := range t.endpoints {
		out[k] = *v
	}
	return out
}

// Middleware returns the timing + SLA echo middleware. It layers a hard
// deadline of hardCeiling onto the request context (so outbound FHIR server
// calls made downstream inherit it) but does not cancel the handler at the
// soft threshold; the soft SLA is reported, not enforced. Timing headers are
// written from a response Before hook, since headers cannot change once the
// handler has started writing the body.
func (t *SLATracker) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, cancel := context.WithTimeout(c.Request().Context(), t.hardCeil)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			start := time.Now()
			recorded := false
			c.Response().Before(func() {
				if recorded {
					return
				}
				recorded = true
				duration := time.Since(start)

				requestID := RequestIDFromContext(c)
				path := c.Path()
				if path == "" {
					path = c.Request().URL.Path
				}

				isError := c.Response().Status >= http.StatusBadRequest
				violated := t.record(c.Request().Method, path, requestID, duration, isError)

				h := c.Response().Header()
				h.Set("X-Response-Time", formatMs(duration))
				h.Set(RequestIDHeader, requestID)
				if violated {
					h.Set("X-SLA-Violation", "true")
					t.logger.Warn().
						Str("request_id", requestID).
						Str("path", path).
						Dur("duration", duration).
						Msg("SLA violation")
				}
			})

			err := next(c)
			if ctx.Err() == context.DeadlineExceeded && err == nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "request exceeded hard processing ceiling")
			}
			return err
		}
	}
}

func formatMs(d time.Duration) string {
	ms := float64(d.Microseconds()) / 1000.0
	return strconv.FormatFloat(ms, 'f', 2, 64)
}
