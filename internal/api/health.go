package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

const serviceVersion = "1.0.0"

func registerHealthRoutes(e *echo.Echo, d *Deps) {
	e.GET("/health", d.handleHealth)
	e.GET("/ready", d.handleReady)
	e.GET("/readiness", d.handleReady)
	e.GET("/live", d.handleLive)
	e.GET("/liveness", d.handleLive)
	e.GET("/metrics", d.handleMetrics)
}

func (d *Deps) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": serviceVersion,
		"uptime_seconds": time.Since(d.StartedAt).Seconds(),
	})
}

// handleReady reports ready whenever the failover pool has an endpoint
// configured. When no endpoint is recorded as healthy, GetActiveEndpoint
// still returns the primary, so recorded endpoint health does not affect
// readiness.
func (d *Deps) handleReady(c echo.Context) error {
	endpoint := d.Failover.GetActiveEndpoint()
	if endpoint == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
			"status": "not_ready",
			"reason": "no FHIR endpoint configured",
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":          "ready",
		"active_endpoint": endpoint.URL(),
	})
}

// handleLive always reports alive once the process can answer HTTP at
// all; it never depends on downstream health.
func (d *Deps) handleLive(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "alive"})
}

// handleMetrics reports the same counters the admin surface exposes, as a
// flat JSON document (this service emits no Prometheus exposition format;
// see DESIGN.md).
func (d *Deps) handleMetrics(c echo.Context) error {
	cacheStats := d.Perf.CacheStats()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"caches":           cacheStats,
		"recent_metrics":   len(d.Perf.RecentMetrics()),
		"endpoints":        d.SLA.EndpointSnapshot(),
		"sla_violations":   len(d.SLA.RecentViolations()),
		"uptime_seconds":   time.Since(d.StartedAt).Seconds(),
	})
}
