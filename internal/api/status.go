package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fhirflow/fhirflow/internal/platform/httpx"
)

// handleQualityTrends is the read-only quality trends view.
func (d *Deps) handleQualityTrends(c echo.Context) error {
	return httpx.WriteJSON(c, http.StatusOK, d.Optimizer.QualityTrends())
}

// handlePerformanceMetrics is the performance summary: cache stats,
// recent operation metrics, and the current auto-tuned timeout/concurrency.
func (d *Deps) handlePerformanceMetrics(c echo.Context) error {
	return httpx.WriteJSON(c, http.StatusOK, map[string]interface{}{
		"caches":              d.Perf.CacheStats(),
		"recent_metrics":      d.Perf.RecentMetrics(),
		"request_timeout_ms":  d.Perf.RequestTimeout().Milliseconds(),
		"max_concurrent_reqs": d.Perf.MaxConcurrentRequests(),
		"coding_registry":     d.Coding.Statistics(),
	})
}

// handleClearCache is the admin cache-clear action.
func (d *Deps) handleClearCache(c echo.Context) error {
	d.Perf.ClearAllCaches()
	return httpx.WriteJSON(c, http.StatusOK, map[string]string{"status": "caches cleared"})
}

// handleFHIRStatus aggregates pipeline status (initialization, endpoint
// health, SLA compliance) for the admin status view.
func (d *Deps) handleFHIRStatus(c echo.Context) error {
	factoryHealth := d.Factories.HealthCheck()
	return httpx.WriteJSON(c, http.StatusOK, map[string]interface{}{
		"initialized": true,
		"services": map[string]bool{
			"validation":  d.Config.FHIRValidationEnabled,
			"execution":   true,
			"summarization": d.Config.SummarizationEnabled,
			"safety":      d.Config.SafetyValidationEnabled,
		},
		"factories": map[string]interface{}{
			"performance_ok": factoryHealth.PerformanceOK,
			"duration_ms":    factoryHealth.DurationMs,
		},
		"failover": map[string]interface{}{
			"pool":                      d.Failover.Pool(),
			"meets_availability_target": d.Failover.MeetsAvailabilityTarget(),
			"recent_events":             d.Failover.FailoverEvents(),
		},
		"endpoints": d.SLA.EndpointSnapshot(),
	})
}
