package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fhirflow/fhirflow/internal/pipeline/orchestrator"
	"github.com/fhirflow/fhirflow/internal/platform/httpx"
)

// PipelineRequest is the /fhir/pipeline body.
type PipelineRequest struct {
	NLPEntities    *orchestrator.Entities `json:"nlp_entities" validate:"required"`
	ValidateBundle *bool                 `json:"validate_bundle,omitempty"`
	ExecuteBundle  bool                  `json:"execute_bundle,omitempty"`
	RequestID      string                `json:"request_id,omitempty"`
}

func (d *Deps) handlePipeline(c echo.Context) error {
	var req PipelineRequest
	if err := c.Bind(&req); err != nil {
		return httpx.WriteError(c, httpx.InputValidationError("malformed request body"))
	}
	if err := c.Validate(&req); err != nil {
		return httpx.WriteError(c, httpx.InputValidationError(err.Error()))
	}

	validateBundle := d.Config.FHIRValidationEnabled
	if req.ValidateBundle != nil {
		validateBundle = *req.ValidateBundle
	}

	result := d.Orchestrator.Process(c.Request().Context(), *req.NLPEntities, req.RequestID, validateBundle, req.ExecuteBundle)
	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	return httpx.WriteJSON(c, status, result)
}

// handlePipelineStatus aggregates a pipeline/quality/performance snapshot:
// a lighter-weight sibling of the admin views, scoped to what a pipeline
// caller needs.
func (d *Deps) handlePipelineStatus(c echo.Context) error {
	trends := d.Optimizer.QualityTrends()
	cacheStats := d.Perf.CacheStats()
	return httpx.WriteJSON(c, http.StatusOK, map[string]interface{}{
		"quality": map[string]interface{}{
			"overall_success_rate": trends.OverallSuccessRate,
			"recent_success_rate":  trends.RecentSuccessRate,
		},
		"performance": map[string]interface{}{
			"caches":              cacheStats,
			"request_timeout_ms":  d.Perf.RequestTimeout().Milliseconds(),
			"max_concurrent_reqs": d.Perf.MaxConcurrentRequests(),
		},
		"failover": map[string]interface{}{
			"pool":                     d.Failover.Pool(),
			"meets_availability_target": d.Failover.MeetsAvailabilityTarget(),
		},
	})
}
