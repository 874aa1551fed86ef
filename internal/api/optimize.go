package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fhirflow/fhirflow/internal/pipeline/quality"
	"github.com/fhirflow/fhirflow/internal/platform/httpx"
	"github.com/fhirflow/fhirflow/pkg/fhirtypes"
)

// maxPredictedSuccess caps the predicted success probability reported by
// /fhir/optimize: the optimizer never claims certainty.
const maxPredictedSuccess = 0.95

func (d *Deps) handleOptimize(c echo.Context) error {
	var b fhirtypes.Bundle
	if err := c.Bind(&b); err != nil {
		return httpx.WriteError(c, httpx.InputValidationError("malformed request body"))
	}

	applied := d.Optimizer.Optimize(&b)

	var completeness float64
	if len(b.Entry) > 0 {
		for _, entry := range b.Entry {
			if entry.Resource != nil {
				completeness += quality.CompletenessScore(entry.Resource)
			}
		}
		completeness /= float64(len(b.Entry))
	} else {
		completeness = 1.0
	}

	predicted := completeness
	if predicted > maxPredictedSuccess {
		predicted = maxPredictedSuccess
	}

	return httpx.WriteJSON(c, http.StatusOK, map[string]interface{}{
		"optimized_bundle": b,
		"analysis": map[string]interface{}{
			"optimizations_applied": applied,
			"average_completeness":  completeness,
		},
		"predicted_success_probability": predicted,
	})
}
