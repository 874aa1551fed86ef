package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fhirflow/fhirflow/internal/platform/httpx"
	"github.com/fhirflow/fhirflow/internal/platform/middleware"
	"github.com/fhirflow/fhirflow/pkg/fhirtypes"
)

// SummarizeBundleRequest is the /summarize-bundle body. The actual prose
// summary is produced by an external collaborator; this endpoint only
// supplies the summary_prep object that collaborator consumes.
type SummarizeBundleRequest struct {
	Bundle   *fhirtypes.Bundle `json:"bundle" validate:"required"`
	UserRole string            `json:"user_role,omitempty"`
}

// handleSummarizeBundle is served only when summarization is enabled;
// otherwise the route behaves as if it doesn't exist.
func (d *Deps) handleSummarizeBundle(c echo.Context) error {
	if !d.Config.SummarizationEnabled {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	}

	var req SummarizeBundleRequest
	if err := c.Bind(&req); err != nil {
		return httpx.WriteError(c, httpx.InputValidationError("malformed request body"))
	}
	if err := c.Validate(&req); err != nil {
		return httpx.WriteError(c, httpx.InputValidationError(err.Error()))
	}

	requestID := middleware.RequestIDFromContext(c)
	validation := d.Client.ValidateBundle(c.Request().Context(), req.Bundle, requestID)

	patientRef, gender := summarizePatient(req.Bundle)

	prep := map[string]interface{}{
		"patient_summary": map[string]interface{}{
			"gender":            gender,
			"patient_reference": patientRef,
		},
		"bundle_metadata": map[string]interface{}{
			"bundle_id":   req.Bundle.ID,
			"bundle_type": req.Bundle.Type,
			"entry_count": len(req.Bundle.Entry),
			"timestamp":   req.Bundle.Timestamp,
		},
		"quality_indicators": map[string]interface{}{
			"validation_result":    validation.ValidationResult,
			"bundle_quality_score": validation.BundleQualityScore,
			"validation_source":    validation.ValidationSource,
			"has_errors":           len(validation.Issues.Errors) > 0,
			"has_warnings":         len(validation.Issues.Warnings) > 0,
		},
		"user_role": req.UserRole,
	}

	return httpx.WriteJSON(c, http.StatusOK, prep)
}

// summarizePatient finds the bundle's Patient resource (if any) and pulls
// its reference and gender, matching the shape orchestrator.PatientSummary
// reports from a live pipeline run.
func summarizePatient(b *fhirtypes.Bundle) (reference string, gender string) {
	for _, entry := range b.Entry {
		if entry.Resource == nil || entry.Resource.ResourceType() != "Patient" {
			continue
		}
		reference = fhirtypes.FormatReference("Patient", entry.Resource.ID())
		if g, ok := entry.Resource["gender"].(string); ok {
			gender = g
		}
		return reference, gender
	}
	return "", ""
}
