package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fhirflow/fhirflow/internal/platform/httpx"
	"github.com/fhirflow/fhirflow/internal/platform/middleware"
	"github.com/fhirflow/fhirflow/pkg/fhirtypes"
)

// ValidateRequest is the /validate body.
type ValidateRequest struct {
	FHIRBundle *fhirtypes.Bundle `json:"fhir_bundle" validate:"required"`
}

func (d *Deps) handleValidate(c echo.Context) error {
	var req ValidateRequest
	if err := c.Bind(&req); err != nil {
		return httpx.WriteError(c, httpx.InputValidationError("malformed request body"))
	}
	if err := c.Validate(&req); err != nil {
		return httpx.WriteError(c, httpx.InputValidationError(err.Error()))
	}

	requestID := middleware.RequestIDFromContext(c)
	result := d.Client.ValidateBundle(c.Request().Context(), req.FHIRBundle, requestID)
	if !result.IsValid {
		return httpx.WriteJSON(c, http.StatusBadRequest, result)
	}
	return httpx.WriteJSON(c, http.StatusOK, result)
}

// ExecuteRequest is the /execute body.
type ExecuteRequest struct {
	FHIRBundle      *fhirtypes.Bundle `json:"fhir_bundle" validate:"required"`
	ValidateFirst   bool              `json:"validate_first,omitempty"`
	ForceExecution  bool              `json:"force_execution,omitempty"`
}

func (d *Deps) handleExecute(c echo.Context) error {
	var req ExecuteRequest
	if err := c.Bind(&req); err != nil {
		return httpx.WriteError(c, httpx.InputValidationError("malformed request body"))
	}
	if err := c.Validate(&req); err != nil {
		return httpx.WriteError(c, httpx.InputValidationError(err.Error()))
	}

	requestID := middleware.RequestIDFromContext(c)
	result := d.Client.ExecuteBundle(c.Request().Context(), req.FHIRBundle, requestID, req.ValidateFirst, req.ForceExecution)
	status := http.StatusOK
	if !result.Success {
		status = http.StatusBadGateway
		if result.Refused {
			status = http.StatusBadRequest
		}
	}
	return httpx.WriteJSON(c, status, result)
}
