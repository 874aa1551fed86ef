package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/fhirflow/fhirflow/internal/platform/httpx"
)

// ConvertRequest is the /convert body. The handler validates its shape and
// hands back a tracking id; clinical_text is neither parsed nor passed on
// to any other component.
type ConvertRequest struct {
	ClinicalText string `json:"clinical_text" validate:"required,min=5,max=5000"`
	PatientRef   string `json:"patient_ref,omitempty" validate:"omitempty,max=100"`
}

func (d *Deps) handleConvert(c echo.Context) error {
	var req ConvertRequest
	if err := c.Bind(&req); err != nil {
		return httpx.WriteError(c, httpx.InputValidationError("malformed request body"))
	}
	if err := c.Validate(&req); err != nil {
		return httpx.WriteError(c, httpx.InputValidationError(err.Error()))
	}

	requestID := uuid.New().String()
	return httpx.WriteJSON(c, http.StatusOK, map[string]interface{}{
		"status":     "accepted",
		"request_id": requestID,
		"patient_ref": req.PatientRef,
	})
}

// ConvertRequestV1 is the /api/v1/convert extended body.
type ConvertRequestV1 struct {
	ClinicalText     string                 `json:"clinical_text" validate:"required,min=5,max=5000"`
	PatientRef       string                 `json:"patient_ref,omitempty" validate:"omitempty,max=100"`
	Priority         string                 `json:"priority,omitempty" validate:"omitempty,oneof=routine urgent stat asap"`
	OrderingProvider string                 `json:"ordering_provider,omitempty"`
	Department       string                 `json:"department,omitempty"`
	ContextMetadata  map[string]interface{} `json:"context_metadata,omitempty"`
}

func (d *Deps) handleConvertV1(c echo.Context) error {
	var req ConvertRequestV1
	if err := c.Bind(&req); err != nil {
		return httpx.WriteError(c, httpx.InputValidationError("malformed request body"))
	}
	if err := c.Validate(&req); err != nil {
		return httpx.WriteError(c, httpx.InputValidationError(err.Error()))
	}
	if req.Priority == "" {
		req.Priority = "routine"
	}

	requestID := uuid.New().String()
	return httpx.WriteJSON(c, http.StatusOK, map[string]interface{}{
		"status":     "accepted",
		"request_id": requestID,
		"metadata": map[string]interface{}{
			"priority":          req.Priority,
			"ordering_provider": req.OrderingProvider,
			"department":        req.Department,
			"context_metadata":  req.ContextMetadata,
		},
		"entity_extraction": nil,
		"structured_output": nil,
		"validation":        nil,
	})
}

// BulkOrder is a single order within a /api/v1/bulk-convert batch.
type BulkOrder struct {
	ClinicalText string `json:"clinical_text" validate:"required,min=5,max=5000"`
	PatientRef   string `json:"patient_ref,omitempty" validate:"omitempty,max=100"`
}

// BulkConvertRequest is the /api/v1/bulk-convert body.
type BulkConvertRequest struct {
	Orders            []BulkOrder            `json:"orders" validate:"required,min=1,max=50,dive"`
	BatchID           string                 `json:"batch_id,omitempty"`
	ProcessingOptions map[string]interface{} `json:"processing_options,omitempty"`
}

func (d *Deps) handleBulkConvert(c echo.Context) error {
	var req BulkConvertRequest
	if err := c.Bind(&req); err != nil {
		return httpx.WriteError(c, httpx.InputValidationError("malformed request body"))
	}
	if err := c.Validate(&req); err != nil {
		return httpx.WriteError(c, httpx.InputValidationError(err.Error()))
	}

	batchID := req.BatchID
	if batchID == "" {
		batchID = uuid.New().String()
	}

	results := make([]map[string]interface{}, 0, len(req.Orders))
	for i, order := range req.Orders {
		results = append(results, map[string]interface{}{
			"index":       i,
			"status":      "accepted",
			"request_id":  uuid.New().String(),
			"patient_ref": order.PatientRef,
		})
	}

	return httpx.WriteJSON(c, http.StatusOK, map[string]interface{}{
		"batch_id": batchID,
		"results":  results,
		"batch_summary": map[string]interface{}{
			"total":    len(req.Orders),
			"accepted": len(results),
		},
	})
}
