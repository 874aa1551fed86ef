// Package httpx holds the HTTP-facing helpers shared by every handler in
// internal/api: the pipeline error taxonomy and its mapping onto
// OperationOutcome JSON responses.
package httpx

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fhirflow/fhirflow/pkg/fhirtypes"
)

// Kind classifies an error by origin, so a handler never has to hand-pick
// a status code.
type Kind string

const (
	KindInputValidation   Kind = "InputValidationError"
	KindFactoryInput      Kind = "FactoryInputError"
	KindFHIRStructural    Kind = "FHIRStructuralError"
	KindExternalServer    Kind = "ExternalServerError"
	KindQuotaExceeded     Kind = "QuotaExceeded"
	KindPayloadTooLarge   Kind = "PayloadTooLarge"
	KindInternal          Kind = "InternalError"
)

// Error is a classified pipeline error: callers build one with NewError and
// handlers render it via WriteError without re-deriving a status code.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// KindString reports the error's taxonomy tag as a string.
func (e *Error) KindString() string { return string(e.Kind) }

func NewError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

func InputValidationError(message string) *Error { return NewError(KindInputValidation, message, nil) }
func FactoryInputErrorKind(message string, cause error) *Error {
	return NewError(KindFactoryInput, message, cause)
}
func FHIRStructuralError(message string) *Error { return NewError(KindFHIRStructural, message, nil) }
func ExternalServerError(message string, cause error) *Error {
	return NewError(KindExternalServer, message, cause)
}
func InternalError(cause error) *Error {
	return NewError(KindInternal, "internal error", cause)
}

// statusForKind maps the error taxonomy onto HTTP status codes.
func statusForKind(k Kind) int {
	switch k {
	case KindInputValidation, KindFactoryInput, KindFHIRStructural:
		return http.StatusBadRequest
	case KindExternalServer:
		return http.StatusBadGateway
	case KindQuotaExceeded:
		return http.StatusTooManyRequests
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// WriteError renders err as an OperationOutcome with the status its Kind
// maps to. Non-*Error values (unexpected bugs) are always reported as a
// bare 500 with the request id only, so no detail leaks to the caller.
func WriteError(c echo.Context, err error) error {
	requestID, _ := c.Get("request_id").(string)

	classified, ok := err.(*Error)
	if !ok {
		outcome := fhirtypes.ErrorOutcome("internal error")
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error":      outcome,
			"request_id": requestID,
		})
	}

	status := statusForKind(classified.Kind)
	diagnostics := classified.Message
	if classified.Kind == KindInternal {
		diagnostics = "internal error"
	}

	outcome := fhirtypes.ErrorOutcome(diagnostics)
	return c.JSON(status, map[string]interface{}{
		"error":      outcome,
		"kind":       string(classified.Kind),
		"request_id": requestID,
	})
}

// WriteJSON is the uniform success-response helper: every 2xx payload is
// sent through here so handlers stay free of repeated c.JSON boilerplate.
func WriteJSON(c echo.Context, status int, payload interface{}) error {
	return c.JSON(status, payload)
}
