package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestWriteError_MapsKindToStatus(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{KindInputValidation, http.StatusBadRequest},
		{KindFactoryInput, http.StatusBadRequest},
		{KindFHIRStructural, http.StatusBadRequest},
		{KindExternalServer, http.StatusBadGateway},
		{KindQuotaExceeded, http.StatusTooManyRequests},
		{KindPayloadTooLarge, http.StatusRequestEntityTooLarge},
		{KindInternal, http.StatusInternalServerError},
	}

	e := echo.New()
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/x", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.Set("request_id", "req-1")

		err := WriteError(c, NewError(tc.kind, "boom", nil))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec.Code != tc.want {
			t.Errorf("kind %s: expected status %d, got %d", tc.kind, tc.want, rec.Code)
		}
	}
}

func TestWriteError_InternalErrorHidesDetail(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("request_id", "req-2")

	err := WriteError(c, InternalError(errors.New("secret stack detail")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	outcome := body["error"].(map[string]interface{})
	issue := outcome["issue"].([]interface{})[0].(map[string]interface{})
	if issue["diagnostics"] != "internal error" {
		t.Errorf("expected internal errors to hide their cause, got %v", issue["diagnostics"])
	}
}

func TestWriteError_UnclassifiedErrorIsInternal(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := WriteError(c, errors.New("plain error")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 for unclassified error, got %d", rec.Code)
	}
}
