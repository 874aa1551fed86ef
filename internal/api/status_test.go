package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func getStatus(t *testing.T, d *Deps, path string, handler echo.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := handler(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return rec
}

func TestHandleFHIRStatus_ReportsServicesAndFactories(t *testing.T) {
	d := newTestDeps()
	rec := getStatus(t, d, "/fhir/status", d.handleFHIRStatus)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, fragment := range []string{`"initialized":true`, `"factories"`, `"failover"`, `"validation":true`} {
		if !strings.Contains(body, fragment) {
			t.Errorf("expected status body to contain %s, got %s", fragment, body)
		}
	}
}

func TestHandlePerformanceMetrics_IncludesCodingRegistry(t *testing.T) {
	d := newTestDeps()
	rec := getStatus(t, d, "/fhir/performance/metrics", d.handlePerformanceMetrics)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"coding_registry"`) {
		t.Errorf("expected coding registry statistics in metrics, got %s", body)
	}
	if !strings.Contains(body, `"supported_systems"`) {
		t.Errorf("expected supported_systems counter, got %s", body)
	}
}

func TestHandleClearCache_ClearsPerformanceCaches(t *testing.T) {
	d := newTestDeps()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/fhir/performance/clear-cache", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := d.handleClearCache(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "caches cleared") {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}

func TestHandleQualityTrends_ReturnsTrends(t *testing.T) {
	d := newTestDeps()
	d.Optimizer.RecordValidation(true)
	d.Optimizer.RecordValidation(false)

	rec := getStatus(t, d, "/fhir/quality/trends", d.handleQualityTrends)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "overall_success_rate") {
		t.Errorf("expected trend fields in body, got %s", rec.Body.String())
	}
}
