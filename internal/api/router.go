package api

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes wires every public endpoint onto e, grouped into an
// apiV1 group and a dedicated fhir group.
func RegisterRoutes(e *echo.Echo, d *Deps) {
	e.Validator = NewRequestValidator()

	registerHealthRoutes(e, d)

	e.POST("/convert", d.handleConvert)

	apiV1 := e.Group("/api/v1")
	apiV1.POST("/convert", d.handleConvertV1)
	apiV1.POST("/bulk-convert", d.handleBulkConvert)

	fhirGroup := e.Group("/fhir")
	fhirGroup.POST("/pipeline", d.handlePipeline)
	fhirGroup.GET("/pipeline/status", d.handlePipelineStatus)
	fhirGroup.POST("/optimize", d.handleOptimize)
	fhirGroup.GET("/quality/trends", d.handleQualityTrends)
	fhirGroup.GET("/performance/metrics", d.handlePerformanceMetrics)
	fhirGroup.POST("/performance/clear-cache", d.handleClearCache)
	fhirGroup.GET("/status", d.handleFHIRStatus)

	e.POST("/validate", d.handleValidate)
	e.POST("/execute", d.handleExecute)
	e.POST("/summarize-bundle", d.handleSummarizeBundle)
}
