package api

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/fhirflow/fhirflow/internal/config"
	"github.com/fhirflow/fhirflow/internal/pipeline/bundle"
	"github.com/fhirflow/fhirflow/internal/pipeline/coding"
	"github.com/fhirflow/fhirflow/internal/pipeline/factory"
	"github.com/fhirflow/fhirflow/internal/pipeline/failover"
	"github.com/fhirflow/fhirflow/internal/pipeline/fhirclient"
	"github.com/fhirflow/fhirflow/internal/pipeline/orchestrator"
	"github.com/fhirflow/fhirflow/internal/pipeline/perf"
	"github.com/fhirflow/fhirflow/internal/pipeline/quality"
	"github.com/fhirflow/fhirflow/internal/pipeline/reference"
	"github.com/fhirflow/fhirflow/internal/pipeline/validate"
	"github.com/fhirflow/fhirflow/internal/platform/middleware"
	"github.com/fhirflow/fhirflow/pkg/fhirtypes"
)

// fakeDoer stubs the outbound FHIR server for handler tests that exercise
// the fhirclient collaborator.
type fakeDoer struct {
	status int
	body   string
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: f.status,
		Body:       io.NopCloser(strings.NewReader(f.body)),
	}, nil
}

func newTestDeps() *Deps {
	cfg := &config.Config{
		AppName:                    "fhir-pipeline-test",
		Environment:                "development",
		FHIRValidationEnabled:      true,
		SummarizationEnabled:       true,
		SafetyValidationEnabled:    true,
		RateLimitRequestsPerMinute: 100,
		RateLimitWindowSeconds:     60,
	}

	codingRegistry := coding.New(zerolog.Nop())
	validatorRegistry := validate.New()
	refs := reference.New()
	factories := factory.NewRegistry(codingRegistry, validatorRegistry, refs, factory.DefaultFeatureFlags())
	optimizer := quality.New()
	assembler := bundle.New(func(b *fhirtypes.Bundle) { optimizer.Optimize(b) })

	perfMgr := perf.NewManager()
	failoverMgr := failover.NewManager("https://primary.example.test")
	client := fhirclient.NewClient(&fakeDoer{status: 200, body: `{"resourceType":"OperationOutcome","issue":[]}`}, perfMgr, failoverMgr, validatorRegistry, zerolog.Nop())
	orch := orchestrator.New(factories, assembler, optimizer, client, perfMgr)

	return &Deps{
		Config:       cfg,
		Logger:       zerolog.Nop(),
		Orchestrator: orch,
		Client:       client,
		Perf:         perfMgr,
		Optimizer:    optimizer,
		Failover:     failoverMgr,
		Coding:       codingRegistry,
		Factories:    factories,
		SLA:          middleware.NewSLATracker(middleware.DefaultSLAThreshold, middleware.DefaultHardCeiling, zerolog.Nop()),
		RateLimiter:  middleware.NewRateLimiterStore(middleware.DefaultRateLimitConfig()),
		StartedAt:    time.Now(),
	}
}
