// Package api wires the HTTP edge and admin/status routes onto the
// pipeline components: one file per route group, a shared Deps struct
// instead of per-handler state.
package api

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/fhirflow/fhirflow/internal/config"
	"github.com/fhirflow/fhirflow/internal/pipeline/coding"
	"github.com/fhirflow/fhirflow/internal/pipeline/factory"
	"github.com/fhirflow/fhirflow/internal/pipeline/failover"
	"github.com/fhirflow/fhirflow/internal/pipeline/fhirclient"
	"github.com/fhirflow/fhirflow/internal/pipeline/orchestrator"
	"github.com/fhirflow/fhirflow/internal/pipeline/perf"
	"github.com/fhirflow/fhirflow/internal/pipeline/quality"
	"github.com/fhirflow/fhirflow/internal/platform/middleware"
)

// Deps bundles every collaborator a route handler needs. Handlers never
// reach past Deps into a concrete package, so tests can build a minimal one.
type Deps struct {
	Config       *config.Config
	Logger       zerolog.Logger
	Orchestrator *orchestrator.Orchestrator
	Client       *fhirclient.Client
	Perf         *perf.Manager
	Optimizer    *quality.Optimizer
	Failover     *failover.Manager
	Coding       *coding.Registry
	Factories    *factory.Registry
	SLA          *middleware.SLATracker
	RateLimiter  *middleware.RateLimiterStore
	StartedAt    time.Time
}
