// Package factory implements the base factory template, the specialized
// per-resource-family factories, and the factory registry.
package factory

import (
	"fmt"
	"sync"
	"time"

	"github.com/fhirflow/fhirflow/internal/pipeline/coding"
	"github.com/fhirflow/fhirflow/internal/pipeline/reference"
	"github.com/fhirflow/fhirflow/internal/pipeline/validate"
	"github.com/fhirflow/fhirflow/pkg/fhirtypes"
)

// FactoryInputError reports a factory-required input key missing from the
// caller's flat input object (input-side, distinct from FHIR's own required
// fields).
type FactoryInputError struct {
	ResourceType string
	Reason       string
}

func (e *FactoryInputError) Error() string {
	return fmt.Sprintf("%s: %s", e.ResourceType, e.Reason)
}

// ValidationFailedError wraps the accumulated structural validation errors
// for a resource a factory just built.
type ValidationFailedError struct {
	ResourceType string
	Errors       []string
}

func (e *ValidationFailedError) Error() string {
	return fmt.Sprintf("%s failed validation: %v", e.ResourceType, e.Errors)
}

// ResourceBuilder is implemented by each specialized factory. It receives
// the flat input object for one resource and returns the built resource
// (before metadata/validation) plus any non-fatal warnings (e.g. an allergy
// safety alert).
type ResourceBuilder interface {
	Supports(resourceType string) bool
	BuildResource(resourceType string, data map[string]interface{}) (fhirtypes.Resource, []string, error)
}

// Stats tracks per-factory creation counters and a rolling average.
type Stats struct {
	Created         int64
	Failed          int64
	Validated       int64
	AvgDurationMs   float64
	totalDurationMs float64
}

// Base provides the shared create-validate-stamp-record template every
// specialized factory is built around.
type Base struct {
	Name      string
	Coding    *coding.Registry
	Validator *validate.Registry
	Refs      *reference.Manager

	mu    sync.Mutex
	stats Stats
}

// NewBase constructs the shared dependencies a specialized factory embeds.
func NewBase(name string, codingRegistry *coding.Registry, validator *validate.Registry, refs *reference.Manager) *Base {
	return &Base{Name: name, Coding: codingRegistry, Validator: validator, Refs: refs}
}

// Create runs the full template method: input check (via builder), build,
// validate, attach meta, record timing.
func (b *Base) Create(builder ResourceBuilder, resourceType string, data map[string]interface{}, requestID string) (fhirtypes.Resource, []string, error) {
	start := time.Now()
	if len(data) == 0 {
		b.recordFailure(start)
		return nil, nil, &FactoryInputError{ResourceType: resourceType, Reason: "input data must not be empty"}
	}
	if !builder.Supports(resourceType) {
		b.recordFailure(start)
		return nil, nil, &FactoryInputError{ResourceType: resourceType, Reason: "unsupported by this factory"}
	}

	resource, warnings, err := builder.BuildResource(resourceType, data)
	if err != nil {
		b.recordFailure(start)
		return nil, nil, err
	}

	result := b.Validator.ValidateResource(resource)
	b.mu.Lock()
	b.stats.Validated++
	b.mu.Unlock()
	if !result.Valid {
		b.recordFailure(start)
		return nil, nil, &ValidationFailedError{ResourceType: resourceType, Errors: result.Errors}
	}

	if resource.ID() == "" {
		if _, refErr := b.Refs.CreateReference(resource); refErr != nil {
			b.recordFailure(start)
			return nil, nil, refErr
		}
	}
	resource["meta"] = fhirtypes.Meta{
		Factory:   b.Name,
		CreatedAt: time.Now().UTC(),
		Version:   "1",
		RequestID: requestID,
	}

	b.recordSuccess(start)
	return resource, warnings, nil
}

func (b *Base) recordSuccess(start time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stats.Created++
	b.updateAvg(start)
}

func (b *Base) recordFailure(start time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stats.Failed++
	b.updateAvg(start)
}

func (b *Base) updateAvg(start time.Time) {
	elapsed := float64(time.Since(start).Microseconds()) / 1000.0
	b.stats.totalDurationMs += elapsed
	total := b.stats.Created + b.stats.Failed
	if total > 0 {
		b.stats.AvgDurationMs = b.stats.totalDurationMs / float64(total)
	}
}

// StatsSnapshot returns a copy of current counters.
func (b *Base) StatsSnapshot() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}
