package factory

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fhirflow/fhirflow/internal/pipeline/coding"
	"github.com/fhirflow/fhirflow/internal/pipeline/reference"
	"github.com/fhirflow/fhirflow/internal/pipeline/validate"
)

func newTestRegistry(flags FeatureFlags) *Registry {
	return NewRegistry(coding.New(zerolog.Nop()), validate.New(), reference.New(), flags)
}

func TestRegistry_LazyInstantiationAndCache(t *testing.T) {
	r := newTestRegistry(DefaultFeatureFlags())
	f1, _, ok := r.Get("Patient")
	require.True(t, ok)
	f2, _, ok := r.Get("Patient")
	require.True(t, ok)
	assert.Same(t, f1, f2)
}

func TestRegistry_UnknownResourceType(t *testing.T) {
	r := newTestRegistry(DefaultFeatureFlags())
	_, _, ok := r.Get("Unmapped")
	assert.False(t, ok)
}

func TestRegistry_CreatePatient(t *testing.T) {
	r := newTestRegistry(DefaultFeatureFlags())
	res, _, err := r.Create("Patient", map[string]interface{}{"name": "Doe, Jane"}, "req-1")
	require.NoError(t, err)
	assert.Equal(t, "Patient", res.ResourceType())
}

func TestRegistry_FeatureFlagFallsBackToMock(t *testing.T) {
	flags := DefaultFeatureFlags()
	flags.UseNewPatientFactory = false
	r := newTestRegistry(flags)
	_, warnings, err := r.Create("Patient", map[string]interface{}{"name": "Doe, Jane"}, "req-1")
	require.NoError(t, err)
	require.NotEmpty(t, warnings)
	assert.Contains(t, warnings[0], "fallback mock factory")
}

func TestRegistry_ClearCacheForcesReinstantiation(t *testing.T) {
	r := newTestRegistry(DefaultFeatureFlags())
	f1, _, _ := r.Get("Patient")
	r.ClearCache()
	f2, _, _ := r.Get("Patient")
	assert.NotSame(t, f1, f2)
}

func TestRegistry_HealthCheck(t *testing.T) {
	r := newTestRegistry(DefaultFeatureFlags())
	status := r.HealthCheck()
	assert.True(t, status.PerformanceOK)
}
