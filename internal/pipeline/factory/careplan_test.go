package factory

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fhirflow/fhirflow/internal/pipeline/coding"
	"github.com/fhirflow/fhirflow/internal/pipeline/reference"
	"github.com/fhirflow/fhirflow/internal/pipeline/validate"
	"github.com/fhirflow/fhirflow/pkg/fhirtypes"
)

func newCarePlanFactory() *CarePlanFactory {
	base := NewBase("careplan", coding.New(zerolog.Nop()), validate.New(), reference.New())
	return NewCarePlanFactory(base)
}

func TestCarePlanFactory_InferCategoryFromTitle(t *testing.T) {
	f := newCarePlanFactory()
	res, _, err := f.BuildResource("CarePlan", map[string]interface{}{
		"patient_id": "p1",
		"title":      "Diabetes Education Plan",
	})
	require.NoError(t, err)
	cats := res["category"].([]fhirtypes.CodeableConcept)
	assert.Equal(t, "311401005", cats[0].Coding[0].Code)
}

func TestCarePlanFactory_DefaultTitle(t *testing.T) {
	f := newCarePlanFactory()
	res, _, err := f.BuildResource("CarePlan", map[string]interface{}{"patient_id": "p1"})
	require.NoError(t, err)
	assert.Equal(t, "Care Plan for Patient p1", res["title"])
	assert.Equal(t, "active", res["status"])
	assert.Equal(t, "plan", res["intent"])
}

func TestCarePlanFactory_RequiresPatient(t *testing.T) {
	f := newCarePlanFactory()
	_, _, err := f.BuildResource("CarePlan", map[string]interface{}{"title": "x"})
	require.Error(t, err)
}

func TestCarePlanFactory_InvalidStatusDefaultsToActive(t *testing.T) {
	f := newCarePlanFactory()
	res, _, err := f.BuildResource("CarePlan", map[string]interface{}{
		"patient_id": "p1",
		"status":     "bogus",
	})
	require.NoError(t, err)
	assert.Equal(t, "active", res["status"])
}
