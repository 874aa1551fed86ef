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

func newMedicationFactory() *MedicationFactory {
	base := NewBase("medication", coding.New(zerolog.Nop()), validate.New(), reference.New())
	return NewMedicationFactory(base)
}

func TestMedicationFactory_BasicRequest(t *testing.T) {
	f := newMedicationFactory()
	res, _, err := f.BuildResource("MedicationRequest", map[string]interface{}{
		"medication_name": "Metformin",
		"dosage":          "500mg",
		"frequency":       "twice daily",
		"rxnorm_code":     "860975",
		"patient_ref":     "patient-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "active", res["status"])
	cc := res["medicationCodeableConcept"].(fhirtypes.CodeableConcept)
	assert.Equal(t, "860975", cc.Coding[0].Code)
	subj := res["subject"].(fhirtypes.Reference)
	assert.Equal(t, "Patient/patient-1", subj.Reference)
}

func TestMedicationFactory_AllergySafetyAlert(t *testing.T) {
	f := newMedicationFactory()
	res, warnings, err := f.BuildResource("MedicationRequest", map[string]interface{}{
		"medication_name": "Amoxicillin",
		"dosage":          "500 mg",
		"frequency":       "three times daily",
		"patient_allergies": []map[string]interface{}{
			{"substance": "Penicillin", "criticality": "high"},
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, warnings)
	assert.Contains(t, warnings[0], "SAFETY ALERT")
	assert.Contains(t, warnings[0], "enicillin")
	notes, ok := res["note"].([]map[string]interface{})
	require.True(t, ok)
	require.NotEmpty(t, notes)
}

func TestCrossReactsAllergy(t *testing.T) {
	assert.True(t, crossReacts("amoxicillin", "penicillin"))
	assert.False(t, crossReacts("metformin", "penicillin"))
}

func TestParseDoseQuantity(t *testing.T) {
	q, ok := parseDoseQuantity("10 mg")
	require.True(t, ok)
	assert.Equal(t, 10.0, q.Value)
	assert.Equal(t, "mg", q.Unit)
}

func TestMedicationFactory_MissingName(t *testing.T) {
	f := newMedicationFactory()
	_, _, err := f.BuildResource("MedicationRequest", map[string]interface{}{"dosage": "500mg"})
	require.Error(t, err)
}
