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

func newPatientFactory() *PatientFactory {
	base := NewBase("patient", coding.New(zerolog.Nop()), validate.New(), reference.New())
	return NewPatientFactory(base)
}

func TestPatientFactory_StringName(t *testing.T) {
	f := newPatientFactory()
	res, _, err := f.BuildResource("Patient", map[string]interface{}{"name": "Doe, Jane Marie"})
	require.NoError(t, err)
	names, ok := res["name"].([]fhirtypes.HumanName)
	require.True(t, ok)
	require.Len(t, names, 1)
	assert.Equal(t, "Doe", names[0].Family)
}

func TestParseNameString(t *testing.T) {
	n := ParseNameString("Doe, Jane Marie")
	assert.Equal(t, "Doe", n.Family)
	assert.Equal(t, []string{"Jane", "Marie"}, n.Given)

	n2 := ParseNameString("John Michael Smith")
	assert.Equal(t, "Smith", n2.Family)
	assert.Equal(t, []string{"John", "Michael"}, n2.Given)

	n3 := ParseNameString("Cher")
	assert.Equal(t, "Cher", n3.Family)
}

func TestNormalizeGender(t *testing.T) {
	assert.Equal(t, "male", normalizeGender("M"))
	assert.Equal(t, "female", normalizeGender("woman"))
	assert.Equal(t, "unknown", normalizeGender("nonsense"))
}

func TestFormatPhone_RoundTrip(t *testing.T) {
	formatted, err := FormatPhone("5551234567")
	require.NoError(t, err)
	assert.Equal(t, "(555) 123-4567", formatted)
	assert.Equal(t, "5551234567", ParsePhone(formatted))
}

func TestFormatPhone_WithCountryCode(t *testing.T) {
	formatted, err := FormatPhone("15551234567")
	require.NoError(t, err)
	assert.Equal(t, "+1 (555) 123-4567", formatted)
}

func TestNormalizeBirthDate_AcceptsMultipleFormats(t *testing.T) {
	cases := map[string]string{
		"1990-01-15":       "1990-01-15",
		"01/15/1990":        "1990-01-15",
		"January 15, 1990":  "1990-01-15",
	}
	for in, want := range cases {
		got, err := normalizeBirthDate(map[string]interface{}{"birth_date": in})
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestPatientFactory_BuildResource_FullName(t *testing.T) {
	f := newPatientFactory()
	res, _, err := f.BuildResource("Patient", map[string]interface{}{
		"first_name": "Jane",
		"last_name":  "Doe",
		"gender":     "female",
		"birth_date": "1970-05-01",
		"mrn":        "12345",
		"phone":      "5551234567",
	})
	require.NoError(t, err)
	assert.Equal(t, "Patient", res.ResourceType())
	assert.Equal(t, "female", res["gender"])
	assert.Equal(t, "1970-05-01", res["birthDate"])
}

func TestPatientFactory_MissingName(t *testing.T) {
	f := newPatientFactory()
	_, _, err := f.BuildResource("Patient", map[string]interface{}{"gender": "male"})
	require.Error(t, err)
}
