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

func newOrganizationalFactory() *OrganizationalFactory {
	base := NewBase("organizational", coding.New(zerolog.Nop()), validate.New(), reference.New())
	return NewOrganizationalFactory(base)
}

func TestOrganizationalFactory_LocationType(t *testing.T) {
	f := newOrganizationalFactory()
	res, _, err := f.BuildResource("Location", map[string]interface{}{
		"name": "Main ICU",
		"type": "icu",
	})
	require.NoError(t, err)
	types := res["type"].([]fhirtypes.CodeableConcept)
	assert.Equal(t, "309904001", types[0].Coding[0].Code)
}

func TestOrganizationalFactory_OrganizationNPI(t *testing.T) {
	f := newOrganizationalFactory()
	res, _, err := f.BuildResource("Organization", map[string]interface{}{
		"name": "Acme Health",
		"npi":  "1234567890",
	})
	require.NoError(t, err)
	ids := res["identifier"].([]fhirtypes.Identifier)
	assert.Equal(t, "1234567890", ids[0].Value)
	assert.Equal(t, true, res["active"])
}

func TestOrganizationalFactory_HealthcareServiceCategory(t *testing.T) {
	f := newOrganizationalFactory()
	res, _, err := f.BuildResource("HealthcareService", map[string]interface{}{
		"name":     "Urgent Care",
		"category": "emergency",
	})
	require.NoError(t, err)
	cats := res["category"].([]fhirtypes.CodeableConcept)
	assert.Equal(t, "2", cats[0].Coding[0].Code)
}

func TestOrganizationalFactory_UnsupportedType(t *testing.T) {
	f := newOrganizationalFactory()
	assert.False(t, f.Supports("Patient"))
}
