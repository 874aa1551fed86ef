package bundle

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fhirflow/fhirflow/pkg/fhirtypes"
)

func TestAssembler_AssignsFullURLsAndRequests(t *testing.T) {
	a := New(nil)
	patient := fhirtypes.Resource{"resourceType": "Patient", "id": "patient-1"}
	b := a.Assemble([]fhirtypes.Resource{patient}, "req-1")

	assert.Equal(t, "Bundle", b.ResourceType)
	assert.Equal(t, "transaction", b.Type)
	require.Len(t, b.Entry, 1)
	assert.True(t, strings.HasPrefix(b.Entry[0].FullURL, "urn:uuid:"))
	require.NotNil(t, b.Entry[0].Request)
	assert.Equal(t, "POST", b.Entry[0].Request.Method)
	assert.Equal(t, "Patient", b.Entry[0].Request.URL)
}

func TestAssembler_RewritesInternalReferences(t *testing.T) {
	a := New(nil)
	patient := fhirtypes.Resource{"resourceType": "Patient", "id": "patient-1"}
	obs := fhirtypes.Resource{
		"resourceType": "Observation",
		"id":           "obs-1",
		"subject":      fhirtypes.Reference{Reference: "Patient/patient-1"},
	}
	b := a.Assemble([]fhirtypes.Resource{patient, obs}, "req-1")

	var patientFullURL string
	for _, e := range b.Entry {
		if e.Resource.ResourceType() == "Patient" {
			patientFullURL = e.FullURL
		}
	}
	require.NotEmpty(t, patientFullURL)

	for _, e := range b.Entry {
		if e.Resource.ResourceType() == "Observation" {
			subj := e.Resource["subject"].(fhirtypes.Reference)
			assert.Equal(t, patientFullURL, subj.Reference)
		}
	}
}

func TestAssembler_InvokesOptimizerHook(t *testing.T) {
	called := false
	a := New(func(b *fhirtypes.Bundle) { called = true })
	a.Assemble(nil, "req-1")
	assert.True(t, called)
}

func TestAssembler_LeavesUnmatchedReferencesRelative(t *testing.T) {
	a := New(nil)
	obs := fhirtypes.Resource{
		"resourceType": "Observation",
		"id":           "obs-1",
		"subject":      fhirtypes.Reference{Reference: "Patient/does-not-exist"},
	}
	b := a.Assemble([]fhirtypes.Resource{obs}, "req-1")
	subj := b.Entry[0].Resource["subject"].(fhirtypes.Reference)
	assert.Equal(t, "Patient/does-not-exist", subj.Reference)
}
