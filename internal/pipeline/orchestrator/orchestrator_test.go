package orchestrator

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/fhirflow/fhirflow/internal/pipeline/bundle"
	"github.com/fhirflow/fhirflow/internal/pipeline/coding"
	"github.com/fhirflow/fhirflow/internal/pipeline/factory"
	"github.com/fhirflow/fhirflow/internal/pipeline/failover"
	"github.com/fhirflow/fhirflow/internal/pipeline/fhirclient"
	"github.com/fhirflow/fhirflow/internal/pipeline/perf"
	"github.com/fhirflow/fhirflow/internal/pipeline/quality"
	"github.com/fhirflow/fhirflow/internal/pipeline/reference"
	"github.com/fhirflow/fhirflow/internal/pipeline/validate"
	"github.com/fhirflow/fhirflow/pkg/fhirtypes"
)

type stubDoer struct {
	status int
	body   string
}

func (d *stubDoer) Do(req *http.Request) (*http.Response, error) {
	return &http.Response{StatusCode: d.status, Body: io.NopCloser(strings.NewReader(d.body))}, nil
}

func newTestOrchestrator(doer fhirclient.Doer) *Orchestrator {
	codingReg := coding.New(zerolog.Nop())
	validator := validate.New()
	refs := reference.New()
	factories := factory.NewRegistry(codingReg, validator, refs, factory.DefaultFeatureFlags())
	optimizer := quality.New()
	assembler := bundle.New(func(b *fhirtypes.Bundle) { optimizer.Optimize(b) })
	perfMgr := perf.NewManager()
	fo := failover.NewManager("https://primary")
	client := fhirclient.NewClient(doer, perfMgr, fo, validator, zerolog.Nop())
	return New(factories, assembler, optimizer, client, perfMgr)
}

func sampleEntities() Entities {
	age := 54
	return Entities{
		PatientInfo: PatientInfo{Age: &age, Gender: "female"},
		Conditions:  []ConditionEntity{{Name: "Type 2 diabetes mellitus", ICD10Code: "E11.9"}},
		Medications: []MedicationEntity{{Name: "Metformin", Dosage: "500mg", Frequency: "twice daily", RxNormCode: "6809"}},
		Procedures:  []ProcedureEntity{{Name: "Hemoglobin A1c", LoincCode: "4548-4"}},
	}
}

func TestProcess_BuildsResourcesInOrderAndAssemblesBundle(t *testing.T) {
	o := newTestOrchestrator(&stubDoer{status: 200, body: `{"resourceType":"OperationOutcome","issue":[]}`})

	result := o.Process(context.Background(), sampleEntities(), "", true, false)

	if !result.Success {
		t.Fatalf("expected success, got errors: %v", result.Errors)
	}
	if len(result.FHIRResources) != 4 {
		t.Fatalf("expected 4 resources (patient+condition+medication+procedure), got %d", len(result.FHIRResources))
	}
	if result.FHIRResources[0].ResourceType() != "Patient" {
		t.Errorf("expected patient created first, got %s", result.FHIRResources[0].ResourceType())
	}
	if result.FHIRBundle == nil || len(result.FHIRBundle.Entry) != 4 {
		t.Fatalf("expected a bundle with 4 entries, got %+v", result.FHIRBundle)
	}
	if result.ValidationResults == nil || !result.ValidationResults.IsValid {
		t.Fatalf("expected a valid validation result, got %+v", result.ValidationResults)
	}
	if result.SummaryPrep.BundleMetadata.EntryCount != 4 {
		t.Errorf("expected summary prep entry count 4, got %d", result.SummaryPrep.BundleMetadata.EntryCount)
	}
	if result.RequestID == "" {
		t.Error("expected a generated request id")
	}
}

func TestProcess_ExecutionSkippedWhenValidationFails(t *testing.T) {
	o := newTestOrchestrator(&stubDoer{status: 200, body: `{"resourceType":"OperationOutcome","issue":[{"severity":"error","diagnostics":"bad bundle"}]}`})

	result := o.Process(context.Background(), sampleEntities(), "req-123", true, true)

	if result.ExecutionResults != nil {
		t.Error("expected execution to be skipped after a failed validation")
	}
	if result.Success {
		t.Error("expected failure because validation reported errors")
	}
}

func TestProcess_AllergySafetyWarningSurfaces(t *testing.T) {
	o := newTestOrchestrator(&stubDoer{status: 200, body: `{"resourceType":"OperationOutcome","issue":[]}`})

	entities := Entities{
		PatientInfo: PatientInfo{Gender: "male", KnownAllergies: []string{"Penicillin"}},
		Medications: []MedicationEntity{{Name: "Amoxicillin", Dosage: "500 mg", Frequency: "three times daily"}},
	}

	result := o.Process(context.Background(), entities, "", true, false)

	if len(result.Warnings) == 0 {
		t.Fatal("expected a safety warning for a penicillin-allergic patient on amoxicillin")
	}
	found := false
	for _, w := range result.Warnings {
		if strings.HasPrefix(w, "SAFETY ALERT") && strings.Contains(strings.ToLower(w), "penicillin") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a SAFETY ALERT warning naming penicillin, got %v", result.Warnings)
	}

	var medication fhirtypes.Resource
	for _, res := range result.FHIRResources {
		if res.ResourceType() == "MedicationRequest" {
			medication = res
		}
	}
	if medication == nil {
		t.Fatal("expected a MedicationRequest resource")
	}
	notes, ok := medication["note"].([]map[string]interface{})
	if !ok || len(notes) == 0 {
		t.Fatalf("expected note entries on the MedicationRequest, got %v", medication["note"])
	}
}

func TestProcess_EmptyEntitiesStillCreatesPatient(t *testing.T) {
	o := newTestOrchestrator(&stubDoer{status: 200, body: `{"resourceType":"OperationOutcome","issue":[]}`})

	result := o.Process(context.Background(), Entities{}, "req-456", false, false)

	if len(result.FHIRResources) != 1 {
		t.Fatalf("expected only the patient resource, got %d", len(result.FHIRResources))
	}
	if !result.Success {
		t.Errorf("expected success with just a patient resource, got errors: %v", result.Errors)
	}
}
