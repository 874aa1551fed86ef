// Package orchestrator implements the unified pipeline: it drives
// entity extraction through resource creation, bundle assembly, validation,
// and optional execution as a single sequential pipeline per request.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fhirflow/fhirflow/internal/pipeline/bundle"
	"github.com/fhirflow/fhirflow/internal/pipeline/factory"
	"github.com/fhirflow/fhirflow/internal/pipeline/fhirclient"
	"github.com/fhirflow/fhirflow/internal/pipeline/perf"
	"github.com/fhirflow/fhirflow/internal/pipeline/quality"
	"github.com/fhirflow/fhirflow/pkg/fhirtypes"
)

// Soft per-step timing budgets, used only for the processing_metadata
// timing report, not for cancellation.
const (
	softTotalBudget       = 2 * time.Second
	softResourceBudget    = 300 * time.Millisecond
	softAssemblyBudget    = 200 * time.Millisecond
	softValidationBudget  = 1200 * time.Millisecond
	softExecutionBudget   = 1500 * time.Millisecond
)

// Orchestrator wires the factory registry, bundle assembler, quality
// optimizer, and FHIR client into a single Process call.
type Orchestrator struct {
	Factories *factory.Registry
	Assembler *bundle.Assembler
	Optimizer *quality.Optimizer
	Client    *fhirclient.Client
	Perf      *perf.Manager
}

// New builds an orchestrator from its five collaborators.
func New(factories *factory.Registry, assembler *bundle.Assembler, optimizer *quality.Optimizer, client *fhirclient.Client, perfMgr *perf.Manager) *Orchestrator {
	return &Orchestrator{Factories: factories, Assembler: assembler, Optimizer: optimizer, Client: client, Perf: perfMgr}
}

// StepTiming records one pipeline step's name and duration.
type StepTiming struct {
	Step       string  `json:"step"`
	DurationMs float64 `json:"duration_ms"`
}

// ProcessingMetadata is the timing/step-budget report attached to every
// ProcessingResult.
type ProcessingMetadata struct {
	RequestID       string       `json:"request_id"`
	Steps           []StepTiming `json:"steps"`
	TotalDurationMs float64      `json:"total_duration_ms"`
	SLAMet          bool         `json:"sla_met"`
}

// QualityMetrics is the quality_metrics block of a ProcessingResult.
type QualityMetrics struct {
	ValidationSuccessRate float64 `json:"validation_success_rate"`
	AverageBundleQuality  float64 `json:"average_bundle_quality"`
	AverageProcessingMs   float64 `json:"average_processing_time_ms"`
	TargetMet             bool    `json:"target_met"`
}

// PatientSummary is the patient_summary block of the summary-prep output.
type PatientSummary struct {
	Age              *int   `json:"age,omitempty"`
	Gender           string `json:"gender,omitempty"`
	PatientReference string `json:"patient_reference,omitempty"`
}

// BundleMetadata is the bundle_metadata block of the summary-prep output.
type BundleMetadata struct {
	BundleID   string `json:"bundle_id"`
	BundleType string `json:"bundle_type"`
	EntryCount int    `json:"entry_count"`
	Timestamp  string `json:"timestamp"`
}

// QualityIndicators is the quality_indicators block of the summary-prep
// output.
type QualityIndicators struct {
	ValidationResult string  `json:"validation_result,omitempty"`
	BundleQualityScore float64 `json:"bundle_quality_score"`
	ValidationSource string  `json:"validation_source,omitempty"`
	HasErrors        bool    `json:"has_errors"`
	HasWarnings      bool    `json:"has_warnings"`
}

// SummaryPrep is the object handed to the downstream summarizer collaborator.
type SummaryPrep struct {
	PatientSummary    PatientSummary      `json:"patient_summary"`
	Medications       []MedicationEntity  `json:"medications"`
	Conditions        []ConditionEntity   `json:"conditions"`
	Procedures        []ProcedureEntity   `json:"procedures"`
	BundleMetadata    BundleMetadata      `json:"bundle_metadata"`
	QualityIndicators QualityIndicators   `json:"quality_indicators"`
}

// ProcessingResult is the full outcome of one pipeline run.
type ProcessingResult struct {
	RequestID          string                        `json:"request_id"`
	Success            bool                          `json:"success"`
	ProcessingMetadata ProcessingMetadata             `json:"processing_metadata"`
	InputEntities      Entities                       `json:"input_entities"`
	FHIRResources      []fhirtypes.Resource            `json:"fhir_resources"`
	FHIRBundle         *fhirtypes.Bundle               `json:"fhir_bundle,omitempty"`
	ValidationResults  *fhirclient.ValidationResult    `json:"validation_results,omitempty"`
	ExecutionResults   *fhirclient.ExecutionResult     `json:"execution_results,omitempty"`
	QualityMetrics     QualityMetrics                  `json:"quality_metrics"`
	SummaryPrep        SummaryPrep                     `json:"summary_prep"`
	Errors             []string                        `json:"errors"`
	Warnings           []string                        `json:"warnings"`
}

// Process runs resource creation, bundle assembly, validation, and
// optional execution for one request, then derives summary-prep and
// quality metrics from the outcome.
func (o *Orchestrator) Process(ctx context.Context, entities Entities, requestID string, validateBundle, executeBundle bool) ProcessingResult {
	if requestID == "" {
		requestID = uuid.New().String()
	}
	overallStart := time.Now()

	result := ProcessingResult{RequestID: requestID, InputEntities: entities}

	resourceStart := time.Now()
	resources, patientRef, resourceErrors, resourceWarnings := o.createResources(entities, requestID)
	result.FHIRResources = resources
	result.Errors = append(result.Errors, resourceErrors...)
	result.Warnings = append(result.Warnings, resourceWarnings...)
	steps := []StepTiming{{Step: "resource_creation", DurationMs: elapsedMs(resourceStart)}}

	assemblyStart := time.Now()
	var fb *fhirtypes.Bundle
	if len(resources) > 0 {
		fb = o.Assembler.Assemble(resources, requestID)
		result.FHIRBundle = fb
	}
	steps = append(steps, StepTiming{Step: "bundle_assembly", DurationMs: elapsedMs(assemblyStart)})

	var validation *fhirclient.ValidationResult
	if validateBundle && fb != nil && o.Client != nil {
		validationStart := time.Now()
		v := o.Client.ValidateBundle(ctx, fb, requestID)
		validation = &v
		result.ValidationResults = validation
		o.Optimizer.RecordValidation(v.IsValid)
		steps = append(steps, StepTiming{Step: "validation", DurationMs: elapsedMs(validationStart)})
		if !v.IsValid {
			result.Errors = append(result.Errors, v.Issues.Errors...)
		}
		result.Warnings = append(result.Warnings, v.Issues.Warnings...)
	}

	if executeBundle && fb != nil && o.Client != nil && (validation == nil || validation.IsValid) {
		executionStart := time.Now()
		e := o.Client.ExecuteBundle(ctx, fb, requestID, false, false)
		result.ExecutionResults = &e
		steps = append(steps, StepTiming{Step: "execution", DurationMs: elapsedMs(executionStart)})
		if !e.Success {
			result.Errors = append(result.Errors, e.Errors...)
		}
	}

	total := elapsedMs(overallStart)
	result.ProcessingMetadata = ProcessingMetadata{
		RequestID:       requestID,
		Steps:           steps,
		TotalDurationMs: total,
		SLAMet:          total <= float64(softTotalBudget.Milliseconds()),
	}

	result.SummaryPrep = buildSummaryPrep(entities, patientRef, fb, validation)
	result.QualityMetrics = o.qualityMetrics(total, validation)

	result.Success = len(resources) > 0 && fb != nil && len(result.Errors) == 0
	return result
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

// createResources builds resources in a fixed order: Patient first, then
// conditions, then medications, then procedures/observations. Later
// resources reference the Patient as subject.
func (o *Orchestrator) createResources(entities Entities, requestID string) (resources []fhirtypes.Resource, patientRef string, errs, warnings []string) {
	patientData := buildPatientData(entities.PatientInfo)
	patient, patientWarnings, err := o.Factories.Create("Patient", patientData, requestID)
	if err != nil {
		errs = append(errs, "patient: "+err.Error())
	} else {
		resources = append(resources, patient)
		warnings = append(warnings, patientWarnings...)
		patientRef = fhirtypes.FormatReference("Patient", patient.ID())
	}

	for _, cond := range entities.Conditions {
		data := map[string]interface{}{"name": cond.Name, "status": cond.Status}
		if cond.ICD10Code != "" {
			data["icd10_code"] = cond.ICD10Code
		}
		if patientRef != "" {
			data["patient_ref"] = patientRef
		}
		res, w, err := o.Factories.Create("Condition", data, requestID)
		if err != nil {
			errs = append(errs, "condition "+cond.Name+": "+err.Error())
			continue
		}
		resources = append(resources, res)
		warnings = append(warnings, w...)
	}

	for _, med := range entities.Medications {
		data := map[string]interface{}{"medication_name": med.Name, "dosage": med.Dosage, "frequency": med.Frequency}
		if med.RxNormCode != "" {
			data["rxnorm_code"] = med.RxNormCode
		}
		if patientRef != "" {
			data["patient_ref"] = patientRef
		}
		if len(entities.PatientInfo.KnownAllergies) > 0 {
			allergies := make([]map[string]interface{}, 0, len(entities.PatientInfo.KnownAllergies))
			for _, substance := range entities.PatientInfo.KnownAllergies {
				allergies = append(allergies, map[string]interface{}{"substance": substance})
			}
			data["patient_allergies"] = allergies
		}
		res, w, err := o.Factories.Create("MedicationRequest", data, requestID)
		if err != nil {
			errs = append(errs, "medication "+med.Name+": "+err.Error())
			continue
		}
		resources = append(resources, res)
		warnings = append(warnings, w...)
	}

	for _, proc := range entities.Procedures {
		data := map[string]interface{}{"name": proc.Name, "frequency": proc.Frequency}
		if proc.LoincCode != "" {
			data["loinc_code"] = proc.LoincCode
		}
		if patientRef != "" {
			data["patient_ref"] = patientRef
		}
		res, w, err := o.Factories.Create("ServiceRequest", data, requestID)
		if err != nil {
			errs = append(errs, "procedure "+proc.Name+": "+err.Error())
			continue
		}
		resources = append(resources, res)
		warnings = append(warnings, w...)
	}

	for _, obs := range entities.Observations {
		data := map[string]interface{}{"name": obs.Name, "value": obs.Value, "unit": obs.Unit}
		if obs.LoincCode != "" {
			data["loinc_code"] = obs.LoincCode
		}
		if patientRef != "" {
			data["patient_ref"] = patientRef
		}
		res, w, err := o.Factories.Create("Observation", data, requestID)
		if err != nil {
			errs = append(errs, "observation "+obs.Name+": "+err.Error())
			continue
		}
		resources = append(resources, res)
		warnings = append(warnings, w...)
	}

	return resources, patientRef, errs, warnings
}

// buildPatientData adapts the de-identified patient_info block (age/gender,
// no name) into the flat input the Patient factory expects. Clinical-text
// NLP extraction never yields a name, so one is synthesized; an explicit
// patient_ref becomes the MRN identifier tying the new resource back to the
// upstream chart.
func buildPatientData(info PatientInfo) map[string]interface{} {
	data := map[string]interface{}{"last_name": "Unknown"}
	if info.Gender != "" {
		data["gender"] = info.Gender
	}
	if info.Age != nil && *info.Age >= 0 {
		birthYear := time.Now().UTC().Year() - *info.Age
		data["birth_date"] = fmt.Sprintf("%04d-01-01", birthYear)
	}
	if info.PatientRef != "" {
		data["mrn"] = info.PatientRef
	}
	return data
}

func buildSummaryPrep(entities Entities, patientRef string, fb *fhirtypes.Bundle, validation *fhirclient.ValidationResult) SummaryPrep {
	sp := SummaryPrep{
		PatientSummary: PatientSummary{
			Age:              entities.PatientInfo.Age,
			Gender:           entities.PatientInfo.Gender,
			PatientReference: patientRef,
		},
		Medications: entities.Medications,
		Conditions:  entities.Conditions,
		Procedures:  entities.Procedures,
	}
	if fb != nil {
		sp.BundleMetadata = BundleMetadata{
			BundleID:   fb.ID,
			BundleType: fb.Type,
			EntryCount: len(fb.Entry),
			Timestamp:  fb.Timestamp,
		}
	}
	if validation != nil {
		sp.QualityIndicators = QualityIndicators{
			ValidationResult:   validation.ValidationResult,
			BundleQualityScore: validation.BundleQualityScore,
			ValidationSource:   string(validation.ValidationSource),
			HasErrors:          len(validation.Issues.Errors) > 0,
			HasWarnings:        len(validation.Issues.Warnings) > 0,
		}
	}
	return sp
}

func (o *Orchestrator) qualityMetrics(totalDurationMs float64, validation *fhirclient.ValidationResult) QualityMetrics {
	trends := o.Optimizer.QualityTrends()
	metrics := QualityMetrics{
		ValidationSuccessRate: trends.OverallSuccessRate,
		AverageProcessingMs:   totalDurationMs,
		TargetMet:             totalDurationMs <= float64(softTotalBudget.Milliseconds()),
	}
	if validation != nil {
		metrics.AverageBundleQuality = validation.BundleQualityScore
	}
	return metrics
}
