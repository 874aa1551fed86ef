package factory

import (
	"math/big"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/fhirflow/fhirflow/pkg/fhirtypes"
)

// ClinicalFactory builds Observation, DiagnosticReport, ServiceRequest,
// Condition, AllergyIntolerance, RiskAssessment, and ImagingStudy resources.
// When rejectSynthesizedUIDs is set, an ImagingStudy series without a uid is
// rejected instead of receiving a minted one; some FHIR deployments refuse
// synthesized DICOM UIDs.
type ClinicalFactory struct {
	*Base
	rejectSynthesizedUIDs bool
}

func NewClinicalFactory(base *Base, rejectSynthesizedUIDs bool) *ClinicalFactory {
	return &ClinicalFactory{Base: base, rejectSynthesizedUIDs: rejectSynthesizedUIDs}
}

var clinicalResourceTypes = map[string]struct{}{
	"Observation": {}, "DiagnosticReport": {}, "ServiceRequest": {}, "Condition": {},
	"AllergyIntolerance": {}, "RiskAssessment": {}, "ImagingStudy": {},
}

func (f *ClinicalFactory) Supports(resourceType string) bool {
	_, ok := clinicalResourceTypes[resourceType]
	return ok
}

// vitalSignLOINC and labLOINC are case-/space-insensitive name lookups.
var vitalSignLOINC = map[string]struct{ Code, Display string }{
	"heart rate":          {"8867-4", "Heart rate"},
	"blood pressure":       {"85354-9", "Blood pressure panel"},
	"temperature":          {"8310-5", "Body temperature"},
	"oxygen saturation":    {"2708-6", "Oxygen saturation"},
	"weight":               {"29463-7", "Body weight"},
	"height":                {"8302-2", "Body height"},
	"bmi":                   {"39156-5", "Body mass index"},
}

var labLOINC = map[string]struct{ Code, Display string }{
	"glucose":    {"2345-7", "Glucose"},
	"creatinine": {"2160-0", "Creatinine"},
	"hba1c":      {"4548-4", "Hemoglobin A1c"},
}

func normalizeLookupKey(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

func (f *ClinicalFactory) observationCode(data map[string]interface{}) fhirtypes.CodeableConcept {
	name := firstNonEmpty(data, "name", "test_name", "observation_name")
	if loinc, ok := stringField(data, "loinc_code"); ok {
		if cc, err := f.Coding.CreateCodeableConcept("LOINC", loinc, name, ""); err == nil {
			return cc
		}
	}
	key := normalizeLookupKey(name)
	if t, ok := vitalSignLOINC[key]; ok {
		if cc, err := f.Coding.CreateCodeableConcept("LOINC", t.Code, t.Display, ""); err == nil {
			return cc
		}
	}
	if t, ok := labLOINC[key]; ok {
		if cc, err := f.Coding.CreateCodeableConcept("LOINC", t.Code, t.Display, ""); err == nil {
			return cc
		}
	}
	return fhirtypes.CodeableConcept{Text: name}
}

var categoryKeywords = []struct {
	Keywords []string
	Code     string
	Display  string
}{
	{[]string{"heart rate", "blood pressure", "temperature", "oxygen", "weight", "height", "bmi", "vital"}, "vital-signs", "Vital Signs"},
	{[]string{"glucose", "creatinine", "hba1c", "lab", "blood"}, "laboratory", "Laboratory"},
	{[]string{"x-ray", "mri", "ct scan", "ultrasound", "imaging"}, "imaging", "Imaging"},
	{[]string{"surgery", "procedure"}, "procedure", "Procedure"},
}

func inferCategory(name string) (code, display string) {
	key := normalizeLookupKey(name)
	for _, c := range categoryKeywords {
		for _, kw := range c.Keywords {
			if strings.Contains(key, kw) {
				return c.Code, c.Display
			}
		}
	}
	return "survey", "Survey"
}

func (f *ClinicalFactory) buildObservation(data map[string]interface{}) (fhirtypes.Resource, error) {
	name := firstNonEmpty(data, "name", "test_name", "observation_name")
	res := fhirtypes.Resource{"resourceType": "Observation", "status": normalizeStatus(data, observationStatuses, "final")}
	res["code"] = f.observationCode(data)

	if subj := firstNonEmpty(data, "patient_ref", "patient_id", "subject"); subj != "" {
		res["subject"] = fhirtypes.Reference{Reference: normalizePatientRef(subj)}
	}

	catCode, catDisplay := inferCategory(name)
	res["category"] = []fhirtypes.CodeableConcept{{
		Coding: []fhirtypes.Coding{{System: "http://terminology.hl7.org/CodeSystem/observation-category", Code: catCode, Display: catDisplay}},
	}}

	addObservationValue(res, data)

	if components, ok := data["components"].([]map[string]interface{}); ok {
		var comps []map[string]interface{}
		for _, c := range components {
			comp := map[string]interface{}{}
			if code, ok := c["code"].(string); ok {
				comp["code"] = fhirtypes.CodeableConcept{Text: code}
			}
			if val, ok := c["value"].(float64); ok {
				unit, _ := c["unit"].(string)
				comp["valueQuantity"] = fhirtypes.Quantity{Value: val, Unit: unit, System: "http://unitsofmeasure.org", Code: unit}
			}
			comps = append(comps, comp)
		}
		res["component"] = comps
	}

	return res, nil
}

var observationStatuses = map[string]bool{"registered": true, "preliminary": true, "final": true, "amended": true, "corrected": true, "cancelled": true, "entered-in-error": true, "unknown": true}

// addObservationValue chooses valueQuantity/valueString/valueBoolean/
// valueInteger/valueDateTime/valueCodeableConcept by explicit key presence,
// falling back to type inference on a generic "value".
func addObservationValue(res fhirtypes.Resource, data map[string]interface{}) {
	if v, ok := data["value_quantity"]; ok {
		if fv, ok := toFloat(v); ok {
			unit, _ := data["unit"].(string)
			res["valueQuantity"] = fhirtypes.Quantity{Value: fv, Unit: unit, System: "http://unitsofmeasure.org", Code: unit}
			return
		}
	}
	if v, ok := stringField(data, "value_string"); ok {
		res["valueString"] = v
		return
	}
	if v, ok := data["value_boolean"].(bool); ok {
		res["valueBoolean"] = v
		return
	}
	if v, ok := data["value_integer"]; ok {
		if iv, ok := toInt(v); ok {
			res["valueInteger"] = iv
			return
		}
	}
	if v, ok := stringField(data, "value_datetime"); ok {
		res["valueDateTime"] = v
		return
	}
	if v, ok := stringField(data, "value_codeable_concept"); ok {
		res["valueCodeableConcept"] = fhirtypes.CodeableConcept{Text: v}
		return
	}
	// Generic "value": infer type.
	if v, ok := data["value"]; ok {
		switch t := v.(type) {
		case float64:
			unit, _ := data["unit"].(string)
			res["valueQuantity"] = fhirtypes.Quantity{Value: t, Unit: unit, System: "http://unitsofmeasure.org", Code: unit}
		case bool:
			res["valueBoolean"] = t
		case string:
			if fv, err := strconv.ParseFloat(t, 64); err == nil {
				unit, _ := data["unit"].(string)
				res["valueQuantity"] = fhirtypes.Quantity{Value: fv, Unit: unit, System: "http://unitsofmeasure.org", Code: unit}
			} else if t != "" {
				res["valueString"] = t
			}
		}
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	}
	return 0, false
}

func toInt(v interface{}) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case float64:
		return int(t), true
	case string:
		i, err := strconv.Atoi(t)
		return i, err == nil
	}
	return 0, false
}

func (f *ClinicalFactory) buildDiagnosticReport(data map[string]interface{}) fhirtypes.Resource {
	name := firstNonEmpty(data, "name", "title")
	res := fhirtypes.Resource{"resourceType": "DiagnosticReport", "status": normalizeStatus(data, observationStatuses, "final")}
	res["code"] = fhirtypes.CodeableConcept{Text: name}
	if subj := firstNonEmpty(data, "patient_ref", "patient_id", "subject"); subj != "" {
		res["subject"] = fhirtypes.Reference{Reference: normalizePatientRef(subj)}
	}
	res["category"] = []fhirtypes.CodeableConcept{{Coding: []fhirtypes.Coding{{System: "http://terminology.hl7.org/CodeSystem/v2-0074", Code: diagnosticReportCategory(name)}}}}
	return res
}

func diagnosticReportCategory(title string) string {
	key := normalizeLookupKey(title)
	switch {
	case strings.Contains(key, "x-ray"), strings.Contains(key, "mri"), strings.Contains(key, "ct scan"), strings.Contains(key, "radiology"):
		return "RAD"
	case strings.Contains(key, "lab"), strings.Contains(key, "blood"):
		return "LAB"
	case strings.Contains(key, "pathology"):
		return "PAT"
	case strings.Contains(key, "cardio"), strings.Contains(key, "ekg"), strings.Contains(key, "ecg"):
		return "CG"
	default:
		return "OTH"
	}
}

func (f *ClinicalFactory) buildServiceRequest(data map[string]interface{}) fhirtypes.Resource {
	name := firstNonEmpty(data, "name", "title")
	res := fhirtypes.Resource{"resourceType": "ServiceRequest", "status": normalizeStatus(data, observationStatuses, "active")}
	res["code"] = fhirtypes.CodeableConcept{Text: name}
	if subj := firstNonEmpty(data, "patient_ref", "patient_id", "subject"); subj != "" {
		res["subject"] = fhirtypes.Reference{Reference: normalizePatientRef(subj)}
	}
	res["priority"] = normalizePriority(firstNonEmpty(data, "priority"))
	res["category"] = []fhirtypes.CodeableConcept{{Text: serviceRequestCategory(name)}}
	return res
}

func normalizePriority(p string) string {
	switch strings.ToLower(p) {
	case "urgent":
		return "urgent"
	case "asap":
		return "asap"
	case "stat":
		return "stat"
	default:
		return "routine"
	}
}

func serviceRequestCategory(name string) string {
	key := normalizeLookupKey(name)
	switch {
	case strings.Contains(key, "lab"), strings.Contains(key, "blood"):
		return "lab"
	case strings.Contains(key, "imaging"), strings.Contains(key, "x-ray"):
		return "imaging"
	case strings.Contains(key, "consult"):
		return "consultation"
	case strings.Contains(key, "surgery"):
		return "surgical"
	default:
		return "diagnostic"
	}
}

func (f *ClinicalFactory) buildCondition(data map[string]interface{}) fhirtypes.Resource {
	name := firstNonEmpty(data, "name", "condition_name")
	res := fhirtypes.Resource{"resourceType": "Condition"}
	if subj := firstNonEmpty(data, "patient_ref", "patient_id", "subject"); subj != "" {
		res["subject"] = fhirtypes.Reference{Reference: normalizePatientRef(subj)}
	}
	if icd10, ok := stringField(data, "icd10_code"); ok {
		if cc, err := f.Coding.CreateCodeableConcept("ICD10CM", icd10, name, ""); err == nil {
			res["code"] = cc
		}
	}
	if _, ok := res["code"]; !ok {
		res["code"] = fhirtypes.CodeableConcept{Text: name}
	}
	clinicalStatus := firstNonEmpty(data, "status")
	if clinicalStatus == "" {
		clinicalStatus = "active"
	}
	res["clinicalStatus"] = fhirtypes.CodeableConcept{
		Coding: []fhirtypes.Coding{{System: "http://terminology.hl7.org/CodeSystem/condition-clinical", Code: clinicalStatus}},
	}
	res["verificationStatus"] = fhirtypes.CodeableConcept{
		Coding: []fhirtypes.Coding{{System: "http://terminology.hl7.org/CodeSystem/condition-ver-status", Code: "confirmed"}},
	}
	return res
}

var allergenCategoryKeywords = map[string]string{
	"peanut": "food", "shellfish": "food", "milk": "food", "egg": "food",
	"penicillin": "medication", "amoxicillin": "medication", "sulfa": "medication",
	"latex": "biologic", "pollen": "environment", "dust": "environment",
}

func inferAllergenCategory(substance string) string {
	key := normalizeLookupKey(substance)
	for kw, cat := range allergenCategoryKeywords {
		if strings.Contains(key, kw) {
			return cat
		}
	}
	return "medication"
}

func (f *ClinicalFactory) buildAllergyIntolerance(data map[string]interface{}) fhirtypes.Resource {
	substance := firstNonEmpty(data, "substance", "name")
	res := fhirtypes.Resource{"resourceType": "AllergyIntolerance"}
	if patient := firstNonEmpty(data, "patient_ref", "patient_id"); patient != "" {
		res["patient"] = fhirtypes.Reference{Reference: normalizePatientRef(patient)}
	}
	res["code"] = fhirtypes.CodeableConcept{Text: substance}
	res["category"] = []string{inferAllergenCategory(substance)}
	res["criticality"] = normalizeCriticality(firstNonEmpty(data, "criticality"))
	return res
}

func normalizeCriticality(c string) string {
	switch strings.ToLower(c) {
	case "high":
		return "high"
	case "unable-to-assess":
		return "unable-to-assess"
	default:
		return "low"
	}
}

func (f *ClinicalFactory) buildRiskAssessment(data map[string]interface{}) fhirtypes.Resource {
	res := fhirtypes.Resource{"resourceType": "RiskAssessment", "status": normalizeStatus(data, observationStatuses, "final")}
	if subj := firstNonEmpty(data, "patient_ref", "patient_id", "subject"); subj != "" {
		res["subject"] = fhirtypes.Reference{Reference: normalizePatientRef(subj)}
	}
	pred := map[string]interface{}{}
	if prob, ok := toFloat(data["probability"]); ok {
		pred["probabilityDecimal"] = prob
	} else if qual, ok := stringField(data, "risk_level"); ok {
		pred["qualitativeRisk"] = fhirtypes.CodeableConcept{
			Coding: []fhirtypes.Coding{{System: "http://terminology.hl7.org/CodeSystem/risk-probability", Code: strings.ToLower(qual)}},
		}
	}
	if len(pred) > 0 {
		res["prediction"] = []map[string]interface{}{pred}
	}
	return res
}

var dicomModalityCodes = map[string]string{
	"ct": "CT", "mr": "MR", "us": "US", "xr": "DX", "cr": "CR", "mg": "MG",
}

// mintSeriesUID synthesizes a DICOM series UID under the 2.25 (UUID-derived)
// root: the UUID's 128 bits rendered as a decimal arc.
func mintSeriesUID() string {
	u := uuid.New()
	return "2.25." + new(big.Int).SetBytes(u[:]).String()
}

func (f *ClinicalFactory) buildImagingStudy(data map[string]interface{}) (fhirtypes.Resource, error) {
	res := fhirtypes.Resource{"resourceType": "ImagingStudy", "status": "available"}
	if subj := firstNonEmpty(data, "patient_ref", "patient_id", "subject"); subj != "" {
		res["subject"] = fhirtypes.Reference{Reference: normalizePatientRef(subj)}
	}
	seriesData, ok := data["series"].([]map[string]interface{})
	if !ok || len(seriesData) == 0 {
		return nil, &FactoryInputError{ResourceType: "ImagingStudy", Reason: "at least one series is required"}
	}
	var series []map[string]interface{}
	instanceCount := 0
	for _, s := range seriesData {
		modality, _ := s["modality"].(string)
		code, ok := dicomModalityCodes[strings.ToLower(modality)]
		if !ok {
			code = strings.ToUpper(modality)
		}
		uid := firstNonEmpty(s, "uid")
		if uid == "" {
			if f.rejectSynthesizedUIDs {
				return nil, &FactoryInputError{ResourceType: "ImagingStudy", Reason: "series is missing a uid and synthesized UIDs are disabled"}
			}
			uid = mintSeriesUID()
		}
		entry := map[string]interface{}{
			"uid":      uid,
			"modality": fhirtypes.Coding{System: "http://dicom.nema.org/resources/ontology/DCM", Code: code},
		}
		if n, ok := toInt(s["numberOfInstances"]); ok {
			entry["numberOfInstances"] = n
			instanceCount += n
		}
		series = append(series, entry)
	}
	res["series"] = series
	res["numberOfSeries"] = len(series)
	res["numberOfInstances"] = instanceCount
	return res, nil
}

func (f *ClinicalFactory) BuildResource(resourceType string, data map[string]interface{}) (fhirtypes.Resource, []string, error) {
	switch resourceType {
	case "Observation":
		res, err := f.buildObservation(data)
		return res, nil, err
	case "DiagnosticReport":
		return f.buildDiagnosticReport(data), nil, nil
	case "ServiceRequest":
		return f.buildServiceRequest(data), nil, nil
	case "Condition":
		return f.buildCondition(data), nil, nil
	case "AllergyIntolerance":
		return f.buildAllergyIntolerance(data), nil, nil
	case "RiskAssessment":
		return f.buildRiskAssessment(data), nil, nil
	case "ImagingStudy":
		res, err := f.buildImagingStudy(data)
		return res, nil, err
	default:
		return nil, nil, &FactoryInputError{ResourceType: resourceType, Reason: "unsupported"}
	}
}
