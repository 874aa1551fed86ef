package factory

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/fhirflow/fhirflow/pkg/fhirtypes"
)

// MedicationFactory builds MedicationRequest, MedicationAdministration,
// MedicationDispense, MedicationStatement, and Medication resources.
type MedicationFactory struct {
	*Base
}

func NewMedicationFactory(base *Base) *MedicationFactory { return &MedicationFactory{Base: base} }

var medicationResourceTypes = map[string]struct{}{
	"MedicationRequest": {}, "MedicationAdministration": {}, "MedicationDispense": {},
	"MedicationStatement": {}, "Medication": {},
}

func (f *MedicationFactory) Supports(resourceType string) bool {
	_, ok := medicationResourceTypes[resourceType]
	return ok
}

func (f *MedicationFactory) BuildResource(resourceType string, data map[string]interface{}) (fhirtypes.Resource, []string, error) {
	name, _ := stringField(data, "medication_name")
	if name == "" {
		name, _ = stringField(data, "name")
	}
	if name == "" {
		return nil, nil, &FactoryInputError{ResourceType: resourceType, Reason: "medication_name is required"}
	}

	medCC := f.medicationConcept(data, name)
	res := fhirtypes.Resource{"resourceType": resourceType, "medicationCodeableConcept": medCC}

	if resourceType != "Medication" {
		if subjectRef := firstNonEmpty(data, "patient_ref", "patient_id", "subject"); subjectRef != "" {
			res["subject"] = fhirtypes.Reference{Reference: normalizePatientRef(subjectRef)}
		}
	}

	var warnings []string
	switch resourceType {
	case "MedicationRequest":
		res["status"] = normalizeStatus(data, requestStatuses, "active")
		res["intent"] = "order"
		if dosage, notes := buildDosageInstruction(data); dosage != nil {
			res["dosageInstruction"] = []map[string]interface{}{dosage}
			if len(notes) > 0 {
				res["note"] = notes
			}
		}
		if allergies, ok := data["patient_allergies"].([]map[string]interface{}); ok && len(allergies) > 0 {
			alerts := checkAllergySafety(name, allergies)
			if len(alerts) > 0 {
				notes, _ := res["note"].([]map[string]interface{})
				for _, a := range alerts {
					notes = append(notes, map[string]interface{}{"text": "SAFETY ALERT: " + a})
					warnings = append(warnings, "SAFETY ALERT: "+a)
				}
				res["note"] = notes
			}
		}
	case "MedicationAdministration":
		res["status"] = normalizeStatus(data, adminStatuses, "completed")
	case "MedicationDispense":
		res["status"] = normalizeStatus(data, dispenseStatuses, "completed")
	case "MedicationStatement":
		res["status"] = normalizeStatus(data, statementStatuses, "active")
	case "Medication":
		res["code"] = medCC
		delete(res, "medicationCodeableConcept")
	}

	return res, warnings, nil
}

// firstNonEmpty returns the first present non-empty string field among keys.
func firstNonEmpty(data map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := stringField(data, k); ok {
			return v
		}
	}
	return ""
}

// normalizePatientRef prefixes a bare id with "Patient/" when the caller
// supplied an id rather than a full Type/id reference.
func normalizePatientRef(ref string) string {
	if strings.Contains(ref, "/") || strings.HasPrefix(ref, "#") || strings.HasPrefix(ref, "http") {
		return ref
	}
	return "Patient/" + ref
}

func (f *MedicationFactory) medicationConcept(data map[string]interface{}, name string) fhirtypes.CodeableConcept {
	if rxnorm, ok := stringField(data, "rxnorm_code"); ok {
		if cc, err := f.Coding.CreateCodeableConcept("RXNORM", rxnorm, name, ""); err == nil {
			return cc
		}
	}
	if ndc, ok := stringField(data, "ndc_code"); ok {
		if cc, err := f.Coding.CreateCodeableConcept("NDC", ndc, name, ""); err == nil {
			return cc
		}
	}
	return fhirtypes.CodeableConcept{Text: name}
}

var requestStatuses = map[string]bool{"active": true, "on-hold": true, "cancelled": true, "completed": true, "entered-in-error": true, "stopped": true, "draft": true, "unknown": true}
var adminStatuses = map[string]bool{"in-progress": true, "not-done": true, "on-hold": true, "completed": true, "entered-in-error": true, "stopped": true, "unknown": true}
var dispenseStatuses = map[string]bool{"preparation": true, "in-progress": true, "cancelled": true, "on-hold": true, "completed": true, "entered-in-error": true, "stopped": true, "declined": true, "unknown": true}
var statementStatuses = map[string]bool{"active": true, "completed": true, "entered-in-error": true, "intended": true, "stopped": true, "on-hold": true, "unknown": true, "not-taken": true}

func normalizeStatus(data map[string]interface{}, allowed map[string]bool, fallback string) string {
	if s, ok := stringField(data, "status"); ok {
		if allowed[strings.ToLower(s)] {
			return strings.ToLower(s)
		}
	}
	return fallback
}

var dosageFrequencyMap = map[string]struct {
	Frequency  int
	Period     float64
	PeriodUnit string
}{
	"once daily":          {1, 1, "d"},
	"twice daily":         {2, 1, "d"},
	"three times daily":   {3, 1, "d"},
	"four times daily":    {4, 1, "d"},
	"every 4 hours":       {1, 4, "h"},
	"every 6 hours":       {1, 6, "h"},
	"every 8 hours":       {1, 8, "h"},
	"every 12 hours":      {1, 12, "h"},
}

var routeSnomedMap = map[string]struct{ Code, Display string }{
	"oral":         {"26643006", "Oral"},
	"iv":           {"47625008", "Intravenous"},
	"im":           {"78421000", "Intramuscular"},
	"subcutaneous": {"34206005", "Subcutaneous"},
	"topical":      {"6064005", "Topical"},
	"inhalation":   {"447694001", "Inhalation"},
	"rectal":       {"37161004", "Rectal"},
	"nasal":        {"46713006", "Nasal"},
}

var doseQuantityRe = regexp.MustCompile(`^([\d.]+)\s*([A-Za-z]+)$`)

// buildDosageInstruction parses either a free-text dosage string or a
// structured object with frequency/route/amount. Returns the dosage
// instruction map and any note entries to attach alongside it.
func buildDosageInstruction(data map[string]interface{}) (map[string]interface{}, []map[string]interface{}) {
	dosage := map[string]interface{}{}
	var notes []map[string]interface{}

	if text, ok := stringField(data, "dosage"); ok {
		dosage["text"] = text
	}

	if freq, ok := stringField(data, "frequency"); ok {
		if t, ok := dosageFrequencyMap[strings.ToLower(freq)]; ok {
			dosage["timing"] = map[string]interface{}{
				"repeat": map[string]interface{}{
					"frequency":  t.Frequency,
					"period":     t.Period,
					"periodUnit": t.PeriodUnit,
				},
			}
		}
	}

	if route, ok := stringField(data, "route"); ok {
		info, ok := routeSnomedMap[strings.ToLower(route)]
		if !ok {
			info = struct{ Code, Display string }{"26643006", route}
		}
		dosage["route"] = fhirtypes.CodeableConcept{
			Coding: []fhirtypes.Coding{{System: "http://snomed.info/sct", Code: info.Code, Display: info.Display}},
		}
	}

	if amount, ok := stringField(data, "amount"); ok {
		if q, ok := parseDoseQuantity(amount); ok {
			dosage["doseAndRate"] = []map[string]interface{}{{"doseQuantity": q}}
		}
	}

	if len(dosage) == 0 {
		return nil, nil
	}
	return dosage, notes
}

// parseDoseQuantity parses strings like "10 mg" into a Quantity.
func parseDoseQuantity(s string) (fhirtypes.Quantity, bool) {
	m := doseQuantityRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return fhirtypes.Quantity{}, false
	}
	val, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return fhirtypes.Quantity{}, false
	}
	return fhirtypes.Quantity{Value: val, Unit: m[2], System: "http://unitsofmeasure.org", Code: m[2]}, true
}

var drugClasses = map[string][]string{
	"penicillin":  {"amoxicillin", "ampicillin", "penicillin", "augmentin"},
	"sulfa":       {"sulfamethoxazole", "trimethoprim", "sulfonamide"},
	"nsaid":       {"ibuprofen", "naproxen", "aspirin", "celecoxib"},
	"beta-lactam": {"penicillin", "amoxicillin", "cephalexin", "ceftriaxone"},
}

// checkAllergySafety computes direct substring matches and drug-class
// cross-reactivity between medicationName and the supplied allergies.
func checkAllergySafety(medicationName string, allergies []map[string]interface{}) []string {
	medicationName = strings.ToLower(medicationName)
	var alerts []string
	for _, allergy := range allergies {
		allergen, _ := allergy["substance"].(string)
		allergen = strings.ToLower(allergen)
		if allergen == "" {
			continue
		}
		if strings.Contains(medicationName, allergen) || strings.Contains(allergen, medicationName) {
			alerts = append(alerts, fmt.Sprintf("patient has an allergy to %s", allergen))
			continue
		}
		if crossReacts(medicationName, allergen) {
			alerts = append(alerts, fmt.Sprintf("potential cross-reactivity: %s allergy with %s", allergen, medicationName))
		}
	}
	return alerts
}

func crossReacts(medication, allergen string) bool {
	for class, meds := range drugClasses {
		if strings.Contains(allergen, class) || strings.Contains(class, allergen) {
			for _, m := range meds {
				if strings.Contains(medication, m) {
					return true
				}
			}
		}
	}
	return false
}
