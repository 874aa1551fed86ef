package factory

import (
	"strings"

	"github.com/fhirflow/fhirflow/pkg/fhirtypes"
)

// CarePlanFactory builds CarePlan resources.
type CarePlanFactory struct {
	*Base
}

func NewCarePlanFactory(base *Base) *CarePlanFactory { return &CarePlanFactory{Base: base} }

func (f *CarePlanFactory) Supports(resourceType string) bool { return resourceType == "CarePlan" }

var carePlanStatuses = map[string]bool{
	"draft": true, "active": true, "on-hold": true, "revoked": true, "completed": true, "entered-in-error": true, "unknown": true,
}

var carePlanIntents = map[string]bool{
	"proposal": true, "plan": true, "order": true, "option": true, "directive": true,
}

var carePlanCategories = map[string]struct{ Code, Display, Text string }{
	"assessment": {"386053000", "Evaluation procedure", "Assessment and Evaluation"},
	"therapy":    {"386056008", "Therapeutic procedure", "Therapy Plan"},
	"education":  {"311401005", "Patient education", "Patient Education Plan"},
	"medication": {"385798007", "Medication therapy management", "Medication Management Plan"},
	"diet":       {"226078001", "Dietary management", "Dietary Plan"},
	"exercise":   {"226029000", "Physical activity plan", "Exercise Plan"},
	"discharge":  {"736366004", "Discharge planning", "Discharge Plan"},
}

var carePlanCategoryKeywords = []struct {
	Keywords []string
	Category string
}{
	{[]string{"assess", "evaluat", "screen"}, "assessment"},
	{[]string{"therap", "treatment", "rehabilitation"}, "therapy"},
	{[]string{"educat", "teach", "instruct"}, "education"},
	{[]string{"medicat", "drug", "prescription"}, "medication"},
	{[]string{"diet", "nutrition", "meal"}, "diet"},
	{[]string{"exercis", "physical", "activity"}, "exercise"},
	{[]string{"discharge", "transition"}, "discharge"},
}

func carePlanCategoryConcept(data map[string]interface{}) *fhirtypes.CodeableConcept {
	if cat, ok := stringField(data, "category"); ok {
		key := strings.ToLower(cat)
		if t, ok := carePlanCategories[key]; ok {
			return &fhirtypes.CodeableConcept{
				Coding: []fhirtypes.Coding{{System: "http://snomed.info/sct", Code: t.Code, Display: t.Display}},
				Text:   t.Text,
			}
		}
		return &fhirtypes.CodeableConcept{Text: cat}
	}
	title, _ := stringField(data, "title")
	desc, _ := stringField(data, "description")
	text := strings.ToLower(title + " " + desc)
	for _, kw := range carePlanCategoryKeywords {
		for _, word := range kw.Keywords {
			if strings.Contains(text, word) {
				t := carePlanCategories[kw.Category]
				return &fhirtypes.CodeableConcept{
					Coding: []fhirtypes.Coding{{System: "http://snomed.info/sct", Code: t.Code, Display: t.Display}},
					Text:   t.Text,
				}
			}
		}
	}
	return nil
}

func (f *CarePlanFactory) BuildResource(resourceType string, data map[string]interface{}) (fhirtypes.Resource, []string, error) {
	if resourceType != "CarePlan" {
		return nil, nil, &FactoryInputError{ResourceType: resourceType, Reason: "unsupported"}
	}
	patientID := firstNonEmpty(data, "patient_id", "patient_ref")
	if patientID == "" {
		return nil, nil, &FactoryInputError{ResourceType: resourceType, Reason: "patient_id is required"}
	}

	status := firstNonEmptyOr(data, "active", "status")
	if !carePlanStatuses[strings.ToLower(status)] {
		status = "active"
	}
	intent := firstNonEmptyOr(data, "plan", "intent")
	if !carePlanIntents[strings.ToLower(intent)] {
		intent = "plan"
	}

	res := fhirtypes.Resource{
		"resourceType": "CarePlan",
		"status":       strings.ToLower(status),
		"intent":       strings.ToLower(intent),
		"subject":      fhirtypes.Reference{Reference: normalizePatientRef(patientID)},
	}

	if cat := carePlanCategoryConcept(data); cat != nil {
		res["category"] = []fhirtypes.CodeableConcept{*cat}
	}

	title := firstNonEmpty(data, "title", "name")
	if title == "" {
		title = "Care Plan for Patient " + patientID
	}
	res["title"] = title
	if desc, ok := stringField(data, "description"); ok {
		res["description"] = desc
	}

	if author := firstNonEmpty(data, "author", "practitioner_id"); author != "" {
		res["author"] = fhirtypes.Reference{Reference: "Practitioner/" + author}
	}
	if careTeam := firstNonEmpty(data, "care_team_id"); careTeam != "" {
		res["careTeam"] = []fhirtypes.Reference{{Reference: "CareTeam/" + careTeam}}
	}

	if conditions, ok := data["addresses"].([]string); ok {
		res["addresses"] = conditionReferences(conditions)
	} else if conditions, ok := data["conditions"].([]string); ok {
		res["addresses"] = conditionReferences(conditions)
	}

	return res, nil, nil
}

func conditionReferences(conditions []string) []fhirtypes.Reference {
	var out []fhirtypes.Reference
	for _, c := range conditions {
		out = append(out, fhirtypes.Reference{Reference: normalizeTypedRef(c, "Condition")})
	}
	return out
}
