package factory

import (
	"strings"

	"github.com/fhirflow/fhirflow/pkg/fhirtypes"
)

// EncounterFactory builds Encounter, Goal, and CareTeam resources.
type EncounterFactory struct {
	*Base
}

func NewEncounterFactory(base *Base) *EncounterFactory { return &EncounterFactory{Base: base} }

var encounterResourceTypes = map[string]struct{}{
	"Encounter": {}, "Goal": {}, "CareTeam": {},
}

func (f *EncounterFactory) Supports(resourceType string) bool {
	_, ok := encounterResourceTypes[resourceType]
	return ok
}

func (f *EncounterFactory) BuildResource(resourceType string, data map[string]interface{}) (fhirtypes.Resource, []string, error) {
	switch resourceType {
	case "Encounter":
		return f.buildEncounter(data), nil, nil
	case "Goal":
		return f.buildGoal(data), nil, nil
	case "CareTeam":
		return f.buildCareTeam(data), nil, nil
	default:
		return nil, nil, &FactoryInputError{ResourceType: resourceType, Reason: "unsupported"}
	}
}

func (f *EncounterFactory) buildEncounter(data map[string]interface{}) fhirtypes.Resource {
	classCode := firstNonEmptyOr(data, "AMB", "class")
	classDisplay := firstNonEmptyOr(data, "ambulatory", "class_display")
	res := fhirtypes.Resource{
		"resourceType": "Encounter",
		"status":       normalizeStatus(data, map[string]bool{"planned": true, "arrived": true, "triaged": true, "in-progress": true, "onleave": true, "finished": true, "cancelled": true, "unknown": true}, "planned"),
		"class":        fhirtypes.Coding{System: "http://terminology.hl7.org/CodeSystem/v3-ActCode", Code: classCode, Display: classDisplay},
	}
	if subj := firstNonEmpty(data, "patient_id", "patient_ref"); subj != "" {
		res["subject"] = fhirtypes.Reference{Reference: normalizePatientRef(subj)}
	}
	return res
}

var goalLifecycleStatuses = map[string]bool{
	"proposed": true, "planned": true, "accepted": true, "active": true, "on-hold": true,
	"completed": true, "cancelled": true, "entered-in-error": true, "rejected": true,
}

var goalLifecycleAliases = map[string]string{
	"in-progress": "active", "in progress": "active", "draft": "proposed", "pending": "proposed",
	"finished": "completed", "done": "completed", "stopped": "cancelled", "abandoned": "cancelled",
}

func normalizeGoalStatus(status string) string {
	status = strings.ToLower(status)
	if goalLifecycleStatuses[status] {
		return status
	}
	if alias, ok := goalLifecycleAliases[status]; ok {
		return alias
	}
	return "active"
}

var goalAchievementStatuses = map[string]bool{
	"in-progress": true, "improving": true, "worsening": true, "no-change": true, "achieved": true,
	"sustaining": true, "not-achieved": true, "no-progress": true, "not-attainable": true,
}

func normalizeAchievementStatus(status string) *fhirtypes.CodeableConcept {
	if status == "" {
		return nil
	}
	code := strings.ReplaceAll(strings.ToLower(status), " ", "-")
	code = strings.ReplaceAll(code, "_", "-")
	if !goalAchievementStatuses[code] {
		return nil
	}
	display := strings.Title(strings.ReplaceAll(code, "-", " "))
	return &fhirtypes.CodeableConcept{
		Coding: []fhirtypes.Coding{{System: "http://terminology.hl7.org/CodeSystem/goal-achievement", Code: code, Display: display}},
		Text:   display,
	}
}

var goalPriorityMap = map[string]string{
	"high": "high-priority", "medium": "medium-priority", "low": "low-priority",
	"high-priority": "high-priority", "medium-priority": "medium-priority", "low-priority": "low-priority",
}

func normalizeGoalPriority(priority string) *fhirtypes.CodeableConcept {
	code, ok := goalPriorityMap[strings.ToLower(priority)]
	if !ok {
		return nil
	}
	display := strings.Title(strings.ReplaceAll(code, "-", " "))
	return &fhirtypes.CodeableConcept{
		Coding: []fhirtypes.Coding{{System: "http://terminology.hl7.org/CodeSystem/goal-priority", Code: code, Display: display}},
		Text:   display,
	}
}

var goalCategories = map[string]string{
	"dietary": "Dietary", "safety": "Safety", "behavioral": "Behavioral",
	"nursing": "Nursing", "physiotherapy": "Physiotherapy",
}

func goalCategoryConcept(data map[string]interface{}) *fhirtypes.CodeableConcept {
	cat, ok := stringField(data, "category")
	if !ok {
		return nil
	}
	key := strings.ToLower(cat)
	display, ok := goalCategories[key]
	if !ok {
		return nil
	}
	return &fhirtypes.CodeableConcept{
		Coding: []fhirtypes.Coding{{System: "http://terminology.hl7.org/CodeSystem/goal-category", Code: key, Display: display}},
		Text:   display + " Goal",
	}
}

func (f *EncounterFactory) buildGoal(data map[string]interface{}) fhirtypes.Resource {
	description := firstNonEmptyOr(data, "Clinical Goal", "description")
	lifecycle := normalizeGoalStatus(firstNonEmptyOr(data, "active", "status"))

	res := fhirtypes.Resource{
		"resourceType":    "Goal",
		"lifecycleStatus": lifecycle,
		"description":     fhirtypes.CodeableConcept{Text: description},
	}
	if subj := firstNonEmpty(data, "patient_id", "patient_ref"); subj != "" {
		res["subject"] = fhirtypes.Reference{Reference: normalizePatientRef(subj)}
	}
	if cat := goalCategoryConcept(data); cat != nil {
		res["category"] = []fhirtypes.CodeableConcept{*cat}
	}
	if pri := normalizeGoalPriority(firstNonEmpty(data, "priority")); pri != nil {
		res["priority"] = *pri
	}
	if ach := normalizeAchievementStatus(firstNonEmpty(data, "achievement_status", "achievementStatus")); ach != nil {
		res["achievementStatus"] = *ach
	}
	if start := firstNonEmpty(data, "start_date", "startDate"); start != "" {
		res["startDate"] = start
	}
	if targets := buildGoalTargets(data); len(targets) > 0 {
		res["target"] = targets
	}
	return res
}

// buildGoalTargets converts a "targets" list of {measure, value, unit} into
// FHIR Goal.target entries with detailQuantity.
func buildGoalTargets(data map[string]interface{}) []map[string]interface{} {
	raw, ok := data["targets"].([]map[string]interface{})
	if !ok {
		return nil
	}
	var out []map[string]interface{}
	for _, t := range raw {
		target := map[string]interface{}{}
		if measure, ok := t["measure"].(string); ok {
			target["measure"] = fhirtypes.CodeableConcept{Text: measure}
		}
		if val, ok := toFloat(t["value"]); ok {
			unit, _ := t["unit"].(string)
			target["detailQuantity"] = fhirtypes.Quantity{Value: val, Unit: unit, System: "http://unitsofmeasure.org", Code: unit}
		}
		out = append(out, target)
	}
	return out
}

func (f *EncounterFactory) buildCareTeam(data map[string]interface{}) fhirtypes.Resource {
	res := fhirtypes.Resource{
		"resourceType": "CareTeam",
		"status":       normalizeStatus(data, map[string]bool{"proposed": true, "active": true, "suspended": true, "inactive": true, "entered-in-error": true}, "active"),
	}
	if subj := firstNonEmpty(data, "patient_id", "patient_ref"); subj != "" {
		res["subject"] = fhirtypes.Reference{Reference: normalizePatientRef(subj)}
	}
	return res
}
