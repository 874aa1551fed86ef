package factory

import (
	"time"

	"github.com/fhirflow/fhirflow/pkg/fhirtypes"
)

func todayDate() string { return time.Now().UTC().Format("2006-01-02") }

// ConsentFactory builds Consent resources with scope, category, and
// granular provision controls.
type ConsentFactory struct {
	*Base
}

func NewConsentFactory(base *Base) *ConsentFactory { return &ConsentFactory{Base: base} }

func (f *ConsentFactory) Supports(resourceType string) bool { return resourceType == "Consent" }

var consentStatuses = map[string]bool{"active": true, "inactive": true, "draft": true, "rejected": true}

var consentCategoryLOINC = map[string]string{
	"HIPAA":     "59284-0",
	"research":  "64292-6",
	"marketing": "59284-0",
}

var consentPurposeDisplays = map[string]string{
	"TREAT":   "Treatment",
	"HPAYMT":  "Healthcare Payment",
	"HOPERAT": "Healthcare Operations",
	"MARKETING": "Marketing",
	"HRESCH":  "Healthcare Research",
}

var consentRoleDisplays = map[string]string{
	"PCP":  "Primary Care Provider",
	"CON":  "Consultant",
	"ECON": "Emergency Contact",
}

func (f *ConsentFactory) BuildResource(resourceType string, data map[string]interface{}) (fhirtypes.Resource, []string, error) {
	if resourceType != "Consent" {
		return nil, nil, &FactoryInputError{ResourceType: resourceType, Reason: "unsupported"}
	}

	status, _ := stringField(data, "status")
	if !consentStatuses[status] {
		return nil, nil, &FactoryInputError{ResourceType: resourceType, Reason: "status must be one of active, inactive, draft, rejected"}
	}

	categories, ok := data["category"].([]string)
	if !ok || len(categories) == 0 {
		return nil, nil, &FactoryInputError{ResourceType: resourceType, Reason: "category must be a non-empty list"}
	}

	patientID, ok := stringField(data, "patient_id")
	if !ok {
		return nil, nil, &FactoryInputError{ResourceType: resourceType, Reason: "patient_id is required"}
	}
	patientRef := normalizeTypedRef(patientID, "Patient")

	scope := firstNonEmptyOr(data, "patient-privacy", "scope")
	policyRule := firstNonEmptyOr(data, "OPTIN", "policy_rule")

	res := fhirtypes.Resource{
		"resourceType": "Consent",
		"status":       status,
		"scope":        fhirtypes.CodeableConcept{Coding: []fhirtypes.Coding{{System: "http://terminology.hl7.org/CodeSystem/consentscope", Code: scope}}},
		"category":     consentCategoryConcepts(categories),
		"patient":      fhirtypes.Reference{Reference: patientRef},
		"policyRule":   fhirtypes.CodeableConcept{Coding: []fhirtypes.Coding{{System: "http://terminology.hl7.org/CodeSystem/v3-ActCode", Code: policyRule}}},
	}
	if dt, ok := stringField(data, "date_time"); ok {
		res["dateTime"] = dt
	} else {
		res["dateTime"] = time.Now().UTC().Format(time.RFC3339)
	}

	if provision := buildConsentProvision(data); provision != nil {
		res["provision"] = provision
	}
	if orgID := firstNonEmpty(data, "organization_id"); orgID != "" {
		res["organization"] = []fhirtypes.Reference{{Reference: orgID}}
	}
	if performer := firstNonEmpty(data, "performer"); performer != "" {
		res["performer"] = []fhirtypes.Reference{{Reference: performer}}
	}

	return res, nil, nil
}

func consentCategoryConcepts(categories []string) []fhirtypes.CodeableConcept {
	out := make([]fhirtypes.CodeableConcept, 0, len(categories))
	for _, cat := range categories {
		code, ok := consentCategoryLOINC[cat]
		if !ok {
			code = "59284-0"
		}
		out = append(out, fhirtypes.CodeableConcept{Coding: []fhirtypes.Coding{{System: "http://loinc.org", Code: code}}})
	}
	return out
}

func buildConsentProvision(data map[string]interface{}) map[string]interface{} {
	provision := map[string]interface{}{}

	if purposes, ok := data["purpose"].([]string); ok && len(purposes) > 0 {
		var codings []fhirtypes.Coding
		for _, p := range purposes {
			display := consentPurposeDisplays[p]
			if display == "" {
				display = p
			}
			codings = append(codings, fhirtypes.Coding{System: "http://terminology.hl7.org/CodeSystem/v3-ActReason", Code: p, Display: display})
		}
		provision["purpose"] = codings
	}

	if actorID := firstNonEmpty(data, "actor_id"); actorID != "" {
		role := firstNonEmptyOr(data, "PCP", "actor_role")
		display := consentRoleDisplays[role]
		if display == "" {
			display = role
		}
		provision["actor"] = []map[string]interface{}{{
			"role":      fhirtypes.CodeableConcept{Coding: []fhirtypes.Coding{{System: "http://terminology.hl7.org/CodeSystem/v3-ParticipationType", Code: role, Display: display}}},
			"reference": fhirtypes.Reference{Reference: actorID},
		}}
	}

	periodStart := firstNonEmpty(data, "period_start")
	periodEnd := firstNonEmpty(data, "period_end")
	if periodStart != "" || periodEnd != "" {
		provision["period"] = fhirtypes.Period{Start: periodStart, End: periodEnd}
	}

	if len(provision) == 0 {
		return nil
	}
	return provision
}

// CheckConsent reports whether a built Consent resource permits access for
// the given purpose and, optionally, actor.
func CheckConsent(consent fhirtypes.Resource, purpose string, actorID string) bool {
	status, _ := consent["status"].(string)
	if status != "active" {
		return false
	}
	policyRule, ok := consent["policyRule"].(fhirtypes.CodeableConcept)
	if !ok || len(policyRule.Coding) == 0 || policyRule.Coding[0].Code != "OPTIN" {
		return false
	}
	provision, ok := consent["provision"].(map[string]interface{})
	if !ok {
		return true
	}
	if period, ok := provision["period"].(fhirtypes.Period); ok {
		today := todayDate()
		if period.Start != "" && today < period.Start {
			return false
		}
		if period.End != "" && today > period.End {
			return false
		}
	}
	if purposes, ok := provision["purpose"].([]fhirtypes.Coding); ok && len(purposes) > 0 {
		found := false
		for _, p := range purposes {
			if p.Code == purpose {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if actorID != "" {
		if actors, ok := provision["actor"].([]map[string]interface{}); ok && len(actors) > 0 {
			found := false
			for _, a := range actors {
				if ref, ok := a["reference"].(fhirtypes.Reference); ok && ref.Reference == actorID {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	return true
}

// IsConsentActive reports whether a Consent is in active status with a
// validity period (when present) that includes today. Unlike CheckConsent it
// ignores policyRule, purpose, and actor: an OPTOUT consent is still active.
func IsConsentActive(consent fhirtypes.Resource) bool {
	status, _ := consent["status"].(string)
	if status != "active" {
		return false
	}
	provision, ok := consent["provision"].(map[string]interface{})
	if !ok {
		return true
	}
	if period, ok := provision["period"].(fhirtypes.Period); ok {
		today := todayDate()
		if period.Start != "" && today < period.Start {
			return false
		}
		if period.End != "" && today > period.End {
			return false
		}
	}
	return true
}
