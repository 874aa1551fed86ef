package factory

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/fhirflow/fhirflow/pkg/fhirtypes"
)

// PatientFactory builds Patient resources from a flat semantic input map.
type PatientFactory struct {
	*Base
}

func NewPatientFactory(base *Base) *PatientFactory { return &PatientFactory{Base: base} }

func (f *PatientFactory) Supports(resourceType string) bool { return resourceType == "Patient" }

func (f *PatientFactory) BuildResource(resourceType string, data map[string]interface{}) (fhirtypes.Resource, []string, error) {
	if resourceType != "Patient" {
		return nil, nil, &FactoryInputError{ResourceType: resourceType, Reason: "unsupported"}
	}

	res := fhirtypes.Resource{"resourceType": "Patient", "active": true}

	name, err := buildPatientName(data)
	if err != nil {
		return nil, nil, &FactoryInputError{ResourceType: resourceType, Reason: err.Error()}
	}
	res["name"] = []fhirtypes.HumanName{name}

	var identifiers []fhirtypes.Identifier
	if mrn, ok := stringField(data, "mrn"); ok {
		identifiers = append(identifiers, fhirtypes.Identifier{
			System: "http://hospital.local/patient-id",
			Value:  mrn,
			Type:   &fhirtypes.CodeableConcept{Coding: []fhirtypes.Coding{{System: "http://terminology.hl7.org/CodeSystem/v2-0203", Code: "MR"}}},
		})
	}
	if ssn, ok := stringField(data, "ssn"); ok {
		if formatted, err := FormatSSN(ssn); err == nil {
			identifiers = append(identifiers, fhirtypes.Identifier{System: "http://hl7.org/fhir/sid/us-ssn", Value: formatted})
		}
	}
	if len(identifiers) > 0 {
		res["identifier"] = identifiers
	}

	if gender, ok := stringField(data, "gender"); ok {
		res["gender"] = normalizeGender(gender)
	} else {
		res["gender"] = "unknown"
	}

	if hasBirthDateData(data) {
		bd, err := normalizeBirthDate(data)
		if err != nil {
			return nil, nil, &FactoryInputError{ResourceType: resourceType, Reason: err.Error()}
		}
		res["birthDate"] = bd
	}

	telecom := buildTelecom(data)
	if len(telecom) > 0 {
		res["telecom"] = telecom
	}

	if ms, ok := stringField(data, "marital_status"); ok {
		if cc, ok := maritalStatusConcept(ms); ok {
			res["maritalStatus"] = cc
		}
	}

	if lang, ok := stringField(data, "language"); ok {
		code := strings.ToLower(strings.TrimSpace(lang))
		if len(code) == 2 {
			res["communication"] = []map[string]interface{}{{
				"language":  fhirtypes.CodeableConcept{Coding: []fhirtypes.Coding{{System: "urn:ietf:bcp:47", Code: code}}},
				"preferred": true,
			}}
		}
	}

	if contacts := buildEmergencyContacts(data); len(contacts) > 0 {
		res["contact"] = contacts
	}

	if gp := firstNonEmpty(data, "general_practitioner", "gp_ref"); gp != "" {
		res["generalPractitioner"] = []fhirtypes.Reference{{Reference: gp}}
	}
	if org := firstNonEmpty(data, "managing_organization", "organization_ref"); org != "" {
		res["managingOrganization"] = fhirtypes.Reference{Reference: org}
	}

	return res, nil, nil
}

var maritalStatusCodes = map[string]struct{ Code, Display string }{
	"married":   {"M", "Married"},
	"single":    {"S", "Never Married"},
	"divorced":  {"D", "Divorced"},
	"widowed":   {"W", "Widowed"},
	"separated": {"L", "Legally Separated"},
	"unknown":   {"UNK", "unknown"},
}

func maritalStatusConcept(status string) (fhirtypes.CodeableConcept, bool) {
	info, ok := maritalStatusCodes[strings.ToLower(strings.TrimSpace(status))]
	if !ok {
		return fhirtypes.CodeableConcept{}, false
	}
	return fhirtypes.CodeableConcept{
		Coding: []fhirtypes.Coding{{System: "http://terminology.hl7.org/CodeSystem/v3-MaritalStatus", Code: info.Code, Display: info.Display}},
		Text:   info.Display,
	}, true
}

var contactRelationshipCodes = map[string]string{
	"spouse": "SPS", "husband": "HUSB", "wife": "WIFE", "parent": "PRN",
	"mother": "MTH", "father": "FTH", "child": "CHILD", "sibling": "SIB",
	"friend": "FRND", "guardian": "GUARD",
}

// buildEmergencyContacts maps emergency_contacts entries ({name,
// relationship, phone}) into Patient.contact with v3-RoleCode relationships.
func buildEmergencyContacts(data map[string]interface{}) []map[string]interface{} {
	raw, ok := data["emergency_contacts"].([]map[string]interface{})
	if !ok {
		if single, ok := data["emergency_contact"].(map[string]interface{}); ok {
			raw = []map[string]interface{}{single}
		}
	}
	var out []map[string]interface{}
	for _, ec := range raw {
		contact := map[string]interface{}{}
		if name, ok := stringField(ec, "name"); ok {
			contact["name"] = ParseNameString(name)
		}
		if rel, ok := stringField(ec, "relationship"); ok {
			code, known := contactRelationshipCodes[strings.ToLower(rel)]
			if !known {
				code = "C"
			}
			contact["relationship"] = []fhirtypes.CodeableConcept{{
				Coding: []fhirtypes.Coding{{System: "http://terminology.hl7.org/CodeSystem/v3-RoleCode", Code: code, Display: rel}},
				Text:   rel,
			}}
		}
		if phone, ok := stringField(ec, "phone"); ok {
			if formatted, err := FormatPhone(phone); err == nil {
				contact["telecom"] = []fhirtypes.ContactPoint{{System: "phone", Value: formatted}}
			}
		}
		if len(contact) > 0 {
			out = append(out, contact)
		}
	}
	return out
}

func stringField(data map[string]interface{}, key string) (string, bool) {
	v, ok := data[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

// buildPatientName accepts "name" (string), "names" (list), or structured
// first/last/family/given/middle/prefix/suffix fields.
func buildPatientName(data map[string]interface{}) (fhirtypes.HumanName, error) {
	if n, ok := stringField(data, "name"); ok {
		return ParseNameString(n), nil
	}
	if names, ok := data["names"].([]string); ok && len(names) > 0 {
		return ParseNameString(names[0]), nil
	}

	name := fhirtypes.HumanName{Use: "usual"}
	if family, ok := stringField(data, "family"); ok {
		name.Family = family
	} else if last, ok := stringField(data, "last_name"); ok {
		name.Family = last
	}

	if given, ok := data["given"].([]string); ok {
		name.Given = given
	} else if first, ok := stringField(data, "first_name"); ok {
		name.Given = []string{first}
		if mid, ok := stringField(data, "middle_name"); ok {
			name.Given = append(name.Given, mid)
		}
	}
	if prefix, ok := stringField(data, "prefix"); ok {
		name.Prefix = []string{prefix}
	}
	if suffix, ok := stringField(data, "suffix"); ok {
		name.Suffix = []string{suffix}
	}

	if name.Family == "" && len(name.Given) == 0 {
		return fhirtypes.HumanName{}, fmt.Errorf("a patient name is required")
	}
	if name.Family == "" {
		name.Family = "Unknown"
	}
	if len(name.Given) == 0 {
		name.Given = []string{"Unknown"}
	}
	return name, nil
}

// ParseNameString splits "Last, First Mid" on comma, otherwise treats the
// last whitespace-separated token as the family name.
func ParseNameString(s string) fhirtypes.HumanName {
	s = strings.TrimSpace(s)
	if idx := strings.Index(s, ","); idx >= 0 {
		family := strings.TrimSpace(s[:idx])
		rest := strings.Fields(strings.TrimSpace(s[idx+1:]))
		if len(rest) == 0 {
			rest = []string{"Unknown"}
		}
		return fhirtypes.HumanName{Use: "usual", Family: family, Given: rest, Text: s}
	}
	parts := strings.Fields(s)
	switch len(parts) {
	case 0:
		return fhirtypes.HumanName{Use: "usual", Family: "Unknown", Given: []string{"Unknown"}, Text: s}
	case 1:
		return fhirtypes.HumanName{Use: "usual", Family: parts[0], Given: []string{"Unknown"}, Text: s}
	default:
		return fhirtypes.HumanName{Use: "usual", Family: parts[len(parts)-1], Given: parts[:len(parts)-1], Text: s}
	}
}

var genderMap = map[string]string{
	"male": "male", "female": "female", "other": "other", "unknown": "unknown",
	"m": "male", "f": "female", "u": "unknown", "man": "male", "woman": "female",
}

func normalizeGender(g string) string {
	if v, ok := genderMap[strings.ToLower(strings.TrimSpace(g))]; ok {
		return v
	}
	return "unknown"
}

func hasBirthDateData(data map[string]interface{}) bool {
	for _, k := range []string{"birth_date", "dob", "birthDate"} {
		if _, ok := stringField(data, k); ok {
			return true
		}
	}
	return false
}

var birthDateLayouts = []string{
	"2006-01-02", "01/02/2006", "02/01/2006", "01-02-2006", "2006/01/02",
	"January 2, 2006", "Jan 2, 2006",
}

// normalizeBirthDate parses the supplied birth date through the accepted
// input patterns and always returns YYYY-MM-DD.
func normalizeBirthDate(data map[string]interface{}) (string, error) {
	raw, _ := stringField(data, "birth_date")
	if raw == "" {
		raw, _ = stringField(data, "dob")
	}
	if raw == "" {
		raw, _ = stringField(data, "birthDate")
	}
	for _, layout := range birthDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format("2006-01-02"), nil
		}
	}
	return "", fmt.Errorf("unable to parse birth date: %s", raw)
}

var nonDigitRe = regexp.MustCompile(`\D`)

// FormatPhone normalizes to US (XXX) XXX-XXXX for 10 digits, +1 (XXX)
// XXX-XXXX for 11 digits beginning with 1, otherwise +<digits>.
func FormatPhone(phone string) (string, error) {
	digits := nonDigitRe.ReplaceAllString(phone, "")
	switch {
	case len(digits) == 10:
		return fmt.Sprintf("(%s) %s-%s", digits[:3], digits[3:6], digits[6:]), nil
	case len(digits) == 11 && digits[0] == '1':
		return fmt.Sprintf("+1 (%s) %s-%s", digits[1:4], digits[4:7], digits[7:]), nil
	case len(digits) >= 7:
		return "+" + digits, nil
	default:
		return "", fmt.Errorf("invalid phone number length: %s", phone)
	}
}

// ParsePhone extracts the canonical digit string from a formatted phone
// number, the inverse of FormatPhone.
func ParsePhone(formatted string) string {
	return nonDigitRe.ReplaceAllString(formatted, "")
}

// FormatSSN reformats a digit string to XXX-XX-XXXX.
func FormatSSN(ssn string) (string, error) {
	digits := nonDigitRe.ReplaceAllString(ssn, "")
	if len(digits) != 9 {
		return "", fmt.Errorf("invalid ssn length: %s", ssn)
	}
	return fmt.Sprintf("%s-%s-%s", digits[:3], digits[3:5], digits[5:]), nil
}

func buildTelecom(data map[string]interface{}) []fhirtypes.ContactPoint {
	var out []fhirtypes.ContactPoint
	type entry struct {
		key, use string
	}
	for _, e := range []entry{{"phone", "home"}, {"mobile_phone", "mobile"}, {"work_phone", "work"}} {
		if raw, ok := stringField(data, e.key); ok {
			if formatted, err := FormatPhone(raw); err == nil {
				out = append(out, fhirtypes.ContactPoint{System: "phone", Value: formatted, Use: e.use})
			}
		}
	}
	if email, ok := stringField(data, "email"); ok {
		if ok := emailRe.MatchString(email); ok {
			out = append(out, fhirtypes.ContactPoint{System: "email", Value: strings.ToLower(email), Use: "home"})
		}
	}
	return out
}

var emailRe = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
