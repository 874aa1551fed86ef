package factory

import (
	"strings"

	"github.com/fhirflow/fhirflow/pkg/fhirtypes"
)

// OrganizationalFactory builds Location, Organization, and
// HealthcareService resources.
type OrganizationalFactory struct {
	*Base
}

func NewOrganizationalFactory(base *Base) *OrganizationalFactory {
	return &OrganizationalFactory{Base: base}
}

var organizationalResourceTypes = map[string]struct{}{
	"Location": {}, "Organization": {}, "HealthcareService": {},
}

func (f *OrganizationalFactory) Supports(resourceType string) bool {
	_, ok := organizationalResourceTypes[resourceType]
	return ok
}

var locationTypeCodes = map[string]struct{ Code, Display string }{
	"hospital":       {"22232009", "Hospital"},
	"clinic":         {"35971002", "Ambulatory care site"},
	"pharmacy":       {"264372000", "Pharmacy"},
	"laboratory":     {"261904005", "Laboratory"},
	"imaging":        {"309964003", "Radiology department"},
	"emergency":      {"225728007", "Emergency department"},
	"icu":            {"309904001", "Intensive care unit"},
	"operating_room": {"225746001", "Operating room"},
	"ward":           {"225747005", "Ward"},
	"outpatient":     {"33022008", "Outpatient clinic"},
	"home":           {"264362003", "Home"},
	"nursing_home":   {"42665001", "Nursing home"},
	"mobile":         {"261904005", "Mobile unit"},
}

var physicalTypeCodes = map[string]struct{ Code, Display string }{
	"site": {"si", "Site"}, "building": {"bu", "Building"}, "wing": {"wi", "Wing"},
	"ward": {"wa", "Ward"}, "level": {"lvl", "Level"}, "corridor": {"co", "Corridor"},
	"room": {"ro", "Room"}, "bed": {"bd", "Bed"}, "vehicle": {"ve", "Vehicle"},
	"house": {"ho", "House"}, "cabinet": {"ca", "Cabinet"}, "road": {"rd", "Road"},
	"area": {"area", "Area"}, "jurisdiction": {"jdn", "Jurisdiction"},
}

var organizationTypeCodes = map[string]struct{ Code, Display string }{
	"provider":          {"prov", "Healthcare Provider"},
	"department":        {"dept", "Hospital Department"},
	"team":              {"team", "Organizational team"},
	"government":        {"govt", "Government"},
	"insurance":         {"ins", "Insurance Company"},
	"educational":       {"edu", "Educational Institute"},
	"religious":         {"reli", "Religious Institution"},
	"clinical_research": {"crs", "Clinical Research Sponsor"},
	"community_group":   {"cg", "Community Group"},
	"payer":             {"pay", "Payer"},
	"other":             {"other", "Other"},
}

var serviceCategoryCodes = map[string]struct{ Code, Display string }{
	"general_practice": {"1", "General Practice"},
	"emergency":        {"2", "Emergency"},
	"specialist":       {"3", "Specialist Medical"},
	"diagnostic":       {"4", "Diagnostic"},
	"pharmacy":         {"5", "Pharmacy"},
	"mental_health":    {"6", "Mental Health"},
	"rehabilitation":   {"7", "Rehabilitation"},
	"aged_care":        {"8", "Aged Care"},
	"palliative":       {"9", "Palliative Care"},
	"dental":           {"10", "Dental"},
	"allied_health":    {"11", "Allied Health"},
	"hospital":         {"12", "Hospital"},
	"transport":        {"13", "Transport"},
}

func lookupCoding(table map[string]struct{ Code, Display string }, key, system, fallbackCode string) fhirtypes.Coding {
	norm := strings.ReplaceAll(strings.ToLower(key), " ", "_")
	if t, ok := table[norm]; ok {
		return fhirtypes.Coding{System: system, Code: t.Code, Display: t.Display}
	}
	return fhirtypes.Coding{System: system, Code: fallbackCode, Display: key}
}

func (f *OrganizationalFactory) buildLocation(data map[string]interface{}) fhirtypes.Resource {
	res := fhirtypes.Resource{
		"resourceType": "Location",
		"status":       firstNonEmptyOr(data, "active", "status"),
	}
	if name, ok := stringField(data, "name"); ok {
		res["name"] = name
	}
	if desc, ok := stringField(data, "description"); ok {
		res["description"] = desc
	}
	if mode, ok := stringField(data, "mode"); ok {
		mode = strings.ToLower(mode)
		if mode == "instance" || mode == "kind" {
			res["mode"] = mode
		}
	}
	if t, ok := stringField(data, "type"); ok {
		res["type"] = []fhirtypes.CodeableConcept{{Coding: []fhirtypes.Coding{lookupCoding(locationTypeCodes, t, "http://snomed.info/sct", "43741000")}}}
	}
	if t, ok := stringField(data, "physical_type"); ok {
		res["physicalType"] = fhirtypes.CodeableConcept{Coding: []fhirtypes.Coding{lookupCoding(physicalTypeCodes, t, "http://terminology.hl7.org/CodeSystem/location-physical-type", "area")}}
	}
	if org := firstNonEmpty(data, "managing_organization"); org != "" {
		res["managingOrganization"] = fhirtypes.Reference{Reference: normalizeTypedRef(org, "Organization")}
	}
	if parent := firstNonEmpty(data, "part_of"); parent != "" {
		res["partOf"] = fhirtypes.Reference{Reference: normalizeTypedRef(parent, "Location")}
	}
	if addr := buildAddress(data); addr != nil {
		res["address"] = *addr
	}
	return res
}

func buildAddress(data map[string]interface{}) *fhirtypes.Address {
	addrData, ok := data["address"].(map[string]interface{})
	if !ok {
		if _, hasLine := data["line"]; !hasLine {
			return nil
		}
		addrData = data
	}
	addr := fhirtypes.Address{}
	if line, ok := stringField(addrData, "line"); ok {
		addr.Line = []string{line}
	}
	if city, ok := stringField(addrData, "city"); ok {
		addr.City = city
	}
	if state, ok := stringField(addrData, "state"); ok {
		addr.State = state
	}
	if postal, ok := stringField(addrData, "postal_code"); ok {
		addr.PostalCode = postal
	}
	if country, ok := stringField(addrData, "country"); ok {
		addr.Country = country
	}
	return &addr
}

func (f *OrganizationalFactory) buildOrganization(data map[string]interface{}) fhirtypes.Resource {
	res := fhirtypes.Resource{"resourceType": "Organization", "active": true}
	if v, ok := data["active"].(bool); ok {
		res["active"] = v
	}
	if name, ok := stringField(data, "name"); ok {
		res["name"] = name
	}
	if t, ok := stringField(data, "type"); ok {
		res["type"] = []fhirtypes.CodeableConcept{{Coding: []fhirtypes.Coding{lookupCoding(organizationTypeCodes, t, "http://terminology.hl7.org/CodeSystem/organization-type", "other")}}}
	}
	if npi := firstNonEmpty(data, "npi"); npi != "" {
		res["identifier"] = []fhirtypes.Identifier{{System: "http://hl7.org/fhir/sid/us-npi", Value: npi}}
	}
	if parent := firstNonEmpty(data, "part_of"); parent != "" {
		res["partOf"] = fhirtypes.Reference{Reference: normalizeTypedRef(parent, "Organization")}
	}
	if addr := buildAddress(data); addr != nil {
		res["address"] = []fhirtypes.Address{*addr}
	}
	return res
}

func (f *OrganizationalFactory) buildHealthcareService(data map[string]interface{}) fhirtypes.Resource {
	res := fhirtypes.Resource{"resourceType": "HealthcareService", "active": true}
	if v, ok := data["active"].(bool); ok {
		res["active"] = v
	}
	if name, ok := stringField(data, "name"); ok {
		res["name"] = name
	}
	if comment, ok := stringField(data, "comment"); ok {
		res["comment"] = comment
	}
	if org := firstNonEmpty(data, "provided_by"); org != "" {
		res["providedBy"] = fhirtypes.Reference{Reference: normalizeTypedRef(org, "Organization")}
	}
	if loc := firstNonEmpty(data, "location"); loc != "" {
		res["location"] = []fhirtypes.Reference{{Reference: normalizeTypedRef(loc, "Location")}}
	}
	if cat, ok := stringField(data, "category"); ok {
		res["category"] = []fhirtypes.CodeableConcept{{Coding: []fhirtypes.Coding{lookupCoding(serviceCategoryCodes, cat, "http://terminology.hl7.org/CodeSystem/service-category", "0")}}}
	}
	return res
}

func (f *OrganizationalFactory) BuildResource(resourceType string, data map[string]interface{}) (fhirtypes.Resource, []string, error) {
	switch resourceType {
	case "Location":
		return f.buildLocation(data), nil, nil
	case "Organization":
		return f.buildOrganization(data), nil, nil
	case "HealthcareService":
		return f.buildHealthcareService(data), nil, nil
	default:
		return nil, nil, &FactoryInputError{ResourceType: resourceType, Reason: "unsupported"}
	}
}
