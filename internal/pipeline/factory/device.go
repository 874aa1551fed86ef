package factory

import "github.com/fhirflow/fhirflow/pkg/fhirtypes"

// DeviceFactory builds Device, DeviceUseStatement, and DeviceMetric
// resources for medical equipment tracking.
type DeviceFactory struct {
	*Base
}

func NewDeviceFactory(base *Base) *DeviceFactory { return &DeviceFactory{Base: base} }

var deviceResourceTypes = map[string]struct{}{
	"Device": {}, "DeviceUseStatement": {}, "DeviceMetric": {},
}

func (f *DeviceFactory) Supports(resourceType string) bool {
	_, ok := deviceResourceTypes[resourceType]
	return ok
}

func (f *DeviceFactory) BuildResource(resourceType string, data map[string]interface{}) (fhirtypes.Resource, []string, error) {
	switch resourceType {
	case "Device":
		return f.buildDevice(data), nil, nil
	case "DeviceUseStatement":
		return f.buildDeviceUseStatement(data)
	case "DeviceMetric":
		return f.buildDeviceMetric(data), nil, nil
	default:
		return nil, nil, &FactoryInputError{ResourceType: resourceType, Reason: "unsupported"}
	}
}

var deviceTypeSNOMED = map[string]struct{ Code, Display string }{
	"iv pump":        {"257268009", "Intravenous infusion pump"},
	"infusion pump":  {"257268009", "Intravenous infusion pump"},
	"pca pump":       {"182707008", "Patient controlled analgesia pump"},
	"syringe pump":   {"303727007", "Syringe pump"},
	"ventilator":     {"40617009", "Artificial respiration"},
	"defibrillator":  {"251832004", "Defibrillator"},
	"monitor":        {"264957007", "Patient monitoring device"},
}

var deviceNameInferenceOrder = []string{
	"iv pump", "infusion pump", "pca pump", "syringe pump", "ventilator", "vent", "defibrillator", "defib", "monitor",
}

func inferDeviceTypeFromName(name string) string {
	key := normalizeLookupKey(name)
	for _, term := range deviceNameInferenceOrder {
		if containsWord(key, term) {
			switch term {
			case "vent":
				return "ventilator"
			case "defib":
				return "defibrillator"
			default:
				return term
			}
		}
	}
	return ""
}

func containsWord(haystack, needle string) bool {
	return len(needle) > 0 && (haystack == needle || indexOf(haystack, needle) >= 0)
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

func (f *DeviceFactory) deviceTypeCoding(deviceType string) fhirtypes.CodeableConcept {
	key := normalizeLookupKey(deviceType)
	if t, ok := deviceTypeSNOMED[key]; ok {
		if cc, err := f.Coding.CreateCodeableConcept("SNOMED-CT", t.Code, t.Display, ""); err == nil {
			return cc
		}
	}
	return fhirtypes.CodeableConcept{Text: deviceType}
}

func (f *DeviceFactory) buildDevice(data map[string]interface{}) fhirtypes.Resource {
	name := firstNonEmpty(data, "name", "device_name")
	if name == "" {
		name = "Medical Device"
	}
	res := fhirtypes.Resource{
		"resourceType": "Device",
		"status":       normalizeStatus(data, map[string]bool{"active": true, "inactive": true, "entered-in-error": true, "unknown": true}, "active"),
		"deviceName":   []map[string]interface{}{{"name": name, "type": "user-friendly-name"}},
	}
	if id := firstNonEmpty(data, "identifier"); id != "" {
		res["identifier"] = []fhirtypes.Identifier{{Use: "official", Value: id}}
	}
	deviceType := firstNonEmpty(data, "type", "device_type")
	if deviceType == "" {
		deviceType = inferDeviceTypeFromName(name)
	}
	if deviceType != "" {
		res["type"] = f.deviceTypeCoding(deviceType)
	}
	if m := firstNonEmpty(data, "manufacturer"); m != "" {
		res["manufacturer"] = m
	}
	if m := firstNonEmpty(data, "model", "model_number"); m != "" {
		res["modelNumber"] = m
	}
	return res
}

func (f *DeviceFactory) buildDeviceUseStatement(data map[string]interface{}) (fhirtypes.Resource, []string, error) {
	res := fhirtypes.Resource{
		"resourceType": "DeviceUseStatement",
		"status":       normalizeStatus(data, map[string]bool{"active": true, "completed": true, "entered-in-error": true, "intended": true, "stopped": true, "on-hold": true}, "active"),
	}
	patientRef := firstNonEmpty(data, "patient_id", "patient_ref")
	if patientRef == "" {
		return nil, nil, &FactoryInputError{ResourceType: "DeviceUseStatement", Reason: "patient_ref is required"}
	}
	res["subject"] = fhirtypes.Reference{Reference: normalizePatientRef(patientRef)}

	deviceRef := firstNonEmpty(data, "device_ref", "device_id")
	if deviceRef == "" {
		return nil, nil, &FactoryInputError{ResourceType: "DeviceUseStatement", Reason: "device_ref is required"}
	}
	res["device"] = fhirtypes.Reference{Reference: normalizeTypedRef(deviceRef, "Device")}

	if reason := firstNonEmpty(data, "reason", "indication"); reason != "" {
		res["reasonCode"] = []fhirtypes.CodeableConcept{{Text: reason}}
	}
	return res, nil, nil
}

func (f *DeviceFactory) buildDeviceMetric(data map[string]interface{}) fhirtypes.Resource {
	res := fhirtypes.Resource{
		"resourceType":      "DeviceMetric",
		"category":          firstNonEmptyOr(data, "measurement", "category"),
		"operationalStatus": firstNonEmptyOr(data, "on", "operational_status"),
	}
	if deviceRef := firstNonEmpty(data, "device_ref", "device_id"); deviceRef != "" {
		res["source"] = fhirtypes.Reference{Reference: normalizeTypedRef(deviceRef, "Device")}
	}
	metricType := firstNonEmpty(data, "type", "metric_type")
	if metricType != "" {
		res["type"] = f.metricTypeCoding(metricType)
	}
	if unit := firstNonEmpty(data, "unit"); unit != "" {
		display := firstNonEmpty(data, "unit_display")
		if display == "" {
			display = unit
		}
		if cc, err := f.Coding.CreateCodeableConcept("UCUM", unit, display, ""); err == nil {
			res["unit"] = cc
		}
	}
	return res
}

var metricTypeLOINC = map[string]struct{ Code, Display string }{
	"heart_rate":         {"8867-4", "Heart rate"},
	"blood_pressure":     {"85354-9", "Blood pressure panel"},
	"temperature":        {"8310-5", "Body temperature"},
	"oxygen_saturation":  {"2708-6", "Oxygen saturation"},
	"flow_rate":          {"76282-3", "Infusion rate"},
}

func (f *DeviceFactory) metricTypeCoding(metricType string) fhirtypes.CodeableConcept {
	key := normalizeLookupKey(metricType)
	if t, ok := metricTypeLOINC[key]; ok {
		if cc, err := f.Coding.CreateCodeableConcept("LOINC", t.Code, t.Display, ""); err == nil {
			return cc
		}
	}
	return fhirtypes.CodeableConcept{Text: metricType}
}

func normalizeTypedRef(ref, resourceType string) string {
	if hasRefPrefix(ref) {
		return ref
	}
	return resourceType + "/" + ref
}

func hasRefPrefix(ref string) bool {
	return len(ref) > 0 && (ref[0] == '#' || indexOf(ref, "/") >= 0 || indexOf(ref, "http") == 0)
}

func firstNonEmptyOr(data map[string]interface{}, fallback string, keys ...string) string {
	if v := firstNonEmpty(data, keys...); v != "" {
		return v
	}
	return fallback
}
