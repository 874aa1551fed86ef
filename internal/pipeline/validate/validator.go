// Package validate implements structural FHIR R4 validation: required
// fields, reference format, coding shape, date shape, and id/resourceType
// shape, grounded on the per-check-method pattern used throughout the
// pipeline.
package validate

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fhirflow/fhirflow/internal/pipeline/reference"
	"github.com/fhirflow/fhirflow/pkg/fhirtypes"
)

var (
	idRe           = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)
	resourceTypeRe = regexp.MustCompile(`^[A-Z][A-Za-z]*$`)
	uriRe          = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.-]*:`)
	yearRe         = regexp.MustCompile(`^\d{4}$`)
	yearMonthRe    = regexp.MustCompile(`^\d{4}-\d{2}$`)
	dateRe         = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// dateFieldNames are the field names whose values must match a FHIR date
// form.
var dateFieldNames = map[string]struct{}{
	"date": {}, "dateTime": {}, "effectiveDateTime": {}, "authoredOn": {}, "created": {},
}

// requiredFields maps resourceType to the set of top-level fields that must
// be present and non-empty.
var requiredFields = map[string][]string{
	"MedicationRequest":       {"subject", "medicationCodeableConcept"},
	"MedicationAdministration": {"subject", "medicationCodeableConcept", "status"},
	"Observation":             {"subject", "code", "status"},
	"ServiceRequest":          {"subject", "code", "status"},
	"Condition":               {"subject", "code"},
	"Encounter":               {"subject", "status", "class"},
	"DiagnosticReport":        {"subject", "code", "status"},
	"AllergyIntolerance":      {"patient", "code"},
	"CarePlan":                {"subject", "status"},
	"Immunization":            {"patient", "vaccineCode", "status"},
}

// CustomValidator may be registered to run in addition to the built-in
// checks; it returns any additional error messages.
type CustomValidator func(resource fhirtypes.Resource) []string

// Result holds the outcome of a single ValidateResource call.
type Result struct {
	Valid  bool
	Errors []string
}

// Registry runs structural validation and memoizes results on a canonical
// JSON digest of the resource.
type Registry struct {
	mu              sync.Mutex
	cache           map[string]Result
	customs         []CustomValidator
	lastErrors      []string
	lastErrorsMutex sync.Mutex
}

func New() *Registry {
	return &Registry{cache: make(map[string]Result)}
}

// RegisterCustomValidator adds a validator invoked, in registration order,
// after the built-in checks.
func (r *Registry) RegisterCustomValidator(v CustomValidator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.customs = append(r.customs, v)
}

// ClearCache drops all memoized validation results.
func (r *Registry) ClearCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]Result)
}

func digest(resource fhirtypes.Resource) (string, error) {
	b, err := json.Marshal(canonicalize(resource))
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalize produces a deterministically key-ordered representation so
// JSON marshaling of equal maps always yields the same digest.
func canonicalize(v interface{}) interface{} {
	switch t := v.(type) {
	case fhirtypes.Resource:
		return canonicalize(map[string]interface{}(t))
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]interface{}, 0, len(keys))
		for _, k := range keys {
			out = append(out, [2]interface{}{k, canonicalize(t[k])})
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = canonicalize(e)
		}
		return out
	default:
		return v
	}
}

// ValidateResource runs every built-in check against resource, caching the
// verdict on a digest of its content. Errors accumulate only for the most
// recent call.
func (r *Registry) ValidateResource(resource fhirtypes.Resource) Result {
	key, err := digest(resource)
	if err == nil {
		r.mu.Lock()
		if cached, ok := r.cache[key]; ok {
			r.mu.Unlock()
			r.setLastErrors(cached.Errors)
			return cached
		}
		r.mu.Unlock()
	}

	var errs []string
	errs = append(errs, validateResourceType(resource)...)
	errs = append(errs, validateID(resource)...)
	errs = append(errs, validateRequiredFields(resource)...)
	errs = append(errs, validateIdentifiers(resource)...)
	errs = append(errs, validateReferencesRecursive(resource)...)
	errs = append(errs, validateCodingsRecursive(resource)...)
	errs = append(errs, validateDatesRecursive(resource)...)

	r.mu.Lock()
	for _, c := range r.customs {
		errs = append(errs, c(resource)...)
	}
	r.mu.Unlock()

	result := Result{Valid: len(errs) == 0, Errors: errs}
	if err == nil {
		r.mu.Lock()
		r.cache[key] = result
		r.mu.Unlock()
	}
	r.setLastErrors(errs)
	return result
}

func (r *Registry) setLastErrors(errs []string) {
	r.lastErrorsMutex.Lock()
	defer r.lastErrorsMutex.Unlock()
	r.lastErrors = errs
}

// GetValidationErrors returns the error list from the most recent
// ValidateResource call.
func (r *Registry) GetValidationErrors() []string {
	r.lastErrorsMutex.Lock()
	defer r.lastErrorsMutex.Unlock()
	return r.lastErrors
}

func validateResourceType(resource fhirtypes.Resource) []string {
	rt := resource.ResourceType()
	if rt == "" {
		return []string{"resourceType is required"}
	}
	if !resourceTypeRe.MatchString(rt) {
		return []string{fmt.Sprintf("resourceType %q is not a PascalCase identifier", rt)}
	}
	return nil
}

func validateID(resource fhirtypes.Resource) []string {
	id, ok := resource["id"]
	if !ok {
		return nil
	}
	s, ok := id.(string)
	if !ok || !idRe.MatchString(s) {
		return []string{fmt.Sprintf("id %v does not match [A-Za-z0-9._-]{1,64}", id)}
	}
	return nil
}

// isEmptyValue reports whether v counts as "missing" for required-field
// purposes (nil, empty string, empty slice/map).
func isEmptyValue(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []interface{}:
		return len(t) == 0
	case map[string]interface{}:
		return len(t) == 0
	case fhirtypes.Resource:
		return len(t) == 0
	default:
		return false
	}
}

func validateRequiredFields(resource fhirtypes.Resource) []string {
	fields, ok := requiredFields[resource.ResourceType()]
	if !ok {
		return nil
	}
	var errs []string
	for _, f := range fields {
		v, present := resource[f]
		if !present || isEmptyValue(v) {
			errs = append(errs, fmt.Sprintf("%s is required on %s", f, resource.ResourceType()))
		}
	}
	return errs
}

func validateIdentifiers(resource fhirtypes.Resource) []string {
	var errs []string
	var walk func(v interface{})
	walk = func(v interface{}) {
		switch t := v.(type) {
		case fhirtypes.Identifier:
			if strings.TrimSpace(t.Value) == "" {
				errs = append(errs, "identifier.value must be non-empty")
			}
			if t.System != "" && !uriRe.MatchString(t.System) {
				errs = append(errs, fmt.Sprintf("identifier.system %q is not a URI", t.System))
			}
		case []fhirtypes.Identifier:
			for _, id := range t {
				walk(id)
			}
		case fhirtypes.Resource:
			for _, val := range t {
				walk(val)
			}
		case map[string]interface{}:
			for _, val := range t {
				walk(val)
			}
		case []interface{}:
			for _, val := range t {
				walk(val)
			}
		}
	}
	walk(resource)
	return errs
}

func validateReferencesRecursive(resource fhirtypes.Resource) []string {
	var errs []string
	var walk func(v interface{})
	walk = func(v interface{}) {
		switch t := v.(type) {
		case fhirtypes.Reference:
			if t.Reference != "" && !reference.ValidateReferenceFormat(t.Reference) {
				errs = append(errs, fmt.Sprintf("invalid reference format: %s", t.Reference))
			}
		case fhirtypes.Resource:
			for key, val := range t {
				if key == "reference" {
					if s, ok := val.(string); ok && !reference.ValidateReferenceFormat(s) {
						errs = append(errs, fmt.Sprintf("invalid reference format: %s", s))
						continue
					}
				}
				walk(val)
			}
		case map[string]interface{}:
			for key, val := range t {
				if key == "reference" {
					if s, ok := val.(string); ok && !reference.ValidateReferenceFormat(s) {
						errs = append(errs, fmt.Sprintf("invalid reference format: %s", s))
						continue
					}
				}
				walk(val)
			}
		case []interface{}:
			for _, val := range t {
				walk(val)
			}
		}
	}
	walk(resource)
	return errs
}

func validateCodingsRecursive(resource fhirtypes.Resource) []string {
	var errs []string
	var walk func(v interface{})
	walk = func(v interface{}) {
		switch t := v.(type) {
		case fhirtypes.Coding:
			if t.System == "" || !uriRe.MatchString(t.System) {
				errs = append(errs, fmt.Sprintf("coding.system %q is not a URI", t.System))
			}
			if strings.TrimSpace(t.Code) == "" {
				errs = append(errs, "coding.code must be non-empty")
			}
		case fhirtypes.CodeableConcept:
			for _, c := range t.Coding {
				walk(c)
			}
		case fhirtypes.Resource:
			for _, val := range t {
				walk(val)
			}
		case map[string]interface{}:
			for _, val := range t {
				walk(val)
			}
		case []interface{}:
			for _, val := range t {
				walk(val)
			}
		}
	}
	walk(resource)
	return errs
}

// isValidFHIRDate reports whether s matches one of the four permitted FHIR
// date forms: YYYY, YYYY-MM, YYYY-MM-DD, or full RFC3339 with offset.
func isValidFHIRDate(s string) bool {
	if yearRe.MatchString(s) || yearMonthRe.MatchString(s) || dateRe.MatchString(s) {
		return true
	}
	_, err := time.Parse(time.RFC3339, s)
	return err == nil
}

func validateDatesRecursive(resource fhirtypes.Resource) []string {
	var errs []string
	var walk func(v interface{})
	walk = func(v interface{}) {
		switch t := v.(type) {
		case fhirtypes.Resource:
			for key, val := range t {
				if _, isDateField := dateFieldNames[key]; isDateField {
					if s, ok := val.(string); ok && !isValidFHIRDate(s) {
						errs = append(errs, fmt.Sprintf("%s value %q is not a valid FHIR date", key, s))
						continue
					}
				}
				walk(val)
			}
		case map[string]interface{}:
			for key, val := range t {
				if _, isDateField := dateFieldNames[key]; isDateField {
					if s, ok := val.(string); ok && !isValidFHIRDate(s) {
						errs = append(errs, fmt.Sprintf("%s value %q is not a valid FHIR date", key, s))
						continue
					}
				}
				walk(val)
			}
		case []interface{}:
			for _, val := range t {
				walk(val)
			}
		}
	}
	walk(resource)
	return errs
}
