// Package coding implements the medical coding registry: system-name to URI
// resolution and system-specific code-format validation, plus construction
// helpers for Coding, CodeableConcept and Quantity values.
package coding

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/fhirflow/fhirflow/pkg/fhirtypes"
)

// UnknownCodingSystemError is returned when a system name has no registered
// URI and does not already look like one.
type UnknownCodingSystemError struct {
	System string
}

func (e *UnknownCodingSystemError) Error() string {
	return fmt.Sprintf("unknown coding system: %s", e.System)
}

// InvalidCodeFormatError is returned when a code fails its system's format
// rule.
type InvalidCodeFormatError struct {
	System string
	Code   string
}

func (e *InvalidCodeFormatError) Error() string {
	return fmt.Sprintf("invalid code format for %s: %s", e.System, e.Code)
}

var (
	loincRe  = regexp.MustCompile(`^\d{1,5}-\d$`)
	icd10Re  = regexp.MustCompile(`^[A-Z]\d{2}(\.\d{1,4})?$`)
	cptRe    = regexp.MustCompile(`^\d{5}$`)
	genericRe = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
)

const cacheCap = 256

// Registry maps coding-system names to URIs and validates codes against
// per-system format rules. Safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	systems map[string]string
	cache   map[string]fhirtypes.Coding
	order   []string // insertion order for cache eviction, oldest first
	log     zerolog.Logger
}

// New returns a Registry preloaded with the standard medical coding systems.
func New(log zerolog.Logger) *Registry {
	r := &Registry{
		cache: make(map[string]fhirtypes.Coding),
		log:   log,
	}
	r.systems = map[string]string{
		"LOINC":     "http://loinc.org",
		"SNOMED":    "http://snomed.info/sct",
		"SNOMED-CT": "http://snomed.info/sct",
		"RXNORM":    "http://www.nlm.nih.gov/research/umls/rxnorm",
		"NDC":       "http://hl7.org/fhir/sid/ndc",
		"ICD10":     "http://hl7.org/fhir/sid/icd-10",
		"ICD10CM":   "http://hl7.org/fhir/sid/icd-10-cm",
		"ICD10PCS":  "http://hl7.org/fhir/sid/icd-10-pcs",
		"CPT":       "http://www.ama-assn.org/go/cpt",
		"UCUM":      "http://unitsofmeasure.org",
		"NPI":       "http://hl7.org/fhir/sid/us-npi",
		"CVX":       "http://hl7.org/fhir/sid/cvx",
		"HL7":       "http://terminology.hl7.org/CodeSystem/",
	}
	return r
}

// GetSystemURI resolves a system name (case-insensitive) to its URI.
func (r *Registry) GetSystemURI(name string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	uri, ok := r.systems[strings.ToUpper(name)]
	return uri, ok
}

// RegisterCustomSystem adds or overwrites a system-name to URI mapping.
func (r *Registry) RegisterCustomSystem(name, uri string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.systems[strings.ToUpper(name)] = uri
	r.log.Info().Str("system", name).Str("uri", uri).Msg("registered custom coding system")
}

// resolveSystem returns a URI for system, treating it as a URI already if it
// starts with "http".
func (r *Registry) resolveSystem(system string) (string, error) {
	if strings.HasPrefix(system, "http") {
		return system, nil
	}
	uri, ok := r.GetSystemURI(system)
	if !ok {
		return "", &UnknownCodingSystemError{System: system}
	}
	return uri, nil
}

// ValidateCode checks a code's format against the rules for its system URI.
func ValidateCode(systemURI, code string) bool {
	if strings.TrimSpace(code) == "" {
		return false
	}
	lower := strings.ToLower(systemURI)
	switch {
	case strings.Contains(lower, "loinc.org"):
		return loincRe.MatchString(code)
	case strings.Contains(lower, "snomed.info"):
		return isDigits(code) && len(code) >= 6
	case strings.Contains(lower, "rxnorm"):
		return isDigits(code) && len(code) >= 1
	case strings.Contains(lower, "icd-10"):
		return icd10Re.MatchString(strings.ToUpper(code))
	case strings.Contains(lower, "ama-assn.org/go/cpt"):
		return cptRe.MatchString(code)
	case strings.Contains(lower, "sid/cvx"):
		return isDigits(code) && len(code) >= 1 && len(code) <= 3
	case strings.Contains(lower, "sid/ndc"):
		stripped := strings.ReplaceAll(code, "-", "")
		return isDigits(stripped) && (len(stripped) == 10 || len(stripped) == 11)
	default:
		return genericRe.MatchString(code)
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	_, err := strconv.ParseUint(s, 10, 64)
	return err == nil
}

// AddCoding builds a Coding, resolving system and validating code format.
func (r *Registry) AddCoding(system, code, display string) (fhirtypes.Coding, error) {
	uri, err := r.resolveSystem(system)
	if err != nil {
		return fhirtypes.Coding{}, err
	}
	if !ValidateCode(uri, code) {
		return fhirtypes.Coding{}, &InvalidCodeFormatError{System: uri, Code: code}
	}
	c := fhirtypes.Coding{System: uri, Code: code, Display: display}
	r.cacheCoding(uri, code, c)
	return c, nil
}

func (r *Registry) cacheCoding(system, code string, c fhirtypes.Coding) {
	key := system + "|" + code
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.cache[key]; !exists {
		if len(r.order) >= cacheCap {
			oldest := r.order[0]
			r.order = r.order[1:]
			delete(r.cache, oldest)
		}
		r.order = append(r.order, key)
	}
	r.cache[key] = c
}

// CreateCodeableConcept builds a single-coding CodeableConcept. text falls
// back to display when not supplied.
func (r *Registry) CreateCodeableConcept(system, code, display, text string) (fhirtypes.CodeableConcept, error) {
	c, err := r.AddCoding(system, code, display)
	if err != nil {
		return fhirtypes.CodeableConcept{}, err
	}
	cc := fhirtypes.CodeableConcept{Coding: []fhirtypes.Coding{c}}
	if text != "" {
		cc.Text = text
	} else if display != "" {
		cc.Text = display
	}
	return cc, nil
}

// CodingInput is one entry for CreateMultipleCodings.
type CodingInput struct {
	System  string
	Code    string
	Display string
}

// CreateMultipleCodings builds a CodeableConcept from several systems; order
// is preserved and the first entry supplies the text fallback.
func (r *Registry) CreateMultipleCodings(inputs []CodingInput) (fhirtypes.CodeableConcept, error) {
	if len(inputs) == 0 {
		return fhirtypes.CodeableConcept{}, fmt.Errorf("at least one coding is required")
	}
	codings := make([]fhirtypes.Coding, 0, len(inputs))
	for _, in := range inputs {
		if in.System == "" || in.Code == "" {
			return fhirtypes.CodeableConcept{}, fmt.Errorf("each coding must have system and code")
		}
		c, err := r.AddCoding(in.System, in.Code, in.Display)
		if err != nil {
			return fhirtypes.CodeableConcept{}, err
		}
		codings = append(codings, c)
	}
	text := inputs[0].Display
	if text == "" {
		text = inputs[0].Code
	}
	return fhirtypes.CodeableConcept{Coding: codings, Text: text}, nil
}

// CreateQuantity builds a Quantity, defaulting the unit system to UCUM.
func (r *Registry) CreateQuantity(value float64, unit, system string) fhirtypes.Quantity {
	if system == "" {
		system = "UCUM"
	}
	uri, ok := r.GetSystemURI(system)
	if !ok {
		uri = system
	}
	return fhirtypes.Quantity{Value: value, Unit: unit, System: uri, Code: unit}
}

// GetSupportedSystems lists every registered system name.
func (r *Registry) GetSupportedSystems() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.systems))
	for name := range r.systems {
		names = append(names, name)
	}
	return names
}

// Statistics reports registry usage for the admin surface.
type Statistics struct {
	SupportedSystems int `json:"supported_systems"`
	CachedCodes      int `json:"cached_codes"`
}

func (r *Registry) Statistics() Statistics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Statistics{SupportedSystems: len(r.systems), CachedCodes: len(r.cache)}
}

// ClearCache drops all cached codings.
func (r *Registry) ClearCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]fhirtypes.Coding)
	r.order = nil
}
