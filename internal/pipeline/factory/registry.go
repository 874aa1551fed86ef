package factory

import (
	"sync"
	"time"

	"github.com/fhirflow/fhirflow/internal/pipeline/coding"
	"github.com/fhirflow/fhirflow/internal/pipeline/reference"
	"github.com/fhirflow/fhirflow/internal/pipeline/validate"
	"github.com/fhirflow/fhirflow/pkg/fhirtypes"
)

// FeatureFlags gates which specialized factory handles each resource
// family, falling back to a generic mock factory when off.
type FeatureFlags struct {
	UseNewPatientFactory    bool
	UseNewMedicationFactory bool
	UseNewClinicalFactory   bool
	UseNewCarePlanFactory   bool
	UseNewEncounterFactory  bool
	UseLegacyFactory        bool

	// RejectSynthesizedImagingUIDs makes the clinical factory reject an
	// ImagingStudy series with no uid instead of minting a 2.25-root UID.
	RejectSynthesizedImagingUIDs bool
}

// DefaultFeatureFlags turns every specialized factory on.
func DefaultFeatureFlags() FeatureFlags {
	return FeatureFlags{
		UseNewPatientFactory:    true,
		UseNewMedicationFactory: true,
		UseNewClinicalFactory:   true,
		UseNewCarePlanFactory:   true,
		UseNewEncounterFactory:  true,
	}
}

var factoryResourceTypes = map[string]string{
	"Patient": "patient",

	"MedicationRequest": "medication", "MedicationAdministration": "medication",
	"MedicationDispense": "medication", "MedicationStatement": "medication", "Medication": "medication",

	"Observation": "clinical", "DiagnosticReport": "clinical", "ServiceRequest": "clinical",
	"Condition": "clinical", "AllergyIntolerance": "clinical", "RiskAssessment": "clinical", "ImagingStudy": "clinical",

	"Device": "device", "DeviceUseStatement": "device", "DeviceMetric": "device",

	"Encounter": "encounter", "Goal": "encounter", "CareTeam": "encounter",

	"CarePlan": "careplan",

	"Location": "organizational", "Organization": "organizational", "HealthcareService": "organizational",

	"Consent": "consent",
}

var familyFlag = map[string]func(FeatureFlags) bool{
	"patient":    func(f FeatureFlags) bool { return f.UseNewPatientFactory },
	"medication": func(f FeatureFlags) bool { return f.UseNewMedicationFactory },
	"clinical":   func(f FeatureFlags) bool { return f.UseNewClinicalFactory },
	"careplan":   func(f FeatureFlags) bool { return f.UseNewCarePlanFactory },
	"encounter":  func(f FeatureFlags) bool { return f.UseNewEncounterFactory },
}

// mockBuilder is the fallback used when a family's feature flag is off. It
// still runs through the shared validation/metadata template so a disabled
// factory degrades gracefully rather than failing outright.
type mockBuilder struct {
	resourceType string
}

func (m *mockBuilder) Supports(resourceType string) bool { return resourceType == m.resourceType }

func (m *mockBuilder) BuildResource(resourceType string, data map[string]interface{}) (fhirtypes.Resource, []string, error) {
	res := fhirtypes.Resource{"resourceType": resourceType}
	for k, v := range data {
		res[k] = v
	}
	return res, []string{"built via fallback mock factory: " + resourceType}, nil
}

// Registry is the process-wide factory registry: resource type to
// factory, lazily instantiated and cached.
type Registry struct {
	coding    *coding.Registry
	validator *validate.Registry
	refs      *reference.Manager
	flags     FeatureFlags

	mu        sync.Mutex
	factories map[string]ResourceBuilder
	bases     map[string]*Base
}

func NewRegistry(codingRegistry *coding.Registry, validator *validate.Registry, refs *reference.Manager, flags FeatureFlags) *Registry {
	return &Registry{
		coding:    codingRegistry,
		validator: validator,
		refs:      refs,
		flags:     flags,
		factories: make(map[string]ResourceBuilder),
		bases:     make(map[string]*Base),
	}
}

// Get returns the cached factory and its Base for resourceType, lazily
// instantiating it (and caching it) on first lookup.
func (r *Registry) Get(resourceType string) (ResourceBuilder, *Base, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if f, ok := r.factories[resourceType]; ok {
		return f, r.bases[resourceType], true
	}

	family, ok := factoryResourceTypes[resourceType]
	if !ok {
		return nil, nil, false
	}

	base := NewBase(family, r.coding, r.validator, r.refs)

	enabled := true
	if check, ok := familyFlag[family]; ok {
		enabled = check(r.flags) && !r.flags.UseLegacyFactory
	}

	var builder ResourceBuilder
	if !enabled {
		builder = &mockBuilder{resourceType: resourceType}
	} else {
		switch family {
		case "patient":
			builder = NewPatientFactory(base)
		case "medication":
			builder = NewMedicationFactory(base)
		case "clinical":
			builder = NewClinicalFactory(base, r.flags.RejectSynthesizedImagingUIDs)
		case "device":
			builder = NewDeviceFactory(base)
		case "encounter":
			builder = NewEncounterFactory(base)
		case "careplan":
			builder = NewCarePlanFactory(base)
		case "organizational":
			builder = NewOrganizationalFactory(base)
		case "consent":
			builder = NewConsentFactory(base)
		default:
			builder = &mockBuilder{resourceType: resourceType}
		}
	}

	r.factories[resourceType] = builder
	r.bases[resourceType] = base
	return builder, base, true
}

// Create looks up (and lazily instantiates) the factory for resourceType
// and runs its Base.Create template.
func (r *Registry) Create(resourceType string, data map[string]interface{}, requestID string) (fhirtypes.Resource, []string, error) {
	builder, base, ok := r.Get(resourceType)
	if !ok {
		return nil, nil, &FactoryInputError{ResourceType: resourceType, Reason: "no factory registered for this resource type"}
	}
	return base.Create(builder, resourceType, data, requestID)
}

// ClearCache discards every cached factory instance, forcing re-lookup and
// re-instantiation on next Get/Create.
func (r *Registry) ClearCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories = make(map[string]ResourceBuilder)
	r.bases = make(map[string]*Base)
}

// HealthStatus reports the result of a synthetic Patient lookup.
type HealthStatus struct {
	PerformanceOK bool
	DurationMs    float64
}

// HealthCheck exercises a test Patient lookup end to end and reports
// whether it completed within the 10ms budget.
func (r *Registry) HealthCheck() HealthStatus {
	start := time.Now()
	_, _, _ = r.Create("Patient", map[string]interface{}{"name": "Health Check, Synthetic"}, "healthcheck")
	elapsed := float64(time.Since(start).Microseconds()) / 1000.0
	return HealthStatus{PerformanceOK: elapsed < 10.0, DurationMs: elapsed}
}
