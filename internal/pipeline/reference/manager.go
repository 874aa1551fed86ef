// Package reference implements the FHIR reference manager: building and
// resolving Type/id references, forward/reverse reference indices, and
// human display-text derivation for references.
package reference

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/fhirflow/fhirflow/pkg/fhirtypes"
)

// refFormatRe matches the permitted reference forms: Type/id,
// #id (contained), an absolute URI (http(s) or urn:, covering the
// urn:uuid: fullUrls the bundle assembler mints), or
// Type/id/_history/version.
var refFormatRe = regexp.MustCompile(`^(#[A-Za-z0-9._-]{1,64}|[A-Za-z]+/[A-Za-z0-9._-]{1,64}(/_history/[A-Za-z0-9._-]+)?|https?://\S+|urn:[A-Za-z0-9][A-Za-z0-9-]*:\S+)$`)

// ValidateReferenceFormat reports whether s matches one of the permitted
// FHIR reference string forms.
func ValidateReferenceFormat(s string) bool {
	return refFormatRe.MatchString(s)
}

// Manager maintains the forward/reverse reference indices and a resource
// cache keyed by canonical Type/id reference string.
type Manager struct {
	mu        sync.Mutex
	resources map[string]fhirtypes.Resource
	forward   map[string]map[string]struct{} // source -> targets
	reverse   map[string]map[string]struct{} // target -> sources
}

func New() *Manager {
	return &Manager{
		resources: make(map[string]fhirtypes.Resource),
		forward:   make(map[string]map[string]struct{}),
		reverse:   make(map[string]map[string]struct{}),
	}
}

// CreateReference assigns an id to resource if missing (format
// <Type>-<uuid>), caches it, and returns its Type/id reference string.
func (m *Manager) CreateReference(resource fhirtypes.Resource) (string, error) {
	resourceType := resource.ResourceType()
	if resourceType == "" {
		return "", fmt.Errorf("resource must have resourceType")
	}
	id := resource.ID()
	if id == "" {
		id = fmt.Sprintf("%s-%s", resourceType, uuid.NewString())
		resource.SetID(id)
	}
	ref := fhirtypes.FormatReference(resourceType, id)
	if !ValidateReferenceFormat(ref) {
		return "", fmt.Errorf("invalid resource id format: %s", id)
	}
	m.cache(ref, resource)
	return ref, nil
}

// CreateReferenceDict builds a full Reference value, synthesizing a display
// string from the target resource when one isn't supplied.
func (m *Manager) CreateReferenceDict(resource fhirtypes.Resource, display string) (fhirtypes.Reference, error) {
	ref, err := m.CreateReference(resource)
	if err != nil {
		return fhirtypes.Reference{}, err
	}
	if display == "" {
		display = deriveDisplay(resource)
	}
	return fhirtypes.Reference{Reference: ref, Display: display}, nil
}

// deriveDisplay synthesizes human display text per resource type.
func deriveDisplay(r fhirtypes.Resource) string {
	switch r.ResourceType() {
	case "Patient", "Practitioner":
		if names, ok := r["name"].([]fhirtypes.HumanName); ok && len(names) > 0 {
			given := ""
			if len(names[0].Given) > 0 {
				given = names[0].Given[0]
			}
			return strings.TrimSpace(given + " " + names[0].Family)
		}
	case "Medication", "Condition", "Observation":
		if cc, ok := r["code"].(fhirtypes.CodeableConcept); ok {
			if len(cc.Coding) > 0 && cc.Coding[0].Display != "" {
				return cc.Coding[0].Display
			}
			if len(cc.Coding) > 0 {
				return cc.Coding[0].Code
			}
			if cc.Text != "" {
				return cc.Text
			}
		}
	}
	return fhirtypes.FormatReference(r.ResourceType(), r.ID())
}

func (m *Manager) cache(ref string, resource fhirtypes.Resource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources[ref] = resource
	m.indexReferences(ref, resource)
}

// indexReferences walks resource for nested "reference" keys and records
// forward/reverse edges from ref to each target found.
func (m *Manager) indexReferences(source string, node interface{}) {
	switch v := node.(type) {
	case fhirtypes.Resource:
		for key, val := range v {
			if key == "reference" {
				if s, ok := val.(string); ok {
					m.addEdge(source, canonicalTarget(s))
					continue
				}
			}
			m.indexReferences(source, val)
		}
	case map[string]interface{}:
		for key, val := range v {
			if key == "reference" {
				if s, ok := val.(string); ok {
					m.addEdge(source, canonicalTarget(s))
					continue
				}
			}
			m.indexReferences(source, val)
		}
	case fhirtypes.Reference:
		m.addEdge(source, canonicalTarget(v.Reference))
	case []interface{}:
		for _, item := range v {
			m.indexReferences(source, item)
		}
	}
}

func (m *Manager) addEdge(source, target string) {
	if m.forward[source] == nil {
		m.forward[source] = make(map[string]struct{})
	}
	m.forward[source][target] = struct{}{}
	if m.reverse[target] == nil {
		m.reverse[target] = make(map[string]struct{})
	}
	m.reverse[target][source] = struct{}{}
}

// canonicalTarget strips _history/version suffixes and absolute-URL prefixes,
// keeping the last two path segments (Type/id).
func canonicalTarget(ref string) string {
	ref = strings.TrimPrefix(ref, "#")
	if idx := strings.Index(ref, "/_history/"); idx >= 0 {
		ref = ref[:idx]
	}
	parts := strings.Split(ref, "/")
	if len(parts) >= 2 {
		return parts[len(parts)-2] + "/" + parts[len(parts)-1]
	}
	return ref
}

// ResolveReference returns the cached resource for ref, if any.
func (m *Manager) ResolveReference(ref string) (fhirtypes.Resource, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resources[canonicalTarget(ref)]
	return r, ok
}

// ValidateReferenceIntegrity lists every forward reference whose target is
// not present in the cache (dangling links).
func (m *Manager) ValidateReferenceIntegrity() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var dangling []string
	for source, targets := range m.forward {
		for target := range targets {
			if strings.HasPrefix(target, "#") || strings.HasPrefix(target, "http") || strings.HasPrefix(target, "urn:") {
				continue
			}
			if _, ok := m.resources[target]; !ok {
				dangling = append(dangling, fmt.Sprintf("%s -> %s", source, target))
			}
		}
	}
	return dangling
}

// Clear resets all indices and the resource cache.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources = make(map[string]fhirtypes.Resource)
	m.forward = make(map[string]map[string]struct{})
	m.reverse = make(map[string]map[string]struct{})
}
