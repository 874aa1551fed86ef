// Package bundle implements the bundle assembler: given a list of
// already-built resources, it mints a transaction Bundle, assigns stable
// fullUrls, and rewrites internal references to point at them.
package bundle

import (
	"time"

	"github.com/google/uuid"

	"github.com/fhirflow/fhirflow/pkg/fhirtypes"
)

// OptimizerHook runs after assembly and may mutate the bundle in place.
type OptimizerHook func(*fhirtypes.Bundle)

type Assembler struct {
	Optimizer OptimizerHook
}

func New(optimizer OptimizerHook) *Assembler {
	return &Assembler{Optimizer: optimizer}
}

// Assemble builds a transaction Bundle from resources, mints fullUrls, and
// rewrites any internal Type/id references to their matching fullUrl.
func (a *Assembler) Assemble(resources []fhirtypes.Resource, requestID string) *fhirtypes.Bundle {
	now := time.Now().UTC()
	b := &fhirtypes.Bundle{
		ResourceType: "Bundle",
		ID:           uuid.New().String(),
		Type:         "transaction",
		Timestamp:    now.Format(time.RFC3339),
		Entry:        make([]fhirtypes.BundleEntry, 0, len(resources)),
	}

	idToFullURL := make(map[string]string, len(resources))
	for _, res := range resources {
		fullURL := "urn:uuid:" + uuid.New().String()
		if rt, id := res.ResourceType(), res.ID(); rt != "" && id != "" {
			idToFullURL[fhirtypes.FormatReference(rt, id)] = fullURL
		}
		b.Entry = append(b.Entry, fhirtypes.BundleEntry{
			FullURL:  fullURL,
			Resource: res,
			Request:  &fhirtypes.BundleRequest{Method: "POST", URL: res.ResourceType()},
		})
	}

	for i := range b.Entry {
		rewriteReferences(b.Entry[i].Resource, idToFullURL)
	}

	if a.Optimizer != nil {
		a.Optimizer(b)
	}

	return b
}

// rewriteReferences walks a resource's nested reference strings and, for
// each one matching a known Type/id, replaces it with the entry's fullUrl.
func rewriteReferences(node interface{}, idToFullURL map[string]string) {
	switch v := node.(type) {
	case fhirtypes.Resource:
		rewriteMap(map[string]interface{}(v), idToFullURL)
	case map[string]interface{}:
		rewriteMap(v, idToFullURL)
	case fhirtypes.Reference:
		if mapped, ok := idToFullURL[v.Reference]; ok {
			v.Reference = mapped
		}
	case []interface{}:
		for i, item := range v {
			if ref, ok := item.(fhirtypes.Reference); ok {
				if mapped, ok := idToFullURL[ref.Reference]; ok {
					v[i] = fhirtypes.Reference{Reference: mapped, Display: ref.Display}
				}
				continue
			}
			rewriteReferences(item, idToFullURL)
		}
	}
}

func rewriteMap(m map[string]interface{}, idToFullURL map[string]string) {
	for k, val := range m {
		switch v := val.(type) {
		case fhirtypes.Reference:
			if mapped, ok := idToFullURL[v.Reference]; ok {
				m[k] = fhirtypes.Reference{Reference: mapped, Display: v.Display}
			}
		case []fhirtypes.Reference:
			for i, ref := range v {
				if mapped, ok := idToFullURL[ref.Reference]; ok {
					v[i] = fhirtypes.Reference{Reference: mapped, Display: ref.Display}
				}
			}
		case map[string]interface{}:
			rewriteMap(v, idToFullURL)
		case []interface{}:
			rewriteReferences(v, idToFullURL)
		case []map[string]interface{}:
			for _, item := range v {
				rewriteMap(item, idToFullURL)
			}
		}
	}
}
