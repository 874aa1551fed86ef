package fhirclient

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/fhirflow/fhirflow/pkg/fhirtypes"
)

// phiSafeShape is everything the cache key is allowed to see: resource
// types, entry count, and whether identifiers/references are present.
// Never patient data.
type phiSafeShape struct {
	EntryCount       int      `json:"entry_count"`
	ResourceTypes    []string `json:"resource_types"`
	HasIdentifiers   bool     `json:"has_identifiers"`
	HasReferences    bool     `json:"has_references"`
}

// Digest computes the PHI-safe cache key for a bundle: a SHA-256 of its
// shape (resource types present, entry count, identifier/reference
// presence), never the clinical content itself.
func Digest(b *fhirtypes.Bundle) string {
	shape := phiSafeShape{EntryCount: len(b.Entry)}
	seen := make(map[string]bool)
	for _, e := range b.Entry {
		if e.Resource == nil {
			continue
		}
		rt := e.Resource.ResourceType()
		if rt != "" && !seen[rt] {
			seen[rt] = true
			shape.ResourceTypes = append(shape.ResourceTypes, rt)
		}
		if containsIdentifier(e.Resource) {
			shape.HasIdentifiers = true
		}
		if containsReference(e.Resource) {
			shape.HasReferences = true
		}
	}
	sort.Strings(shape.ResourceTypes)

	encoded, _ := json.Marshal(shape)
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:])
}

func containsIdentifier(node interface{}) bool {
	switch v := node.(type) {
	case fhirtypes.Resource:
		return containsIdentifier(map[string]interface{}(v))
	case map[string]interface{}:
		if _, ok := v["identifier"]; ok {
			return true
		}
		for _, child := range v {
			if containsIdentifier(child) {
				return true
			}
		}
	case []interface{}:
		for _, item := range v {
			if containsIdentifier(item) {
				return true
			}
		}
	}
	return false
}

func containsReference(node interface{}) bool {
	switch v := node.(type) {
	case fhirtypes.Resource:
		return containsReference(map[string]interface{}(v))
	case fhirtypes.Reference:
		return v.Reference != ""
	case map[string]interface{}:
		for _, child := range v {
			if containsReference(child) {
				return true
			}
		}
	case []interface{}:
		for _, item := range v {
			if containsReference(item) {
				return true
			}
		}
	}
	return false
}
