package fhirclient

import (
	"context"
	"encoding/json"

	"github.com/fhirflow/fhirflow/internal/pipeline/perf"
	"github.com/fhirflow/fhirflow/internal/pipeline/quality"
	"github.com/fhirflow/fhirflow/pkg/fhirtypes"
)

// ValidationSource records where a validation verdict came from.
type ValidationSource string

const (
	SourceLocal  ValidationSource = "local"
	SourceRemote ValidationSource = "remote"
	SourceCache  ValidationSource = "cache"
)

// Issues groups the three severities a Validation Result carries.
type Issues struct {
	Errors      []string `json:"errors"`
	Warnings    []string `json:"warnings"`
	Information []string `json:"information"`
}

// ValidationResult is the merged local + remote validation verdict for a
// bundle.
type ValidationResult struct {
	IsValid            bool             `json:"is_valid"`
	BundleQualityScore float64          `json:"bundle_quality_score"`
	Issues             Issues           `json:"issues"`
	ValidationSource   ValidationSource `json:"validation_source"`
	ValidationResult   string           `json:"validation_result"`
}

// ValidateBundle runs the validation pipeline: cache check, local
// structural validation, then (if local passes) a remote $validate call.
func (c *Client) ValidateBundle(ctx context.Context, bundle *fhirtypes.Bundle, requestID string) ValidationResult {
	key := Digest(bundle)
	cache := c.Perf.Cache(perf.CacheValidation)

	if cached, ok := cache.Get(key); ok {
		result := cached.(ValidationResult)
		result.ValidationSource = SourceCache
		return result
	}

	structuralOK, structuralErrors := c.validateStructure(bundle)

	result := ValidationResult{
		ValidationSource: SourceLocal,
		Issues:           Issues{Errors: structuralErrors},
	}

	if !structuralOK {
		result.IsValid = false
		result.ValidationResult = "failed local structural validation"
		result.BundleQualityScore = weightedQualityScore(false, false, completenessAverage(bundle))
		cache.Set(key, result)
		return result
	}

	body, err := json.Marshal(bundle)
	if err != nil {
		result.IsValid = false
		result.ValidationResult = "failed to serialize bundle: " + err.Error()
		return result
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, c.Perf.RequestTimeout())
	defer cancel()

	attempt, _, err := c.postWithRetry(timeoutCtx, "/Bundle/$validate", body)
	if err != nil {
		result.ValidationSource = SourceRemote
		result.IsValid = false
		result.ValidationResult = "remote validation unreachable: " + err.Error()
		result.BundleQualityScore = weightedQualityScore(true, false, completenessAverage(bundle))
		return result
	}

	errs, warnings, info := parseOperationOutcome(attempt.body)
	serverOK := len(errs) == 0

	result.ValidationSource = SourceRemote
	result.Issues = Issues{Errors: append(structuralErrors, errs...), Warnings: warnings, Information: info}
	result.IsValid = serverOK
	if serverOK {
		result.ValidationResult = "passed"
	} else {
		result.ValidationResult = "server reported validation errors"
	}
	result.BundleQualityScore = weightedQualityScore(true, serverOK, completenessAverage(bundle))

	cache.Set(key, result)
	return result
}

// validateStructure applies the structural validator to every entry's
// resource, aggregating the reasons from all of them.
func (c *Client) validateStructure(bundle *fhirtypes.Bundle) (bool, []string) {
	var errs []string
	ok := true
	for _, entry := range bundle.Entry {
		if entry.Resource == nil {
			continue
		}
		res := c.Validator.ValidateResource(entry.Resource)
		if !res.Valid {
			ok = false
			errs = append(errs, res.Errors...)
		}
	}
	return ok, errs
}

// completenessAverage averages quality.CompletenessScore across the
// bundle's entries (1.0 for an empty bundle).
func completenessAverage(bundle *fhirtypes.Bundle) float64 {
	if len(bundle.Entry) == 0 {
		return 1.0
	}
	var total float64
	for _, entry := range bundle.Entry {
		if entry.Resource == nil {
			continue
		}
		total += quality.CompletenessScore(entry.Resource)
	}
	return total / float64(len(bundle.Entry))
}

// weightedQualityScore blends structural pass (0.3), server-no-errors (0.5),
// and average per-resource completeness (0.2).
func weightedQualityScore(structuralPass, serverOK bool, completeness float64) float64 {
	score := 0.0
	if structuralPass {
		score += 0.3
	}
	if serverOK {
		score += 0.5
	}
	score += 0.2 * completeness
	return score
}
