// Package fhirtypes holds the FHIR R4 wire types shared by every pipeline
// component. Resources are modeled as a generic map plus typed helpers for
// the handful of data types (Coding, CodeableConcept, Reference, Quantity)
// the pipeline builds directly, following the "tagged map with typed
// helpers" strategy rather than one Go struct per FHIR resource type.
package fhirtypes

import "time"

// Resource is a FHIR resource represented as a field-name-to-value mapping.
// Every resource must carry "resourceType" and, once assigned, "id".
type Resource map[string]interface{}

func (r Resource) ResourceType() string {
	if v, ok := r["resourceType"].(string); ok {
		return v
	}
	return ""
}

func (r Resource) ID() string {
	if v, ok := r["id"].(string); ok {
		return v
	}
	return ""
}

func (r Resource) SetID(id string) {
	r["id"] = id
}

// Coding is immutable once built: {system, code, display?}.
type Coding struct {
	System  string `json:"system"`
	Code    string `json:"code"`
	Display string `json:"display,omitempty"`
}

// CodeableConcept carries an ordered sequence of Coding plus optional text.
// Order is meaningful: the preferred system comes first.
type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// Quantity is a FHIR decimal-valued measurement with a coded unit.
type Quantity struct {
	Value  float64 `json:"value"`
	Unit   string  `json:"unit,omitempty"`
	System string  `json:"system,omitempty"`
	Code   string  `json:"code,omitempty"`
}

// Reference points at another resource by Type/id, #id (contained), an
// absolute URL, or Type/id/_history/version.
type Reference struct {
	Reference string `json:"reference"`
	Display   string `json:"display,omitempty"`
}

type Identifier struct {
	Use    string           `json:"use,omitempty"`
	Type   *CodeableConcept `json:"type,omitempty"`
	System string           `json:"system,omitempty"`
	Value  string           `json:"value,omitempty"`
}

type HumanName struct {
	Use    string   `json:"use,omitempty"`
	Text   string   `json:"text,omitempty"`
	Family string   `json:"family,omitempty"`
	Given  []string `json:"given,omitempty"`
	Prefix []string `json:"prefix,omitempty"`
	Suffix []string `json:"suffix,omitempty"`
}

type Address struct {
	Use        string   `json:"use,omitempty"`
	Line       []string `json:"line,omitempty"`
	City       string   `json:"city,omitempty"`
	State      string   `json:"state,omitempty"`
	PostalCode string   `json:"postalCode,omitempty"`
	Country    string   `json:"country,omitempty"`
}

type ContactPoint struct {
	System string `json:"system,omitempty"`
	Value  string `json:"value,omitempty"`
	Use    string `json:"use,omitempty"`
}

type Period struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// Meta holds the audit/provenance block every factory attaches.
type Meta struct {
	Factory      string                 `json:"factory,omitempty"`
	CreatedAt    time.Time              `json:"createdAt,omitempty"`
	Version      string                 `json:"version,omitempty"`
	RequestID    string                 `json:"requestId,omitempty"`
	Profile      []string               `json:"profile,omitempty"`
	Optimization *OptimizationAudit     `json:"optimization,omitempty"`
	Extensions   map[string]interface{} `json:"extensions,omitempty"`
}

// OptimizationAudit records what the quality optimizer changed on a bundle.
type OptimizationAudit struct {
	OptimizationsApplied []string `json:"optimizations_applied"`
}

// OperationOutcome is the FHIR resource used to convey validation/processing
// issues.
type OperationOutcome struct {
	ResourceType string                  `json:"resourceType"`
	Issue        []OperationOutcomeIssue `json:"issue"`
}

type OperationOutcomeIssue struct {
	Severity    string           `json:"severity"`
	Code        string           `json:"code"`
	Details     *CodeableConcept `json:"details,omitempty"`
	Diagnostics string           `json:"diagnostics,omitempty"`
	Expression  []string         `json:"expression,omitempty"`
}

func NewOperationOutcome(severity, code, diagnostics string) *OperationOutcome {
	return &OperationOutcome{
		ResourceType: "OperationOutcome",
		Issue: []OperationOutcomeIssue{
			{Severity: severity, Code: code, Diagnostics: diagnostics},
		},
	}
}

func ErrorOutcome(diagnostics string) *OperationOutcome {
	return NewOperationOutcome("error", "processing", diagnostics)
}
