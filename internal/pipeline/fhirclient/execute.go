package fhirclient

import (
	"context"
	"encoding/json"

	"github.com/fhirflow/fhirflow/pkg/fhirtypes"
)

// EntryOutcome is one transaction-response entry's result.
type EntryOutcome struct {
	Status   string   `json:"status"`
	Location string   `json:"location,omitempty"`
	Issues   []string `json:"issues,omitempty"`
}

// ExecutionResult is the outcome of submitting one transaction bundle.
type ExecutionResult struct {
	Success bool           `json:"success"`
	Entries []EntryOutcome `json:"entries,omitempty"`
	Errors  []string       `json:"errors,omitempty"`
	Refused bool           `json:"refused,omitempty"`
	Reason  string         `json:"reason,omitempty"`
}

// ExecuteBundle submits bundle as a transaction. When validateFirst is set,
// an invalid validation result refuses execution unless forceExecution is
// also set.
func (c *Client) ExecuteBundle(ctx context.Context, bundle *fhirtypes.Bundle, requestID string, validateFirst, forceExecution bool) ExecutionResult {
	if validateFirst {
		validation := c.ValidateBundle(ctx, bundle, requestID)
		if !validation.IsValid && !forceExecution {
			return ExecutionResult{
				Success: false,
				Refused: true,
				Reason:  "bundle failed validation and force_execution was not set",
				Errors:  validation.Issues.Errors,
			}
		}
	}

	body, err := json.Marshal(bundle)
	if err != nil {
		return ExecutionResult{Success: false, Errors: []string{"failed to serialize bundle: " + err.Error()}}
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, c.Perf.RequestTimeout())
	defer cancel()

	attempt, _, err := c.postWithRetry(timeoutCtx, "/", body)
	if err != nil {
		return ExecutionResult{Success: false, Errors: []string{"execution unreachable: " + err.Error()}}
	}

	return parseTransactionResponse(attempt.body)
}

// parseTransactionResponse extracts per-entry outcomes from a FHIR
// transaction-response Bundle body.
func parseTransactionResponse(body []byte) ExecutionResult {
	var response struct {
		ResourceType string `json:"resourceType"`
		Entry        []struct {
			Response *struct {
				Status  string `json:"status"`
				Location string `json:"location"`
			} `json:"response"`
			Resource *struct {
				ResourceType string `json:"resourceType"`
				Issue        []struct {
					Severity    string `json:"severity"`
					Diagnostics string `json:"diagnostics"`
				} `json:"issue"`
			} `json:"resource"`
		} `json:"entry"`
	}

	if err := json.Unmarshal(body, &response); err != nil {
		return ExecutionResult{Success: false, Errors: []string{"failed to parse transaction response: " + err.Error()}}
	}

	result := ExecutionResult{Success: true}
	for _, entry := range response.Entry {
		outcome := EntryOutcome{}
		if entry.Response != nil {
			outcome.Status = entry.Response.Status
			outcome.Location = entry.Response.Location
		}
		if entry.Resource != nil && entry.Resource.ResourceType == "OperationOutcome" {
			for _, issue := range entry.Resource.Issue {
				outcome.Issues = append(outcome.Issues, issue.Diagnostics)
				if issue.Severity == "error" || issue.Severity == "fatal" {
					result.Success = false
					result.Errors = append(result.Errors, issue.Diagnostics)
				}
			}
		}
		result.Entries = append(result.Entries, outcome)
	}
	return result
}
