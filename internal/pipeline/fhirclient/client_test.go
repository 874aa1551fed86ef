package fhirclient

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/fhirflow/fhirflow/internal/pipeline/failover"
	"github.com/fhirflow/fhirflow/internal/pipeline/perf"
	"github.com/fhirflow/fhirflow/internal/pipeline/validate"
	"github.com/fhirflow/fhirflow/pkg/fhirtypes"
)

type fakeDoer struct {
	responses []fakeResponse
	calls     int
}

type fakeResponse struct {
	status int
	body   string
	err    error
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	idx := f.calls
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	f.calls++
	r := f.responses[idx]
	if r.err != nil {
		return nil, r.err
	}
	return &http.Response{StatusCode: r.status, Body: io.NopCloser(strings.NewReader(r.body))}, nil
}

func validBundle() *fhirtypes.Bundle {
	return &fhirtypes.Bundle{
		ResourceType: "Bundle",
		ID:           "b1",
		Type:         "transaction",
		Entry: []fhirtypes.BundleEntry{
			{
				Resource: fhirtypes.Resource{
					"resourceType": "Patient",
					"id":           "p1",
					"name":         []interface{}{map[string]interface{}{"family": "Doe"}},
				},
				Request: &fhirtypes.BundleRequest{Method: "POST", URL: "Patient"},
			},
		},
	}
}

func newTestClient(doer Doer) *Client {
	return NewClient(doer, perf.NewManager(), failover.NewManager("https://primary"), validate.New(), zerolog.Nop())
}

func TestValidateBundle_RemoteSuccessComputesQualityScore(t *testing.T) {
	doer := &fakeDoer{responses: []fakeResponse{
		{status: 200, body: `{"resourceType":"OperationOutcome","issue":[]}`},
	}}
	c := newTestClient(doer)

	result := c.ValidateBundle(context.Background(), validBundle(), "req-1")
	if !result.IsValid {
		t.Fatalf("expected valid result, got issues: %v", result.Issues.Errors)
	}
	if result.ValidationSource != SourceRemote {
		t.Errorf("expected remote source, got %s", result.ValidationSource)
	}
	if result.BundleQualityScore <= 0.8 {
		t.Errorf("expected high quality score, got %f", result.BundleQualityScore)
	}
}

func TestValidateBundle_CachesResult(t *testing.T) {
	doer := &fakeDoer{responses: []fakeResponse{
		{status: 200, body: `{"resourceType":"OperationOutcome","issue":[]}`},
	}}
	c := newTestClient(doer)
	bundle := validBundle()

	first := c.ValidateBundle(context.Background(), bundle, "req-1")
	second := c.ValidateBundle(context.Background(), bundle, "req-1")

	if first.ValidationSource != SourceRemote {
		t.Fatalf("expected first call to hit remote, got %s", first.ValidationSource)
	}
	if second.ValidationSource != SourceCache {
		t.Fatalf("expected second call to hit cache, got %s", second.ValidationSource)
	}
	if doer.calls != 1 {
		t.Errorf("expected only 1 HTTP call, got %d", doer.calls)
	}
}

func TestValidateBundle_RetriesAndFailsOverOnServerErrors(t *testing.T) {
	doer := &fakeDoer{responses: []fakeResponse{
		{status: 500, body: ""},
		{status: 500, body: ""},
		{status: 500, body: ""},
	}}
	fo := failover.NewManager("https://primary", "https://backup")
	c := NewClient(doer, perf.NewManager(), fo, validate.New(), zerolog.Nop())

	result := c.ValidateBundle(context.Background(), validBundle(), "req-1")
	if result.IsValid {
		t.Error("expected invalid result when upstream keeps failing")
	}
	if doer.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", doer.calls)
	}
	if got := fo.GetActiveEndpoint().URL(); got != "https://backup" {
		t.Errorf("expected failover to backup after exhausted retries, got %s", got)
	}
}

func TestExecuteBundle_RefusesWhenValidationFailsAndNotForced(t *testing.T) {
	doer := &fakeDoer{}
	c := newTestClient(doer)

	invalid := &fhirtypes.Bundle{
		ResourceType: "Bundle",
		Type:         "transaction",
		Entry: []fhirtypes.BundleEntry{
			{Resource: fhirtypes.Resource{"resourceType": "Observation", "id": "o1"}},
		},
	}

	result := c.ExecuteBundle(context.Background(), invalid, "req-1", true, false)
	if result.Success || !result.Refused {
		t.Fatalf("expected refusal, got %+v", result)
	}
	if doer.calls != 0 {
		t.Errorf("expected no HTTP calls to be made for a refused execution, got %d", doer.calls)
	}
}

func TestExecuteBundle_ParsesTransactionResponseOutcomes(t *testing.T) {
	doer := &fakeDoer{responses: []fakeResponse{
		{status: 200, body: `{
			"resourceType":"Bundle",
			"entry":[{"response":{"status":"201 Created","location":"Patient/p1"}}]
		}`},
	}}
	c := newTestClient(doer)

	result := c.ExecuteBundle(context.Background(), validBundle(), "req-1", false, false)
	if !result.Success {
		t.Fatalf("expected success, got errors: %v", result.Errors)
	}
	if len(result.Entries) != 1 || result.Entries[0].Status != "201 Created" {
		t.Errorf("unexpected entries: %+v", result.Entries)
	}
}
