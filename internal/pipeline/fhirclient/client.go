// Package fhirclient implements the validation and execution services:
// both submit a bundle to an external HAPI-compatible FHIR server,
// retrying with exponential backoff and falling over to a backup endpoint
// on repeated failure.
package fhirclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fhirflow/fhirflow/internal/pipeline/failover"
	"github.com/fhirflow/fhirflow/internal/pipeline/perf"
	"github.com/fhirflow/fhirflow/internal/pipeline/validate"
)

// maxAttempts is the retry ceiling per outbound call.
const maxAttempts = 3

// backoffFactor is the exponential backoff multiplier between attempts.
const backoffFactor = 2

const contentTypeFHIR = "application/fhir+json"

// Doer is the subset of *http.Client the services need, so tests can inject
// a fake transport without a live HAPI FHIR server.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client bundles the shared outbound-call machinery (HTTP doer, performance
// manager for timeout/caching, failover pool, structural validator, and
// quality optimizer for completeness scoring) used by both services.
type Client struct {
	HTTP      Doer
	Perf      *perf.Manager
	Failover  *failover.Manager
	Validator *validate.Registry
	Logger    zerolog.Logger
	gate      *workerGate
}

// NewClient wires the four collaborators every outbound FHIR call needs.
func NewClient(doer Doer, perfMgr *perf.Manager, failoverMgr *failover.Manager, validator *validate.Registry, logger zerolog.Logger) *Client {
	return &Client{HTTP: doer, Perf: perfMgr, Failover: failoverMgr, Validator: validator, Logger: logger, gate: newWorkerGate()}
}

// workerGate bounds the number of concurrent outbound calls to the
// performance manager's auto-tuned max_concurrent_requests; excess callers
// wait cooperatively. The limit is read on each acquisition so auto-tune
// growth takes effect without rebuilding the gate.
type workerGate struct {
	mu     sync.Mutex
	cond   *sync.Cond
	active int
}

func newWorkerGate() *workerGate {
	g := &workerGate{}
	g.cond = sync.NewCond(&g.mu)
	return g
}

func (g *workerGate) acquire(limit func() int) {
	g.mu.Lock()
	for g.active >= limit() {
		g.cond.Wait()
	}
	g.active++
	g.mu.Unlock()
}

func (g *workerGate) release() {
	g.mu.Lock()
	g.active--
	g.mu.Unlock()
	g.cond.Signal()
}

// attemptResult is what one HTTP attempt (success or failure) resolves to.
type attemptResult struct {
	status int
	body   []byte
	err    error
}

// postWithRetry POSTs payload to <endpoint>/path, retrying up to maxAttempts
// times with exponential backoff, recording success/failure against the
// endpoint descriptor and considering failover on exhaustion.
func (c *Client) postWithRetry(ctx context.Context, path string, payload []byte) (*attemptResult, *failover.Descriptor, error) {
	c.gate.acquire(c.Perf.MaxConcurrentRequests)
	defer c.gate.release()

	var lastErr error
	var descriptor *failover.Descriptor

	delay := 100 * time.Millisecond
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		descriptor = c.Failover.GetActiveEndpoint()
		if descriptor == nil {
			return nil, nil, fmt.Errorf("no FHIR endpoint configured")
		}

		result, err := c.doOnce(ctx, descriptor.URL()+path, payload)
		if err == nil && result.status < 500 {
			descriptor.RecordSuccess()
			return result, descriptor, nil
		}

		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("upstream returned status %d", result.status)
		}
		descriptor.RecordFailure()

		if attempt < maxAttempts {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, descriptor, ctx.Err()
			}
			delay *= backoffFactor
		}
	}

	return nil, descriptor, fmt.Errorf("exhausted %d attempts: %w", maxAttempts, lastErr)
}

func (c *Client) doOnce(ctx context.Context, url string, payload []byte) (*attemptResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentTypeFHIR)
	req.Header.Set("Accept", contentTypeFHIR)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &attemptResult{status: resp.StatusCode, body: body}, nil
}

// parseOperationOutcome extracts error/warning/information diagnostics from
// a FHIR OperationOutcome JSON body. A body that isn't an OperationOutcome
// (e.g. a bare transaction-response Bundle) yields no issues.
func parseOperationOutcome(body []byte) (errors, warnings, information []string) {
	var outcome struct {
		ResourceType string `json:"resourceType"`
		Issue        []struct {
			Severity    string `json:"severity"`
			Diagnostics string `json:"diagnostics"`
		} `json:"issue"`
	}
	if err := json.Unmarshal(body, &outcome); err != nil || outcome.ResourceType != "OperationOutcome" {
		return nil, nil, nil
	}
	for _, issue := range outcome.Issue {
		msg := issue.Diagnostics
		switch issue.Severity {
		case "error", "fatal":
			errors = append(errors, msg)
		case "warning":
			warnings = append(warnings, msg)
		case "information":
			information = append(information, msg)
		}
	}
	return errors, warnings, information
}
