package testutil

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/meterbridge/meterbridge/internal/clazar"
	"github.com/meterbridge/meterbridge/internal/httpclient"
)

// StubBillingClient implements clazar.Client with scripted outcomes.
// Outcomes are consumed per contract in order; when a contract's script
// runs out, submissions succeed.
type StubBillingClient struct {
	mu sync.Mutex

	// Outcomes maps contract id -> remaining scripted attempt results.
	// A nil entry means success.
	Outcomes map[string][]error

	// Submissions records every payload in submission order.
	Submissions []json.RawMessage
	// SubmittedContracts records the contract ids in submission order.
	SubmittedContracts []string

	Authenticated int
	AuthErr       error
}

var _ clazar.Client = (*StubBillingClient)(nil)

func NewStubBillingClient() *StubBillingClient {
	return &StubBillingClient{Outcomes: make(map[string][]error)}
}

// TransportError scripts a retryable transport failure.
func TransportError() error {
	return httpclient.NewError(503, []byte("service unavailable"))
}

// RejectionError scripts a non-retryable client rejection.
func RejectionError() error {
	return httpclient.NewError(400, []byte("invalid dimension"))
}

// FailTimes scripts n consecutive transport failures for a contract.
func (c *StubBillingClient) FailTimes(contractID string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := 0; i < n; i++ {
		c.Outcomes[contractID] = append(c.Outcomes[contractID], TransportError())
	}
}

// Reject scripts a permanent rejection for a contract's next attempt.
func (c *StubBillingClient) Reject(contractID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Outcomes[contractID] = append(c.Outcomes[contractID], RejectionError())
}

func (c *StubBillingClient) Authenticate(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Authenticated++
	return c.AuthErr
}

func (c *StubBillingClient) SubmitPayload(_ context.Context, payload []byte) (*clazar.MeteringResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored := make(json.RawMessage, len(payload))
	copy(stored, payload)
	c.Submissions = append(c.Submissions, stored)

	contractID := contractOf(payload)
	c.SubmittedContracts = append(c.SubmittedContracts, contractID)

	if script := c.Outcomes[contractID]; len(script) > 0 {
		next := script[0]
		c.Outcomes[contractID] = script[1:]
		if next != nil {
			return nil, next
		}
	}

	var req clazar.MeteringRequest
	_ = json.Unmarshal(payload, &req)
	results := make([]clazar.Result, len(req.Request))
	for i := range results {
		results[i] = clazar.Result{Status: "success"}
	}
	return &clazar.MeteringResponse{Results: results}, nil
}

func contractOf(payload []byte) string {
	var req clazar.MeteringRequest
	if err := json.Unmarshal(payload, &req); err != nil || len(req.Request) == 0 {
		return ""
	}
	return req.Request[0].ContractID
}
