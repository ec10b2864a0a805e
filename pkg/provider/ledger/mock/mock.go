// Package mock provides a test double for the ledger.Provider interface.
package mock

import (
	"context"
	"maps"
	"sync"

	"github.com/MrWong99/narrata/pkg/provider/ledger"
)

// Provider is a mock implementation of ledger.Provider.
type Provider struct {
	mu sync.Mutex

	// DebitResult is returned by Debit. A nil value yields {Success: true}.
	DebitResult *ledger.DebitResult

	// DebitErr, if non-nil, is returned as the error from Debit.
	DebitErr error

	// DebitCalls records every call to Debit in order.
	DebitCalls []ledger.DebitRequest
}

// Debit records the call and returns DebitResult, DebitErr.
func (p *Provider) Debit(_ context.Context, req ledger.DebitRequest) (*ledger.DebitResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	req.Metadata = maps.Clone(req.Metadata)
	p.DebitCalls = append(p.DebitCalls, req)
	if p.DebitErr != nil {
		return nil, p.DebitErr
	}
	if p.DebitResult == nil {
		return &ledger.DebitResult{Success: true}, nil
	}
	res := *p.DebitResult
	return &res, nil
}

// Calls returns a copy of the recorded debits. Thread-safe.
func (p *Provider) Calls() []ledger.DebitRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ledger.DebitRequest(nil), p.DebitCalls...)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.DebitCalls = nil
}

var _ ledger.Provider = (*Provider)(nil)
