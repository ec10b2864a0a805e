// Package mock provides a test double for the embeddings.Provider interface.
//
// Use Provider to return pre-canned embeddings and comparison scores without a
// live worker and to verify which audio URLs were submitted.
//
// Example:
//
//	p := &mock.Provider{
//	    ExtractResult: &embeddings.Embedding{Vector: []float32{0.1, 0.2, 0.3}},
//	    CompareResult: &embeddings.Comparison{Similarity: 0.91, PassesThreshold: true},
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/narrata/pkg/provider/embeddings"
)

// ExtractCall records a single invocation of Extract.
type ExtractCall struct {
	// Ctx is the context passed to Extract.
	Ctx context.Context
	// AudioURLs is a copy of the URLs passed to Extract.
	AudioURLs []string
}

// CompareCall records a single invocation of CompareSimilarity.
type CompareCall struct {
	Ctx          context.Context
	EmbeddingRef string
	CandidateURL string
	Threshold    float64
}

// Provider is a mock implementation of embeddings.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// ExtractResult is returned by Extract.
	ExtractResult *embeddings.Embedding

	// ExtractErr, if non-nil, is returned as the error from Extract.
	ExtractErr error

	// CompareResult is returned by CompareSimilarity.
	CompareResult *embeddings.Comparison

	// CompareErr, if non-nil, is returned as the error from CompareSimilarity.
	CompareErr error

	// --- Call records ---

	// ExtractCalls records every call to Extract in order.
	ExtractCalls []ExtractCall

	// CompareCalls records every call to CompareSimilarity in order.
	CompareCalls []CompareCall
}

// Extract records the call and returns ExtractResult, ExtractErr.
func (p *Provider) Extract(ctx context.Context, audioURLs []string) (*embeddings.Embedding, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ExtractCalls = append(p.ExtractCalls, ExtractCall{Ctx: ctx, AudioURLs: append([]string(nil), audioURLs...)})
	if p.ExtractErr != nil {
		return nil, p.ExtractErr
	}
	return p.ExtractResult, nil
}

// CompareSimilarity records the call and returns CompareResult, CompareErr.
func (p *Provider) CompareSimilarity(ctx context.Context, embeddingRef, candidateURL string, threshold float64) (*embeddings.Comparison, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompareCalls = append(p.CompareCalls, CompareCall{
		Ctx:          ctx,
		EmbeddingRef: embeddingRef,
		CandidateURL: candidateURL,
		Threshold:    threshold,
	})
	if p.CompareErr != nil {
		return nil, p.CompareErr
	}
	return p.CompareResult, nil
}

// ExtractCallCount returns the number of Extract calls. Thread-safe.
func (p *Provider) ExtractCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ExtractCalls)
}

// CompareCallCount returns the number of CompareSimilarity calls. Thread-safe.
func (p *Provider) CompareCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.CompareCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ExtractCalls = nil
	p.CompareCalls = nil
}

// Ensure Provider implements embeddings.Provider at compile time.
var _ embeddings.Provider = (*Provider)(nil)
