package resilience

import (
	"context"
	"fmt"

	"github.com/MrWong99/narrata/pkg/provider/embeddings"
)

// EmbeddingsFallback implements [embeddings.Provider] with failover across
// several embedding workers. Each worker has its own circuit breaker. When no
// worker answers, the error wraps [embeddings.ErrUnavailable] so callers
// degrade exactly as they would for a single unavailable worker.
type EmbeddingsFallback struct {
	group *FallbackGroup[embeddings.Provider]
}

var _ embeddings.Provider = (*EmbeddingsFallback)(nil)

// NewEmbeddingsFallback creates an [EmbeddingsFallback] with primary as the
// preferred worker.
func NewEmbeddingsFallback(primary embeddings.Provider, primaryName string, cfg FallbackConfig) *EmbeddingsFallback {
	return &EmbeddingsFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional worker.
func (f *EmbeddingsFallback) AddFallback(name string, p embeddings.Provider) {
	f.group.Add(name, p)
}

// Extract implements embeddings.Provider.
func (f *EmbeddingsFallback) Extract(ctx context.Context, audioURLs []string) (*embeddings.Embedding, error) {
	emb, err := Call(ctx, f.group, func(p embeddings.Provider) (*embeddings.Embedding, error) {
		return p.Extract(ctx, audioURLs)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", embeddings.ErrUnavailable, err)
	}
	return emb, nil
}

// CompareSimilarity implements embeddings.Provider.
func (f *EmbeddingsFallback) CompareSimilarity(ctx context.Context, embeddingRef, candidateURL string, threshold float64) (*embeddings.Comparison, error) {
	cmp, err := Call(ctx, f.group, func(p embeddings.Provider) (*embeddings.Comparison, error) {
		return p.CompareSimilarity(ctx, embeddingRef, candidateURL, threshold)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", embeddings.ErrUnavailable, err)
	}
	return cmp, nil
}
