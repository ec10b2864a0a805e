// Package embeddings defines the Provider interface for speaker-embedding
// extraction backends.
//
// A speaker-embedding provider wraps a worker service that maps reference
// recordings of one speaker to a single dense float32 vector characterising
// the voice, and that can score a candidate recording against a previously
// extracted embedding. narrata treats the worker as optional: every method
// may fail with an error wrapping [ErrUnavailable] when the worker is down or
// cannot handle the input, and callers degrade rather than fail.
//
// Implementations must be safe for concurrent use.
package embeddings

import (
	"context"
	"errors"
)

// ErrUnavailable marks ordinary non-availability: the worker is unreachable,
// overloaded, or does not support the supplied audio. Callers treat it as
// "no embedding", never as a hard failure.
var ErrUnavailable = errors.New("embeddings: worker unavailable")

// FileMeta describes how the worker processed one input recording.
type FileMeta struct {
	URL string `json:"url"`

	// DurationSeconds is the amount of speech the worker used from the file.
	DurationSeconds float64 `json:"duration_seconds"`

	// Error is set when the worker skipped the file.
	Error string `json:"error,omitempty"`
}

// Embedding is a speaker embedding extracted from one or more recordings.
type Embedding struct {
	Vector  []float32  `json:"embedding"`
	Model   string     `json:"model,omitempty"`
	PerFile []FileMeta `json:"per_file_meta,omitempty"`
}

// Comparison is the result of scoring a candidate recording against a stored
// embedding.
type Comparison struct {
	// Similarity is in [0, 1].
	Similarity float64 `json:"similarity"`

	// PassesThreshold reports Similarity >= the threshold sent with the request.
	PassesThreshold bool `json:"passes_threshold"`
}

// Provider is the abstraction over a speaker-embedding worker.
type Provider interface {
	// Extract computes one speaker embedding from the recordings at
	// audioURLs. The worker fetches the audio itself.
	Extract(ctx context.Context, audioURLs []string) (*Embedding, error)

	// CompareSimilarity scores the recording at candidateURL against the
	// embedding artifact stored at embeddingRef.
	CompareSimilarity(ctx context.Context, embeddingRef, candidateURL string, threshold float64) (*Comparison, error)
}
