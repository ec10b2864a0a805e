// Package worker provides an embeddings.Provider backed by a speaker-embedding
// worker reachable over HTTP.
//
// The worker exposes three endpoints:
//
//	POST /extract  {"audio_urls": [...]}                                  → embedding
//	POST /compare  {"embedding_ref", "candidate_url", "threshold"}        → similarity
//	GET  /health                                                          → 200 when ready
//
// Every failure (transport error, non-2xx status, malformed body, empty
// vector) is reported as an error wrapping [embeddings.ErrUnavailable]: the
// worker is an optional enhancement and callers must be able to treat any
// failure as "no embedding".
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/narrata/pkg/provider/embeddings"
)

const (
	defaultTimeout   = 60 * time.Second
	extractEndpoint  = "/extract"
	compareEndpoint  = "/compare"
	healthEndpoint   = "/health"
	maxDiagnosticLen = 512
)

var _ embeddings.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithTimeout sets the per-request HTTP timeout. Defaults to 60 s; extraction
// over three 50 s recordings can take a while on CPU workers.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the HTTP client. Its Timeout is left untouched.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// WithAPIKey sends key as a bearer token on every request.
func WithAPIKey(key string) Option {
	return func(p *Provider) {
		p.apiKey = key
	}
}

// Provider implements embeddings.Provider against the worker at baseURL.
// It is safe for concurrent use.
type Provider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a worker Provider. baseURL must be non-empty.
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("worker: baseURL must not be empty")
	}
	p := &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type extractRequest struct {
	AudioURLs []string `json:"audio_urls"`
}

type compareRequest struct {
	EmbeddingRef string  `json:"embedding_ref"`
	CandidateURL string  `json:"candidate_url"`
	Threshold    float64 `json:"threshold"`
}

// Extract implements embeddings.Provider.
func (p *Provider) Extract(ctx context.Context, audioURLs []string) (*embeddings.Embedding, error) {
	if len(audioURLs) == 0 {
		return nil, fmt.Errorf("worker: extract: no audio URLs: %w", embeddings.ErrUnavailable)
	}
	var emb embeddings.Embedding
	if err := p.post(ctx, extractEndpoint, extractRequest{AudioURLs: audioURLs}, &emb); err != nil {
		return nil, err
	}
	if len(emb.Vector) == 0 {
		return nil, fmt.Errorf("worker: extract: empty embedding: %w", embeddings.ErrUnavailable)
	}
	return &emb, nil
}

// CompareSimilarity implements embeddings.Provider.
func (p *Provider) CompareSimilarity(ctx context.Context, embeddingRef, candidateURL string, threshold float64) (*embeddings.Comparison, error) {
	var cmp embeddings.Comparison
	req := compareRequest{EmbeddingRef: embeddingRef, CandidateURL: candidateURL, Threshold: threshold}
	if err := p.post(ctx, compareEndpoint, req, &cmp); err != nil {
		return nil, err
	}
	if math.IsNaN(cmp.Similarity) {
		return nil, fmt.Errorf("worker: compare: similarity is NaN: %w", embeddings.ErrUnavailable)
	}
	cmp.Similarity = math.Max(0, math.Min(1, cmp.Similarity))
	return &cmp, nil
}

// Ping checks GET /health. It matches the health.Checker signature.
func (p *Provider) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+healthEndpoint, nil)
	if err != nil {
		return fmt.Errorf("worker: create health request: %w", err)
	}
	p.authorize(req)
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("worker: GET %s: %w", healthEndpoint, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("worker: GET %s returned status %d", healthEndpoint, resp.StatusCode)
	}
	return nil
}

// post sends body as JSON to endpoint and decodes a 200 response into out.
func (p *Provider) post(ctx context.Context, endpoint string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("worker: marshal %s request: %w", endpoint, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("worker: create %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	p.authorize(req)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("worker: POST %s: %v: %w", endpoint, err, embeddings.ErrUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		diag, _ := io.ReadAll(io.LimitReader(resp.Body, maxDiagnosticLen))
		return fmt.Errorf("worker: POST %s returned status %d (%s): %w",
			endpoint, resp.StatusCode, strings.TrimSpace(string(diag)), embeddings.ErrUnavailable)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("worker: decode %s response: %v: %w", endpoint, err, embeddings.ErrUnavailable)
	}
	return nil
}

func (p *Provider) authorize(req *http.Request) {
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
}
