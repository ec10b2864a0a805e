// Package httpledger provides a ledger.Provider that talks to a ledger
// service over HTTP (POST /debit).
package httpledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/narrata/pkg/provider/ledger"
)

var _ ledger.Provider = (*Provider)(nil)

const (
	defaultTimeout = 5 * time.Second
	debitEndpoint  = "/debit"
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithTimeout sets the per-request HTTP timeout. Defaults to 5 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithAPIKey sends key as a bearer token on every request.
func WithAPIKey(key string) Option {
	return func(p *Provider) {
		p.apiKey = key
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// Provider implements ledger.Provider against the service at baseURL.
type Provider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a Provider. baseURL must be non-empty.
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("httpledger: baseURL must not be empty")
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

// Debit implements ledger.Provider.
func (p *Provider) Debit(ctx context.Context, req ledger.DebitRequest) (*ledger.DebitResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("httpledger: marshal debit: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+debitEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("httpledger: create debit request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("httpledger: POST %s: %w", debitEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		diag, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("httpledger: POST %s returned status %d: %s",
			debitEndpoint, resp.StatusCode, strings.TrimSpace(string(diag)))
	}

	var res ledger.DebitResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("httpledger: decode debit response: %w", err)
	}
	return &res, nil
}
