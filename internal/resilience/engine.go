package resilience

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/MrWong99/narrata/pkg/provider/tts"
)

// GuardedEngine implements [tts.Provider] by forwarding to a synthesis engine
// behind a circuit breaker. Engine answers with a 4xx status describe a bad
// request rather than an unhealthy engine and do not trip the breaker.
type GuardedEngine struct {
	engine  tts.Provider
	breaker *CircuitBreaker
}

var _ tts.Provider = (*GuardedEngine)(nil)

// NewGuardedEngine wraps engine. A nil cfg.IsFailure is replaced with
// [EngineFailure].
func NewGuardedEngine(engine tts.Provider, cfg CircuitBreakerConfig) *GuardedEngine {
	if cfg.IsFailure == nil {
		cfg.IsFailure = EngineFailure
	}
	if cfg.Name == "" {
		cfg.Name = "synthesis-engine"
	}
	return &GuardedEngine{engine: engine, breaker: NewCircuitBreaker(cfg)}
}

// EngineFailure classifies synthesis errors for the breaker: client-side
// rejections and cancellations are not failures.
func EngineFailure(err error) bool {
	var engErr *tts.EngineError
	if errors.As(err, &engErr) && engErr.StatusCode < http.StatusInternalServerError {
		return false
	}
	return CountsAsFailure(err)
}

// Synthesize implements tts.Provider.
func (g *GuardedEngine) Synthesize(ctx context.Context, req tts.Request) (*tts.Result, error) {
	var res *tts.Result
	err := g.breaker.Execute(func() error {
		var err error
		res, err = g.engine.Synthesize(ctx, req)
		return err
	})
	if errors.Is(err, ErrCircuitOpen) {
		return nil, fmt.Errorf("resilience: synthesis engine unavailable: %w", err)
	}
	return res, err
}

// CloneVoice implements tts.Provider.
func (g *GuardedEngine) CloneVoice(ctx context.Context, name string, samples []tts.Sample) (string, error) {
	var id string
	err := g.breaker.Execute(func() error {
		var err error
		id, err = g.engine.CloneVoice(ctx, name, samples)
		return err
	})
	if errors.Is(err, ErrCircuitOpen) {
		return "", fmt.Errorf("resilience: synthesis engine unavailable: %w", err)
	}
	return id, err
}

// State returns the breaker state.
func (g *GuardedEngine) State() State {
	return g.breaker.State()
}
