package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/narrata/pkg/provider/ledger"
)

// GuardedLedger implements [ledger.Provider] behind a circuit breaker so that
// an unreachable ledger stops costing a timeout per narration.
type GuardedLedger struct {
	ledger  ledger.Provider
	breaker *CircuitBreaker
}

var _ ledger.Provider = (*GuardedLedger)(nil)

// NewGuardedLedger wraps l.
func NewGuardedLedger(l ledger.Provider, cfg CircuitBreakerConfig) *GuardedLedger {
	if cfg.Name == "" {
		cfg.Name = "ledger"
	}
	return &GuardedLedger{ledger: l, breaker: NewCircuitBreaker(cfg)}
}

// Debit implements ledger.Provider.
func (g *GuardedLedger) Debit(ctx context.Context, req ledger.DebitRequest) (*ledger.DebitResult, error) {
	var res *ledger.DebitResult
	err := g.breaker.Execute(func() error {
		var err error
		res, err = g.ledger.Debit(ctx, req)
		return err
	})
	if errors.Is(err, ErrCircuitOpen) {
		return nil, fmt.Errorf("resilience: ledger unavailable: %w", err)
	}
	return res, err
}
