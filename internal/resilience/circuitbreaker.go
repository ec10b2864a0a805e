// Package resilience protects narrata's unreliable collaborators (embedding
// workers, the synthesis engine, the credit ledger) with circuit breakers.
//
// The central type is [CircuitBreaker], a classic three-state breaker
// (closed → open → half-open). [FallbackGroup] composes several instances of
// one provider type, each behind its own breaker, so that a failing primary is
// bypassed in favour of healthy fallbacks. The Guarded* and *Fallback types
// apply these primitives to the concrete provider interfaces and translate an
// open breaker into each collaborator's ordinary "unavailable" outcome.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Breaker defaults applied by [NewCircuitBreaker].
const (
	DefaultMaxFailures  = 5
	DefaultResetTimeout = 30 * time.Second
	DefaultHalfOpenMax  = 3
)

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// has passed since the breaker tripped.
	StateOpen

	// StateHalfOpen lets a bounded number of trials through. Enough successes
	// close the breaker; a single failure opens it again.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels the breaker in logs and state-change callbacks.
	Name string

	// MaxFailures is the number of consecutive failures that trips a closed
	// breaker. Default: [DefaultMaxFailures].
	MaxFailures int

	// ResetTimeout is how long a tripped breaker rejects calls before probing.
	// Default: [DefaultResetTimeout].
	ResetTimeout time.Duration

	// HalfOpenMax is both the trial budget and the number of successful
	// trials needed to close. Default: [DefaultHalfOpenMax].
	HalfOpenMax int

	// IsFailure decides which errors count against the breaker. Errors for
	// which it returns false are passed through without affecting state.
	// Default: [CountsAsFailure].
	IsFailure func(error) bool

	// OnStateChange, if set, is called after every transition with the
	// breaker's lock released.
	OnStateChange func(name string, from, to State)

	// Now overrides time.Now.
	Now func() time.Time
}

// CountsAsFailure is the default failure classifier. A cancelled request is
// the caller's doing and does not indicate an unhealthy collaborator.
func CountsAsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	name          string
	maxFailures   int
	resetTimeout  time.Duration
	halfOpenMax   int
	isFailure     func(error) bool
	onStateChange func(name string, from, to State)
	now           func() time.Time

	mu       sync.Mutex
	state    State
	failures int       // consecutive failures while closed
	openedAt time.Time // when the breaker last tripped
	trials   int       // trials admitted in the current half-open window
	passed   int       // successful trials in the current half-open window
}

// NewCircuitBreaker creates a [CircuitBreaker]. Zero-valued config fields take
// their defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:          cfg.Name,
		maxFailures:   cfg.MaxFailures,
		resetTimeout:  cfg.ResetTimeout,
		halfOpenMax:   cfg.HalfOpenMax,
		isFailure:     cfg.IsFailure,
		onStateChange: cfg.OnStateChange,
		now:           cfg.Now,
	}
	if cb.maxFailures <= 0 {
		cb.maxFailures = DefaultMaxFailures
	}
	if cb.resetTimeout <= 0 {
		cb.resetTimeout = DefaultResetTimeout
	}
	if cb.halfOpenMax <= 0 {
		cb.halfOpenMax = DefaultHalfOpenMax
	}
	if cb.isFailure == nil {
		cb.isFailure = CountsAsFailure
	}
	if cb.now == nil {
		cb.now = time.Now
	}
	return cb
}

// Execute runs fn if the breaker admits the call and records the outcome.
// Errors rejected by the IsFailure classifier are returned unchanged and
// leave the breaker as it was.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	trial, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.record(trial, err)
	return err
}

// admit decides whether a call may proceed and reports whether it is a
// half-open trial.
func (cb *CircuitBreaker) admit() (trial bool, err error) {
	cb.mu.Lock()
	from := cb.state
	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			cb.mu.Unlock()
			return false, ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.trials, cb.passed = 0, 0
	}
	if cb.state == StateHalfOpen {
		if cb.trials >= cb.halfOpenMax {
			cb.mu.Unlock()
			return false, ErrCircuitOpen
		}
		cb.trials++
		trial = true
	}
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
	return trial, nil
}

func (cb *CircuitBreaker) record(trial bool, err error) {
	cb.mu.Lock()
	from := cb.state
	if trial && cb.state != StateHalfOpen {
		// Another trial already decided this window.
		trial = false
		if cb.state == StateOpen {
			cb.mu.Unlock()
			return
		}
	}
	switch {
	case err == nil && trial:
		cb.passed++
		if cb.passed >= cb.halfOpenMax {
			cb.state = StateClosed
			cb.failures = 0
		}
	case err == nil:
		cb.failures = 0
	case !cb.isFailure(err):
		if trial {
			// No verdict; hand the trial slot back.
			cb.trials--
		}
	case trial:
		cb.trip()
	default:
		cb.failures++
		if cb.failures >= cb.maxFailures {
			cb.trip()
		}
	}
	to, failures := cb.state, cb.failures
	cb.mu.Unlock()

	if from != to {
		slog.Log(context.Background(), levelFor(to), "circuit breaker state changed",
			"name", cb.name, "from", from, "to", to, "consecutive_failures", failures)
	}
	cb.notify(from, to)
}

// trip opens the breaker. cb.mu must be held.
func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	cb.trials, cb.passed = 0, 0
}

func (cb *CircuitBreaker) notify(from, to State) {
	if from != to && cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, to)
	}
}

func levelFor(s State) slog.Level {
	if s == StateOpen {
		return slog.LevelWarn
	}
	return slog.LevelInfo
}

// State returns the current [State]. An open breaker whose reset timeout has
// passed reports [StateHalfOpen]; the transition itself happens on the next
// [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = StateClosed
	cb.failures, cb.trials, cb.passed = 0, 0, 0
	cb.mu.Unlock()

	slog.Info("circuit breaker manually reset", "name", cb.name)
	cb.notify(from, StateClosed)
}
