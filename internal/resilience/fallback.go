package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrAllFailed matches (via errors.Is) the error returned when no entry of a
// [FallbackGroup] produced a result.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig configures the circuit breaker created for each entry of a
// [FallbackGroup]. The entry name replaces CircuitBreaker.Name.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// Attempt is one entry's outcome within a failed [Call].
type Attempt struct {
	Name string
	Err  error
}

// ExhaustedError reports every attempt of a [Call] that found no working
// entry. It matches [ErrAllFailed] and unwraps to each attempt's error, so
// provider sentinels stay visible to errors.Is.
type ExhaustedError struct {
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	var b strings.Builder
	b.WriteString(ErrAllFailed.Error())
	for i, a := range e.Attempts {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s: %v", a.Name, a.Err)
	}
	return b.String()
}

// Is reports whether target is [ErrAllFailed].
func (e *ExhaustedError) Is(target error) bool { return target == ErrAllFailed }

// Unwrap returns the attempt errors.
func (e *ExhaustedError) Unwrap() []error {
	errs := make([]error, len(e.Attempts))
	for i, a := range e.Attempts {
		errs[i] = a.Err
	}
	return errs
}

type member[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup is an ordered list of interchangeable providers, each behind
// its own circuit breaker. [Call] walks the list until one entry succeeds.
//
// Add every entry before sharing the group between goroutines.
type FallbackGroup[T any] struct {
	members []member[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a group whose first (preferred) entry is primary.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.Add(primaryName, primary)
	return fg
}

// Add appends an entry tried after all existing ones.
func (fg *FallbackGroup[T]) Add(name string, v T) {
	bc := fg.cfg.CircuitBreaker
	bc.Name = name
	fg.members = append(fg.members, member[T]{name: name, value: v, breaker: NewCircuitBreaker(bc)})
}

// Names returns the entry names in the order they are tried.
func (fg *FallbackGroup[T]) Names() []string {
	names := make([]string, len(fg.members))
	for i, m := range fg.members {
		names[i] = m.name
	}
	return names
}

// Breaker returns the circuit breaker of the named entry, or nil.
func (fg *FallbackGroup[T]) Breaker(name string) *CircuitBreaker {
	for _, m := range fg.members {
		if m.name == name {
			return m.breaker
		}
	}
	return nil
}

// Call runs fn against the group's entries in order and returns the first
// success. Entries whose breaker is open are skipped. A done ctx ends the walk
// early; its error is then recorded as the final attempt.
func Call[T, R any](ctx context.Context, fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		zero     R
		attempts []Attempt
	)
	for _, m := range fg.members {
		if err := ctx.Err(); err != nil {
			attempts = append(attempts, Attempt{Name: m.name, Err: err})
			break
		}
		var out R
		err := m.breaker.Execute(func() error {
			var err error
			out, err = fn(m.value)
			return err
		})
		if err == nil {
			return out, nil
		}
		attempts = append(attempts, Attempt{Name: m.name, Err: err})
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("fallback: entry skipped, breaker open", "entry", m.name)
			continue
		}
		slog.Warn("fallback: entry failed", "entry", m.name, "err", err)
	}
	return zero, &ExhaustedError{Attempts: attempts}
}
