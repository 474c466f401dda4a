package resilience

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/skalvenes/arbor/pkg/provider"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] fails or has
// an open circuit breaker. It wraps [provider.ErrUnavailable], so callers of
// a fallback facade can test at either granularity with [errors.Is].
var ErrAllFailed = fmt.Errorf("%w: all providers failed", provider.ErrUnavailable)

// FallbackConfig configures the per-entry circuit breaker created for each
// provider in a [FallbackGroup].
type FallbackConfig struct {
	CircuitBreaker BreakerConfig
}

// FallbackGroup holds a primary and zero or more fallback instances of the
// same provider type. Calls try the primary first and walk the fallbacks in
// registration order, skipping entries whose breaker is open.
//
// Register all fallbacks before the first call; afterwards the group is safe
// for concurrent use.
type FallbackGroup[T any] struct {
	names    []string
	values   []T
	breakers []*Breaker
	cfg      FallbackConfig
}

// NewFallbackGroup creates a group with primary as its first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends an entry with its own circuit breaker. Entries are
// tried in the order they were added.
func (fg *FallbackGroup[T]) AddFallback(name string, value T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.names = append(fg.names, name)
	fg.values = append(fg.values, value)
	fg.breakers = append(fg.breakers, NewBreaker(cbCfg))
}

// Primary returns the first registered entry. Static provider metadata
// (dimensions, model id) is read from it without failover.
func (fg *FallbackGroup[T]) Primary() T {
	return fg.values[0]
}

// Execute tries fn against each entry until one succeeds. If every entry
// fails, the last error is wrapped in [ErrAllFailed].
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult tries fn against each entry until one succeeds and
// returns its result. A package-level function because Go methods cannot
// carry their own type parameters.
func ExecuteWithResult[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var lastErr error
	for i, value := range fg.values {
		var result R
		err := fg.breakers[i].Execute(func() error {
			var callErr error
			result, callErr = fn(value)
			return callErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = fmt.Errorf("%s: %w", fg.names[i], err)
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider (circuit open)", "provider", fg.names[i])
		} else {
			slog.Warn("provider failed, trying next",
				"provider", fg.names[i], "error", err)
		}
	}
	var zero R
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
