package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] fails or has an
// open circuit breaker.
var ErrAllFailed = errors.New("all providers failed")

// fallbackEntry pairs a provider value with its dedicated circuit breaker.
type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup wraps a primary and zero or more fallback instances of the same
// provider type. When the primary fails (or its circuit breaker is open), the
// next healthy fallback is tried in registration order.
//
// Entries must be registered before the group is shared between goroutines.
type FallbackGroup[T any] struct {
	breakers *Breakers
	prefix   string
	entries  []fallbackEntry[T]
}

// NewFallbackGroup creates a [FallbackGroup] with primary as the first entry.
// Each entry's breaker is taken from breakers under prefix+name.
func NewFallbackGroup[T any](breakers *Breakers, prefix, primaryName string, primary T) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{breakers: breakers, prefix: prefix}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a fallback provider. Fallbacks are tried in the order they
// are added, after the primary.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   fallback,
		breaker: fg.breakers.Get(fg.prefix + name),
	})
}

// Names returns the entry names in try order.
func (fg *FallbackGroup[T]) Names() []string {
	names := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		names[i] = e.name
	}
	return names
}

// ExecuteWithResult tries fn against each entry in the group until one succeeds.
// Circuit-open entries are skipped. If every entry fails the returned error
// wraps both [ErrAllFailed] and the last underlying error.
func ExecuteWithResult[T any, R any](ctx context.Context, fg *FallbackGroup[T], fn func(context.Context, T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range fg.entries {
		entry := &fg.entries[i]
		res := Execute(ctx, entry.breaker, func(ctx context.Context) (R, error) {
			return fn(ctx, entry.value)
		})
		switch res.Status {
		case StatusOK:
			return res.Value, nil
		case StatusCircuitOpen:
			slog.Debug("skipping provider (circuit open)", "provider", entry.name)
		default:
			slog.Warn("provider failed, trying next",
				"provider", entry.name, "err", res.Err)
		}
		lastErr = res.Err
		if ctx.Err() != nil {
			break
		}
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
