package resilience

import (
	"context"
	"errors"
)

// Status tags the outcome of [Execute].
type Status int

const (
	// StatusOK means the operation ran and succeeded.
	StatusOK Status = iota
	// StatusCircuitOpen means the operation was not attempted.
	StatusCircuitOpen
	// StatusFailed means the operation ran and returned an error.
	StatusFailed
)

// String returns the metric label for the status.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusCircuitOpen:
		return "circuit_open"
	case StatusFailed:
		return "error"
	default:
		return "unknown"
	}
}

// Result is the tagged outcome of a guarded call: Ok(Value), CircuitOpen or
// Failed(Err).
type Result[T any] struct {
	Value  T
	Status Status
	Err    error
}

// OK reports whether the call succeeded.
func (r Result[T]) OK() bool { return r.Status == StatusOK }

// Execute runs fn through cb and tags the outcome. It is a package-level
// function because Go does not support method-level type parameters.
func Execute[T any](ctx context.Context, cb *CircuitBreaker, fn func(context.Context) (T, error)) Result[T] {
	var value T
	err := cb.Execute(ctx, func(ctx context.Context) error {
		var innerErr error
		value, innerErr = fn(ctx)
		return innerErr
	})
	switch {
	case err == nil:
		return Result[T]{Value: value, Status: StatusOK}
	case errors.Is(err, ErrCircuitOpen):
		return Result[T]{Status: StatusCircuitOpen, Err: err}
	default:
		return Result[T]{Status: StatusFailed, Err: err}
	}
}
