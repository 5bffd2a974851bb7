package tools

import (
	"context"
	"log/slog"

	"github.com/MrWong99/floodwatch/internal/observe"
	"github.com/MrWong99/floodwatch/internal/resilience"
)

// Upstream is the guarded call site of one provider: its circuit breaker and
// the telemetry recorded for every call.
type Upstream struct {
	Breaker *resilience.CircuitBreaker
	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// Call runs fn through u.Breaker. Failures are logged and counted here so the
// calling tool only has to degrade to an empty payload.
func Call[T any](ctx context.Context, u Upstream, fn func(context.Context) (T, error)) resilience.Result[T] {
	var res resilience.Result[T]
	if u.Breaker == nil {
		v, err := fn(ctx)
		res = resilience.Result[T]{Value: v}
		if err != nil {
			res = resilience.Result[T]{Status: resilience.StatusFailed, Err: err}
		}
	} else {
		res = resilience.Execute(ctx, u.Breaker, fn)
	}

	name := u.Name()
	if u.Metrics != nil {
		u.Metrics.RecordProviderRequest(ctx, name, res.Status.String())
		if res.Status == resilience.StatusFailed {
			u.Metrics.RecordProviderError(ctx, name, "request")
		}
	}
	switch res.Status {
	case resilience.StatusCircuitOpen:
		u.logger().Warn("provider skipped, circuit open", "provider", name)
	case resilience.StatusFailed:
		u.logger().Warn("provider call failed", "provider", name, "err", res.Err)
	}
	return res
}

// Name returns the breaker name used in logs and metrics.
func (u Upstream) Name() string {
	if u.Breaker == nil {
		return "unguarded"
	}
	return u.Breaker.Name()
}

func (u Upstream) logger() *slog.Logger {
	if u.Logger == nil {
		return slog.Default()
	}
	return u.Logger
}
