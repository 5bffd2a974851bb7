// Package resilience provides circuit breaker and provider failover primitives.
//
// The central type is [CircuitBreaker], a two-state breaker (closed → open)
// whose failure counters live in an injected [Store] so that every request
// context in the process (or, with [PostgresStore], every replica) observes
// the same state. An open breaker closes again once its cooldown has elapsed;
// the next call is simply attempted.
//
// [Execute] returns a tagged [Result] so callers switch on the outcome instead
// of inspecting sentinel errors. [FallbackGroup] composes several instances of
// a provider type with per-entry breakers.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] when the breaker is
// open and the cooldown has not yet elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Default breaker parameters.
const (
	DefaultFailureThreshold = 5
	DefaultCooldown         = 30 * time.Second
)

// State represents the current operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed is the normal operating state. All calls are forwarded.
	StateClosed State = iota

	// StateOpen indicates the breaker has tripped. Calls are rejected with
	// [ErrCircuitOpen] until the cooldown elapses.
	StateOpen

	// StateDisabled means the breaker forwards every call and keeps no state.
	StateDisabled
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// Config holds tuning knobs for a [CircuitBreaker].
type Config struct {
	// Name is the provider key. Breakers sharing a store and a name share state.
	Name string

	// Disabled turns the breaker into a pass-through.
	Disabled bool

	// FailureThreshold is the number of consecutive failures that opens the
	// breaker. Default: 5.
	FailureThreshold int

	// Cooldown is how long the breaker stays open. Default: 30s.
	Cooldown time.Duration
}

// CircuitBreaker guards calls to a single provider.
type CircuitBreaker struct {
	name      string
	disabled  bool
	threshold int
	cooldown  time.Duration
	store     Store
	now       func() time.Time
	logger    *slog.Logger
	onOpen    func(name string)
}

// Option configures a [CircuitBreaker].
type Option func(*CircuitBreaker)

// WithClock overrides time.Now. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(cb *CircuitBreaker) { cb.now = now }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(cb *CircuitBreaker) { cb.logger = l }
}

// WithOnOpen registers a callback invoked each time this breaker opens.
func WithOnOpen(fn func(name string)) Option {
	return func(cb *CircuitBreaker) { cb.onOpen = fn }
}

// NewCircuitBreaker creates a [CircuitBreaker] over store. A nil store gets a
// private [MemoryStore]. Zero-value config fields are replaced with defaults.
func NewCircuitBreaker(cfg Config, store Store, opts ...Option) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if store == nil {
		store = NewMemoryStore()
	}
	cb := &CircuitBreaker{
		name:      cfg.Name,
		disabled:  cfg.Disabled,
		threshold: cfg.FailureThreshold,
		cooldown:  cfg.Cooldown,
		store:     store,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(cb)
	}
	return cb
}

// Name returns the provider key of the breaker.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Execute runs fn unless the breaker is open, in which case it returns
// [ErrCircuitOpen] without calling fn. Store failures never block fn: the
// breaker fails open and logs the store error. Errors returned after ctx is
// cancelled or past its deadline are not counted as provider failures.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if cb.disabled {
		return fn(ctx)
	}

	until, err := cb.store.OpenUntil(ctx, cb.name)
	if err != nil {
		cb.logger.Warn("circuit store unavailable, allowing call",
			"provider", cb.name, "err", err)
	} else if cb.now().Before(until) {
		return ErrCircuitOpen
	}

	callErr := fn(ctx)

	// A caller that gave up says nothing about the provider.
	if callErr != nil && ctx.Err() != nil {
		return callErr
	}
	if callErr == nil {
		if err := cb.store.RecordSuccess(ctx, cb.name); err != nil {
			cb.logger.Warn("circuit store: record success failed",
				"provider", cb.name, "err", err)
		}
		return nil
	}

	opened, err := cb.store.RecordFailure(ctx, cb.name, cb.threshold, cb.cooldown, cb.now())
	if err != nil {
		cb.logger.Warn("circuit store: record failure failed",
			"provider", cb.name, "err", err)
	}
	if opened {
		cb.logger.Warn("circuit breaker opened",
			"provider", cb.name,
			"threshold", cb.threshold,
			"cooldown", cb.cooldown)
		if cb.onOpen != nil {
			cb.onOpen(cb.name)
		}
	}
	return callErr
}

// State reports whether the breaker currently rejects calls. Store errors
// report [StateClosed], mirroring the fail-open behaviour of Execute.
func (cb *CircuitBreaker) State(ctx context.Context) State {
	if cb.disabled {
		return StateDisabled
	}
	until, err := cb.store.OpenUntil(ctx, cb.name)
	if err != nil || !cb.now().Before(until) {
		return StateClosed
	}
	return StateOpen
}

// Reset clears the breaker's shared state.
func (cb *CircuitBreaker) Reset(ctx context.Context) error {
	return cb.store.Reset(ctx, cb.name)
}
