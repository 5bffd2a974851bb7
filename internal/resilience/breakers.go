package resilience

import (
	"context"
	"sort"
	"sync"
)

// Breakers hands out one [CircuitBreaker] per provider name, created lazily on
// first use. All breakers share the same [Store] and template config.
type Breakers struct {
	cfg   Config
	store Store
	opts  []Option

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewBreakers creates a breaker set. cfg.Name is ignored.
func NewBreakers(cfg Config, store Store, opts ...Option) *Breakers {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Breakers{
		cfg:      cfg,
		store:    store,
		opts:     opts,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for name, creating it if needed.
func (b *Breakers) Get(name string) *CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok := b.breakers[name]; ok {
		return cb
	}
	cfg := b.cfg
	cfg.Name = name
	cb := NewCircuitBreaker(cfg, b.store, b.opts...)
	b.breakers[name] = cb
	return cb
}

// States reports the current state of every breaker created so far, keyed by
// provider name.
func (b *Breakers) States(ctx context.Context) map[string]State {
	b.mu.Lock()
	names := make([]string, 0, len(b.breakers))
	for name := range b.breakers {
		names = append(names, name)
	}
	b.mu.Unlock()
	sort.Strings(names)

	out := make(map[string]State, len(names))
	for _, name := range names {
		out[name] = b.Get(name).State(ctx)
	}
	return out
}
