package resilience

import (
	"context"
	"sync"
	"time"
)

// Store persists per-provider circuit state. Implementations must make
// RecordFailure atomic: the increment and the threshold comparison happen as
// one step, so concurrent failures can neither skip the threshold nor open
// the circuit twice for the same run of failures.
type Store interface {
	// OpenUntil returns the instant until which name is open. The zero time
	// means closed.
	OpenUntil(ctx context.Context, name string) (time.Time, error)

	// RecordFailure increments the consecutive-failure counter for name. When
	// the counter reaches threshold the circuit opens until now+cooldown, the
	// counter resets to zero and opened is true.
	RecordFailure(ctx context.Context, name string, threshold int, cooldown time.Duration, now time.Time) (opened bool, err error)

	// RecordSuccess clears the failure counter for name.
	RecordSuccess(ctx context.Context, name string) error

	// Reset forgets all state for name.
	Reset(ctx context.Context, name string) error
}

// CircuitState is a snapshot of one provider's shared state.
type CircuitState struct {
	Name      string
	Failures  int
	OpenUntil time.Time
}

// MemoryStore is a process-local [Store] guarded by a mutex. Entries are
// created lazily on first failure.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]*CircuitState
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]*CircuitState)}
}

// OpenUntil implements [Store].
func (s *MemoryStore) OpenUntil(_ context.Context, name string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[name]; ok {
		return st.OpenUntil, nil
	}
	return time.Time{}, nil
}

// RecordFailure implements [Store].
func (s *MemoryStore) RecordFailure(_ context.Context, name string, threshold int, cooldown time.Duration, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[name]
	if !ok {
		st = &CircuitState{Name: name}
		s.states[name] = st
	}
	st.Failures++
	if st.Failures < threshold {
		return false, nil
	}
	st.Failures = 0
	st.OpenUntil = now.Add(cooldown)
	return true, nil
}

// RecordSuccess implements [Store].
func (s *MemoryStore) RecordSuccess(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[name]; ok {
		st.Failures = 0
	}
	return nil
}

// Reset implements [Store].
func (s *MemoryStore) Reset(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, name)
	return nil
}

// Snapshot returns a copy of the state for name.
func (s *MemoryStore) Snapshot(name string) (CircuitState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[name]
	if !ok {
		return CircuitState{Name: name}, false
	}
	return *st, true
}
