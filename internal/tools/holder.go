package tools

import "sync/atomic"

// Holder publishes the current [Registry]. Reloading configuration builds a
// new registry and swaps it in; callers that already loaded the previous one
// keep using it until they finish.
type Holder struct {
	p atomic.Pointer[Registry]
}

// NewHolder returns a Holder publishing r.
func NewHolder(r *Registry) *Holder {
	h := &Holder{}
	h.p.Store(r)
	return h
}

// Load returns the current registry.
func (h *Holder) Load() *Registry { return h.p.Load() }

// Swap publishes r and returns the previous registry.
func (h *Holder) Swap(r *Registry) *Registry { return h.p.Swap(r) }
