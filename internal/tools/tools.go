// Package tools defines the capability set shared by every floodwatch tool
// and the [Registry] that advertises and dispatches them.
//
// Each tool lives in its own sub-package and exposes two materializations of
// its output: the full [Result] returned to callers, and a trimmed view built
// by [Tool.PresentForLLM] that is the only thing the model ever sees. The set
// of tools is closed; it is assembled once at startup and never changes for
// the lifetime of a [Registry].
package tools

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/MrWong99/floodwatch/internal/budget"
)

// LLM-facing tool names.
const (
	NameFloodData          = "get-flood-data"
	NameHighwaysIncidents  = "get-highways-incidents"
	NameFloodForecast      = "get-flood-forecast"
	NameRiverLevels        = "get-river-levels"
	NameCorrelationSummary = "get-correlation-summary"
)

// ResultKey returns the key under which a tool's full result is reported to
// callers: the tool name without its "get-" prefix.
func ResultKey(name string) string {
	return strings.TrimPrefix(name, "get-")
}

// Definition is the declaration of a tool advertised to the model.
type Definition struct {
	Name        string
	Description string

	// Parameters is the JSON schema of the argument object. A nil schema
	// declares a tool without parameters.
	Parameters *jsonschema.Schema
}

// Tool is one capability the model can invoke.
//
// Execute must never fail past its own boundary: upstream failures, including
// an open circuit, produce an empty successful [Result]. Implementations must
// be safe for concurrent use.
type Tool interface {
	// Name is the stable identifier matching [Definition.Name].
	Name() string

	// Definition returns the declaration advertised to the model. It has no
	// side effects.
	Definition() Definition

	// Execute performs the tool call with validated arguments.
	Execute(ctx context.Context, args Args, tc *Context) Result

	// PresentForLLM derives the trimmed view of r sent to the model.
	PresentForLLM(r Result, b *budget.Budget) any
}

// Result is the tagged outcome of a tool call: either a success carrying Data
// or a failure carrying Error.
//
// Degraded marks a success whose upstream failed or was skipped, so Data is
// the empty payload rather than the provider's answer.
type Result struct {
	Data     any    `json:"data,omitempty"`
	Error    string `json:"error,omitempty"`
	Degraded bool   `json:"-"`
}

// OK returns a successful result.
func OK(data any) Result { return Result{Data: data} }

// Partial returns a successful result built without its upstream.
func Partial(data any) Result { return Result{Data: data, Degraded: true} }

// Failure returns an error-shaped result.
func Failure(msg string) Result { return Result{Error: msg} }

// Failed reports whether r is an error result.
func (r Result) Failed() bool { return r.Error != "" }

// ErrorView is the model-facing payload of a failed call.
func ErrorView(msg string) map[string]string {
	return map[string]string{"error": msg}
}

// Context is the conversation-scoped state passed to every tool call. It
// carries the region, the centre point of the request and the full results of
// tools already executed in this conversation, keyed by [ResultKey].
//
// Tools only read from a Context; the orchestrator records results with
// [Context.Put]. A Context is safe for concurrent use.
type Context struct {
	Region    string
	Latitude  float64
	Longitude float64

	mu       sync.RWMutex
	results  map[string]any
	degraded map[string]bool
}

// NewContext returns an empty Context. A zero latitude and longitude means
// the request has no centre of its own.
func NewContext(region string, lat, lon float64) *Context {
	return &Context{
		Region:    region,
		Latitude:  lat,
		Longitude: lon,
		results:   make(map[string]any),
	}
}

// Center returns the request centre, if one was given.
func (c *Context) Center() (lat, lon float64, ok bool) {
	if c == nil || (c.Latitude == 0 && c.Longitude == 0) {
		return 0, 0, false
	}
	return c.Latitude, c.Longitude, true
}

// Put records the full result data of a tool. A later call for the same key
// replaces the earlier data.
func (c *Context) Put(key string, data any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.results == nil {
		c.results = make(map[string]any)
	}
	c.results[key] = data
}

// Record stores the data of r under key and remembers whether it was
// degraded. A later record for the same key replaces both.
func (c *Context) Record(key string, r Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.results == nil {
		c.results = make(map[string]any)
	}
	c.results[key] = r.Data
	if r.Degraded {
		if c.degraded == nil {
			c.degraded = make(map[string]bool)
		}
		c.degraded[key] = true
	} else {
		delete(c.degraded, key)
	}
}

// Degraded returns the sorted keys whose recorded data was degraded.
func (c *Context) Degraded() []string {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.degraded) == 0 {
		return nil
	}
	return slices.Sorted(maps.Keys(c.degraded))
}

// Get returns the recorded data for key.
func (c *Context) Get(key string) (any, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.results[key]
	return v, ok
}

// Results returns a copy of all recorded data.
func (c *Context) Results() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.results))
	for k, v := range c.results {
		out[k] = v
	}
	return out
}

// Lookup returns the data recorded under key when it has type T.
func Lookup[T any](c *Context, key string) (T, bool) {
	var zero T
	v, ok := c.Get(key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}
