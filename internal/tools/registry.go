package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/MrWong99/floodwatch/internal/budget"
	"github.com/MrWong99/floodwatch/internal/observe"
	"github.com/MrWong99/floodwatch/pkg/provider/llm"
)

var (
	// ErrUnknownTool is returned by [Registry.Dispatch] for a name no tool
	// answers to.
	ErrUnknownTool = errors.New("tools: unknown tool")

	// ErrInvalidArguments is returned by [Registry.Dispatch] when the
	// arguments do not satisfy the tool's schema.
	ErrInvalidArguments = errors.New("tools: invalid arguments")
)

// entry is one registered tool with its resolved argument schema.
type entry struct {
	tool   Tool
	schema *jsonschema.Resolved
	llmDef llm.ToolDefinition
}

// Registry maps tool names to tools. It is built once from a fixed tool set
// and is immutable afterwards, so it is safe for concurrent use.
type Registry struct {
	entries map[string]entry
	order   []string
	budget  *budget.Budget
	metrics *observe.Metrics
	logger  *slog.Logger
}

// RegistryOption configures a [Registry].
type RegistryOption func(*Registry)

// WithMetrics records tool calls on m.
func WithMetrics(m *observe.Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry resolves the schema of every tool and returns the registry.
// Tools are advertised in the order given. b sizes the model-facing views; a
// nil b uses [budget.DefaultLimits].
func NewRegistry(b *budget.Budget, set []Tool, opts ...RegistryOption) (*Registry, error) {
	if b == nil {
		b = budget.New(budget.DefaultCeiling, budget.DefaultLimits())
	}
	r := &Registry{
		entries: make(map[string]entry, len(set)),
		budget:  b,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}

	for _, t := range set {
		def := t.Definition()
		if def.Name == "" {
			return nil, errors.New("tools: tool must have a non-empty name")
		}
		if def.Name != t.Name() {
			return nil, fmt.Errorf("tools: tool %q declares name %q", t.Name(), def.Name)
		}
		if _, dup := r.entries[def.Name]; dup {
			return nil, fmt.Errorf("tools: duplicate tool %q", def.Name)
		}
		schema := def.Parameters
		if schema == nil {
			schema = EmptySchema()
		}
		resolved, err := schema.Resolve(nil)
		if err != nil {
			return nil, fmt.Errorf("tools: resolve schema of %q: %w", def.Name, err)
		}
		params, err := schemaToMap(schema)
		if err != nil {
			return nil, fmt.Errorf("tools: encode schema of %q: %w", def.Name, err)
		}
		r.entries[def.Name] = entry{
			tool:   t,
			schema: resolved,
			llmDef: llm.ToolDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  params,
			},
		}
		r.order = append(r.order, def.Name)
	}
	return r, nil
}

// schemaToMap converts a schema into the generic form carried by
// [llm.ToolDefinition].
func schemaToMap(s *jsonschema.Schema) (map[string]any, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Definitions returns the declarations of all tools for advertisement to the
// model, in registration order.
func (r *Registry) Definitions() []llm.ToolDefinition {
	out := make([]llm.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].llmDef)
	}
	return out
}

// Tools returns the registered tools in registration order.
func (r *Registry) Tools() []Tool {
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].tool)
	}
	return out
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	e, ok := r.entries[name]
	return e.tool, ok
}

// Budget returns the budget used to size model-facing views.
func (r *Registry) Budget() *budget.Budget { return r.budget }

// Dispatch validates rawArgs against the schema of the named tool, executes
// it and returns the full result together with its model-facing view.
//
// The returned error is [ErrUnknownTool] or wraps [ErrInvalidArguments]; in
// both cases no tool ran. Failures inside the tool surface as a failed
// [Result], never as an error.
func (r *Registry) Dispatch(ctx context.Context, name, rawArgs string, tc *Context) (Result, any, error) {
	e, ok := r.entries[name]
	if !ok {
		r.record(ctx, name, "unknown", 0)
		return Result{}, nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}

	args, err := ParseArgs(rawArgs)
	if err == nil {
		err = e.schema.Validate(map[string]any(args))
	}
	if err != nil {
		r.record(ctx, name, "invalid_arguments", 0)
		return Result{}, nil, fmt.Errorf("%w for %q: %v", ErrInvalidArguments, name, err)
	}

	ctx, span := observe.StartToolSpan(ctx, name)
	defer span.End()

	start := time.Now()
	res := e.tool.Execute(ctx, args, tc)
	status := "ok"
	switch {
	case res.Failed():
		status = "error"
	case res.Degraded:
		status = "degraded"
	}
	observe.SetToolStatus(span, status, res.Error)
	r.record(ctx, name, status, time.Since(start))

	if res.Failed() {
		return res, ErrorView(res.Error), nil
	}
	return res, e.tool.PresentForLLM(res, r.budget), nil
}

func (r *Registry) record(ctx context.Context, name, status string, d time.Duration) {
	if r.metrics != nil {
		r.metrics.RecordToolCall(ctx, name, status, d)
	}
	r.logger.Debug("tool dispatched", "tool", name, "status", status, "duration", d)
}
