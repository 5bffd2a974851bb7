// Package orchestrator drives the bounded tool-calling conversation that
// produces a flood situation summary.
//
// A run moves through the states
//
//	Start → AwaitingModel → {Finished | ExecutingTools} → AwaitingModel → …
//
// and ends Finished, IterationCapReached or Failed. Tool calls within one
// iteration execute sequentially in the order the model requested them,
// because later tools (the correlation summary) read earlier results from the
// shared [tools.Context]. Tool failures never end a run; only a failed model
// call or the iteration cap does.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/floodwatch/internal/budget"
	"github.com/MrWong99/floodwatch/internal/observe"
	"github.com/MrWong99/floodwatch/internal/tools"
	"github.com/MrWong99/floodwatch/pkg/provider/llm"
)

// DefaultMaxIterations caps the model round trips of one run.
const DefaultMaxIterations = 5

// DefaultSystemPrompt instructs the model how to use the tools.
const DefaultSystemPrompt = `You are a flood situation assistant for England.
Answer the user's question using only data returned by the tools.
Fetch flood warnings, road incidents and river levels first; call get-correlation-summary only after those data tools have returned.
Call get-flood-forecast when the user asks about the coming days.
Be concise, lead with the most severe risks, and say plainly when a data source returned nothing.`

// IterationCapMessage is the narrative of a run that hit the iteration cap.
const IterationCapMessage = "I couldn't finish preparing the flood summary this time. Please try again."

// Outcome is how a run ended.
type Outcome string

const (
	OutcomeFinished     Outcome = "finished"
	OutcomeIterationCap Outcome = "iteration_limit"
	OutcomeFailed       Outcome = "failed"
)

// Request is the input of one run.
type Request struct {
	Query     string        `json:"query"`
	Region    string        `json:"region,omitempty"`
	Latitude  float64       `json:"latitude,omitempty"`
	Longitude float64       `json:"longitude,omitempty"`
	History   []llm.Message `json:"history,omitempty"`

	// Observer, when set, receives the events of this run in addition to the
	// orchestrator-wide observer.
	Observer Observer `json:"-"`
}

// Result is the caller-facing output of a run. ToolResults holds the full,
// untrimmed data of every tool executed, keyed by [tools.ResultKey].
type Result struct {
	Narrative   string         `json:"narrative"`
	ToolResults map[string]any `json:"tool_results"`
	CompletedAt time.Time      `json:"completed_at"`
	Outcome     Outcome        `json:"outcome"`
	Iterations  int            `json:"iterations"`
	RetryAfter  time.Time      `json:"retry_after,omitzero"`

	// Degraded lists the tool result keys built without their provider.
	Degraded []string `json:"degraded,omitempty"`
}

// Orchestrator runs conversations against one model provider. It holds no
// per-run state and is safe for concurrent use.
type Orchestrator struct {
	provider      llm.Provider
	registry      *tools.Holder
	budget        *budget.Budget
	maxIterations int
	systemPrompt  string
	temperature   float64
	maxTokens     int
	modelName     string

	observer Observer
	logger   *slog.Logger
	metrics  *observe.Metrics
	now      func() time.Time
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithMaxIterations sets the iteration cap. Values below 1 are ignored.
func WithMaxIterations(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxIterations = n
		}
	}
}

// WithBudget sets the token budget used to fit the message list. By default
// the budget of the current tool registry is used.
func WithBudget(b *budget.Budget) Option {
	return func(o *Orchestrator) { o.budget = b }
}

// WithObserver registers an observer for the events of every run.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithMetrics records run and model metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTemperature sets the sampling temperature of every model call.
func WithTemperature(t float64) Option {
	return func(o *Orchestrator) { o.temperature = t }
}

// WithMaxTokens caps the output tokens of every model call.
func WithMaxTokens(n int) Option {
	return func(o *Orchestrator) { o.maxTokens = n }
}

// WithSystemPrompt replaces [DefaultSystemPrompt].
func WithSystemPrompt(p string) Option {
	return func(o *Orchestrator) {
		if p != "" {
			o.systemPrompt = p
		}
	}
}

// WithModelName labels model metrics and spans.
func WithModelName(name string) Option {
	return func(o *Orchestrator) { o.modelName = name }
}

// New returns an Orchestrator that calls provider and dispatches to the
// registry currently published by registry.
func New(provider llm.Provider, registry *tools.Holder, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		provider:      provider,
		registry:      registry,
		maxIterations: DefaultMaxIterations,
		systemPrompt:  DefaultSystemPrompt,
		modelName:     "llm",
		logger:        slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// run is the state of one invocation. It is discarded when Run returns.
type run struct {
	id       string
	req      Request
	registry *tools.Registry
	budget   *budget.Budget
	tc       *tools.Context
	messages []llm.Message
	logger   *slog.Logger
}

// Run executes one conversation.
//
// A run that hits the iteration cap returns a Result with
// [OutcomeIterationCap] and a nil error. A failed model call returns a Result
// with [OutcomeFailed], the user-facing message as narrative, and an
// [*LLMError].
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	r := &run{
		id:       uuid.NewString(),
		req:      req,
		registry: o.registry.Load(),
		tc:       tools.NewContext(req.Region, req.Latitude, req.Longitude),
	}
	r.budget = o.budget
	if r.budget == nil {
		r.budget = r.registry.Budget()
	}
	ctx, span := observe.StartRunSpan(ctx, r.id, req.Region)
	defer span.End()
	r.logger = observe.Logger(ctx, o.logger).With("run_id", r.id)

	// Start.
	r.messages = o.initialMessages(req)
	defs := r.registry.Definitions()
	r.logger.Info("run started", "region", req.Region, "history", len(req.History), "tools", len(defs))

	for iter := 1; iter <= o.maxIterations; iter++ {
		// AwaitingModel.
		r.messages = r.budget.Fit(r.messages)
		o.emit(r, Event{Kind: EventModelCall, Iteration: iter})

		resp, err := o.complete(ctx, r, defs, iter)
		if err != nil {
			res, le := o.fail(ctx, r, iter, err)
			return res, le
		}

		if !resp.WantsTools() {
			return o.finish(ctx, r, iter, resp.Content), nil
		}

		// ExecutingTools.
		o.executeTools(ctx, r, iter, resp)
	}

	res := o.result(r, OutcomeIterationCap, o.maxIterations, IterationCapMessage)
	r.logger.Warn("run reached iteration cap", "iterations", o.maxIterations)
	o.emit(r, Event{Kind: EventFailed, Iteration: o.maxIterations, Status: string(OutcomeIterationCap), Message: IterationCapMessage})
	o.recordRun(ctx, res)
	observe.SetRunOutcome(span, string(res.Outcome), res.Iterations, res.Degraded, nil)
	return res, nil
}

// initialMessages assembles [system, ...history, user].
func (o *Orchestrator) initialMessages(req Request) []llm.Message {
	system := o.systemPrompt
	if req.Region != "" {
		system += "\n\nRegion: " + req.Region
	}
	if req.Latitude != 0 || req.Longitude != 0 {
		system += fmt.Sprintf("\nLocation of interest: %.4f, %.4f", req.Latitude, req.Longitude)
	}
	msgs := make([]llm.Message, 0, len(req.History)+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: system})
	for _, m := range req.History {
		if m.Role == llm.RoleSystem {
			continue
		}
		msgs = append(msgs, m)
	}
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: req.Query})
}

// complete performs one model call.
func (o *Orchestrator) complete(ctx context.Context, r *run, defs []llm.ToolDefinition, iter int) (*llm.CompletionResponse, error) {
	ctx, span := observe.StartModelSpan(ctx, iter, len(r.messages))
	defer span.End()

	start := time.Now()
	resp, err := o.provider.Complete(ctx, llm.CompletionRequest{
		Messages:    r.messages,
		Tools:       defs,
		Temperature: o.temperature,
		MaxTokens:   o.maxTokens,
	})
	if o.metrics != nil {
		o.metrics.RecordLLMDuration(ctx, o.modelName, time.Since(start), err == nil)
	}
	if err == nil && resp == nil {
		err = fmt.Errorf("orchestrator: provider returned no response")
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	r.logger.Debug("model responded",
		"iteration", iter,
		"finish_reason", resp.FinishReason,
		"tool_calls", len(resp.ToolCalls),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)
	return resp, nil
}

// executeTools appends the assistant's tool-call message followed by one
// tool message per call.
func (o *Orchestrator) executeTools(ctx context.Context, r *run, iter int, resp *llm.CompletionResponse) {
	calls := make([]llm.ToolCall, len(resp.ToolCalls))
	for i, c := range resp.ToolCalls {
		if c.ID == "" {
			c.ID = fmt.Sprintf("call_%d_%d", iter, i)
		}
		calls[i] = c
	}
	r.messages = append(r.messages, llm.Message{
		Role:      llm.RoleAssistant,
		Content:   resp.Content,
		ToolCalls: calls,
	})

	for _, call := range calls {
		o.emit(r, Event{Kind: EventToolCall, Iteration: iter, Tool: call.Name})

		status := "ok"
		var view any
		res, v, err := r.registry.Dispatch(ctx, call.Name, call.Arguments, r.tc)
		switch {
		case err != nil:
			status = "rejected"
			view = tools.ErrorView(err.Error())
			r.logger.Warn("tool call rejected", "tool", call.Name, "iteration", iter, "err", err)
		case res.Failed():
			status = "error"
			view = v
			r.logger.Warn("tool call failed", "tool", call.Name, "iteration", iter, "err", res.Error)
		default:
			view = v
			r.tc.Record(tools.ResultKey(call.Name), res)
			if res.Degraded {
				status = "degraded"
			}
		}

		r.messages = append(r.messages, llm.Message{
			Role:       llm.RoleTool,
			Name:       call.Name,
			ToolCallID: call.ID,
			Content:    encodeView(view),
		})
		o.emit(r, Event{Kind: EventToolResult, Iteration: iter, Tool: call.Name, Status: status})
	}
}

// encodeView serialises a model-facing view.
func encodeView(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(tools.ErrorView("result could not be encoded: " + err.Error()))
	}
	return string(data)
}

func (o *Orchestrator) finish(ctx context.Context, r *run, iter int, narrative string) *Result {
	res := o.result(r, OutcomeFinished, iter, narrative)
	r.logger.Info("run finished", "iterations", iter, "tools", len(res.ToolResults))
	o.emit(r, Event{Kind: EventFinished, Iteration: iter, Status: string(OutcomeFinished)})
	o.recordRun(ctx, res)
	observe.SetRunOutcome(trace.SpanFromContext(ctx), string(res.Outcome), iter, res.Degraded, nil)
	return res
}

func (o *Orchestrator) fail(ctx context.Context, r *run, iter int, err error) (*Result, *LLMError) {
	le := Classify(err, o.now())
	res := o.result(r, OutcomeFailed, iter, le.UserMessage())
	res.RetryAfter = le.RetryAfter
	r.logger.Error("model call failed", "iteration", iter, "class", le.Class, "err", err)
	if o.metrics != nil {
		o.metrics.RecordProviderError(ctx, o.modelName, string(le.Class))
	}
	o.emit(r, Event{Kind: EventFailed, Iteration: iter, Status: string(le.Class), Message: res.Narrative})
	o.recordRun(ctx, res)
	observe.SetRunOutcome(trace.SpanFromContext(ctx), string(res.Outcome), iter, res.Degraded, err)
	return res, le
}

func (o *Orchestrator) result(r *run, outcome Outcome, iterations int, narrative string) *Result {
	return &Result{
		Narrative:   narrative,
		ToolResults: r.tc.Results(),
		CompletedAt: o.now(),
		Outcome:     outcome,
		Iterations:  iterations,
		Degraded:    r.tc.Degraded(),
	}
}

func (o *Orchestrator) recordRun(ctx context.Context, res *Result) {
	if o.metrics != nil {
		o.metrics.RecordRun(ctx, string(res.Outcome), res.Iterations)
	}
}

func (o *Orchestrator) emit(r *run, e Event) {
	e.RunID = r.id
	e.At = o.now()
	if o.observer != nil {
		o.observer(e)
	}
	if r.req.Observer != nil {
		r.req.Observer(e)
	}
}
