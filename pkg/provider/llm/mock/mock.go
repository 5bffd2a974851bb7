// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify that the orchestrator sends correct
// CompletionRequests and to feed a scripted sequence of model turns without a
// live LLM backend. Fields must be set before the first call.
//
// Example:
//
//	p := &mock.Provider{
//	    Script: []mock.Step{
//	        {Response: &llm.CompletionResponse{ToolCalls: []llm.ToolCall{{ID: "1", Name: "get-flood-data"}}}},
//	        {Response: &llm.CompletionResponse{Content: "No warnings.", FinishReason: llm.FinishStop}},
//	    },
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/floodwatch/pkg/provider/llm"
)

// Step is one scripted model turn.
type Step struct {
	Response *llm.CompletionResponse
	Err      error
}

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	// Ctx is the context passed to Complete.
	Ctx context.Context
	// Req is the CompletionRequest passed to Complete. Its Messages slice is a
	// copy taken at call time.
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider.
//
// Complete consumes Script in order. Once the script is exhausted it returns
// CompleteResponse, CompleteErr.
type Provider struct {
	mu sync.Mutex

	// Script is the sequence of responses returned by successive Complete calls.
	Script []Step

	// CompleteResponse is returned once Script is exhausted. May be nil.
	CompleteResponse *llm.CompletionResponse

	// CompleteErr is returned once Script is exhausted.
	CompleteErr error

	// ModelCapabilities is returned by Capabilities.
	ModelCapabilities llm.ModelCapabilities

	// CompleteCalls records every invocation of Complete in order.
	CompleteCalls []CompleteCall

	next int
}

// Complete records the call and returns the next scripted step.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	msgs := make([]llm.Message, len(req.Messages))
	copy(msgs, req.Messages)
	req.Messages = msgs
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})

	if p.next < len(p.Script) {
		s := p.Script[p.next]
		p.next++
		return s.Response, s.Err
	}
	return p.CompleteResponse, p.CompleteErr
}

// Capabilities returns ModelCapabilities.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelCapabilities
}

// Calls returns a snapshot of the recorded Complete calls.
func (p *Provider) Calls() []CompleteCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]CompleteCall, len(p.CompleteCalls))
	copy(out, p.CompleteCalls)
	return out
}

// Reset clears recorded calls and rewinds the script.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = nil
	p.next = 0
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)
