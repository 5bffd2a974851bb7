// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (OpenAI, Anthropic, a local
// Ollama instance, ...) and exposes a uniform interface for the conversation
// orchestrator to request tool-aware completions without coupling to any
// specific SDK.
//
// Implementors must be safe for concurrent use.
package llm

import "context"

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history. A leading "system" message,
	// if present, carries the instructions.
	Messages []Message

	// Tools is the set of function/tool definitions offered to the model. The model
	// may choose to call one or more of them in its response.
	Tools []ToolDefinition

	// Temperature controls output randomness in the range [0.0, 2.0].
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default.
	MaxTokens int
}

// CompletionResponse is returned by [Provider.Complete].
type CompletionResponse struct {
	// Content is the full text of the assistant's reply. Empty when the model
	// responds exclusively with tool calls.
	Content string

	// ToolCalls lists all tool invocations requested by the model. The caller is
	// responsible for executing them and appending the results to the conversation.
	ToolCalls []ToolCall

	// FinishReason indicates why generation stopped. See the Finish* constants.
	FinishReason string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// WantsTools reports whether the response asks the caller to execute tools
// before the conversation can continue.
func (r *CompletionResponse) WantsTools() bool {
	if r == nil || len(r.ToolCalls) == 0 {
		return false
	}
	return r.FinishReason == "" || r.FinishReason == FinishToolCalls
}

// Provider is the abstraction over any LLM backend.
//
// Complete must propagate context cancellation promptly.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities returns static metadata describing what this provider's
	// underlying model supports.
	Capabilities() ModelCapabilities
}
