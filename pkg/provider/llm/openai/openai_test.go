package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/floodwatch/pkg/provider/llm"
)

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("expected error for empty api key")
	}
	if _, err := New("key", ""); err == nil {
		t.Error("expected error for empty model")
	}
}

func TestConvertMessage(t *testing.T) {
	t.Parallel()

	t.Run("system", func(t *testing.T) {
		p, err := convertMessage(llm.Message{Role: llm.RoleSystem, Content: "You summarise floods."})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.OfSystem == nil {
			t.Fatal("expected OfSystem to be set")
		}
	})

	t.Run("user", func(t *testing.T) {
		p, err := convertMessage(llm.Message{Role: llm.RoleUser, Content: "Any flooding near York?"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.OfUser == nil {
			t.Fatal("expected OfUser to be set")
		}
	})

	t.Run("assistant with tool calls", func(t *testing.T) {
		p, err := convertMessage(llm.Message{
			Role: llm.RoleAssistant,
			ToolCalls: []llm.ToolCall{
				{ID: "call_1", Name: "get-flood-data", Arguments: `{"latitude":53.96}`},
			},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.OfAssistant == nil {
			t.Fatal("expected OfAssistant to be set")
		}
		if len(p.OfAssistant.ToolCalls) != 1 {
			t.Fatalf("expected 1 tool call, got %d", len(p.OfAssistant.ToolCalls))
		}
		tc := p.OfAssistant.ToolCalls[0]
		if tc.ID != "call_1" || tc.Function.Name != "get-flood-data" {
			t.Errorf("unexpected tool call %+v", tc)
		}
	})

	t.Run("tool", func(t *testing.T) {
		p, err := convertMessage(llm.Message{Role: llm.RoleTool, Content: "[]", ToolCallID: "call_1"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.OfTool == nil {
			t.Fatal("expected OfTool to be set")
		}
		if p.OfTool.ToolCallID != "call_1" {
			t.Errorf("ToolCallID = %q, want call_1", p.OfTool.ToolCallID)
		}
	})

	t.Run("unknown role", func(t *testing.T) {
		if _, err := convertMessage(llm.Message{Role: "narrator"}); err == nil {
			t.Fatal("expected error for unknown role")
		}
	})
}

func TestBuildParams_RejectsEmpty(t *testing.T) {
	t.Parallel()
	p, err := New("key", "gpt-4o")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.buildParams(llm.CompletionRequest{}); err == nil {
		t.Fatal("expected error for empty message list")
	}
}

func TestBuildParams_Tools(t *testing.T) {
	t.Parallel()
	p, err := New("key", "gpt-4o")
	if err != nil {
		t.Fatal(err)
	}
	params, err := p.buildParams(llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		Tools: []llm.ToolDefinition{
			{Name: "get-river-levels", Description: "River gauges", Parameters: map[string]any{"type": "object"}},
		},
		MaxTokens: 256,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(params.Tools) != 1 || params.Tools[0].Function.Name != "get-river-levels" {
		t.Fatalf("unexpected tools %+v", params.Tools)
	}
	if len(params.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(params.Messages))
	}
}

func TestComplete_ToolCalls(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "gpt-4o",
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": null,
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {"name": "get-flood-data", "arguments": "{\"radius_km\":10}"}
					}]
				}
			}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 7, "total_tokens": 19}
		}`)
	}))
	defer srv.Close()

	p, err := New("key", "gpt-4o", WithBaseURL(srv.URL), WithMaxRetries(0))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "Summarise"},
			{Role: llm.RoleUser, Content: "Floods near Leeds?"},
		},
		Tools: []llm.ToolDefinition{{Name: "get-flood-data", Parameters: map[string]any{"type": "object"}}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.FinishReason != llm.FinishToolCalls {
		t.Errorf("FinishReason = %q, want tool_calls", resp.FinishReason)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "get-flood-data" {
		t.Fatalf("unexpected tool calls %+v", resp.ToolCalls)
	}
	if resp.ToolCalls[0].Arguments != `{"radius_km":10}` {
		t.Errorf("Arguments = %q", resp.ToolCalls[0].Arguments)
	}
	if resp.Usage.TotalTokens != 19 {
		t.Errorf("TotalTokens = %d, want 19", resp.Usage.TotalTokens)
	}
	if gotBody["model"] != "gpt-4o" {
		t.Errorf("request model = %v", gotBody["model"])
	}
}

func TestComplete_RateLimitError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"Rate limit reached","type":"requests"}}`)
	}))
	defer srv.Close()

	p, err := New("key", "gpt-4o", WithBaseURL(srv.URL), WithMaxRetries(0))
	if err != nil {
		t.Fatal(err)
	}
	_, err = p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "429") {
		t.Errorf("error %q should mention the status code", err)
	}
}

func TestModelCapabilities(t *testing.T) {
	t.Parallel()
	tests := []struct {
		model   string
		window  int
		toolUse bool
	}{
		{"gpt-4o-mini", 128_000, true},
		{"gpt-4", 8_192, true},
		{"gpt-3.5-turbo", 16_385, true},
		{"o1-mini", 128_000, false},
		{"o3", 200_000, true},
	}
	for _, tt := range tests {
		caps := modelCapabilities(tt.model)
		if caps.ContextWindow != tt.window {
			t.Errorf("%s: ContextWindow = %d, want %d", tt.model, caps.ContextWindow, tt.window)
		}
		if caps.SupportsToolCalling != tt.toolUse {
			t.Errorf("%s: SupportsToolCalling = %v, want %v", tt.model, caps.SupportsToolCalling, tt.toolUse)
		}
	}
}
