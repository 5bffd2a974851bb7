package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/floodwatch/pkg/provider/llm"
	llmmock "github.com/MrWong99/floodwatch/pkg/provider/llm/mock"
)

func TestLLMFallback_PrimarySuccess(t *testing.T) {
	t.Parallel()
	primary := &llmmock.Provider{
		CompleteResponse:  &llm.CompletionResponse{Content: "hello from primary"},
		ModelCapabilities: llm.ModelCapabilities{ContextWindow: 1000},
	}
	secondary := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "hello from secondary"},
	}

	fb := NewLLMFallback(NewBreakers(Config{FailureThreshold: 3}, nil), "primary", primary)
	fb.AddFallback("secondary", secondary)

	resp, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hello from primary" {
		t.Fatalf("content = %q, want 'hello from primary'", resp.Content)
	}
	if len(secondary.Calls()) != 0 {
		t.Fatalf("secondary called %d times, want 0", len(secondary.Calls()))
	}
	if fb.Capabilities().ContextWindow != 1000 {
		t.Errorf("Capabilities should come from the primary")
	}
}

func TestLLMFallback_Failover(t *testing.T) {
	t.Parallel()
	primary := &llmmock.Provider{CompleteErr: errors.New("primary down")}
	secondary := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "hello from secondary"},
	}
	breakers := NewBreakers(Config{FailureThreshold: 3}, nil)
	fb := NewLLMFallback(breakers, "primary", primary)
	fb.AddFallback("secondary", secondary)

	resp, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hello from secondary" {
		t.Fatalf("content = %q", resp.Content)
	}
	if _, ok := breakers.States(context.Background())["llm:primary"]; !ok {
		t.Error("expected breaker keyed llm:primary")
	}
}

func TestLLMFallback_AllFail(t *testing.T) {
	t.Parallel()
	fb := NewLLMFallback(NewBreakers(Config{}, nil), "primary", &llmmock.Provider{CompleteErr: errors.New("primary down")})
	fb.AddFallback("secondary", &llmmock.Provider{CompleteErr: errors.New("secondary down")})

	_, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
