package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestExecute_TaggedResult(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cb := NewCircuitBreaker(Config{Name: "test", FailureThreshold: 1, Cooldown: time.Hour}, nil)

	ok := Execute(ctx, cb, func(context.Context) ([]string, error) {
		return []string{"a", "b"}, nil
	})
	if !ok.OK() || len(ok.Value) != 2 || ok.Err != nil {
		t.Fatalf("ok result = %+v", ok)
	}

	failed := Execute(ctx, cb, func(context.Context) ([]string, error) {
		return nil, errTest
	})
	if failed.Status != StatusFailed || !errors.Is(failed.Err, errTest) {
		t.Fatalf("failed result = %+v", failed)
	}

	called := false
	open := Execute(ctx, cb, func(context.Context) ([]string, error) {
		called = true
		return nil, nil
	})
	if open.Status != StatusCircuitOpen || called {
		t.Fatalf("open result = %+v, called = %v", open, called)
	}
	if !errors.Is(open.Err, ErrCircuitOpen) {
		t.Errorf("open.Err = %v, want ErrCircuitOpen", open.Err)
	}
}

func TestStatus_String(t *testing.T) {
	t.Parallel()
	for s, want := range map[Status]string{
		StatusOK:          "ok",
		StatusCircuitOpen: "circuit_open",
		StatusFailed:      "error",
		Status(42):        "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("Status(%d).String() = %q, want %q", s, got, want)
		}
	}
}
