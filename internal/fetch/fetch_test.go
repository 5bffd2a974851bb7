package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

type payload struct {
	Items []string `json:"items"`
}

func TestGetJSON_Success(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("Accept = %q", r.Header.Get("Accept"))
		}
		_, _ = io.WriteString(w, `{"items":["a","b"]}`)
	}))
	defer srv.Close()

	var observed atomic.Int32
	c := New("test", Config{}, WithObserver(func(_ context.Context, name string, attempts int, err error) {
		if name != "test" || attempts != 1 || err != nil {
			t.Errorf("observer got name=%q attempts=%d err=%v", name, attempts, err)
		}
		observed.Add(1)
	}))
	var out payload
	if err := c.GetJSON(context.Background(), srv.URL, &out); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if len(out.Items) != 2 {
		t.Errorf("items = %v", out.Items)
	}
	if observed.Load() != 1 {
		t.Errorf("observer called %d times, want 1", observed.Load())
	}
}

func TestGetJSON_StatusErrorNotRetried(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "upstream broken", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New("test", Config{Retries: 3, RetryDelay: time.Millisecond})
	err := c.GetJSON(context.Background(), srv.URL, &payload{})
	if !errors.Is(err, ErrStatus) {
		t.Fatalf("err = %v, want ErrStatus", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusInternalServerError {
		t.Fatalf("expected StatusError 500, got %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("server hit %d times, want 1", hits.Load())
	}
}

func TestGetJSON_RetriesDroppedConnections(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Error("response writer cannot hijack")
				return
			}
			conn, _, err := hj.Hijack()
			if err == nil {
				_ = conn.Close()
			}
			return
		}
		_, _ = io.WriteString(w, `{"items":["ok"]}`)
	}))
	defer srv.Close()

	c := New("test", Config{Retries: 2, RetryDelay: time.Millisecond})
	var out payload
	if err := c.GetJSON(context.Background(), srv.URL, &out); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if hits.Load() != 3 {
		t.Errorf("server hit %d times, want 3", hits.Load())
	}
}

func TestGetJSON_TimeoutExhaustsRetries(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := New("test", Config{Timeout: 20 * time.Millisecond, Retries: 1, RetryDelay: time.Millisecond})
	err := c.GetJSON(context.Background(), srv.URL, &payload{})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !IsTransient(err) {
		t.Errorf("timeout should classify as transient: %v", err)
	}
	if hits.Load() != 2 {
		t.Errorf("server hit %d times, want 2", hits.Load())
	}
}

func TestGetJSON_MalformedBodyNotRetried(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, `{"items": not-json}`)
	}))
	defer srv.Close()

	c := New("test", Config{Retries: 3, RetryDelay: time.Millisecond})
	if err := c.GetJSON(context.Background(), srv.URL, &payload{}); err == nil {
		t.Fatal("expected decode error")
	}
	if hits.Load() != 1 {
		t.Errorf("server hit %d times, want 1", hits.Load())
	}
}

func TestIsTransient(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"status", &StatusError{Code: 503}, false},
		{"canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("wrap: %w", context.DeadlineExceeded), true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"plain", errors.New("bad json"), false},
	}
	for _, tt := range tests {
		if got := IsTransient(tt.err); got != tt.want {
			t.Errorf("%s: IsTransient = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()
	c := New("x", Config{})
	if c.timeout != DefaultTimeout || c.retries != DefaultRetries || c.retryDelay != DefaultRetryDelay {
		t.Errorf("defaults not applied: %+v", c)
	}
	if New("x", Config{Retries: -1}).retries != 0 {
		t.Error("negative retries should disable retrying")
	}
}
