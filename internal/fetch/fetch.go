// Package fetch is the shared HTTP JSON client used by every provider client.
//
// Each call carries a per-attempt timeout and is retried a bounded number of
// times with a fixed delay, but only for transient transport failures
// (timeouts, resets, refused connections, truncated bodies). A non-2xx
// response is an application-level answer and is returned immediately as a
// [*StatusError].
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"syscall"
	"time"
)

// Default client parameters.
const (
	DefaultTimeout    = 10 * time.Second
	DefaultRetries    = 2
	DefaultRetryDelay = 500 * time.Millisecond

	userAgent = "floodwatch/1.0"
)

// ErrStatus is wrapped by every [*StatusError].
var ErrStatus = errors.New("unexpected HTTP status")

// StatusError reports a non-2xx response.
type StatusError struct {
	URL  string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: %d", e.URL, e.Code)
	}
	return fmt.Sprintf("%s: %d: %s", e.URL, e.Code, e.Body)
}

// Unwrap lets errors.Is match [ErrStatus].
func (e *StatusError) Unwrap() error { return ErrStatus }

// Config tunes a [Client]. Zero fields fall back to the package defaults;
// a negative Retries disables retrying.
type Config struct {
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
}

// Observer is notified once per logical request with its final error (nil on
// success). It is used to feed provider metrics.
type Observer func(ctx context.Context, name string, attempts int, err error)

// Client fetches JSON documents. It is safe for concurrent use.
type Client struct {
	name       string
	http       *http.Client
	timeout    time.Duration
	retries    int
	retryDelay time.Duration
	observer   Observer
	logger     *slog.Logger
}

// Option configures a [Client].
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithObserver installs a request observer.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client. name identifies the upstream in logs and metrics.
func New(name string, cfg Config, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries == 0 {
		cfg.Retries = DefaultRetries
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	c := &Client{
		name:       name,
		http:       http.DefaultClient,
		timeout:    cfg.Timeout,
		retries:    cfg.Retries,
		retryDelay: cfg.RetryDelay,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Name returns the upstream name given to [New].
func (c *Client) Name() string { return c.name }

// GetJSON issues a GET to rawURL and decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, rawURL string, out any) error {
	var (
		lastErr  error
		attempts int
	)
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				c.observe(ctx, attempts, lastErr)
				return fmt.Errorf("fetch %s: %w", c.name, lastErr)
			case <-time.After(c.retryDelay):
			}
		}
		attempts++
		err := c.getOnce(ctx, rawURL, out)
		if err == nil {
			c.observe(ctx, attempts, nil)
			return nil
		}
		lastErr = err
		if ctx.Err() != nil || !IsTransient(err) {
			break
		}
		c.logger.Debug("transient fetch failure, retrying",
			"provider", c.name, "attempt", attempts, "err", err)
	}
	c.observe(ctx, attempts, lastErr)
	return fmt.Errorf("fetch %s: %w", c.name, lastErr)
}

func (c *Client) getOnce(ctx context.Context, rawURL string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return &StatusError{URL: rawURL, Code: resp.StatusCode, Body: string(body)}
	}
	if out == nil {
		_, err = io.Copy(io.Discard, resp.Body)
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) observe(ctx context.Context, attempts int, err error) {
	if c.observer != nil {
		c.observer(ctx, c.name, attempts, err)
	}
}

// IsTransient reports whether err is a transport failure worth retrying.
// HTTP status errors, malformed payloads and caller cancellation are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrStatus) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}
