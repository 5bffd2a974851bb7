package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ErrorClass groups LLM transport failures by what the user should be told.
type ErrorClass string

const (
	ClassRateLimit  ErrorClass = "rate_limit"
	ClassTimeout    ErrorClass = "timeout"
	ClassConnection ErrorClass = "connection"
	ClassOther      ErrorClass = "other"
)

// DefaultRetryAfter is used for rate limit failures that carry no hint.
const DefaultRetryAfter = 60 * time.Second

// LLMError is a classified failure of the model call that ended a run.
type LLMError struct {
	Class ErrorClass

	// RetryAfter is set for [ClassRateLimit]: the earliest time the caller
	// should try again.
	RetryAfter time.Time

	Err error
}

func (e *LLMError) Error() string {
	return fmt.Sprintf("orchestrator: llm %s: %v", e.Class, e.Err)
}

func (e *LLMError) Unwrap() error { return e.Err }

// UserMessage returns the message shown to the end user for this failure.
func (e *LLMError) UserMessage() string {
	switch e.Class {
	case ClassRateLimit:
		if e.RetryAfter.IsZero() {
			return "The AI service is receiving too many requests. Please try again in a minute."
		}
		return "The AI service is receiving too many requests. Please try again after " +
			e.RetryAfter.Format("15:04:05") + "."
	case ClassTimeout:
		return "The AI service took too long to respond. Please try again."
	case ClassConnection:
		return "The AI service could not be reached. Please try again shortly."
	default:
		return "Something went wrong while preparing the flood summary. Please try again."
	}
}

var (
	rateLimitSignatures  = []string{"rate limit", "rate_limit", "ratelimit", "too many requests", "quota"}
	timeoutSignatures    = []string{"timeout", "timed out", "deadline exceeded"}
	connectionSignatures = []string{"connection refused", "connection reset", "no such host", "broken pipe", "eof"}

	// 429 only counts as an HTTP status, not inside ids, ports or addresses.
	rateLimitStatusPattern = regexp.MustCompile(`(?:^|[\s"(\[])(?:status(?: code)?|code|http(?:/[0-9.]+)?)?[\s:=]*429(?:$|[\s,;.)\]])`)

	retryAfterPattern = regexp.MustCompile(`(?i)(?:retry[- ]after|try again in)[:\s]*([0-9]+(?:\.[0-9]+)?)\s*(ms|s|sec|seconds)?`)
)

// Classify maps a model call error onto an [LLMError]. now anchors the
// retry-after time of rate limit failures.
func Classify(err error, now time.Time) *LLMError {
	var le *LLMError
	if errors.As(err, &le) {
		return le
	}
	msg := strings.ToLower(err.Error())

	switch {
	case containsAny(msg, rateLimitSignatures) || rateLimitStatusPattern.MatchString(msg):
		return &LLMError{Class: ClassRateLimit, RetryAfter: now.Add(retryAfter(msg)), Err: err}
	case errors.Is(err, context.DeadlineExceeded) || isNetTimeout(err) || containsAny(msg, timeoutSignatures):
		return &LLMError{Class: ClassTimeout, Err: err}
	case errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) ||
		containsAny(msg, connectionSignatures):
		return &LLMError{Class: ClassConnection, Err: err}
	default:
		return &LLMError{Class: ClassOther, Err: err}
	}
}

// retryAfter extracts the wait hinted at in a rate limit message.
func retryAfter(msg string) time.Duration {
	m := retryAfterPattern.FindStringSubmatch(msg)
	if m == nil {
		return DefaultRetryAfter
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil || v <= 0 {
		return DefaultRetryAfter
	}
	if m[2] == "ms" {
		return time.Duration(v * float64(time.Millisecond))
	}
	return time.Duration(v * float64(time.Second))
}

func isNetTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
