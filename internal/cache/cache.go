// Package cache implements the result cache: identical requests within the
// TTL window return the previously computed narrative and full tool data
// without touching any provider or the model.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// DefaultTTL is how long entries stay valid when no TTL is configured.
const DefaultTTL = 15 * time.Minute

// Key kinds, also used as metric attributes.
const (
	KindSummary = "summary"
	KindSurvey  = "survey"
)

// Entry is one cached result.
type Entry struct {
	Narrative   string         `json:"narrative,omitempty"`
	ToolResults map[string]any `json:"tool_results"`
	CompletedAt time.Time      `json:"completed_at"`
}

// Store is a fingerprint-keyed cache with per-entry expiry. A Get on an
// expired or absent fingerprint reports ok=false.
type Store interface {
	Get(ctx context.Context, fingerprint string) (e Entry, ok bool, err error)
	Put(ctx context.Context, fingerprint string, e Entry, ttl time.Duration) error
}

// Nop is a [Store] that never holds anything.
type Nop struct{}

// Get always misses.
func (Nop) Get(context.Context, string) (Entry, bool, error) { return Entry{}, false, nil }

// Put discards e.
func (Nop) Put(context.Context, string, Entry, time.Duration) error { return nil }

// Fingerprint normalises parts (lower case, trimmed, inner whitespace
// collapsed), joins them with the unit separator and returns the SHA-256 hex
// digest.
func Fingerprint(parts ...string) string {
	norm := make([]string, len(parts))
	for i, p := range parts {
		norm[i] = strings.Join(strings.Fields(strings.ToLower(p)), " ")
	}
	sum := sha256.Sum256([]byte(strings.Join(norm, "\x1f")))
	return hex.EncodeToString(sum[:])
}
