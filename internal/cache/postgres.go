package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/MrWong99/floodwatch/internal/storage"
)

// Schema is the SQL DDL for the result_cache table.
const Schema = `
CREATE TABLE IF NOT EXISTS result_cache (
    fingerprint  TEXT PRIMARY KEY,
    narrative    TEXT NOT NULL DEFAULT '',
    tool_results JSONB NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL,
    expires_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_result_cache_expires ON result_cache (expires_at);
`

const putSQL = `
INSERT INTO result_cache (fingerprint, narrative, tool_results, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (fingerprint) DO UPDATE SET
    narrative    = EXCLUDED.narrative,
    tool_results = EXCLUDED.tool_results,
    created_at   = EXCLUDED.created_at,
    expires_at   = EXCLUDED.expires_at`

// PostgresCache is a [Store] shared by every replica connected to the same
// database.
//
// Tool results come back as [json.RawMessage] values, which re-encode to the
// exact JSON that was stored.
type PostgresCache struct {
	db  storage.DB
	now func() time.Time
}

var _ Store = (*PostgresCache)(nil)

// NewPostgresCache creates a [PostgresCache]. The caller is responsible for
// calling [PostgresCache.Migrate] before use.
func NewPostgresCache(db storage.DB) *PostgresCache {
	return &PostgresCache{db: db, now: time.Now}
}

// Migrate executes the [Schema] DDL.
func (c *PostgresCache) Migrate(ctx context.Context) error {
	if _, err := c.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("cache: migrate: %w", err)
	}
	return nil
}

// Get implements [Store].
func (c *PostgresCache) Get(ctx context.Context, fingerprint string) (Entry, bool, error) {
	var (
		e   Entry
		raw []byte
	)
	err := c.db.QueryRow(ctx,
		`SELECT narrative, tool_results, created_at FROM result_cache
		 WHERE fingerprint = $1 AND expires_at > $2`,
		fingerprint, c.now(),
	).Scan(&e.Narrative, &raw, &e.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("cache: get: %w", err)
	}
	var results map[string]json.RawMessage
	if err := json.Unmarshal(raw, &results); err != nil {
		return Entry{}, false, fmt.Errorf("cache: decode tool results: %w", err)
	}
	e.ToolResults = make(map[string]any, len(results))
	for k, v := range results {
		e.ToolResults[k] = v
	}
	return e, true, nil
}

// Put implements [Store].
func (c *PostgresCache) Put(ctx context.Context, fingerprint string, e Entry, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	results := e.ToolResults
	if results == nil {
		results = map[string]any{}
	}
	raw, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("cache: encode tool results: %w", err)
	}
	now := c.now()
	created := e.CompletedAt
	if created.IsZero() {
		created = now
	}
	if _, err := c.db.Exec(ctx, putSQL, fingerprint, e.Narrative, raw, created, now.Add(ttl)); err != nil {
		return fmt.Errorf("cache: put: %w", err)
	}
	return nil
}

// Sweep deletes expired rows and returns how many were removed.
func (c *PostgresCache) Sweep(ctx context.Context) (int64, error) {
	tag, err := c.db.Exec(ctx, `DELETE FROM result_cache WHERE expires_at <= $1`, c.now())
	if err != nil {
		return 0, fmt.Errorf("cache: sweep: %w", err)
	}
	return tag.RowsAffected(), nil
}
