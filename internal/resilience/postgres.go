package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/MrWong99/floodwatch/internal/storage"
)

// CircuitSchema is the SQL DDL for the circuit_state table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const CircuitSchema = `
CREATE TABLE IF NOT EXISTS circuit_state (
    name       TEXT PRIMARY KEY,
    failures   INTEGER NOT NULL DEFAULT 0,
    open_until TIMESTAMPTZ,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// recordFailureSQL increments and compares in a single statement. The
// conflicting row is locked for the duration of the upsert, so concurrent
// failures are serialised by PostgreSQL.
const recordFailureSQL = `
INSERT INTO circuit_state (name, failures, open_until, updated_at)
VALUES ($1,
        CASE WHEN $2::int <= 1 THEN 0 ELSE 1 END,
        CASE WHEN $2::int <= 1 THEN $4::timestamptz ELSE NULL END,
        $3)
ON CONFLICT (name) DO UPDATE SET
    failures   = CASE WHEN circuit_state.failures + 1 >= $2::int THEN 0
                      ELSE circuit_state.failures + 1 END,
    open_until = CASE WHEN circuit_state.failures + 1 >= $2::int THEN $4::timestamptz
                      ELSE circuit_state.open_until END,
    updated_at = $3
RETURNING failures = 0 AND open_until IS NOT DISTINCT FROM $4::timestamptz`

// PostgresStore is a [Store] shared by every replica connected to the same
// database.
type PostgresStore struct {
	db storage.DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a [PostgresStore]. The caller is responsible for
// calling [PostgresStore.Migrate] before use.
func NewPostgresStore(db storage.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [CircuitSchema] DDL.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, CircuitSchema); err != nil {
		return fmt.Errorf("resilience: migrate: %w", err)
	}
	return nil
}

// OpenUntil implements [Store].
func (s *PostgresStore) OpenUntil(ctx context.Context, name string) (time.Time, error) {
	var until time.Time
	err := s.db.QueryRow(ctx,
		`SELECT open_until FROM circuit_state WHERE name = $1 AND open_until IS NOT NULL`,
		name,
	).Scan(&until)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("resilience: open until %q: %w", name, err)
	}
	return until, nil
}

// RecordFailure implements [Store].
func (s *PostgresStore) RecordFailure(ctx context.Context, name string, threshold int, cooldown time.Duration, now time.Time) (bool, error) {
	var opened bool
	err := s.db.QueryRow(ctx, recordFailureSQL,
		name, threshold, now, now.Add(cooldown),
	).Scan(&opened)
	if err != nil {
		return false, fmt.Errorf("resilience: record failure %q: %w", name, err)
	}
	return opened, nil
}

// RecordSuccess implements [Store].
func (s *PostgresStore) RecordSuccess(ctx context.Context, name string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE circuit_state SET failures = 0, updated_at = now() WHERE name = $1 AND failures <> 0`,
		name,
	)
	if err != nil {
		return fmt.Errorf("resilience: record success %q: %w", name, err)
	}
	return nil
}

// Reset implements [Store].
func (s *PostgresStore) Reset(ctx context.Context, name string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM circuit_state WHERE name = $1`, name); err != nil {
		return fmt.Errorf("resilience: reset %q: %w", name, err)
	}
	return nil
}
