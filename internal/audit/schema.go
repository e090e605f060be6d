package audit

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS queries (
		id              TEXT PRIMARY KEY,
		session_id      TEXT,
		question        TEXT NOT NULL,
		modality        TEXT NOT NULL,
		locale          TEXT,
		tier            TEXT NOT NULL,
		retrieval_depth DOUBLE PRECISION NOT NULL,
		reasoning_depth DOUBLE PRECISION NOT NULL,
		arrived_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS plans (
		query_id   TEXT NOT NULL REFERENCES queries(id),
		tier       TEXT NOT NULL,
		step_count INTEGER NOT NULL,
		steps      JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS composite_results (
		id           TEXT PRIMARY KEY,
		query_id     TEXT NOT NULL,
		answer       TEXT NOT NULL,
		confidence   DOUBLE PRECISION NOT NULL,
		penalty      DOUBLE PRECISION NOT NULL DEFAULT 0,
		claims       JSONB NOT NULL,
		review_state TEXT NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS review_decisions (
		composite_id TEXT NOT NULL,
		outcome      TEXT NOT NULL,
		reviewer     TEXT,
		feedback     TEXT,
		decided_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_results_query ON composite_results(query_id)`,
	`CREATE INDEX IF NOT EXISTS idx_decisions_composite ON review_decisions(composite_id)`,
}

// EnsureSchema creates the audit tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil {
		return nil
	}
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply audit schema: %w", err)
		}
	}
	return nil
}
