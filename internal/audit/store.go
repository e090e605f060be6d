// Package audit persists queries, plans, merged results and review decisions
// to Postgres so every answer the platform ships can be traced back to what
// produced it.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/agrimind/orchestrator/internal/orchestration"
)

// Store writes audit rows. Nil-safe: a nil Store drops all writes, which
// keeps the orchestrator runnable with the database disabled.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// Open connects to Postgres and verifies the connection.
func Open(dsn string, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping audit database: %w", err)
	}

	logger.Info("Audit store connected")
	return &Store{db: db, logger: logger}, nil
}

// NewStore wraps an existing connection. Used by tests.
func NewStore(db *sqlx.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

// RecordQuery stores an accepted query with its complexity score.
func (s *Store) RecordQuery(ctx context.Context, q orchestration.Query, score orchestration.ComplexityScore) error {
	if s == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO queries (id, session_id, question, modality, locale, tier, retrieval_depth, reasoning_depth, arrived_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		q.ID, nullString(q.SessionID), q.Text, string(q.Modality), nullString(q.Locale),
		string(score.Tier), score.RetrievalDepth, score.ReasoningDepth, q.ArrivedAt,
	)
	if err != nil {
		return fmt.Errorf("record query %s: %w", q.ID, err)
	}
	return nil
}

// RecordPlan stores an execution plan with its steps as JSONB.
func (s *Store) RecordPlan(ctx context.Context, plan *orchestration.ExecutionPlan) error {
	if s == nil {
		return nil
	}
	steps, err := json.Marshal(plan.Steps)
	if err != nil {
		return fmt.Errorf("encode plan steps: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO plans (query_id, tier, step_count, steps, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		plan.QueryID, string(plan.Tier), len(plan.Steps), steps, plan.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record plan for %s: %w", plan.QueryID, err)
	}
	return nil
}

// RecordResult stores a merged composite result and its gate state.
func (s *Store) RecordResult(ctx context.Context, c *orchestration.CompositeResult, state orchestration.ReviewState) error {
	if s == nil {
		return nil
	}
	claims, err := json.Marshal(c.Claims)
	if err != nil {
		return fmt.Errorf("encode claims: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO composite_results (id, query_id, answer, confidence, penalty, claims, review_state, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.QueryID, c.Answer, c.Confidence, c.Penalty, claims, string(state), c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record result %s: %w", c.ID, err)
	}
	return nil
}

// RecordDecision stores a terminal review decision and stamps the result row.
func (s *Store) RecordDecision(ctx context.Context, d orchestration.ReviewDecision) error {
	if s == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO review_decisions (composite_id, outcome, reviewer, feedback, decided_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		d.CompositeID, string(d.Outcome), nullString(d.Reviewer), nullString(d.Feedback), d.DecidedAt,
	)
	if err != nil {
		return fmt.Errorf("record decision for %s: %w", d.CompositeID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE composite_results SET review_state = $1 WHERE id = $2`,
		string(d.Outcome), d.CompositeID,
	)
	if err != nil {
		return fmt.Errorf("update result state for %s: %w", d.CompositeID, err)
	}
	return nil
}

// ResultRow is one audited composite result.
type ResultRow struct {
	ID          string    `db:"id"`
	QueryID     string    `db:"query_id"`
	Answer      string    `db:"answer"`
	Confidence  float64   `db:"confidence"`
	ReviewState string    `db:"review_state"`
	CreatedAt   time.Time `db:"created_at"`
}

// ResultForQuery fetches the stored result for a query, newest first.
func (s *Store) ResultForQuery(ctx context.Context, queryID string) (*ResultRow, error) {
	if s == nil {
		return nil, sql.ErrNoRows
	}
	var row ResultRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, query_id, answer, confidence, review_state, created_at
		 FROM composite_results WHERE query_id = $1 ORDER BY created_at DESC LIMIT 1`,
		queryID,
	)
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Ping reports connectivity for health checks.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil {
		return nil
	}
	return s.db.PingContext(ctx)
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
