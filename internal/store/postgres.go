package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// DBPool abstracts pgxpool.Pool so the store can be tested with pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

const (
	sqlCreateTables = `
        CREATE TABLE IF NOT EXISTS webpilot_sessions (
            session_id TEXT PRIMARY KEY,
            input TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL
        );
        CREATE TABLE IF NOT EXISTS webpilot_steps (
            session_id TEXT NOT NULL REFERENCES webpilot_sessions(session_id) ON DELETE CASCADE,
            step_index INTEGER NOT NULL,
            payload JSONB NOT NULL,
            recorded_at TIMESTAMPTZ NOT NULL,
            PRIMARY KEY (session_id, step_index)
        );
        CREATE INDEX IF NOT EXISTS webpilot_sessions_created_at_idx ON webpilot_sessions (created_at);
    `
	sqlInsertSession = `
        INSERT INTO webpilot_sessions (session_id, input, created_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (session_id) DO NOTHING;
    `
	sqlInsertStep = `
        INSERT INTO webpilot_steps (session_id, step_index, payload, recorded_at)
        VALUES ($1, $2, $3, $4);
    `
	sqlSelectSession = `
        SELECT input, created_at FROM webpilot_sessions WHERE session_id = $1;
    `
	sqlSelectSteps = `
        SELECT payload FROM webpilot_steps WHERE session_id = $1 ORDER BY step_index ASC;
    `
	sqlListSessions = `
        SELECT session_id, input, created_at FROM webpilot_sessions ORDER BY created_at ASC;
    `
)

// PostgresStore persists sessions in two tables, one row per step.
type PostgresStore struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.MemoryStore = (*PostgresStore)(nil)

// NewPostgresStore verifies the connection before returning.
func NewPostgresStore(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresStore, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{pool: pool, log: logger.Named("store.postgres")}, nil
}

// EnsureSchema creates the tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, sqlCreateTables); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Append writes the session row (first time only) and the step in one transaction.
func (s *PostgresStore) Append(ctx context.Context, sessionID, input string, step schemas.Step) error {
	payload, err := json.Marshal(step)
	if err != nil {
		return fmt.Errorf("failed to encode step: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.Exec(ctx, sqlInsertSession, sessionID, input, now()); err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	if _, err := tx.Exec(ctx, sqlInsertStep, sessionID, step.Index, payload, step.Timestamp.UTC()); err != nil {
		return fmt.Errorf("failed to insert step %d: %w", step.Index, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Load returns schemas.ErrSessionNotFound for unknown ids.
func (s *PostgresStore) Load(ctx context.Context, sessionID string) (*schemas.SessionRecord, error) {
	rec := &schemas.SessionRecord{Session: sessionID, Steps: []schemas.Step{}}
	var createdAt time.Time
	if err := s.pool.QueryRow(ctx, sqlSelectSession, sessionID).Scan(&rec.Input, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, schemas.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	rec.CreatedAt = createdAt.UTC()

	rows, err := s.pool.Query(ctx, sqlSelectSteps, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan step row: %w", err)
		}
		var step schemas.Step
		if err := json.Unmarshal(payload, &step); err != nil {
			return nil, fmt.Errorf("failed to decode step: %w", err)
		}
		rec.Steps = append(rec.Steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return rec, nil
}

// List returns the catalog ordered by creation time.
func (s *PostgresStore) List(ctx context.Context) ([]schemas.SessionSummary, error) {
	rows, err := s.pool.Query(ctx, sqlListSessions)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	summaries := []schemas.SessionSummary{}
	for rows.Next() {
		var sum schemas.SessionSummary
		if err := rows.Scan(&sum.Session, &sum.Input, &sum.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sum.CreatedAt = sum.CreatedAt.UTC()
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return summaries, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
