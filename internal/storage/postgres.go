package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"letterfall/engine/internal/logging"
	"letterfall/engine/internal/session"
	"letterfall/engine/internal/strategy"
)

const resultsSchema = `
CREATE TABLE IF NOT EXISTS session_results (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	user_id TEXT NOT NULL,
	score INTEGER NOT NULL,
	session_type TEXT NOT NULL,
	session_number INTEGER NOT NULL,
	user_profile TEXT NOT NULL,
	duration_ms BIGINT NOT NULL,
	event_log JSONB NOT NULL,
	statistics JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_session_results_user ON session_results (user_id, created_at DESC);
`

// PostgresStore persists results in a session_results table via pgxpool.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  *logging.Logger
}

// NewPostgresStore connects to the database, verifies the connection and
// ensures the results schema exists.
func NewPostgresStore(ctx context.Context, databaseURL string, logger *logging.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = logging.L()
	}
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("storage: parse database url: %w", err)
	}
	//1.- Apply pool defaults suitable for a small always-on service.
	if poolConfig.MaxConns == 0 {
		poolConfig.MaxConns = 10
	}
	if poolConfig.MinConns == 0 {
		poolConfig.MinConns = 2
	}
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("storage: create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping database: %w", err)
	}
	//2.- The schema is idempotent; re-running it on startup is harmless.
	if _, err := pool.Exec(ctx, resultsSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ensure schema: %w", err)
	}
	return &PostgresStore{pool: pool, log: logger}, nil
}

// SaveResult inserts one finished session.
func (s *PostgresStore) SaveResult(ctx context.Context, userID string, result *session.Result) error {
	if result == nil {
		return fmt.Errorf("storage: result must be provided")
	}
	history, err := json.Marshal(result.History)
	if err != nil {
		return fmt.Errorf("storage: encode event log: %w", err)
	}
	summary, err := json.Marshal(result.Statistics)
	if err != nil {
		return fmt.Errorf("storage: encode statistics: %w", err)
	}
	const query = `
		INSERT INTO session_results
			(user_id, score, session_type, session_number, user_profile, duration_ms, event_log, statistics)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if _, err := s.pool.Exec(ctx, query,
		userID,
		result.Score,
		string(result.SessionType),
		result.SessionNumber,
		result.ProfileName,
		result.DurationMs,
		history,
		summary,
	); err != nil {
		return fmt.Errorf("storage: insert result: %w", err)
	}
	return nil
}

// ResultsByUser returns the newest results for one player, newest first.
func (s *PostgresStore) ResultsByUser(ctx context.Context, userID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `
		SELECT id, user_id, score, session_type, session_number, user_profile,
		       duration_ms, event_log, statistics, created_at
		FROM session_results
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: query results: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0, limit)
	for rows.Next() {
		var (
			record      Record
			result      session.Result
			sessionType string
			history     []byte
			summary     []byte
		)
		if err := rows.Scan(
			&record.ID,
			&record.UserID,
			&result.Score,
			&sessionType,
			&result.SessionNumber,
			&result.ProfileName,
			&result.DurationMs,
			&history,
			&summary,
			&record.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan result: %w", err)
		}
		result.SessionType = strategy.Type(sessionType)
		if err := json.Unmarshal(history, &result.History); err != nil {
			return nil, fmt.Errorf("storage: decode event log: %w", err)
		}
		if err := json.Unmarshal(summary, &result.Statistics); err != nil {
			return nil, fmt.Errorf("storage: decode statistics: %w", err)
		}
		result.Persist = true
		record.Result = &result
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate results: %w", err)
	}
	return records, nil
}

// SavedCount reports the total number of persisted results.
func (s *PostgresStore) SavedCount(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM session_results`).Scan(&count); err != nil {
		return 0, fmt.Errorf("storage: count results: %w", err)
	}
	return count, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}
