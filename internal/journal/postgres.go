package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists session records in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS session_journal (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ NOT NULL,
			reason TEXT NOT NULL,
			end_reason TEXT NOT NULL DEFAULT '',
			last_transcript TEXT NOT NULL DEFAULT '',
			user_speech_at TIMESTAMPTZ,
			agent_activity_at TIMESTAMPTZ,
			recording_path TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_session_journal_ended ON session_journal (ended_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, record Record) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.EndedAt.IsZero() {
		record.EndedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO session_journal
		 (id, session_id, started_at, ended_at, reason, end_reason, last_transcript, user_speech_at, agent_activity_at, recording_path)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		record.ID,
		record.SessionID,
		record.StartedAt,
		record.EndedAt,
		record.Reason,
		record.EndReason,
		record.LastTranscript,
		nullTime(record.UserSpeechAt),
		nullTime(record.AgentActivityAt),
		record.RecordingPath,
	)
	if err != nil {
		return fmt.Errorf("save session record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, started_at, ended_at, reason, end_reason, last_transcript,
		        user_speech_at, agent_activity_at, recording_path
		 FROM session_journal ORDER BY ended_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query session records: %w", err)
	}
	defer rows.Close()

	items := make([]Record, 0, limit)
	for rows.Next() {
		var (
			r             Record
			userSpeech    *time.Time
			agentActivity *time.Time
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &r.StartedAt, &r.EndedAt, &r.Reason, &r.EndReason,
			&r.LastTranscript, &userSpeech, &agentActivity, &r.RecordingPath); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		if userSpeech != nil {
			r.UserSpeechAt = *userSpeech
		}
		if agentActivity != nil {
			r.AgentActivityAt = *agentActivity
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
