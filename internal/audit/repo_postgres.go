package audit

import (
	"context"
	"database/sql"
	"fmt"
)

const Schema = `
CREATE TABLE IF NOT EXISTS audit_events (
  id            TEXT PRIMARY KEY,
  chat_id       TEXT NOT NULL,
  type          TEXT NOT NULL,
  actor_user_id TEXT,
  call_id       TEXT,
  message       TEXT,
  metadata      JSONB,
  created_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_events_chat ON audit_events (chat_id, created_at DESC);
`

// PostgresRepo is INSERT-only.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("audit schema: %w", err)
	}
	return nil
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `INSERT INTO audit_events (id, chat_id, type, actor_user_id, call_id, message, metadata, created_at)
VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, '')::jsonb, $8)`
	_, err := r.db.ExecContext(ctx, q, e.ID, e.ChatID, string(e.Type), e.ActorUserID, e.CallID, e.Message, e.Metadata, e.CreatedAt)
	return err
}
