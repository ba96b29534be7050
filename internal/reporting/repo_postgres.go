package reporting

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"call-platform/internal/calls"
)

// PostgresRepo reads the calls table owned by calls.PostgresRepo. It selects
// only the columns the summary needs and skips participants.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) ListCalls(ctx context.Context, chatID string, from, to time.Time) ([]calls.Call, error) {
	if chatID == "" {
		return nil, errors.New("chat_id required")
	}
	const q = `SELECT id, chat_id, is_video, is_group, status, started_at, duration
FROM calls
WHERE chat_id = $1
  AND deleted_at IS NULL
  AND ($2::timestamptz IS NULL OR started_at >= $2)
  AND ($3::timestamptz IS NULL OR started_at < $3)`
	rows, err := r.db.QueryContext(ctx, q, chatID, bound(from), bound(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]calls.Call, 0)
	for rows.Next() {
		var (
			c        calls.Call
			status   string
			duration sql.NullInt64
		)
		if err := rows.Scan(&c.ID, &c.ChatID, &c.IsVideo, &c.IsGroup, &status, &c.StartedAt, &duration); err != nil {
			return nil, err
		}
		c.Status = calls.Status(status)
		if duration.Valid {
			d := int(duration.Int64)
			c.DurationSeconds = &d
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func bound(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
