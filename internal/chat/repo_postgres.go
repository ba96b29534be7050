package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NOTE: chat_members and messages belong to the wider chat product. Schema only
// creates them when missing so the call service can run standalone.
const Schema = `
CREATE TABLE IF NOT EXISTS chat_members (
  id         TEXT PRIMARY KEY,
  chat_id    TEXT NOT NULL,
  user_id    TEXT NOT NULL,
  joined_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
  left_at    TIMESTAMPTZ,
  UNIQUE (chat_id, user_id)
);

CREATE TABLE IF NOT EXISTS messages (
  id               TEXT PRIMARY KEY,
  chat_id          TEXT NOT NULL,
  sender_member_id TEXT NOT NULL,
  kind             TEXT NOT NULL,
  body             JSONB NOT NULL,
  created_at       TIMESTAMPTZ NOT NULL,
  updated_at       TIMESTAMPTZ NOT NULL
);
`

const messageKindCall = "call"

// PostgresDirectory reads memberships from chat_members.
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) EnsureSchema(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("chat schema: %w", err)
	}
	return nil
}

func (d *PostgresDirectory) Member(ctx context.Context, chatID, userID string) (Member, error) {
	const q = `
SELECT id, chat_id, user_id
FROM chat_members
WHERE chat_id = $1 AND user_id = $2 AND left_at IS NULL
`
	var m Member
	if err := d.db.QueryRowContext(ctx, q, chatID, userID).Scan(&m.ID, &m.ChatID, &m.UserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Member{}, ErrNotMember
		}
		return Member{}, err
	}
	return m, nil
}

func (d *PostgresDirectory) Members(ctx context.Context, chatID string) ([]Member, error) {
	const q = `
SELECT id, chat_id, user_id
FROM chat_members
WHERE chat_id = $1 AND left_at IS NULL
ORDER BY id
`
	rows, err := d.db.QueryContext(ctx, q, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Member, 0)
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ID, &m.ChatID, &m.UserID); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// PostgresMessages writes call markers into the messages table.
type PostgresMessages struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresMessages(db *sql.DB) *PostgresMessages {
	return &PostgresMessages{db: db, clock: time.Now}
}

func (s *PostgresMessages) CreateCallMessage(ctx context.Context, chatID, senderMemberID string, m CallMarker) (string, error) {
	if chatID == "" || m.CallID == "" {
		return "", ErrInvalidArgument
	}
	body, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	now := s.clock().UTC()
	const q = `
INSERT INTO messages (id, chat_id, sender_member_id, kind, body, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`
	if _, err := s.db.ExecContext(ctx, q, id, chatID, senderMemberID, messageKindCall, body, now, now); err != nil {
		return "", err
	}
	return id, nil
}

func (s *PostgresMessages) UpdateCallMessage(ctx context.Context, messageID string, m CallMarker) error {
	body, err := json.Marshal(m)
	if err != nil {
		return err
	}
	const q = `UPDATE messages SET body = $2, updated_at = $3 WHERE id = $1 AND kind = $4`
	res, err := s.db.ExecContext(ctx, q, messageID, body, s.clock().UTC(), messageKindCall)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (s *PostgresMessages) DeleteMessage(ctx context.Context, messageID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = $1`, messageID)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrMessageNotFound
	}
	return nil
}
