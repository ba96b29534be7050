package calls

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"call-platform/pkg/utils"

	"github.com/jackc/pgx/v5/pgconn"
)

// Schema creates the tables PostgresRepo expects. The partial unique index is
// the durable form of "at most one live call per chat".
const Schema = `
CREATE TABLE IF NOT EXISTS calls (
  id                  TEXT PRIMARY KEY,
  chat_id             TEXT NOT NULL,
  initiator_id        TEXT NOT NULL,
  initiator_member_id TEXT NOT NULL,
  is_video            BOOLEAN NOT NULL DEFAULT FALSE,
  is_group            BOOLEAN NOT NULL DEFAULT FALSE,
  status              TEXT NOT NULL,
  started_at          TIMESTAMPTZ NOT NULL,
  ended_at            TIMESTAMPTZ,
  duration            INT,
  message_id          TEXT,
  stats               JSONB,
  created_at          TIMESTAMPTZ NOT NULL,
  updated_at          TIMESTAMPTZ NOT NULL,
  deleted_at          TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS calls_one_live_per_chat
  ON calls (chat_id) WHERE status IN ('dialing', 'in_progress');
CREATE INDEX IF NOT EXISTS calls_chat_started ON calls (chat_id, started_at DESC);

CREATE TABLE IF NOT EXISTS call_participants (
  call_id   TEXT NOT NULL REFERENCES calls (id) ON DELETE CASCADE,
  member_id TEXT NOT NULL,
  joined_at TIMESTAMPTZ NOT NULL,
  left_at   TIMESTAMPTZ,
  PRIMARY KEY (call_id, member_id)
);
`

const pgUniqueViolation = "23505"

// PostgresRepo stores calls in Postgres through database/sql and the pgx driver.
// Mutations lock the call row (SELECT ... FOR UPDATE) inside a transaction.
type PostgresRepo struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db, clock: time.Now}
}

// EnsureSchema applies Schema. Safe to run on every start.
func (r *PostgresRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("calls schema: %w", err)
	}
	return nil
}

const callColumns = `id, chat_id, initiator_id, initiator_member_id, is_video, is_group, status,
       started_at, ended_at, duration, message_id, stats, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(s rowScanner) (Call, error) {
	var (
		c         Call
		endedAt   sql.NullTime
		duration  sql.NullInt64
		messageID sql.NullString
		stats     []byte
	)
	if err := s.Scan(
		&c.ID,
		&c.ChatID,
		&c.InitiatorID,
		&c.InitiatorMemberID,
		&c.IsVideo,
		&c.IsGroup,
		&c.Status,
		&c.StartedAt,
		&endedAt,
		&duration,
		&messageID,
		&stats,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return Call{}, err
	}
	if endedAt.Valid {
		t := endedAt.Time.UTC()
		c.EndedAt = &t
	}
	if duration.Valid {
		d := int(duration.Int64)
		c.DurationSeconds = &d
	}
	c.MessageID = messageID.String
	if len(stats) > 0 {
		var st Stats
		if err := json.Unmarshal(stats, &st); err != nil {
			return Call{}, fmt.Errorf("decode stats: %w", err)
		}
		c.Stats = &st
	}
	return c, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadParticipants(ctx context.Context, q querier, calls []Call) error {
	if len(calls) == 0 {
		return nil
	}
	ids := make([]string, len(calls))
	idx := make(map[string]int, len(calls))
	for i, c := range calls {
		ids[i] = c.ID
		idx[c.ID] = i
	}
	const stmt = `
SELECT call_id, member_id, left_at IS NULL
FROM call_participants
WHERE call_id = ANY($1)
ORDER BY joined_at, member_id
`
	rows, err := q.QueryContext(ctx, stmt, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var callID, memberID string
		var present bool
		if err := rows.Scan(&callID, &memberID, &present); err != nil {
			return err
		}
		i, ok := idx[callID]
		if !ok {
			continue
		}
		calls[i].AttendeeMemberIDs = append(calls[i].AttendeeMemberIDs, memberID)
		if present && !calls[i].Status.IsTerminal() {
			calls[i].ParticipantMemberIDs = append(calls[i].ParticipantMemberIDs, memberID)
		}
	}
	return rows.Err()
}

func getCall(ctx context.Context, q querier, id string, forUpdate bool) (Call, error) {
	stmt := `SELECT ` + callColumns + ` FROM calls WHERE id = $1 AND deleted_at IS NULL`
	if forUpdate {
		stmt += ` FOR UPDATE`
	}
	c, err := scanCall(q.QueryRowContext(ctx, stmt, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, ErrNotFound
		}
		return Call{}, err
	}
	out := []Call{c}
	if err := loadParticipants(ctx, q, out); err != nil {
		return Call{}, err
	}
	return out[0], nil
}

func (r *PostgresRepo) CreateCall(ctx context.Context, c Call) (Call, error) {
	if c.ID == "" || c.ChatID == "" {
		return Call{}, ErrInvalidArgument
	}
	now := r.clock().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.StartedAt.IsZero() {
		c.StartedAt = now
	}

	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const q = `
INSERT INTO calls (
  id, chat_id, initiator_id, initiator_member_id, is_video, is_group, status,
  started_at, message_id, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`
		if _, err := tx.ExecContext(ctx, q,
			c.ID,
			c.ChatID,
			c.InitiatorID,
			c.InitiatorMemberID,
			c.IsVideo,
			c.IsGroup,
			string(c.Status),
			c.StartedAt,
			nullString(c.MessageID),
			c.CreatedAt,
			c.UpdatedAt,
		); err != nil {
			return err
		}
		for _, m := range c.ParticipantMemberIDs {
			if err := upsertParticipant(ctx, tx, c.ID, m, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			return Call{}, ErrAlreadyActive
		}
		return Call{}, err
	}
	c.AttendeeMemberIDs = append([]string(nil), c.ParticipantMemberIDs...)
	return c, nil
}

func (r *PostgresRepo) FindActiveByChat(ctx context.Context, chatID string) (Call, bool, error) {
	const q = `SELECT ` + callColumns + `
FROM calls
WHERE chat_id = $1 AND status IN ('dialing', 'in_progress') AND deleted_at IS NULL
LIMIT 1`
	c, err := scanCall(r.db.QueryRowContext(ctx, q, chatID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, false, nil
		}
		return Call{}, false, err
	}
	out := []Call{c}
	if err := loadParticipants(ctx, r.db, out); err != nil {
		return Call{}, false, err
	}
	return out[0], true, nil
}

func (r *PostgresRepo) FindByID(ctx context.Context, id string) (Call, bool, error) {
	c, err := getCall(ctx, r.db, id, false)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Call{}, false, nil
		}
		return Call{}, false, err
	}
	return c, true, nil
}

func (r *PostgresRepo) UpdateStatus(ctx context.Context, id string, status Status, patch StatusPatch) (Call, bool, error) {
	var (
		out     Call
		changed bool
	)
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		c, err := getCall(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if c.Status.IsTerminal() || c.Status == status {
			out = c
			return nil
		}
		if err := checkTransition(c.Status, status); err != nil {
			return err
		}

		now := r.clock().UTC()
		c.Status = status
		c.UpdatedAt = now
		if status.IsTerminal() {
			ended := now
			if patch.EndedAt != nil {
				ended = patch.EndedAt.UTC()
			}
			d := durationSeconds(c.StartedAt, ended)
			c.EndedAt = &ended
			c.DurationSeconds = &d
			c.ParticipantMemberIDs = nil

			const q = `UPDATE calls SET status = $2, ended_at = $3, duration = $4, updated_at = $5 WHERE id = $1`
			if _, err := tx.ExecContext(ctx, q, id, string(status), ended, d, now); err != nil {
				return err
			}
			const leave = `UPDATE call_participants SET left_at = $2 WHERE call_id = $1 AND left_at IS NULL`
			if _, err := tx.ExecContext(ctx, leave, id, ended); err != nil {
				return err
			}
		} else {
			const q = `UPDATE calls SET status = $2, updated_at = $3 WHERE id = $1`
			if _, err := tx.ExecContext(ctx, q, id, string(status), now); err != nil {
				return err
			}
		}
		out = c
		changed = true
		return nil
	})
	if err != nil {
		return Call{}, false, err
	}
	return out, changed, nil
}

func (r *PostgresRepo) SetVideo(ctx context.Context, id string, isVideo bool) (Call, error) {
	var out Call
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		c, err := getCall(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if c.Status.IsTerminal() {
			return ErrInvalidTransition
		}
		now := r.clock().UTC()
		const q = `UPDATE calls SET is_video = $2, updated_at = $3 WHERE id = $1`
		if _, err := tx.ExecContext(ctx, q, id, isVideo, now); err != nil {
			return err
		}
		c.IsVideo = isVideo
		c.UpdatedAt = now
		out = c
		return nil
	})
	return out, err
}

func (r *PostgresRepo) SetMessageID(ctx context.Context, id, messageID string) error {
	const q = `UPDATE calls SET message_id = $2, updated_at = $3 WHERE id = $1 AND deleted_at IS NULL`
	return r.execOne(ctx, q, id, nullString(messageID), r.clock().UTC())
}

func (r *PostgresRepo) SaveStats(ctx context.Context, id string, stats Stats) error {
	raw, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	const q = `UPDATE calls SET stats = $2, updated_at = $3 WHERE id = $1 AND deleted_at IS NULL`
	return r.execOne(ctx, q, id, raw, r.clock().UTC())
}

func (r *PostgresRepo) AppendParticipant(ctx context.Context, id, memberID string) (Call, error) {
	var out Call
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		c, err := getCall(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if c.Status.IsTerminal() {
			return ErrInvalidTransition
		}
		now := r.clock().UTC()
		if err := upsertParticipant(ctx, tx, id, memberID, now); err != nil {
			return err
		}
		if err := touch(ctx, tx, id, now); err != nil {
			return err
		}
		out, err = getCall(ctx, tx, id, false)
		return err
	})
	return out, err
}

func (r *PostgresRepo) RemoveParticipant(ctx context.Context, id, memberID string) (Call, error) {
	var out Call
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := getCall(ctx, tx, id, true); err != nil {
			return err
		}
		now := r.clock().UTC()
		const q = `UPDATE call_participants SET left_at = $3 WHERE call_id = $1 AND member_id = $2 AND left_at IS NULL`
		if _, err := tx.ExecContext(ctx, q, id, memberID, now); err != nil {
			return err
		}
		if err := touch(ctx, tx, id, now); err != nil {
			return err
		}
		var err error
		out, err = getCall(ctx, tx, id, false)
		return err
	})
	return out, err
}

func (r *PostgresRepo) HardDelete(ctx context.Context, id string) error {
	const q = `DELETE FROM calls WHERE id = $1`
	return r.execOne(ctx, q, id)
}

func (r *PostgresRepo) History(ctx context.Context, chatID string, hq HistoryQuery) ([]Call, error) {
	if chatID == "" {
		return nil, ErrInvalidArgument
	}
	hq = hq.withDefaults()
	const q = `SELECT ` + callColumns + `
FROM calls
WHERE chat_id = $1
  AND deleted_at IS NULL
  AND ($2::timestamptz IS NULL OR started_at >= $2)
  AND ($3::timestamptz IS NULL OR started_at < $3)
ORDER BY started_at DESC, id DESC
LIMIT $4`
	rows, err := r.db.QueryContext(ctx, q, chatID, nullTime(hq.FromDate), nullTime(hq.ToDate), hq.Limit)
	if err != nil {
		return nil, err
	}
	out, err := collectCalls(rows)
	if err != nil {
		return nil, err
	}
	if err := loadParticipants(ctx, r.db, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PostgresRepo) ListActive(ctx context.Context) ([]Call, error) {
	const q = `SELECT ` + callColumns + `
FROM calls
WHERE status IN ('dialing', 'in_progress') AND deleted_at IS NULL
ORDER BY started_at`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	out, err := collectCalls(rows)
	if err != nil {
		return nil, err
	}
	if err := loadParticipants(ctx, r.db, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PostgresRepo) execOne(ctx context.Context, q string, args ...any) error {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func collectCalls(rows *sql.Rows) ([]Call, error) {
	defer rows.Close()
	out := make([]Call, 0)
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func upsertParticipant(ctx context.Context, tx *sql.Tx, callID, memberID string, now time.Time) error {
	const q = `
INSERT INTO call_participants (call_id, member_id, joined_at)
VALUES ($1, $2, $3)
ON CONFLICT (call_id, member_id) DO UPDATE SET left_at = NULL
`
	_, err := tx.ExecContext(ctx, q, callID, memberID, now)
	return err
}

func touch(ctx context.Context, tx *sql.Tx, id string, now time.Time) error {
	_, err := tx.ExecContext(ctx, `UPDATE calls SET updated_at = $2 WHERE id = $1`, id, now)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
