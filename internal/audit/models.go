package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - chat_id is required; every audited action happens inside a chat.
// - Audit is best-effort; callers never fail a call transition on it.
type Event struct {
	ID     string    `json:"id" db:"id"`
	ChatID string    `json:"chat_id" db:"chat_id"`
	Type   EventType `json:"type" db:"type"`

	// ActorUserID is the authenticated user causing the event.
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`

	CallID string `json:"call_id,omitempty" db:"call_id"`

	Message  string `json:"message,omitempty" db:"message"`
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	// EventTypeCallCanceled is a caller cancel that erased a call before anyone answered.
	EventTypeCallCanceled EventType = "call_canceled"
	// EventTypeCallDeleted is an explicit delete of a call record by its initiator.
	EventTypeCallDeleted EventType = "call_deleted"
)
