package calls

import "time"

// Call is one call attempt in a chat.
//
// Invariants:
// - EndedAt is set iff Status is terminal.
// - DurationSeconds, when set, equals EndedAt - StartedAt in whole seconds.
// - ParticipantMemberIDs holds the members currently in the call; AttendeeMemberIDs
//   holds every member that ever joined and only grows.
//
// Members are referenced by chat-member id, never by embedded objects; user ids
// are resolved through the chat membership oracle.
type Call struct {
	ID                string `json:"id" db:"id"`
	ChatID            string `json:"chat_id" db:"chat_id"`
	InitiatorID       string `json:"initiator_id" db:"initiator_id"`
	InitiatorMemberID string `json:"initiator_member_id" db:"initiator_member_id"`

	IsVideo bool `json:"is_video" db:"is_video"`
	IsGroup bool `json:"is_group" db:"is_group"`

	Status Status `json:"status" db:"status"`

	StartedAt       time.Time  `json:"started_at" db:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	DurationSeconds *int       `json:"duration,omitempty" db:"duration"`

	// MessageID links the in-band system marker message, if one was created.
	MessageID string `json:"message_id,omitempty" db:"message_id"`

	ParticipantMemberIDs []string `json:"participant_member_ids"`
	AttendeeMemberIDs    []string `json:"attendee_member_ids,omitempty"`

	Stats *Stats `json:"stats,omitempty" db:"stats"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Stats is opaque client-reported transport telemetry.
type Stats struct {
	PacketLoss float64 `json:"packet_loss"`
	JitterMs   float64 `json:"jitter_ms"`
	RTTMs      float64 `json:"rtt_ms"`
}

type Status string

const (
	StatusDialing    Status = "dialing"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusDeclined   Status = "declined"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusDeclined, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

func (s Status) Valid() bool {
	switch s {
	case StatusDialing, StatusInProgress, StatusCompleted, StatusDeclined, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// HasParticipant reports whether memberID is currently in the call.
func (c Call) HasParticipant(memberID string) bool {
	return containsID(c.ParticipantMemberIDs, memberID)
}

// Attended reports whether memberID ever joined the call (the initiator always has).
func (c Call) Attended(memberID string) bool {
	return memberID == c.InitiatorMemberID || containsID(c.AttendeeMemberIDs, memberID)
}

// StatusPatch carries the fields written alongside a status transition.
type StatusPatch struct {
	EndedAt *time.Time
}

// HistoryQuery filters a chat's call history. Zero values mean "unbounded".
type HistoryQuery struct {
	Limit    int
	FromDate time.Time
	ToDate   time.Time
}

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

func (q HistoryQuery) withDefaults() HistoryQuery {
	out := q
	if out.Limit <= 0 {
		out.Limit = DefaultHistoryLimit
	}
	if out.Limit > MaxHistoryLimit {
		out.Limit = MaxHistoryLimit
	}
	return out
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func durationSeconds(started, ended time.Time) int {
	d := ended.Sub(started)
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}
