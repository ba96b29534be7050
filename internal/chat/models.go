package chat

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotMember       = errors.New("chat: not a member")
	ErrMessageNotFound = errors.New("chat: message not found")
	ErrInvalidArgument = errors.New("chat: invalid argument")
)

// Member is a user's membership in one chat. ID is the chat-member id that
// calls reference; UserID is the account behind it.
type Member struct {
	ID     string `json:"id" db:"id"`
	ChatID string `json:"chat_id" db:"chat_id"`
	UserID string `json:"user_id" db:"user_id"`
}

// Membership answers "who is in this chat".
type Membership interface {
	// Member returns the caller's membership or ErrNotMember.
	Member(ctx context.Context, chatID, userID string) (Member, error)
	Members(ctx context.Context, chatID string) ([]Member, error)
}

// CallMarker is the body of the in-band "call started/ended" system message.
type CallMarker struct {
	CallID          string `json:"call_id"`
	Status          string `json:"status"`
	IsVideo         bool   `json:"is_video"`
	DurationSeconds *int   `json:"duration,omitempty"`
}

// SystemMessage is a stored system message.
type SystemMessage struct {
	ID             string     `json:"id" db:"id"`
	ChatID         string     `json:"chat_id" db:"chat_id"`
	SenderMemberID string     `json:"sender_member_id" db:"sender_member_id"`
	Marker         CallMarker `json:"marker"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// SystemMessages creates and maintains call marker messages.
type SystemMessages interface {
	CreateCallMessage(ctx context.Context, chatID, senderMemberID string, m CallMarker) (messageID string, err error)
	UpdateCallMessage(ctx context.Context, messageID string, m CallMarker) error
	DeleteMessage(ctx context.Context, messageID string) error
}
