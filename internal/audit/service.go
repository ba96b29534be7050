package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information.
//
// Audit is internal-only and best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.ChatID == "" || e.Type == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LogCallDeleted records a call row being erased. A caller_cancel reason is
// logged as call_canceled; anything else as call_deleted.
func (s *Service) LogCallDeleted(ctx context.Context, chatID, callID, actorUserID, reason string) error {
	typ, msg := EventTypeCallDeleted, "call deleted"
	if reason == "caller_cancel" {
		typ, msg = EventTypeCallCanceled, "call canceled before answer"
	}
	meta, err := json.Marshal(map[string]string{"reason": reason})
	if err != nil {
		return err
	}
	return s.Append(ctx, Event{
		ChatID:      chatID,
		Type:        typ,
		ActorUserID: actorUserID,
		CallID:      callID,
		Message:     msg,
		Metadata:    string(meta),
	})
}
