package calls

import (
	"context"
	"errors"
	"fmt"

	"call-platform/internal/chat"
)

// History is the read side of the call log. It never touches live state.
type History struct {
	store   Repository
	members chat.Membership
}

func NewHistory(store Repository, members chat.Membership) *History {
	return &History{store: store, members: members}
}

// ForChat lists a chat's calls, newest first. The caller must be a chat member.
func (h *History) ForChat(ctx context.Context, chatID, userID string, q HistoryQuery) ([]Call, error) {
	if chatID == "" || userID == "" {
		return nil, ErrInvalidArgument
	}
	if !q.FromDate.IsZero() && !q.ToDate.IsZero() && q.ToDate.Before(q.FromDate) {
		return nil, fmt.Errorf("%w: to is before from", ErrInvalidArgument)
	}
	if _, err := h.member(ctx, chatID, userID); err != nil {
		return nil, err
	}
	out, err := h.store.History(ctx, chatID, q.withDefaults())
	if err != nil {
		return nil, infra("call history", err)
	}
	if out == nil {
		out = []Call{}
	}
	return out, nil
}

// Detail returns one call. Only members who attended it may read it.
func (h *History) Detail(ctx context.Context, callID, userID string) (Call, error) {
	if callID == "" || userID == "" {
		return Call{}, ErrInvalidArgument
	}
	call, found, err := h.store.FindByID(ctx, callID)
	if err != nil {
		return Call{}, infra("load call", err)
	}
	if !found {
		return Call{}, ErrNotFound
	}
	m, err := h.member(ctx, call.ChatID, userID)
	if err != nil {
		return Call{}, err
	}
	if !call.Attended(m.ID) {
		return Call{}, ErrForbidden
	}
	return call, nil
}

func (h *History) member(ctx context.Context, chatID, userID string) (chat.Member, error) {
	m, err := h.members.Member(ctx, chatID, userID)
	if err != nil {
		if errors.Is(err, chat.ErrNotMember) {
			return chat.Member{}, ErrForbidden
		}
		return chat.Member{}, infra("membership", err)
	}
	return m, nil
}
