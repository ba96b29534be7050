package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryDirectory is an in-memory Membership for tests and local development.
type MemoryDirectory struct {
	mu      sync.RWMutex
	members map[string]map[string]Member // chat id -> user id -> member
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{members: map[string]map[string]Member{}}
}

// Add registers userID in chatID under memberID.
func (d *MemoryDirectory) Add(chatID, memberID, userID string) Member {
	d.mu.Lock()
	defer d.mu.Unlock()
	m := Member{ID: memberID, ChatID: chatID, UserID: userID}
	if d.members[chatID] == nil {
		d.members[chatID] = map[string]Member{}
	}
	d.members[chatID][userID] = m
	return m
}

func (d *MemoryDirectory) Remove(chatID, userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.members[chatID], userID)
}

func (d *MemoryDirectory) Member(ctx context.Context, chatID, userID string) (Member, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.members[chatID][userID]
	if !ok {
		return Member{}, ErrNotMember
	}
	return m, nil
}

func (d *MemoryDirectory) Members(ctx context.Context, chatID string) ([]Member, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Member, 0, len(d.members[chatID]))
	for _, m := range d.members[chatID] {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// MemoryMessages is an in-memory SystemMessages.
type MemoryMessages struct {
	mu       sync.Mutex
	messages map[string]SystemMessage
	clock    func() time.Time
}

func NewMemoryMessages() *MemoryMessages {
	return &MemoryMessages{messages: map[string]SystemMessage{}, clock: time.Now}
}

func (s *MemoryMessages) CreateCallMessage(ctx context.Context, chatID, senderMemberID string, m CallMarker) (string, error) {
	if chatID == "" || m.CallID == "" {
		return "", ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock().UTC()
	id := uuid.NewString()
	s.messages[id] = SystemMessage{
		ID:             id,
		ChatID:         chatID,
		SenderMemberID: senderMemberID,
		Marker:         m,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return id, nil
}

func (s *MemoryMessages) UpdateCallMessage(ctx context.Context, messageID string, m CallMarker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return ErrMessageNotFound
	}
	msg.Marker = m
	msg.UpdatedAt = s.clock().UTC()
	s.messages[messageID] = msg
	return nil
}

func (s *MemoryMessages) DeleteMessage(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[messageID]; !ok {
		return ErrMessageNotFound
	}
	delete(s.messages, messageID)
	return nil
}

func (s *MemoryMessages) Get(messageID string) (SystemMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	return m, ok
}

func (s *MemoryMessages) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}
