package calls

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository for tests and local development.
// It enforces the same one-live-call-per-chat rule as the Postgres partial index.
type MemoryRepo struct {
	mu    sync.Mutex
	calls map[string]*Call
	clock func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{calls: map[string]*Call{}, clock: time.Now}
}

func (r *MemoryRepo) CreateCall(ctx context.Context, c Call) (Call, error) {
	if c.ID == "" || c.ChatID == "" {
		return Call{}, ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.calls[c.ID]; ok {
		return Call{}, ErrAlreadyActive
	}
	for _, existing := range r.calls {
		if existing.ChatID == c.ChatID && !existing.Status.IsTerminal() {
			return Call{}, ErrAlreadyActive
		}
	}
	now := r.clock().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.StartedAt.IsZero() {
		c.StartedAt = now
	}
	c.AttendeeMemberIDs = append([]string(nil), c.ParticipantMemberIDs...)
	stored := cloneCall(c)
	r.calls[c.ID] = &stored
	return cloneCall(stored), nil
}

func (r *MemoryRepo) FindActiveByChat(ctx context.Context, chatID string) (Call, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if c.ChatID == chatID && !c.Status.IsTerminal() {
			return cloneCall(*c), true, nil
		}
	}
	return Call{}, false, nil
}

func (r *MemoryRepo) FindByID(ctx context.Context, id string) (Call, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	if !ok {
		return Call{}, false, nil
	}
	return cloneCall(*c), true, nil
}

func (r *MemoryRepo) UpdateStatus(ctx context.Context, id string, status Status, patch StatusPatch) (Call, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	if !ok {
		return Call{}, false, ErrNotFound
	}
	if c.Status.IsTerminal() || c.Status == status {
		return cloneCall(*c), false, nil
	}
	if err := checkTransition(c.Status, status); err != nil {
		return Call{}, false, err
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
	}
	return cloneCall(*c), true, nil
}

func (r *MemoryRepo) SetVideo(ctx context.Context, id string, isVideo bool) (Call, error) {
	return r.mutate(id, func(c *Call) error {
		if c.Status.IsTerminal() {
			return ErrInvalidTransition
		}
		c.IsVideo = isVideo
		return nil
	})
}

func (r *MemoryRepo) SetMessageID(ctx context.Context, id, messageID string) error {
	_, err := r.mutate(id, func(c *Call) error {
		c.MessageID = messageID
		return nil
	})
	return err
}

func (r *MemoryRepo) SaveStats(ctx context.Context, id string, stats Stats) error {
	_, err := r.mutate(id, func(c *Call) error {
		s := stats
		c.Stats = &s
		return nil
	})
	return err
}

func (r *MemoryRepo) AppendParticipant(ctx context.Context, id, memberID string) (Call, error) {
	return r.mutate(id, func(c *Call) error {
		if c.Status.IsTerminal() {
			return ErrInvalidTransition
		}
		if !containsID(c.ParticipantMemberIDs, memberID) {
			c.ParticipantMemberIDs = append(c.ParticipantMemberIDs, memberID)
		}
		if !containsID(c.AttendeeMemberIDs, memberID) {
			c.AttendeeMemberIDs = append(c.AttendeeMemberIDs, memberID)
		}
		return nil
	})
}

func (r *MemoryRepo) RemoveParticipant(ctx context.Context, id, memberID string) (Call, error) {
	return r.mutate(id, func(c *Call) error {
		out := c.ParticipantMemberIDs[:0]
		for _, m := range c.ParticipantMemberIDs {
			if m != memberID {
				out = append(out, m)
			}
		}
		c.ParticipantMemberIDs = out
		return nil
	})
}

func (r *MemoryRepo) HardDelete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.calls[id]; !ok {
		return ErrNotFound
	}
	delete(r.calls, id)
	return nil
}

func (r *MemoryRepo) History(ctx context.Context, chatID string, q HistoryQuery) ([]Call, error) {
	if chatID == "" {
		return nil, ErrInvalidArgument
	}
	q = q.withDefaults()
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, 0)
	for _, c := range r.calls {
		if c.ChatID != chatID {
			continue
		}
		if !q.FromDate.IsZero() && c.StartedAt.Before(q.FromDate) {
			continue
		}
		if !q.ToDate.IsZero() && !c.StartedAt.Before(q.ToDate) {
			continue
		}
		out = append(out, cloneCall(*c))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (r *MemoryRepo) ListActive(ctx context.Context) ([]Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, 0)
	for _, c := range r.calls {
		if !c.Status.IsTerminal() {
			out = append(out, cloneCall(*c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

// Len returns the number of stored rows.
func (r *MemoryRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *MemoryRepo) mutate(id string, fn func(c *Call) error) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	if err := fn(c); err != nil {
		return Call{}, err
	}
	c.UpdatedAt = r.clock().UTC()
	return cloneCall(*c), nil
}

func cloneCall(c Call) Call {
	out := c
	out.ParticipantMemberIDs = append([]string(nil), c.ParticipantMemberIDs...)
	out.AttendeeMemberIDs = append([]string(nil), c.AttendeeMemberIDs...)
	if c.EndedAt != nil {
		t := *c.EndedAt
		out.EndedAt = &t
	}
	if c.DurationSeconds != nil {
		d := *c.DurationSeconds
		out.DurationSeconds = &d
	}
	if c.Stats != nil {
		s := *c.Stats
		out.Stats = &s
	}
	return out
}
