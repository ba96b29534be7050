package reporting

import (
	"context"
	"errors"
	"sync"
	"time"

	"call-platform/internal/calls"
)

// MemoryRepo is a simple in-memory reporting repository for tests.
type MemoryRepo struct {
	mu sync.Mutex

	Calls []calls.Call
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) ListCalls(ctx context.Context, chatID string, from, to time.Time) ([]calls.Call, error) {
	if chatID == "" {
		return nil, errors.New("chat_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]calls.Call, 0)
	for _, c := range r.Calls {
		if c.ChatID != chatID {
			continue
		}
		if inRange(c.StartedAt, from, to) {
			out = append(out, c)
		}
	}
	return out, nil
}

func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}
