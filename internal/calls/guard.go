package calls

import (
	"context"
	"time"

	"call-platform/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// ActiveCallGuard is a cross-instance "one live call per chat" lock, held by the
// call id from initiate until the terminal transition. Single-instance
// deployments can run without one; the registry and the store already enforce
// the rule locally and durably.
type ActiveCallGuard interface {
	Acquire(ctx context.Context, chatID, callID string) (bool, error)
	Release(ctx context.Context, chatID, callID string) error
}

const defaultGuardTTL = 6 * time.Hour

// RedisGuard implements ActiveCallGuard with an owner-tagged Redis lease.
type RedisGuard struct {
	rdb    redis.Scripter
	ttl    time.Duration
	prefix string
}

func NewRedisGuard(rdb redis.Scripter, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = defaultGuardTTL
	}
	return &RedisGuard{rdb: rdb, ttl: ttl, prefix: "calls:live:"}
}

func (g *RedisGuard) Acquire(ctx context.Context, chatID, callID string) (bool, error) {
	return utils.AcquireLease(ctx, g.rdb, g.prefix+chatID, callID, g.ttl)
}

func (g *RedisGuard) Release(ctx context.Context, chatID, callID string) error {
	return utils.ReleaseLease(ctx, g.rdb, g.prefix+chatID, callID)
}
