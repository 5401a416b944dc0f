package assignment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultGuardPrefix = "roster:inflight:"
	defaultGuardTTL    = 45 * time.Second
)

// releaseLua deletes the mark only while it still holds the caller's token.
const releaseLua = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// RedisGuard shares in-flight marks between console instances using SET NX.
// Every mark carries a TTL so a crashed instance cannot block a passenger.
type RedisGuard struct {
	client    redis.Cmdable
	keyPrefix string
	release   *redis.Script
}

// NewRedisGuard constructs the guard; an empty prefix selects the default.
func NewRedisGuard(client redis.Cmdable, prefix string) *RedisGuard {
	if prefix == "" {
		prefix = defaultGuardPrefix
	}
	return &RedisGuard{client: client, keyPrefix: prefix, release: redis.NewScript(releaseLua)}
}

// TryAcquire sets the passenger key to a fresh token if absent.
func (g *RedisGuard) TryAcquire(ctx context.Context, passengerID string, ttl time.Duration) (string, bool, error) {
	if ttl <= 0 {
		ttl = defaultGuardTTL
	}
	token := uuid.NewString()
	ok, err := g.client.SetNX(ctx, g.keyPrefix+passengerID, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release removes the passenger key if it still holds token.
func (g *RedisGuard) Release(ctx context.Context, passengerID, token string) error {
	if err := g.release.Run(ctx, g.client, []string{g.keyPrefix + passengerID}, token).Err(); err != nil {
		return fmt.Errorf("redis release: %w", err)
	}
	return nil
}
