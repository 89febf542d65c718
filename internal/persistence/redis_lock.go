package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// RedisLocker hands out short-lived named claims across instances.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

// NewRedisLocker builds a locker. Keys are namespaced with prefix.
func NewRedisLocker(r *Redis, prefix string) (*RedisLocker, error) {
	if r == nil || r.Client == nil {
		return nil, errors.New("redis client not configured")
	}
	return &RedisLocker{client: r.Client, prefix: prefix}, nil
}

// Claim takes the named claim for owner if nobody holds it.
func (l *RedisLocker) Claim(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key(name), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", name, err)
	}
	return ok, nil
}

// Release drops the claim if owner still holds it.
func (l *RedisLocker) Release(ctx context.Context, name, owner string) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key(name)}, owner).Err(); err != nil {
		return fmt.Errorf("release %s: %w", name, err)
	}
	return nil
}

func (l *RedisLocker) key(name string) string {
	return l.prefix + name
}
