package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultRedisTTL = 30 * time.Minute

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker stores locks as expiring keys, so a crashed holder frees the
// lock once TTL passes.
type RedisLocker struct {
	Client *redis.Client
	Prefix string
	TTL    time.Duration
}

type redisLease struct {
	client *redis.Client
	key    string
	token  string
}

func (l *RedisLocker) key(name string) string {
	prefix := l.Prefix
	if prefix == "" {
		prefix = "lock:"
	}
	return prefix + name
}

func (l *RedisLocker) TryAcquire(ctx context.Context, name string, force bool) (Lease, bool, error) {
	key := l.key(name)
	ttl := l.TTL
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}

	if force {
		if err := l.Client.Del(ctx, key).Err(); err != nil {
			return nil, false, fmt.Errorf("clear lock %s: %w", name, err)
		}
	}

	token := uuid.NewString()
	ok, err := l.Client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &redisLease{client: l.Client, key: key, token: token}, true, nil
}

func (r *redisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, r.client, []string{r.key}, r.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", r.key, err)
	}
	return nil
}
