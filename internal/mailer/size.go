package mailer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SizeCache remembers the rendered size of a campaign per format ("html" or
// "text"), computing it on first use.
type SizeCache interface {
	Size(ctx context.Context, campaignID int, format string, compute func() int) (int, error)
}

func sizeKey(campaignID int, format string) string {
	return fmt.Sprintf("messaging.size.%d.%s", campaignID, format)
}

type MemorySizeCache struct {
	mu    sync.Mutex
	sizes map[string]int
}

func NewMemorySizeCache() *MemorySizeCache {
	return &MemorySizeCache{sizes: map[string]int{}}
}

func (c *MemorySizeCache) Size(_ context.Context, campaignID int, format string, compute func() int) (int, error) {
	key := sizeKey(campaignID, format)
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.sizes[key]; ok {
		return n, nil
	}
	n := compute()
	c.sizes[key] = n
	return n, nil
}

// RedisSizeCache shares sizes between worker processes.
type RedisSizeCache struct {
	Client *redis.Client
	TTL    time.Duration
}

func (c *RedisSizeCache) Size(ctx context.Context, campaignID int, format string, compute func() int) (int, error) {
	key := sizeKey(campaignID, format)
	v, err := c.Client.Get(ctx, key).Result()
	switch {
	case err == nil:
		if n, perr := strconv.Atoi(v); perr == nil {
			return n, nil
		}
	case !errors.Is(err, redis.Nil):
		return 0, fmt.Errorf("read %s: %w", key, err)
	}

	n := compute()
	ttl := c.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if err := c.Client.Set(ctx, key, n, ttl).Err(); err != nil {
		return 0, fmt.Errorf("write %s: %w", key, err)
	}
	return n, nil
}
