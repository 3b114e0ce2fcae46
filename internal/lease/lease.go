// Package lease holds schedule execution claims in Redis, for nodes that do
// not share a database file.
package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/watzon/ruletick/internal/config"
)

// DefaultKeyPrefix namespaces claim keys.
const DefaultKeyPrefix = "ruletick:claim:"

// claimScript takes the key if it is free and extends it if holder already
// owns it. Returns 1 when holder owns the key afterwards.
var claimScript = redis.NewScript(`
	local current = redis.call('GET', KEYS[1])
	if not current then
		redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
		return 1
	end
	if current == ARGV[1] then
		redis.call('PEXPIRE', KEYS[1], ARGV[2])
		return 1
	end
	return 0
`)

var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// RedisClaimer implements scheduler.Claimer on Redis keys that expire with
// the claim TTL.
type RedisClaimer struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedisClaimer creates a claimer on an existing client.
func NewRedisClaimer(rdb redis.UniversalClient, prefix string) *RedisClaimer {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisClaimer{rdb: rdb, prefix: prefix}
}

// Open connects to Redis using cfg and verifies the connection.
func Open(ctx context.Context, cfg *config.RedisConfig) (*RedisClaimer, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}

	return NewRedisClaimer(rdb, cfg.KeyPrefix), nil
}

// Key returns the Redis key of a schedule's claim.
func (c *RedisClaimer) Key(scheduleID string) string {
	return c.prefix + scheduleID
}

// TryClaim claims the schedule for holder, or extends holder's claim.
func (c *RedisClaimer) TryClaim(ctx context.Context, scheduleID, holder string, ttl time.Duration) (bool, error) {
	if ttl < time.Millisecond {
		return false, fmt.Errorf("claim ttl must be at least 1ms, got %s", ttl)
	}

	n, err := claimScript.Run(ctx, c.rdb, []string{c.Key(scheduleID)}, holder, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("claiming schedule %s: %w", scheduleID, err)
	}
	return n == 1, nil
}

// Release drops the claim if holder still owns it.
func (c *RedisClaimer) Release(ctx context.Context, scheduleID, holder string) error {
	if err := releaseScript.Run(ctx, c.rdb, []string{c.Key(scheduleID)}, holder).Err(); err != nil {
		return fmt.Errorf("releasing schedule %s: %w", scheduleID, err)
	}
	return nil
}

// Holder returns the current holder of a schedule's claim, or "" if none.
func (c *RedisClaimer) Holder(ctx context.Context, scheduleID string) (string, error) {
	holder, err := c.rdb.Get(ctx, c.Key(scheduleID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading claim of %s: %w", scheduleID, err)
	}
	return holder, nil
}

// Close closes the underlying client.
func (c *RedisClaimer) Close() error {
	return c.rdb.Close()
}
