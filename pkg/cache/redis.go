package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ApexAZ/zentropy-sub008/core"
)

var _ core.CounterStore = (*RedisCounterStore)(nil)

// ErrRedisUnavailable wraps every failure talking to Redis.
var ErrRedisUnavailable = errors.New("redis unavailable")

// incrementScript bumps the counter, starts the window on the first hit and
// reports the remaining ttl in one round trip. A key that lost its ttl is
// given one again so a counter can never become permanent.
var incrementScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
local ttl = redis.call("PTTL", KEYS[1])
if count == 1 or ttl < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisCounterStore shares fixed-window counters across processes.
type RedisCounterStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisCounterStore creates a counter store backed by the given Redis client.
// Keys are namespaced as "prefix:key".
func NewRedisCounterStore(client redis.UniversalClient, prefix string) *RedisCounterStore {
	if prefix == "" {
		prefix = "zentropy:rl"
	}
	return &RedisCounterStore{redis: client, prefix: prefix}
}

func (s *RedisCounterStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	res, err := incrementScript.Run(ctx, s.redis, []string{s.key(key)}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %w", ErrRedisUnavailable, err)
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("%w: unexpected script reply %v", ErrRedisUnavailable, res)
	}
	return res[0], time.Duration(res[1]) * time.Millisecond, nil
}

func (s *RedisCounterStore) Reset(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrRedisUnavailable, err)
	}
	return nil
}

// Ping checks connectivity; used at startup.
func (s *RedisCounterStore) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrRedisUnavailable, err)
	}
	return nil
}

func (s *RedisCounterStore) key(k string) string {
	return s.prefix + ":" + k
}
