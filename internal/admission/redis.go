package admission

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// admitScript prunes, counts, and conditionally records in one round trip.
// Returns {admitted, count, oldest_ms}.
var admitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local admitted = 0
if count < limit then
  redis.call('ZADD', key, now, member)
  count = count + 1
  admitted = 1
end
redis.call('PEXPIRE', key, window)

local first = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local oldest = 0
if first[2] then
  oldest = tonumber(first[2])
end
return {admitted, count, oldest}
`)

// RedisBackend shares windows across processes through sorted sets keyed
// "<prefix>:<client>".
type RedisBackend struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisBackend wraps an existing client.
func NewRedisBackend(client redis.UniversalClient, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "rate_limit"
	}
	return &RedisBackend{client: client, prefix: prefix}
}

// OpenRedisBackend parses a redis:// URL and verifies connectivity.
func OpenRedisBackend(ctx context.Context, url, prefix string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisBackend(client, prefix), nil
}

func (r *RedisBackend) key(client string) string {
	return r.prefix + ":" + client
}

// Count implements Backend.
func (r *RedisBackend) Count(ctx context.Context, client string, now time.Time, window time.Duration) (int, time.Time, error) {
	key := r.key(client)
	cutoff := "(" + strconv.FormatInt(now.Add(-window).UnixMilli(), 10)
	count, err := r.client.ZCount(ctx, key, cutoff, "+inf").Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("zcount %s: %w", key, err)
	}
	if count == 0 {
		return 0, time.Time{}, nil
	}
	first, err := r.client.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{Min: cutoff, Max: "+inf", Count: 1}).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("zrangebyscore %s: %w", key, err)
	}
	var oldestAt time.Time
	if len(first) > 0 {
		oldestAt = time.UnixMilli(int64(first[0].Score))
	}
	return int(count), oldestAt, nil
}

// Admit implements Backend.
func (r *RedisBackend) Admit(ctx context.Context, client string, now time.Time, limit int, window time.Duration) (bool, int, time.Time, error) {
	nowMS := now.UnixMilli()
	member := strconv.FormatInt(nowMS, 10) + "-" + uuid.NewString()
	raw, err := admitScript.Run(ctx, r.client, []string{r.key(client)},
		nowMS, window.Milliseconds(), limit, member).Int64Slice()
	if err != nil {
		return false, 0, time.Time{}, fmt.Errorf("admission script: %w", err)
	}
	if len(raw) != 3 {
		return false, 0, time.Time{}, fmt.Errorf("admission script: unexpected reply %v", raw)
	}
	var oldestAt time.Time
	if raw[2] > 0 {
		oldestAt = time.UnixMilli(raw[2])
	}
	return raw[0] == 1, int(raw[1]), oldestAt, nil
}

// Close implements Backend.
func (r *RedisBackend) Close() error {
	return r.client.Close()
}
