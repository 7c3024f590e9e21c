package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindow prunes, counts and conditionally records a hit in one round
// trip. Scores are unix milliseconds. Returns {allowed, count, oldest}.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  return {0, count, tonumber(oldest[2] or now)}
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
return {1, count + 1, tonumber(oldest[2])}
`)

// RedisStore shares windows across processes.
type RedisStore struct {
	client    *redis.Client
	namespace string
	now       func() time.Time
}

func NewRedisStore(client *redis.Client, namespace string) *RedisStore {
	if namespace == "" {
		namespace = "agentpass"
	}
	return &RedisStore{client: client, namespace: namespace, now: time.Now}
}

func (s *RedisStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	now := s.now()
	values, err := slidingWindow.Run(ctx, s.client,
		[]string{s.namespace + ":ratelimit:" + key},
		now.UnixMilli(), window.Milliseconds(), limit, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("redis rate limit: %w", err)
	}
	if len(values) != 3 {
		return Result{}, fmt.Errorf("redis rate limit: unexpected reply %v", values)
	}

	res := Result{
		Allowed: values[0] == 1,
		Limit:   limit,
		ResetAt: time.UnixMilli(values[2]).Add(window),
	}
	if res.Allowed {
		res.Remaining = limit - int(values[1])
	}
	return res, nil
}
