// Package ratelimit – Redis-backed bucket store.
//
// For deployments that want the rate-limit hot path off the primary database.
// The whole refill-and-consume step runs as one Lua script, so the operation
// is atomic per identity no matter how many service instances share the
// Redis. Clock readings come from the application (ARGV), keeping the refill
// math identical across stores.
package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// takeScript refills the bucket hash and consumes the requested tokens if
// available. KEYS[1] = bucket key; ARGV = n, capacity, refill/sec, now (ms).
// Returns {allowed (0|1), remaining}.
var takeScript = redis.NewScript(`
local tokens = tonumber(redis.call('HGET', KEYS[1], 'tokens'))
local last   = tonumber(redis.call('HGET', KEYS[1], 'last_ms'))
local n      = tonumber(ARGV[1])
local cap    = tonumber(ARGV[2])
local rate   = tonumber(ARGV[3])
local now    = tonumber(ARGV[4])

if tokens == nil then
  tokens = cap
  last = now
end
local elapsed = (now - last) / 1000.0
if elapsed > 0 then
  tokens = tokens + elapsed * rate
end
if tokens > cap then tokens = cap end
if tokens < 0 then tokens = 0 end

local allowed = 0
if tokens >= n then
  tokens = tokens - n
  allowed = 1
end
redis.call('HSET', KEYS[1], 'tokens', tokens, 'last_ms', now)
return {allowed, tostring(tokens)}
`)

// peekScript applies the refill without consuming and without writing, so a
// status query never perturbs the bucket. Same KEYS/ARGV layout, minus n.
var peekScript = redis.NewScript(`
local tokens = tonumber(redis.call('HGET', KEYS[1], 'tokens'))
local last   = tonumber(redis.call('HGET', KEYS[1], 'last_ms'))
local cap    = tonumber(ARGV[1])
local rate   = tonumber(ARGV[2])
local now    = tonumber(ARGV[3])

if tokens == nil then
  return tostring(cap)
end
local elapsed = (now - last) / 1000.0
if elapsed > 0 then
  tokens = tokens + elapsed * rate
end
if tokens > cap then tokens = cap end
if tokens < 0 then tokens = 0 end
return tostring(tokens)
`)

// RedisStore keeps buckets in Redis hashes under "ratelimit:<identity>".
type RedisStore struct {
	Client *redis.Client
}

// NewRedisStore wraps the given client.
func NewRedisStore(c *redis.Client) *RedisStore { return &RedisStore{Client: c} }

func bucketKey(identity string) string { return "ratelimit:" + identity }

// Take implements Store.
func (s *RedisStore) Take(ctx context.Context, identity string, n float64, cfg Config, now time.Time) (bool, float64, error) {
	res, err := takeScript.Run(ctx, s.Client, []string{bucketKey(identity)},
		n, cfg.Capacity, cfg.RefillPerSec, now.UnixMilli()).Slice()
	if err != nil {
		return false, 0, err
	}
	allowed := res[0].(int64) == 1
	remaining, err := strconv.ParseFloat(res[1].(string), 64)
	if err != nil {
		return false, 0, err
	}
	return allowed, remaining, nil
}

// Peek implements Store.
func (s *RedisStore) Peek(ctx context.Context, identity string, cfg Config, now time.Time) (float64, error) {
	res, err := peekScript.Run(ctx, s.Client, []string{bucketKey(identity)},
		cfg.Capacity, cfg.RefillPerSec, now.UnixMilli()).Text()
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(res, 64)
}
