package device

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "pantry:device:"

// incrementBelowScript returns {count, incremented}. Redis runs scripts
// atomically, so the cap check and INCR cannot interleave with another call.
var incrementBelowScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
local n = 0
if raw then
  n = tonumber(raw)
  if not n or n < 0 or n % 1 ~= 0 then
    return redis.error_reply('corrupt counter ' .. raw)
  end
end
if n >= tonumber(ARGV[1]) then
  return {n, 0}
end
return {redis.call('INCR', KEYS[1]), 1}
`)

// RedisStore keeps keys in Redis under a common prefix so Clear can find
// them without flushing the whole database.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps client. An empty prefix selects the default.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("getting device key %s from redis: %w", key, err)
	}
	return v, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, r.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("setting device key %s in redis: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Remove(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("removing device key %s from redis: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("scanning device keys in redis: %w", err)
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("clearing device keys in redis: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (r *RedisStore) IncrementBelow(ctx context.Context, key string, limit int) (int, bool, error) {
	res, err := incrementBelowScript.Run(ctx, r.client, []string{r.prefix + key}, limit).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("incrementing device key %s in redis: %w", key, err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("incrementing device key %s in redis: unexpected reply %v", key, res)
	}
	return int(res[0]), res[1] == 1, nil
}

// Ping checks the Redis connection.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
