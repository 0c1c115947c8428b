package tokens

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisTimeout = 1 * time.Second

var (
	// KEYS[1] = secrets hash, KEYS[2] = order list
	redisSetScript = redis.NewScript(`
if redis.call('HSET', KEYS[1], ARGV[1], ARGV[2]) == 1 then
  redis.call('RPUSH', KEYS[2], ARGV[1])
end
return 1`)

	redisRemoveScript = redis.NewScript(`
if redis.call('HDEL', KEYS[1], ARGV[1]) == 1 then
  redis.call('LREM', KEYS[2], 0, ARGV[1])
end
return 1`)

	redisTrimScript = redis.NewScript(`
local limit = tonumber(ARGV[1])
local n = 0
while redis.call('LLEN', KEYS[2]) > limit do
  local name = redis.call('LPOP', KEYS[2])
  redis.call('HDEL', KEYS[1], name)
  n = n + 1
end
return n`)

	redisLastScript = redis.NewScript(`
local name = redis.call('LINDEX', KEYS[2], -1)
if not name then
  return false
end
return {name, redis.call('HGET', KEYS[1], name)}`)
)

// Redis stores secrets in a hash and insertion order in a list, both under
// namespace. Mutations run as scripts so the two keys never drift apart.
type Redis struct {
	client    redis.UniversalClient
	secretKey string
	orderKey  string
}

func NewRedis(client redis.UniversalClient, namespace string) *Redis {
	return &Redis{
		client:    client,
		secretKey: namespace + ":secrets",
		orderKey:  namespace + ":order",
	}
}

func (s *Redis) keys() []string {
	return []string{s.secretKey, s.orderKey}
}

func (s *Redis) Set(ctx context.Context, name, secret string) error {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()
	return redisSetScript.Run(ctx, s.client, s.keys(), name, secret).Err()
}

func (s *Redis) Get(ctx context.Context, name string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()
	secret, err := s.client.HGet(ctx, s.secretKey, name).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return secret, true, nil
}

func (s *Redis) Remove(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()
	return redisRemoveScript.Run(ctx, s.client, s.keys(), name).Err()
}

func (s *Redis) Count(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()
	n, err := s.client.HLen(ctx, s.secretKey).Result()
	return int(n), err
}

func (s *Redis) LastPair(ctx context.Context) (Pair, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()
	vals, err := redisLastScript.Run(ctx, s.client, s.keys()).StringSlice()
	if errors.Is(err, redis.Nil) {
		return Pair{}, false, nil
	}
	if err != nil {
		return Pair{}, false, err
	}
	if len(vals) != 2 {
		return Pair{}, false, nil
	}
	return Pair{Name: vals[0], Secret: vals[1]}, true, nil
}

func (s *Redis) Trim(ctx context.Context, limit int) error {
	if limit <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()
	return redisTrimScript.Run(ctx, s.client, s.keys(), limit).Err()
}
