package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "reelhub:session:"

// KEYS[1] session key, ARGV[1] expected hash, ARGV[2] next hash, ARGV[3] ttl ms.
const swapScript = `
local cur = redis.call("GET", KEYS[1])
if cur ~= ARGV[1] then
  return 0
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1
`

var swapLua = redis.NewScript(swapScript)

// RedisStore keeps session hashes in Redis with the refresh token lifetime
// as TTL, so abandoned sessions expire on their own.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func key(id string) string { return keyPrefix + id }

func (s *RedisStore) SetRefreshHash(ctx context.Context, id, hash string) error {
	if err := s.client.Set(ctx, key(id), hash, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set session: %w", err)
	}
	return nil
}

func (s *RedisStore) SwapRefreshHash(ctx context.Context, id, expected, next string) (bool, error) {
	if expected == "" {
		return false, nil
	}
	n, err := swapLua.Run(ctx, s.client, []string{key(id)}, expected, next, s.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("redis swap session: %w", err)
	}
	return n == 1, nil
}

func (s *RedisStore) RefreshHash(ctx context.Context, id string) (string, error) {
	h, err := s.client.Get(ctx, key(id)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get session: %w", err)
	}
	return h, nil
}

func (s *RedisStore) ClearRefreshHash(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, key(id)).Err(); err != nil {
		return fmt.Errorf("redis clear session: %w", err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
