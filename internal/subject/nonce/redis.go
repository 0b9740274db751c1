package nonce

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"sentinel-sos/pkg/domain"
	"sentinel-sos/pkg/platform/sentinel"
)

const keyPrefix = "sentinel:nonce:"

// consumeScript deletes the key only when it still holds the expected value.
// Returns 1 on success, 0 when the slot holds another challenge, -1 when empty.
var consumeScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if not current then
  return -1
end
if current ~= ARGV[1] then
  return 0
end
redis.call("DEL", KEYS[1])
return 1
`)

// RedisStore shares challenges across replicas. Expiry is native key TTL.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func key(address domain.Address) string {
	return keyPrefix + address.String()
}

func (s *RedisStore) Put(ctx context.Context, address domain.Address, message string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key(address), message, ttl).Err(); err != nil {
		return fmt.Errorf("store nonce: %w: %w", sentinel.ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, address domain.Address) (string, error) {
	message, err := s.client.Get(ctx, key(address)).Result()
	if errors.Is(err, redis.Nil) {
		return "", sentinel.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read nonce: %w: %w", sentinel.ErrUnavailable, err)
	}
	return message, nil
}

func (s *RedisStore) Consume(ctx context.Context, address domain.Address, message string) error {
	result, err := consumeScript.Run(ctx, s.client, []string{key(address)}, message).Int()
	if err != nil {
		return fmt.Errorf("consume nonce: %w: %w", sentinel.ErrUnavailable, err)
	}
	switch result {
	case 1:
		return nil
	case 0:
		return sentinel.ErrAlreadyUsed
	default:
		return sentinel.ErrNotFound
	}
}
