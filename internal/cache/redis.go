package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/avetrin/studiorent/config"
)

// unlockScript deletes the lock key only when it still holds our token, so
// an expired lock taken over by another process is never released by us.
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(cfg config.RedisConfig) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}),
	}
}

// Claim takes a short-lived idempotency key. It returns false when another
// process already holds the claim.
func (s *RedisStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, claimKey(key), "1", ttl).Result()
}

// Release drops a claim early so retries do not have to wait out the TTL.
func (s *RedisStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, claimKey(key)).Err()
}

// AcquireLock takes a distributed lock and returns the token needed to
// release it.
func (s *RedisStore) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, lockKey(key), token, ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

// ReleaseLock releases the lock only if the token still matches.
func (s *RedisStore) ReleaseLock(ctx context.Context, key, token string) error {
	return unlockScript.Run(ctx, s.client, []string{lockKey(key)}, token).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func claimKey(key string) string {
	return fmt.Sprintf("claim:%s", key)
}

func lockKey(key string) string {
	return fmt.Sprintf("lock:%s", key)
}
