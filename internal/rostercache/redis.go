package rostercache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tallyhq/gitlab-tally/internal/identity"
)

type redisCommander interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// RedisStoreConfig configures the Redis-backed roster cache.
type RedisStoreConfig struct {
	Namespace string
	TTL       time.Duration
}

// RedisStore stores the roster snapshot as a JSON blob in Redis so multiple
// collector instances share one roster fetch.
type RedisStore struct {
	client    redisCommander
	closeFn   func() error
	namespace string
	ttl       time.Duration
}

// NewRedisStore creates a Redis-backed roster cache.
func NewRedisStore(client redis.UniversalClient, cfg RedisStoreConfig) *RedisStore {
	closeFn := func() error { return nil }
	if client != nil {
		closeFn = client.Close
	}
	return newRedisStoreFromCommander(client, closeFn, cfg)
}

func newRedisStoreFromCommander(client redisCommander, closeFn func() error, cfg RedisStoreConfig) *RedisStore {
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "gitlab-tally"
	}
	if closeFn == nil {
		closeFn = func() error { return nil }
	}

	return &RedisStore{
		client:    client,
		closeFn:   closeFn,
		namespace: namespace,
		ttl:       cfg.TTL,
	}
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context) (identity.Roster, bool, error) {
	if s == nil || s.client == nil {
		return identity.Roster{}, false, fmt.Errorf("redis roster cache is not initialized")
	}

	raw, err := s.client.Get(ctx, s.rosterKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return identity.Roster{}, false, nil
		}
		return identity.Roster{}, false, fmt.Errorf("read cached roster: %w", err)
	}

	var roster identity.Roster
	if err := json.Unmarshal([]byte(raw), &roster); err != nil {
		// A corrupt entry behaves like a miss; the next Put overwrites it.
		return identity.Roster{}, false, nil
	}
	return roster, true, nil
}

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, roster identity.Roster) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("redis roster cache is not initialized")
	}

	payload, err := json.Marshal(roster)
	if err != nil {
		return fmt.Errorf("marshal roster: %w", err)
	}
	if err := s.client.Set(ctx, s.rosterKey(), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("write cached roster: %w", err)
	}
	return nil
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	if s == nil || s.closeFn == nil {
		return nil
	}
	return s.closeFn()
}

func (s *RedisStore) rosterKey() string {
	return s.namespace + ":roster"
}
