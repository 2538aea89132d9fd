package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hal9ai/dspy/llm"
	"github.com/rs/zerolog"
)

// DefaultRedisPrefix namespaces cache keys in a shared Redis instance.
const DefaultRedisPrefix = "lmcache:"

// RedisStore is a PersistentTier backed by Redis. Entries are stored without expiry so
// several processes or hosts can share one response cache.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// OpenRedisStore connects to redisURL (redis://host:port/db) and verifies the connection.
func OpenRedisStore(ctx context.Context, redisURL string, logger zerolog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info().Str("addr", opts.Addr).Int("db", opts.DB).Msg("Opened Redis response cache")
	return NewRedisStore(client, DefaultRedisPrefix), nil
}

// NewRedisStore wraps an existing client. An empty prefix uses DefaultRedisPrefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(req llm.NormalizedRequest) string {
	return s.prefix + req.Key()
}

// Get implements Tier.Get.
func (s *RedisStore) Get(ctx context.Context, req llm.NormalizedRequest) (*llm.RawResponse, bool, error) {
	data, err := s.client.Get(ctx, s.key(req)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	resp, err := llm.UnmarshalRawResponse(data)
	if err != nil {
		return nil, false, fmt.Errorf("decode cached response: %w", err)
	}
	return resp, true, nil
}

// Put implements Tier.Put.
func (s *RedisStore) Put(ctx context.Context, req llm.NormalizedRequest, resp *llm.RawResponse) error {
	data, err := resp.Marshal()
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	if err := s.client.Set(ctx, s.key(req), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Clear implements PersistentTier.Clear. Only keys under the store prefix are removed.
func (s *RedisStore) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis del: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Close implements PersistentTier.Close.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ PersistentTier = (*RedisStore)(nil)
