package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/phrazzld/quill/internal/generation"
	"github.com/redis/go-redis/v9"
)

var _ Store = (*RedisStore)(nil)

// RedisStore keeps generated content in Redis as JSON with a per-key TTL.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a RedisStore over client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) (*generation.GeneratedContent, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached content: %w", err)
	}

	var content generation.GeneratedContent
	if err := json.Unmarshal(raw, &content); err != nil {
		return nil, fmt.Errorf("failed to decode cached content: %w", err)
	}
	return &content, nil
}

// Set implements Store.
func (s *RedisStore) Set(
	ctx context.Context,
	key string,
	content *generation.GeneratedContent,
	ttl time.Duration,
) error {
	raw, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("failed to encode content for cache: %w", err)
	}
	if err := s.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write cached content: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
