package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/movement-gateway/pkg/errors"
)

const tagSetPrefix = "tag:"

// CacheRepository stores JSON values in Redis and tracks which keys carry
// which invalidation tag using one Redis set per tag.
type CacheRepository struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewCacheRepository constructs a cache repository. Keys are namespaced with prefix.
func NewCacheRepository(client *redis.Client, prefix string, logger *zap.Logger) *CacheRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheRepository{client: client, prefix: prefix, logger: logger}
}

func (r *CacheRepository) key(k string) string { return r.prefix + k }

// Get retrieves and unmarshals the cached value into the provided destination.
func (r *CacheRepository) Get(ctx context.Context, key string, dest interface{}) error {
	if r.client == nil {
		return appErrors.ErrCacheMiss
	}

	raw, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return appErrors.ErrCacheMiss
		}
		return fmt.Errorf("redis get %s: %w", key, err)
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("unmarshal cache value for %s: %w", key, err)
	}
	return nil
}

// Set marshals the value, stores it with ttl and registers it under tags.
func (r *CacheRepository) Set(ctx context.Context, key string, value interface{}, ttl time.Duration, tags ...string) error {
	if r.client == nil {
		return nil
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value for %s: %w", key, err)
	}

	full := r.key(key)
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, full, payload, ttl)
	for _, tag := range tags {
		setKey := r.key(tagSetPrefix + tag)
		pipe.SAdd(ctx, setKey, full)
		if ttl > 0 {
			pipe.Expire(ctx, setKey, ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes a single key.
func (r *CacheRepository) Delete(ctx context.Context, key string) error {
	if r.client == nil {
		return nil
	}
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis delete %s: %w", key, err)
	}
	return nil
}

// InvalidateTags removes every key registered under any of the tags and
// returns how many keys were dropped.
func (r *CacheRepository) InvalidateTags(ctx context.Context, tags ...string) (int, error) {
	if r.client == nil || len(tags) == 0 {
		return 0, nil
	}

	removed := 0
	for _, tag := range tags {
		setKey := r.key(tagSetPrefix + tag)
		members, err := r.client.SMembers(ctx, setKey).Result()
		if err != nil {
			return removed, fmt.Errorf("redis smembers %s: %w", tag, err)
		}
		keys := append(members, setKey)
		if err := r.client.Del(ctx, keys...).Err(); err != nil {
			return removed, fmt.Errorf("redis delete tag %s: %w", tag, err)
		}
		removed += len(members)
		r.logger.Debug("cache tag invalidated", zap.String("tag", tag), zap.Int("keys", len(members)))
	}
	return removed, nil
}
