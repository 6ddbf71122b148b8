// Package cache is the Redis-backed translation cache. Translation is cheap,
// so the cache exists for serve mode where the same dashboard phrases arrive
// repeatedly and for keeping backend query results warm.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/daeun-ops/promql-assistant-cli/internal/engine"
	apperrors "github.com/daeun-ops/promql-assistant-cli/internal/errors"
	"github.com/daeun-ops/promql-assistant-cli/internal/observability"
)

// TranslationCache stores finished translations keyed by normalized phrase
type TranslationCache struct {
	client *redis.Client
	ttl    time.Duration
}

// New creates a translation cache with the given TTL. A zero TTL defaults to
// 5 minutes.
func New(client *redis.Client, ttl time.Duration) *TranslationCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &TranslationCache{client: client, ttl: ttl}
}

// key hashes the phrase so arbitrary user text never becomes a raw Redis key
func key(phrase string) string {
	sum := sha256.Sum256([]byte(phrase))
	return fmt.Sprintf("translation:%s", hex.EncodeToString(sum[:8]))
}

// Get returns the cached translation for a phrase, or nil on a miss
func (c *TranslationCache) Get(ctx context.Context, phrase string) (*engine.Translation, error) {
	data, err := c.client.Get(ctx, key(phrase)).Result()
	if err == redis.Nil {
		observability.ObserveCacheOp("get", "miss")
		return nil, nil
	}
	if err != nil {
		observability.ObserveCacheOp("get", "error")
		return nil, apperrors.Wrap(err, apperrors.ErrCodeCacheRead, "Cache read failed")
	}

	var tr engine.Translation
	if err := json.Unmarshal([]byte(data), &tr); err != nil {
		observability.ObserveCacheOp("get", "error")
		return nil, apperrors.Wrap(err, apperrors.ErrCodeCacheRead, "Cache entry corrupt")
	}

	observability.ObserveCacheOp("get", "hit")
	return &tr, nil
}

// Put stores a translation for a phrase
func (c *TranslationCache) Put(ctx context.Context, phrase string, tr *engine.Translation) error {
	data, err := json.Marshal(tr)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeCacheWrite, "Cache write failed")
	}

	if err := c.client.Set(ctx, key(phrase), data, c.ttl).Err(); err != nil {
		observability.ObserveCacheOp("put", "error")
		return apperrors.Wrap(err, apperrors.ErrCodeCacheWrite, "Cache write failed")
	}
	observability.ObserveCacheOp("put", "ok")
	return nil
}

// Ping checks cache connectivity
func (c *TranslationCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
