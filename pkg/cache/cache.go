// Package cache provides a Redis-backed cache for Close org schema objects
// (custom field maps, status lists, user maps). Schema changes rarely, and
// every script run starts by resolving the same handful of mappings, so a
// short shared TTL saves a burst of identical requests when several scripts
// run close together.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// DefaultTTL is the lifetime of schema entries unless configured otherwise.
const DefaultTTL = 1 * time.Hour

// Manager handles schema caching with a Redis backend.
type Manager struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewManager creates a new cache manager with Redis backend.
func NewManager(redisClient *redis.Client, ttl time.Duration) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		redis: redisClient,
		ttl:   ttl,
	}
}

// GetJSON retrieves a cached value into dest.
// Returns ErrCacheMiss if the key doesn't exist.
func (m *Manager) GetJSON(ctx context.Context, key Key, dest any) error {
	data, err := m.redis.Get(ctx, key.String()).Bytes()
	if err != nil {
		if err == redis.Nil {
			CacheMisses.Inc()
			return ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return fmt.Errorf("redis get: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	CacheHits.Inc()
	return nil
}

// SetJSON stores a value under key with the manager's TTL.
func (m *Manager) SetJSON(ctx context.Context, key Key, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := m.redis.Set(ctx, key.String(), data, m.ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Delete removes a cache entry. Used by the --refresh-schema flag to force a
// fresh fetch after an admin edits custom fields.
func (m *Manager) Delete(ctx context.Context, key Key) error {
	if err := m.redis.Del(ctx, key.String()).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
