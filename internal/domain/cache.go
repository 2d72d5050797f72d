package domain

import (
	"context"
	"time"
)

// Cache is the interface for caching derived state, principally the
// per-facility effective rule set. Every key is scoped by facility ID.
// Cached entries are invalidated eagerly on every config write; a stale
// entry is a bug, not a performance knob.
type Cache interface {
	// Get returns nil, nil when the key is not present.
	Get(ctx context.Context, facilityID string, key string) ([]byte, error)
	Set(ctx context.Context, facilityID string, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, facilityID string, key string) error

	Ping(ctx context.Context) error
	Close() error
}

// Cache keys used by the engine.
const (
	CacheKeyRuleSet = "ruleset"
)

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings (community tier)
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings (pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// If true, check local first, then Redis.
	EnableTwoPhase bool
}
