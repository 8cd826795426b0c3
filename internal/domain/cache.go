package domain

import (
	"context"
	"time"
)

// Cache defines the interface for byte caching.
// Supports two-phase caching: local LRU plus Redis.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory", "redis" or "none"
	Type string `json:"type" mapstructure:"type"`

	// Local LRU cache settings
	LocalMaxSize int           `json:"localMaxSize" mapstructure:"local_max_size"`
	LocalTTL     time.Duration `json:"localTtl" mapstructure:"local_ttl"`

	// Redis settings
	RedisAddr     string `json:"redisAddr" mapstructure:"redis_addr"`
	RedisPassword string `json:"-" mapstructure:"redis_password"`
	RedisDB       int    `json:"redisDb" mapstructure:"redis_db"`

	// If true, check local first, then Redis
	EnableTwoPhase bool `json:"enableTwoPhase" mapstructure:"enable_two_phase"`

	// TTL applied to cached artifact bytes
	ArtifactTTL time.Duration `json:"artifactTtl" mapstructure:"artifact_ttl"`
}
