package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations. Used for the
// assessment idempotency fast path (one assessment per transaction ID)
// and for per-user feature-sequence reuse between assessments.
type Cache interface {
	// Get retrieves a value from cache. Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// GetAssessment retrieves a cached assessment by transaction ID.
	GetAssessment(ctx context.Context, txID string) (*FraudAssessment, error)

	// SetAssessment caches an assessment keyed by transaction ID.
	SetAssessment(ctx context.Context, txID string, a *FraudAssessment, ttl time.Duration) error

	// IncrementCounter atomically increments a windowed counter and returns
	// the new value. Used for cross-instance velocity accounting.
	IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}
