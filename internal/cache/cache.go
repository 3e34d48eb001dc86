package cache

import (
	"fmt"

	"github.com/opensource-finance/merlin/internal/domain"
)

// New creates a cache based on configuration. Single-node deployments use
// the in-process LRU; clustered deployments use Redis so the idempotency
// fast path holds across instances.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}
