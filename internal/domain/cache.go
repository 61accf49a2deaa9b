package domain

import (
	"context"
	"time"
)

// Cache defines the gateway the mediator writes through. Keys are derived by
// the core (see CacheKey); implementations only move bytes. A nil, nil Get
// result is a miss.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Remove(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)

	// GetMany returns the found subset; absent keys are simply missing from
	// the result map.
	GetMany(ctx context.Context, keys []string) (map[string][]byte, error)
	SetMany(ctx context.Context, entries map[string][]byte, ttl time.Duration) error

	Ping(ctx context.Context) error
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `yaml:"type"`

	// Local LRU cache settings
	LocalMaxSize int           `yaml:"localMaxSize"`
	LocalTTL     time.Duration `yaml:"localTTL"`

	// Redis settings
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDB"`

	// EnableTwoPhase checks the local LRU first, then Redis.
	EnableTwoPhase bool `yaml:"enableTwoPhase"`
}
