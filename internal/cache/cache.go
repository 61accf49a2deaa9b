package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/open-mediary/mediary/internal/domain"
)

// New creates a cache from configuration.
// "memory" returns the local LRU cache.
// "redis" with two-phase enabled returns TwoPhaseCache wrapping LRU + Redis;
// without it, plain Redis.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// TwoPhaseCache layers a local LRU (L1) over Redis (L2). Reads prefer L1 and
// backfill it on an L2 hit; writes and removals go to both.
type TwoPhaseCache struct {
	local  *LRUCache
	remote *RedisCache
	l1TTL  time.Duration
}

// NewTwoPhaseCache creates a two-phase cache with LRU + Redis.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	local := NewLRUCache(cfg.LocalMaxSize)

	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}

	l1TTL := cfg.LocalTTL
	if l1TTL == 0 {
		l1TTL = 5 * time.Minute
	}

	return &TwoPhaseCache{
		local:  local,
		remote: remote,
		l1TTL:  l1TTL,
	}, nil
}

// Get retrieves from L1 first, then L2. Populates L1 on an L2 hit.
func (c *TwoPhaseCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.local.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		return val, nil
	}

	val, err = c.remote.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		_ = c.local.Set(ctx, key, val, c.l1TTL)
	}

	return val, nil
}

// Set writes to both L1 and L2.
func (c *TwoPhaseCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	l1TTL := c.l1TTL
	if ttl < l1TTL {
		l1TTL = ttl
	}
	if err := c.local.Set(ctx, key, value, l1TTL); err != nil {
		return err
	}
	return c.remote.Set(ctx, key, value, ttl)
}

// Remove removes from both L1 and L2.
func (c *TwoPhaseCache) Remove(ctx context.Context, key string) error {
	if err := c.local.Remove(ctx, key); err != nil {
		return err
	}
	return c.remote.Remove(ctx, key)
}

// Exists checks L1 first, then L2.
func (c *TwoPhaseCache) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := c.local.Exists(ctx, key)
	if err != nil || ok {
		return ok, err
	}
	return c.remote.Exists(ctx, key)
}

// GetMany serves what it can from L1 and fetches the remainder from L2,
// backfilling L1 with the L2 hits.
func (c *TwoPhaseCache) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	found, err := c.local.GetMany(ctx, keys)
	if err != nil {
		return nil, err
	}

	var missing []string
	for _, key := range keys {
		if _, ok := found[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) == 0 {
		return found, nil
	}

	remote, err := c.remote.GetMany(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(remote) > 0 {
		_ = c.local.SetMany(ctx, remote, c.l1TTL)
	}
	for key, value := range remote {
		found[key] = value
	}
	return found, nil
}

// SetMany writes all entries to both tiers.
func (c *TwoPhaseCache) SetMany(ctx context.Context, entries map[string][]byte, ttl time.Duration) error {
	l1TTL := c.l1TTL
	if ttl < l1TTL {
		l1TTL = ttl
	}
	if err := c.local.SetMany(ctx, entries, l1TTL); err != nil {
		return err
	}
	return c.remote.SetMany(ctx, entries, ttl)
}

// Ping checks both tiers.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("L1 ping failed: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

// Close closes both tiers.
func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats returns L1 cache statistics.
func (c *TwoPhaseCache) Stats() (size int, capacity int) {
	return c.local.Stats()
}
