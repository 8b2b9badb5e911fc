package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stockmeta/internal/models"
)

const rateCacheKey = "rate_card:current"

// RateCache caches the rate card in Redis with a short TTL so reservations
// don't hit Postgres for rates on every request. A rate change propagates
// within the TTL, which is acceptable because jobs freeze rates at
// reservation time anyway.
type RateCache struct {
	cache *RedisCache
	ttl   time.Duration
}

// NewRateCache creates a new rate card cache
func NewRateCache(cache *RedisCache, ttl time.Duration) *RateCache {
	return &RateCache{cache: cache, ttl: ttl}
}

// Get returns the cached rate card, or ErrNotFound on a cache miss
func (c *RateCache) Get(ctx context.Context) (*models.RateCard, error) {
	raw, err := c.cache.Get(ctx, rateCacheKey)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("rate card cache: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get cached rate card: %w", err)
	}

	var card models.RateCard
	if err := json.Unmarshal([]byte(raw), &card); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached rate card: %w", err)
	}

	return &card, nil
}

// Set caches the rate card
func (c *RateCache) Set(ctx context.Context, card *models.RateCard) error {
	raw, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("failed to marshal rate card: %w", err)
	}

	if err := c.cache.Set(ctx, rateCacheKey, raw, c.ttl); err != nil {
		return fmt.Errorf("failed to cache rate card: %w", err)
	}

	return nil
}

// Invalidate drops the cached rate card, called after an admin rate change
func (c *RateCache) Invalidate(ctx context.Context) error {
	return c.cache.Del(ctx, rateCacheKey)
}
