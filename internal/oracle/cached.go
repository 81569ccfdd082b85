package oracle

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"bus-tracking-backend/internal/model"
)

// Cached memoizes successful distance and duration answers of a Provider for a
// short TTL. Failures are never cached so the next tick retries them.
type Cached struct {
	Provider
	store *cache.Cache
}

// NewCached wraps p. A zero ttl disables caching and returns p unchanged.
func NewCached(p Provider, ttl time.Duration) Provider {
	if ttl <= 0 {
		return p
	}
	return &Cached{Provider: p, store: cache.New(ttl, 2*ttl)}
}

func cacheKey(op string, from, to model.Location) string {
	return fmt.Sprintf("%s:%.6f,%.6f:%.6f,%.6f", op, from.Latitude, from.Longitude, to.Latitude, to.Longitude)
}

func (c *Cached) Distance(ctx context.Context, from, to model.Location) float64 {
	key := cacheKey("d", from, to)
	if v, ok := c.store.Get(key); ok {
		return v.(float64)
	}
	d := c.Provider.Distance(ctx, from, to)
	if Available(d) {
		c.store.SetDefault(key, d)
	}
	return d
}

func (c *Cached) TravelDuration(ctx context.Context, from, to model.Location) (time.Duration, bool) {
	key := cacheKey("t", from, to)
	if v, ok := c.store.Get(key); ok {
		return v.(time.Duration), true
	}
	d, ok := c.Provider.TravelDuration(ctx, from, to)
	if ok {
		c.store.SetDefault(key, d)
	}
	return d, ok
}
