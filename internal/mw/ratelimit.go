package mw

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// KeyFunc picks the bucket a request is counted against.
type KeyFunc func(c *gin.Context) string

// ClientIP buckets requests by client address.
func ClientIP(c *gin.Context) string { return c.ClientIP() }

// KeyedRateLimiter keeps one token bucket per key. Buckets of idle keys expire
// so devices that come and go do not grow the table forever.
type KeyedRateLimiter struct {
	limiters *cache.Cache
	r        rate.Limit
	b        int
}

// NewKeyedRateLimiter creates a limiter whose idle buckets are evicted after idle.
func NewKeyedRateLimiter(r rate.Limit, b int, idle time.Duration) *KeyedRateLimiter {
	return &KeyedRateLimiter{
		limiters: cache.New(idle, 2*idle),
		r:        r,
		b:        b,
	}
}

// Limiter returns the bucket for key, creating it on first use.
func (k *KeyedRateLimiter) Limiter(key string) *rate.Limiter {
	if l, found := k.limiters.Get(key); found {
		k.limiters.SetDefault(key, l)
		return l.(*rate.Limiter)
	}
	l := rate.NewLimiter(k.r, k.b)
	// Add fails if another request created the bucket first.
	if err := k.limiters.Add(key, l, cache.DefaultExpiration); err != nil {
		if existing, found := k.limiters.Get(key); found {
			return existing.(*rate.Limiter)
		}
	}
	return l
}

// RateLimiter rejects requests over r per second (burst b) per client IP.
func RateLimiter(r rate.Limit, b int) gin.HandlerFunc {
	return KeyedRateLimit(NewKeyedRateLimiter(r, b, 10*time.Minute), ClientIP)
}

// KeyedRateLimit rejects requests whose bucket, chosen by key, is empty.
func KeyedRateLimit(limiter *KeyedRateLimiter, key KeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Limiter(key(c)).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// BusKey buckets requests by the :id path parameter, falling back to the client IP.
func BusKey(c *gin.Context) string {
	if id := c.Param("id"); id != "" {
		return "bus:" + id
	}
	return c.ClientIP()
}
