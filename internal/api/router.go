package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"bus-tracking-backend/config"
	"bus-tracking-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(handler *Handler, cfg config.ServerConfig) *gin.Engine {
	r := gin.Default()

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)
	// Devices post signals per bus; one noisy bus must not starve the others.
	busLimiter := mw.KeyedRateLimit(
		mw.NewKeyedRateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst, 10*time.Minute),
		mw.BusKey,
	)

	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	handler.etaCache = cache.New(ttl, 2*ttl)
	caching := mw.Cache(handler.etaCache, ttl)

	r.GET("/healthz", handler.Healthz)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		buses := api.Group("/buses/:id")
		buses.POST("/tracking", handler.StartTracking)
		buses.DELETE("/tracking", handler.StopTracking)
		buses.POST("/evaluate", handler.Evaluate)
		buses.PATCH("/location", busLimiter, handler.UpdateLocation)
		buses.PUT("/route-mode", handler.UpdateRouteMode)
		buses.POST("/events", busLimiter, handler.CreateStudentEvent)
		buses.POST("/bus-events", busLimiter, handler.CreateBusEvent)
		buses.GET("/eta", caching, handler.GetETAs)

		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	return r
}
