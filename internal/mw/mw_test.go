package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func get(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestCache_ServesRepeatedGets(t *testing.T) {
	store := cache.New(time.Minute, time.Minute)
	calls := 0
	r := gin.New()
	r.GET("/buses/:id/eta", Cache(store, time.Minute), func(c *gin.Context) {
		calls++
		c.JSON(http.StatusOK, gin.H{"calls": calls})
	})

	first := get(r, "/buses/1/eta")
	assert.Equal(t, "MISS", first.Header().Get(CacheHeader))
	second := get(r, "/buses/1/eta")
	assert.Equal(t, "HIT", second.Header().Get(CacheHeader))
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "application/json; charset=utf-8", second.Header().Get("Content-Type"))
	assert.Equal(t, 1, calls)

	get(r, "/buses/2/eta")
	assert.Equal(t, 2, calls)
}

func TestCache_KeysOnPathAndQuery(t *testing.T) {
	store := cache.New(time.Minute, time.Minute)
	calls := 0
	r := gin.New()
	r.GET("/api/buses/:id/eta", Cache(store, time.Minute), func(c *gin.Context) {
		calls++
		c.JSON(http.StatusOK, gin.H{"bus": c.Param("id")})
	})

	get(r, "/api/buses/1/eta")
	get(r, "/api/buses/1/eta?units=min")
	w := get(r, "/api/buses/2/eta")
	assert.Equal(t, "MISS", w.Header().Get(CacheHeader))
	assert.JSONEq(t, `{"bus":"2"}`, w.Body.String())
	assert.Equal(t, 3, calls)

	Invalidate(store, "/api/buses/1/")
	assert.Equal(t, 1, store.ItemCount())
	assert.Equal(t, "HIT", get(r, "/api/buses/2/eta").Header().Get(CacheHeader))
}

func TestCache_SkipsErrors(t *testing.T) {
	store := cache.New(time.Minute, time.Minute)
	calls := 0
	r := gin.New()
	r.GET("/eta", Cache(store, time.Minute), func(c *gin.Context) {
		calls++
		c.JSON(http.StatusConflict, gin.H{"error": "bus has no location"})
	})

	get(r, "/eta")
	w := get(r, "/eta")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, 2, calls)
}

func TestInvalidate(t *testing.T) {
	store := cache.New(time.Minute, time.Minute)
	store.SetDefault("/api/buses/1/eta", cachedResponse{})
	store.SetDefault("/api/buses/1/eta?x=1", cachedResponse{})
	store.SetDefault("/api/buses/12/eta", cachedResponse{})

	Invalidate(store, "/api/buses/1/")
	_, found := store.Get("/api/buses/12/eta")
	assert.True(t, found)
	assert.Equal(t, 1, store.ItemCount())
}

func TestRateLimiter_PerKey(t *testing.T) {
	r := gin.New()
	r.POST("/buses/:id/events", KeyedRateLimit(NewKeyedRateLimiter(rate.Limit(0.001), 2, time.Minute), BusKey), func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})
	post := func(path string) int {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodPost, path, nil)
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusCreated, post("/buses/1/events"))
	assert.Equal(t, http.StatusCreated, post("/buses/1/events"))
	assert.Equal(t, http.StatusTooManyRequests, post("/buses/1/events"))
	assert.Equal(t, http.StatusCreated, post("/buses/2/events"))
}

func TestKeyedRateLimiter_ReusesBucket(t *testing.T) {
	l := NewKeyedRateLimiter(rate.Limit(1), 1, time.Minute)
	assert.Same(t, l.Limiter("a"), l.Limiter("a"))
	assert.NotSame(t, l.Limiter("a"), l.Limiter("b"))
}
