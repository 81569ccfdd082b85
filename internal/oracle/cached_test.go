package oracle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"bus-tracking-backend/internal/model"
)

type countingProvider struct {
	*Haversine
	calls     int
	available bool
}

func (p *countingProvider) Distance(ctx context.Context, from, to model.Location) float64 {
	p.calls++
	if !p.available {
		return Unavailable
	}
	return p.Haversine.Distance(ctx, from, to)
}

func TestCached_MemoizesSuccessfulDistances(t *testing.T) {
	inner := &countingProvider{Haversine: NewHaversine(30), available: true}
	cached := NewCached(inner, time.Minute)

	first := cached.Distance(context.Background(), busLoc, homeLoc)
	second := cached.Distance(context.Background(), busLoc, homeLoc)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.calls)
}

func TestCached_DoesNotCacheFailures(t *testing.T) {
	inner := &countingProvider{Haversine: NewHaversine(30)}
	cached := NewCached(inner, time.Minute)

	assert.False(t, Available(cached.Distance(context.Background(), busLoc, homeLoc)))
	inner.available = true
	assert.True(t, Available(cached.Distance(context.Background(), busLoc, homeLoc)))
	assert.Equal(t, 2, inner.calls)
}

func TestNewCached_ZeroTTLPassesThrough(t *testing.T) {
	inner := NewHaversine(30)
	assert.Same(t, inner, NewCached(inner, 0))
}
