package oracle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"bus-tracking-backend/internal/model"
)

func TestHaversineMeters(t *testing.T) {
	// One degree of latitude is ~111.2km on the mean-radius sphere.
	a := model.Location{Latitude: 0, Longitude: 0}
	b := model.Location{Latitude: 1, Longitude: 0}
	assert.InDelta(t, 111195, HaversineMeters(a, b), 1)
	assert.Zero(t, HaversineMeters(a, a))
}

func TestHaversine_EstimateETAsNearestFirst(t *testing.T) {
	h := NewHaversine(36) // 10 m/s
	origin := model.Location{Latitude: 0, Longitude: 0}
	near := model.Location{Latitude: 0.001, Longitude: 0}
	far := model.Location{Latitude: 0.002, Longitude: 0}

	etas := h.EstimateETAs(context.Background(), origin, []Stop{
		{StudentID: 2, Location: far},
		{StudentID: 1, Location: near},
	})

	assert.InDelta(t, 11.1, etas[1].Seconds(), 0.1)
	assert.InDelta(t, 22.2, etas[2].Seconds(), 0.1)
	assert.Less(t, etas[1], etas[2])

	d, ok := h.TravelDuration(context.Background(), origin, near)
	assert.True(t, ok)
	assert.Equal(t, etas[1], d)
	assert.Greater(t, d, time.Duration(0))
}
