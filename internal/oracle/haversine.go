package oracle

import (
	"context"
	"math"
	"sort"
	"strconv"
	"time"

	"bus-tracking-backend/internal/model"
)

const earthRadiusMeters = 6371000.0

// HaversineMeters is the great-circle distance between a and b.
func HaversineMeters(a, b model.Location) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(b.Latitude - a.Latitude)
	dLon := toRad(b.Longitude - a.Longitude)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Latitude))*math.Cos(toRad(b.Latitude))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}

// Haversine is an offline Provider using straight-line distances and a fixed
// average speed. It never fails.
type Haversine struct {
	speedMetersPerSec float64
}

// NewHaversine creates an offline provider assuming the given average speed.
func NewHaversine(averageSpeedKmh float64) *Haversine {
	if averageSpeedKmh <= 0 {
		averageSpeedKmh = 30
	}
	return &Haversine{speedMetersPerSec: averageSpeedKmh * 1000 / 3600}
}

func (h *Haversine) Distance(_ context.Context, from, to model.Location) float64 {
	return HaversineMeters(from, to)
}

func (h *Haversine) TravelDuration(_ context.Context, from, to model.Location) (time.Duration, bool) {
	secs := HaversineMeters(from, to) / h.speedMetersPerSec
	return time.Duration(secs * float64(time.Second)), true
}

func (h *Haversine) ReverseGeocode(_ context.Context, loc model.Location) string {
	return FallbackLabel(loc)
}

// EstimateETAs visits stops nearest-first and accumulates travel time.
func (h *Haversine) EstimateETAs(ctx context.Context, origin model.Location, stops []Stop) map[int64]time.Duration {
	remaining := append([]Stop(nil), stops...)
	etas := make(map[int64]time.Duration, len(stops))
	current := origin
	var total time.Duration
	for len(remaining) > 0 {
		sort.SliceStable(remaining, func(i, j int) bool {
			return HaversineMeters(current, remaining[i].Location) < HaversineMeters(current, remaining[j].Location)
		})
		next := remaining[0]
		remaining = remaining[1:]
		leg, _ := h.TravelDuration(ctx, current, next.Location)
		total += leg
		etas[next.StudentID] = total
		current = next.Location
	}
	return etas
}

func trimFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
