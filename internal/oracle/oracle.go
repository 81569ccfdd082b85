// Package oracle answers "how far" and "how long" questions between two
// locations. Failures never surface as errors: an unanswerable distance is
// reported as Unavailable so callers can skip the affected comparison.
package oracle

import (
	"context"
	"math"
	"time"

	"bus-tracking-backend/internal/model"
)

// Unavailable is the distance reported when no answer could be obtained.
var Unavailable = math.Inf(1)

// Available reports whether d is a usable distance.
func Available(d float64) bool {
	return !math.IsInf(d, 0) && !math.IsNaN(d) && d >= 0
}

// Oracle estimates distances and travel times.
type Oracle interface {
	// Distance returns meters between from and to, or Unavailable.
	Distance(ctx context.Context, from, to model.Location) float64
	// TravelDuration returns the expected driving time. ok is false on failure.
	TravelDuration(ctx context.Context, from, to model.Location) (d time.Duration, ok bool)
}

// Geocoder turns a location into a human readable place name.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, loc model.Location) string
}

// Stop is a drop-off point on a route.
type Stop struct {
	StudentID int64
	Location  model.Location
}

// RoutePlanner estimates arrival times at a set of stops starting from origin.
type RoutePlanner interface {
	EstimateETAs(ctx context.Context, origin model.Location, stops []Stop) map[int64]time.Duration
}

// Provider bundles everything the service asks of a maps backend.
type Provider interface {
	Oracle
	Geocoder
	RoutePlanner
}

// FallbackLabel is used when reverse geocoding yields nothing.
func FallbackLabel(loc model.Location) string {
	return "Location (" + trimFloat(loc.Latitude) + ", " + trimFloat(loc.Longitude) + ")"
}
