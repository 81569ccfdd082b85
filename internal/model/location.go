package model

import "fmt"

// Location is a WGS84 coordinate pair.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// String renders the location the way the Maps APIs expect it ("lat,lng").
func (l Location) String() string {
	return fmt.Sprintf("%f,%f", l.Latitude, l.Longitude)
}

// Valid reports whether both coordinates are within WGS84 bounds.
func (l Location) Valid() bool {
	return l.Latitude >= -90 && l.Latitude <= 90 && l.Longitude >= -180 && l.Longitude <= 180
}

func locationOf(lat, lng *float64) *Location {
	if lat == nil || lng == nil {
		return nil
	}
	return &Location{Latitude: *lat, Longitude: *lng}
}
