package model

import "strings"

// Occupancy tells whether a student is currently on board.
type Occupancy string

const (
	OccupancyInBus Occupancy = "in_bus"
	OccupancyOut   Occupancy = "out"
)

// RoutePreference tells which routes a student rides.
type RoutePreference string

const (
	PreferMorning RoutePreference = "MORNING"
	PreferEvening RoutePreference = "EVENING"
	PreferBoth    RoutePreference = "BOTH"
)

// Covers reports whether a student with this preference rides the given route.
// An empty preference is treated as BOTH.
func (p RoutePreference) Covers(mode RouteMode) bool {
	switch p {
	case PreferBoth, "":
		return true
	case PreferMorning:
		return mode == RouteMorning
	case PreferEvening:
		return mode == RouteEvening
	}
	return false
}

// Student is a rider registered on at most one bus.
type Student struct {
	ID              int64           `gorm:"primaryKey"`
	FirstName       string          `gorm:"size:64;not null"`
	LastName        string          `gorm:"size:64"`
	PhoneNumber     string          `gorm:"size:32"`
	BusID           *int64          `gorm:"index"`
	HomeLatitude    *float64
	HomeLongitude   *float64
	CurrentStatus   Occupancy       `gorm:"size:16;not null;default:out;index"`
	RoutePreference RoutePreference `gorm:"size:16;not null;default:BOTH"`
}

// Home returns the registered home location, or nil if it is unknown.
func (s Student) Home() *Location {
	return locationOf(s.HomeLatitude, s.HomeLongitude)
}

// FullName joins first and last name.
func (s Student) FullName() string {
	return strings.TrimSpace(s.FirstName + " " + s.LastName)
}

// RidesBus reports whether the student is registered on busID.
func (s Student) RidesBus(busID int64) bool {
	return s.BusID != nil && *s.BusID == busID
}
