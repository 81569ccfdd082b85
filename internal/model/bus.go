package model

import "time"

// RouteMode is the active phase of a bus route.
type RouteMode string

const (
	RouteMorning RouteMode = "MORNING"
	RouteEvening RouteMode = "EVENING"
)

// Bus is a school bus with its last reported position.
type Bus struct {
	ID                int64     `gorm:"primaryKey"`
	Label             string    `gorm:"size:64"`
	DriverName        string    `gorm:"size:128"`
	DriverPhone       string    `gorm:"size:32"`
	AdminID           *int64    `gorm:"index"`
	RouteMode         RouteMode `gorm:"size:16;not null;default:MORNING"`
	MonitoringEnabled bool      `gorm:"not null;index"`
	Latitude          *float64
	Longitude         *float64
	LocationUpdatedAt *time.Time
	CreatedAt         time.Time `gorm:"not null"`
	UpdatedAt         time.Time `gorm:"not null"`
}

// Location returns the last known position, or nil if none was reported yet.
func (b Bus) Location() *Location {
	return locationOf(b.Latitude, b.Longitude)
}
