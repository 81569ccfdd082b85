package model

import (
	"strings"
	"time"
)

// EventKind classifies a recorded signal or an alert.
type EventKind string

const (
	EventEnterAtHome       EventKind = "ENTER_AT_HOME"
	EventExitAtHome        EventKind = "EXIT_AT_HOME"
	EventEnterAtSchool     EventKind = "ENTER_AT_SCHOOL"
	EventExitAtSchool      EventKind = "EXIT_AT_SCHOOL"
	EventUnusualEnter      EventKind = "UNUSUAL_ENTER"
	EventUnusualExit       EventKind = "UNUSUAL_EXIT"
	EventUnauthorizedEnter EventKind = "UNAUTHORIZED_ENTER"
	EventUnauthorizedExit  EventKind = "UNAUTHORIZED_EXIT"

	// Alert kinds produced by the proximity monitor.
	EventApproach  EventKind = "APPROACH"
	EventArrival   EventKind = "ARRIVAL"
	EventMissedBus EventKind = "MISSED_BUS"
)

// BoardingKinds are the kinds that count as boarding activity of a student.
var BoardingKinds = []EventKind{
	EventEnterAtHome, EventExitAtHome,
	EventEnterAtSchool, EventExitAtSchool,
	EventUnusualEnter, EventUnusualExit,
}

// IsEnter reports whether the kind describes someone getting on the bus.
func (k EventKind) IsEnter() bool {
	return strings.Contains(string(k), "ENTER")
}

// PreferenceKey is the notification preference type that governs this kind.
func (k EventKind) PreferenceKey() string {
	return strings.ToLower(string(k))
}

// Label is the kind as shown to people, e.g. "exit at school".
func (k EventKind) Label() string {
	return strings.ReplaceAll(strings.ToLower(string(k)), "_", " ")
}

// Event is one entry of the append-only event log.
type Event struct {
	ID         int64     `gorm:"primaryKey"`
	Kind       EventKind `gorm:"column:event_type;size:32;not null"`
	BusID      int64     `gorm:"not null;index:idx_events_student_bus_time,priority:2"`
	StudentID  *int64    `gorm:"index:idx_events_student_bus_time,priority:1"`
	Latitude   *float64
	Longitude  *float64
	OccurredAt time.Time `gorm:"not null;index:idx_events_student_bus_time,priority:3"`
}

// Location returns where the event happened, if the bus position was known.
func (e Event) Location() *Location {
	return locationOf(e.Latitude, e.Longitude)
}
