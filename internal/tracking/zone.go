package tracking

import (
	"fmt"

	"bus-tracking-backend/internal/model"
	"bus-tracking-backend/internal/store"
)

// Zone is where the bus is relative to one student's home.
type Zone int

const (
	ZoneFar Zone = iota
	ZoneApproach
	ZoneArrival
)

func (z Zone) String() string {
	switch z {
	case ZoneArrival:
		return "arrival"
	case ZoneApproach:
		return "approach"
	}
	return "far"
}

// Radii are the zone boundaries in meters. Both bounds are inclusive.
type Radii struct {
	Arrival float64
	Near    float64
}

func (r Radii) ZoneFor(d float64) Zone {
	switch {
	case d <= r.Arrival:
		return ZoneArrival
	case d <= r.Near:
		return ZoneApproach
	}
	return ZoneFar
}

// Alert is one notification to send to a set of parents.
type Alert struct {
	Kind    model.EventKind
	Parents []int64
}

// Transition is the outcome of applying the zone table to one student.
type Transition struct {
	// Flags holds the new flags of parents whose flags change.
	Flags map[int64]store.Flags
	// Near is the new was-near value, nil when it stays the same.
	Near   *bool
	Alerts []Alert
}

// NeedsActivityCheck reports whether Step will consult the boarding activity.
func NeedsActivityCheck(zone Zone, mode model.RouteMode, wasNear bool) bool {
	return zone == ZoneFar && mode == model.RouteMorning && wasNear
}

// Step applies the zone table for one student given the current flags of each
// parent. boarded is only meaningful when NeedsActivityCheck holds.
func Step(zone Zone, mode model.RouteMode, wasNear, boarded bool, parents []int64, flags map[int64]store.Flags) Transition {
	t := Transition{Flags: make(map[int64]store.Flags)}

	switch zone {
	case ZoneArrival:
		var notify []int64
		for _, p := range parents {
			cur := flags[p]
			next := cur
			if !cur.Arrival {
				notify = append(notify, p)
				next.Arrival = true
			}
			// Arrival implies the approach already happened.
			next.Approach = true
			if next != cur {
				t.Flags[p] = next
			}
		}
		if len(notify) > 0 {
			t.Alerts = append(t.Alerts, Alert{Kind: model.EventArrival, Parents: notify})
		}
		if !wasNear {
			t.Near = boolPtr(true)
		}

	case ZoneApproach:
		var notify []int64
		for _, p := range parents {
			cur := flags[p]
			if cur.Approach {
				continue
			}
			notify = append(notify, p)
			next := cur
			next.Approach = true
			t.Flags[p] = next
		}
		if len(notify) > 0 {
			t.Alerts = append(t.Alerts, Alert{Kind: model.EventApproach, Parents: notify})
		}
		if !wasNear {
			t.Near = boolPtr(true)
		}

	case ZoneFar:
		if !NeedsActivityCheck(zone, mode, wasNear) {
			return t
		}
		var missed []int64
		for _, p := range parents {
			cur := flags[p]
			next := cur
			if !boarded && !cur.Missed {
				missed = append(missed, p)
				next.Missed = true
			}
			next.Approach = false
			next.Arrival = false
			if next != cur {
				t.Flags[p] = next
			}
		}
		if len(missed) > 0 {
			t.Alerts = append(t.Alerts, Alert{Kind: model.EventMissedBus, Parents: missed})
		}
		t.Near = boolPtr(false)
	}
	return t
}

// alertText returns the title and message of an alert about a student.
func alertText(kind model.EventKind, firstName string) (string, string) {
	switch kind {
	case model.EventArrival:
		return "Bus Has Arrived", fmt.Sprintf("The bus has arrived at %s's home", firstName)
	case model.EventApproach:
		return "Bus Approaching", fmt.Sprintf("The bus is near %s's home", firstName)
	case model.EventMissedBus:
		return "Student Missed Bus", fmt.Sprintf("%s has missed the bus. The bus arrived at your home but no boarding was detected.", firstName)
	}
	return string(kind), firstName
}

func boolPtr(b bool) *bool { return &b }
