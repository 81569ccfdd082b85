package tracking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bus-tracking-backend/internal/model"
	"bus-tracking-backend/internal/store"
)

func TestRadii_ZoneFor(t *testing.T) {
	r := Radii{Arrival: 100, Near: 1000}
	testCases := []struct {
		d        float64
		expected Zone
	}{
		{d: 0, expected: ZoneArrival},
		{d: 100, expected: ZoneArrival},
		{d: 100.5, expected: ZoneApproach},
		{d: 1000, expected: ZoneApproach},
		{d: 1000.1, expected: ZoneFar},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.expected, r.ZoneFor(tc.d), "distance %v", tc.d)
	}
}

func TestStep_ArrivalSuppressesApproach(t *testing.T) {
	flags := map[int64]store.Flags{1: {Approach: true}}
	tr := Step(ZoneArrival, model.RouteMorning, true, false, []int64{1, 2}, flags)

	require.Len(t, tr.Alerts, 1)
	assert.Equal(t, Alert{Kind: model.EventArrival, Parents: []int64{1, 2}}, tr.Alerts[0])
	assert.Equal(t, map[int64]store.Flags{
		1: {Approach: true, Arrival: true},
		2: {Approach: true, Arrival: true},
	}, tr.Flags)
	assert.Nil(t, tr.Near, "already near")
}

func TestStep_ApproachOnlyForParentsLackingFlag(t *testing.T) {
	flags := map[int64]store.Flags{1: {Approach: true}}
	tr := Step(ZoneApproach, model.RouteEvening, false, false, []int64{1, 2}, flags)

	require.Len(t, tr.Alerts, 1)
	assert.Equal(t, []int64{2}, tr.Alerts[0].Parents)
	assert.Equal(t, map[int64]store.Flags{2: {Approach: true}}, tr.Flags)
	require.NotNil(t, tr.Near)
	assert.True(t, *tr.Near)
}

func TestStep_FarAfterNearWithoutBoarding(t *testing.T) {
	flags := map[int64]store.Flags{
		1: {Approach: true, Arrival: true},
		2: {Approach: true, Missed: true},
	}
	tr := Step(ZoneFar, model.RouteMorning, true, false, []int64{1, 2}, flags)

	require.Len(t, tr.Alerts, 1)
	assert.Equal(t, Alert{Kind: model.EventMissedBus, Parents: []int64{1}}, tr.Alerts[0])
	assert.Equal(t, map[int64]store.Flags{
		1: {Missed: true},
		2: {Missed: true},
	}, tr.Flags)
	require.NotNil(t, tr.Near)
	assert.False(t, *tr.Near)
}

func TestStep_FarAfterBoardingClearsWithoutAlert(t *testing.T) {
	flags := map[int64]store.Flags{1: {Approach: true, Arrival: true}}
	tr := Step(ZoneFar, model.RouteMorning, true, true, []int64{1}, flags)

	assert.Empty(t, tr.Alerts)
	assert.Equal(t, map[int64]store.Flags{1: {}}, tr.Flags)
	require.NotNil(t, tr.Near)
	assert.False(t, *tr.Near)
}

func TestStep_FarIsIgnoredWhenNeverNearOrInEvening(t *testing.T) {
	flags := map[int64]store.Flags{1: {Approach: true}}

	tr := Step(ZoneFar, model.RouteMorning, false, false, []int64{1}, flags)
	assert.Empty(t, tr.Alerts)
	assert.Empty(t, tr.Flags)
	assert.Nil(t, tr.Near)

	tr = Step(ZoneFar, model.RouteEvening, true, false, []int64{1}, flags)
	assert.Empty(t, tr.Alerts)
	assert.Empty(t, tr.Flags)
	assert.Nil(t, tr.Near)
}

func TestAlertText(t *testing.T) {
	title, msg := alertText(model.EventArrival, "Sara")
	assert.Equal(t, "Bus Has Arrived", title)
	assert.Equal(t, "The bus has arrived at Sara's home", msg)

	title, msg = alertText(model.EventApproach, "Sara")
	assert.Equal(t, "Bus Approaching", title)
	assert.Equal(t, "The bus is near Sara's home", msg)

	title, msg = alertText(model.EventMissedBus, "Sara")
	assert.Equal(t, "Student Missed Bus", title)
	assert.Equal(t, "Sara has missed the bus. The bus arrived at your home but no boarding was detected.", msg)
}
