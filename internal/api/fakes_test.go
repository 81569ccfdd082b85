package api

import (
	"context"
	"fmt"
	"time"

	"bus-tracking-backend/internal/model"
	"bus-tracking-backend/internal/store"
	"bus-tracking-backend/internal/tracking"
)

type fakeStore struct {
	buses      map[int64]*model.Bus
	subs       map[string]model.PushSubscription
	err        error
	modeCalls  int
	locUpdates int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		buses: map[int64]*model.Bus{1: {ID: 1, RouteMode: model.RouteMorning}},
		subs:  map[string]model.PushSubscription{},
	}
}

func (f *fakeStore) Bus(_ context.Context, id int64) (*model.Bus, error) {
	bus, ok := f.buses[id]
	if !ok {
		return nil, fmt.Errorf("bus %d: %w", id, store.ErrNotFound)
	}
	return bus, nil
}

func (f *fakeStore) SetMonitoringEnabled(ctx context.Context, busID int64, enabled bool) error {
	bus, err := f.Bus(ctx, busID)
	if err != nil {
		return err
	}
	bus.MonitoringEnabled = enabled
	return nil
}

func (f *fakeStore) SetRouteMode(ctx context.Context, busID int64, mode model.RouteMode) error {
	bus, err := f.Bus(ctx, busID)
	if err != nil {
		return err
	}
	f.modeCalls++
	bus.RouteMode = mode
	return nil
}

func (f *fakeStore) UpdateBusLocation(ctx context.Context, busID int64, loc model.Location, _ time.Time) error {
	bus, err := f.Bus(ctx, busID)
	if err != nil {
		return err
	}
	f.locUpdates++
	bus.Latitude, bus.Longitude = &loc.Latitude, &loc.Longitude
	return nil
}

func (f *fakeStore) UpsertSubscription(_ context.Context, sub *model.PushSubscription) error {
	if f.err != nil {
		return f.err
	}
	f.subs[sub.Endpoint] = *sub
	return nil
}

func (f *fakeStore) DeleteSubscription(_ context.Context, endpoint string) error {
	if f.err != nil {
		return f.err
	}
	delete(f.subs, endpoint)
	return nil
}

type fakeTracker struct {
	report   tracking.Report
	err      error
	etas     map[int64]time.Duration
	etaCalls int
}

func (f *fakeTracker) EvaluateOnce(_ context.Context, busID int64) (tracking.Report, error) {
	r := f.report
	r.BusID = busID
	return r, f.err
}

func (f *fakeTracker) ETAs(_ context.Context, _ int64) (map[int64]time.Duration, error) {
	f.etaCalls++
	return f.etas, f.err
}

type fakeMonitor struct {
	running map[int64]bool
}

func (f *fakeMonitor) Start(busID int64) bool {
	if f.running[busID] {
		return false
	}
	f.running[busID] = true
	return true
}

func (f *fakeMonitor) Stop(busID int64) bool {
	was := f.running[busID]
	delete(f.running, busID)
	return was
}

func (f *fakeMonitor) Running(busID int64) bool { return f.running[busID] }

type fakeEvents struct {
	err       error
	lastRaw   string
	studentID *int64
}

func (f *fakeEvents) RecordStudentSignal(_ context.Context, busID int64, studentID *int64, raw string) (*model.Event, error) {
	f.lastRaw, f.studentID = raw, studentID
	if f.err != nil {
		return nil, f.err
	}
	return &model.Event{ID: 7, Kind: model.EventEnterAtHome, BusID: busID, StudentID: studentID}, nil
}

func (f *fakeEvents) RecordBusEvent(_ context.Context, busID int64, rawKind string) (*model.Event, error) {
	f.lastRaw = rawKind
	if f.err != nil {
		return nil, f.err
	}
	return &model.Event{ID: 8, Kind: model.EventKind(rawKind), BusID: busID}, nil
}
