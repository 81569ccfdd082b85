package events

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"bus-tracking-backend/internal/classify"
	"bus-tracking-backend/internal/db"
	"bus-tracking-backend/internal/model"
	"bus-tracking-backend/internal/notification"
	"bus-tracking-backend/internal/oracle"
	"bus-tracking-backend/internal/parse"
	"bus-tracking-backend/internal/store"
)

var (
	school = model.Location{Latitude: 24.80, Longitude: 46.80}
	home   = model.Location{Latitude: 24.71, Longitude: 46.71}
)

type scriptedOracle struct {
	*oracle.Haversine
	byDest map[model.Location]float64
}

func (o *scriptedOracle) Distance(_ context.Context, _, to model.Location) float64 {
	if d, ok := o.byDest[to]; ok {
		return d
	}
	return oracle.Unavailable
}

type fixedGeocoder string

func (g fixedGeocoder) ReverseGeocode(context.Context, model.Location) string { return string(g) }

type recordingNotifier struct {
	mu      sync.Mutex
	notices []notification.Notice
}

func (n *recordingNotifier) Notify(_ context.Context, notice notification.Notice) (int64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return int64(len(n.notices)), nil
}

type recordingStarter struct{ started []int64 }

func (r *recordingStarter) Start(busID int64) bool {
	r.started = append(r.started, busID)
	return true
}

type fixture struct {
	svc      *Service
	store    store.Store
	gdb      *gorm.DB
	oracle   *scriptedOracle
	notifier *recordingNotifier
	starter  *recordingStarter
}

func ptr[T any](v T) *T { return &v }

// newFixture seeds bus 1 (admin 901) carrying Sara Ali (parents 101, 102) and
// Omar (parent 103), plus bus 2 carrying Lina.
func newFixture(t *testing.T, mode model.RouteMode) *fixture {
	t.Helper()
	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.Migrate(gdb))

	require.NoError(t, gdb.Create(&[]model.Bus{
		{ID: 1, RouteMode: mode, AdminID: ptr(int64(901)), Latitude: ptr(24.70), Longitude: ptr(46.70)},
		{ID: 2, RouteMode: mode},
	}).Error)
	require.NoError(t, gdb.Create(&[]model.Student{
		{ID: 11, FirstName: "Sara", LastName: "Ali", BusID: ptr(int64(1)),
			HomeLatitude: ptr(home.Latitude), HomeLongitude: ptr(home.Longitude)},
		{ID: 12, FirstName: "Omar", BusID: ptr(int64(1))},
		{ID: 21, FirstName: "Lina", BusID: ptr(int64(2))},
	}).Error)
	require.NoError(t, gdb.Create(&[]model.ParentStudent{
		{ParentID: 101, StudentID: 11},
		{ParentID: 102, StudentID: 11},
		{ParentID: 103, StudentID: 12},
		{ParentID: 201, StudentID: 21},
	}).Error)

	f := &fixture{
		store:    store.NewGormStore(gdb),
		gdb:      gdb,
		oracle:   &scriptedOracle{Haversine: oracle.NewHaversine(30), byDest: map[model.Location]float64{}},
		notifier: &recordingNotifier{},
		starter:  &recordingStarter{},
	}
	classifier := classify.NewClassifier(f.oracle, school, 80)
	f.svc = NewService(f.store, classifier, fixedGeocoder("Olaya - King Fahd Rd"), f.notifier, f.starter)
	f.svc.now = func() time.Time { return time.Date(2026, 3, 2, 7, 5, 0, 0, time.UTC) }
	return f
}

func (f *fixture) student(t *testing.T, id int64) *model.Student {
	t.Helper()
	st, err := f.store.Student(context.Background(), id)
	require.NoError(t, err)
	return st
}

func (f *fixture) bus(t *testing.T, id int64) *model.Bus {
	t.Helper()
	bus, err := f.store.Bus(context.Background(), id)
	require.NoError(t, err)
	return bus
}

func (f *fixture) eventCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.gdb.Model(&model.Event{}).Count(&n).Error)
	return n
}

func TestRecordStudentSignal_EnterAtHome(t *testing.T) {
	f := newFixture(t, model.RouteMorning)
	f.oracle.byDest[home] = 40
	f.oracle.byDest[school] = 9000

	event, err := f.svc.RecordStudentSignal(context.Background(), 1, ptr(int64(11)), "enter")
	require.NoError(t, err)

	assert.Equal(t, model.EventEnterAtHome, event.Kind)
	assert.Equal(t, int64(11), *event.StudentID)
	assert.Equal(t, 24.70, *event.Latitude)
	assert.Equal(t, model.OccupancyInBus, f.student(t, 11).CurrentStatus)

	require.Len(t, f.notifier.notices, 1)
	n := f.notifier.notices[0]
	assert.Equal(t, "Sara Ali enter at home bus 1 at 07:05, at Olaya - King Fahd Rd", n.Message)
	assert.Equal(t, "Sara: enter at home", n.Title)
	assert.Equal(t, model.EventEnterAtHome, n.Kind)
	assert.Equal(t, event.ID, *n.EventID)
	assert.ElementsMatch(t, []int64{101, 102}, n.Parents)
	assert.Equal(t, []int64{901}, n.Admins)
}

func TestRecordStudentSignal_ExitAtSchool(t *testing.T) {
	f := newFixture(t, model.RouteMorning)
	require.NoError(t, f.store.SetOccupancy(context.Background(), 11, model.OccupancyInBus))
	f.oracle.byDest[home] = 500
	f.oracle.byDest[school] = 50

	event, err := f.svc.RecordStudentSignal(context.Background(), 1, ptr(int64(11)), "exit")
	require.NoError(t, err)
	assert.Equal(t, model.EventExitAtSchool, event.Kind)
	assert.Equal(t, model.OccupancyOut, f.student(t, 11).CurrentStatus)
}

func TestRecordStudentSignal_UnusualEnterKeepsOccupancy(t *testing.T) {
	f := newFixture(t, model.RouteMorning)
	f.oracle.byDest[home] = 500
	f.oracle.byDest[school] = 500

	event, err := f.svc.RecordStudentSignal(context.Background(), 1, ptr(int64(11)), "ENTER")
	require.NoError(t, err)
	assert.Equal(t, model.EventUnusualEnter, event.Kind)
	assert.Equal(t, model.OccupancyOut, f.student(t, 11).CurrentStatus)
}

func TestRecordStudentSignal_UnknownRiderIsUnauthorized(t *testing.T) {
	f := newFixture(t, model.RouteMorning)

	event, err := f.svc.RecordStudentSignal(context.Background(), 1, ptr(int64(999)), "enter")
	require.NoError(t, err)
	assert.Equal(t, model.EventUnauthorizedEnter, event.Kind)
	assert.Nil(t, event.StudentID)

	require.Len(t, f.notifier.notices, 1)
	n := f.notifier.notices[0]
	assert.Equal(t, "Bus unauthorized enter", n.Title)
	assert.Equal(t, "unauthorized enter on bus 1 at 07:05", n.Message)
	assert.Equal(t, []int64{101, 102, 103}, n.Parents)
	assert.Equal(t, []int64{901}, n.Admins)
}

func TestRecordStudentSignal_RiderOfAnotherBusIsUnauthorized(t *testing.T) {
	f := newFixture(t, model.RouteMorning)
	f.oracle.byDest[home] = 10

	event, err := f.svc.RecordStudentSignal(context.Background(), 1, ptr(int64(21)), "exit")
	require.NoError(t, err)
	assert.Equal(t, model.EventUnauthorizedExit, event.Kind)
	assert.Equal(t, model.OccupancyOut, f.student(t, 21).CurrentStatus)
}

func TestRecordStudentSignal_MissingStudentIDIsUnauthorized(t *testing.T) {
	f := newFixture(t, model.RouteMorning)

	event, err := f.svc.RecordStudentSignal(context.Background(), 1, nil, "out")
	require.NoError(t, err)
	assert.Equal(t, model.EventUnauthorizedExit, event.Kind)
}

func TestRecordStudentSignal_InvalidSignalWritesNothing(t *testing.T) {
	f := newFixture(t, model.RouteMorning)

	_, err := f.svc.RecordStudentSignal(context.Background(), 1, ptr(int64(11)), "jump")
	assert.ErrorIs(t, err, parse.ErrInvalidSignal)
	assert.Zero(t, f.eventCount(t))
	assert.Empty(t, f.notifier.notices)
}

func TestRecordStudentSignal_UnknownBus(t *testing.T) {
	f := newFixture(t, model.RouteMorning)

	_, err := f.svc.RecordStudentSignal(context.Background(), 42, ptr(int64(11)), "enter")
	assert.ErrorIs(t, err, ErrBusNotFound)
	assert.Zero(t, f.eventCount(t))
}

func TestRecordStudentSignal_EveningBoardingAtSchoolStartsMonitoring(t *testing.T) {
	f := newFixture(t, model.RouteEvening)
	f.oracle.byDest[home] = 9000
	f.oracle.byDest[school] = 30

	event, err := f.svc.RecordStudentSignal(context.Background(), 1, ptr(int64(11)), "enter")
	require.NoError(t, err)
	assert.Equal(t, model.EventEnterAtSchool, event.Kind)
	assert.True(t, f.bus(t, 1).MonitoringEnabled)
	assert.Equal(t, []int64{1}, f.starter.started)
}

func TestRecordStudentSignal_EveningLastExitStopsMonitoring(t *testing.T) {
	f := newFixture(t, model.RouteEvening)
	ctx := context.Background()
	require.NoError(t, f.store.SetMonitoringEnabled(ctx, 1, true))
	require.NoError(t, f.store.SetOccupancy(ctx, 11, model.OccupancyInBus))
	require.NoError(t, f.store.SetOccupancy(ctx, 12, model.OccupancyInBus))
	f.oracle.byDest[home] = 20

	_, err := f.svc.RecordStudentSignal(ctx, 1, ptr(int64(11)), "exit")
	require.NoError(t, err)
	assert.True(t, f.bus(t, 1).MonitoringEnabled, "Omar is still on board")

	// Omar has no home on record, so his exit is unusual.
	event, err := f.svc.RecordStudentSignal(ctx, 1, ptr(int64(12)), "exit")
	require.NoError(t, err)
	assert.Equal(t, model.EventUnusualExit, event.Kind)
	assert.False(t, f.bus(t, 1).MonitoringEnabled)
}

func TestRecordStudentSignal_MorningNeverTogglesMonitoring(t *testing.T) {
	f := newFixture(t, model.RouteMorning)
	f.oracle.byDest[school] = 30

	_, err := f.svc.RecordStudentSignal(context.Background(), 1, ptr(int64(11)), "enter")
	require.NoError(t, err)
	assert.False(t, f.bus(t, 1).MonitoringEnabled)
	assert.Empty(t, f.starter.started)
}

func TestClassify_DoesNotRecord(t *testing.T) {
	f := newFixture(t, model.RouteMorning)
	f.oracle.byDest[home] = 70
	f.oracle.byDest[school] = 200

	kind, err := f.svc.Classify(context.Background(), "enter", 1, ptr(int64(11)))
	require.NoError(t, err)
	assert.Equal(t, model.EventEnterAtHome, kind)
	assert.Zero(t, f.eventCount(t))
	assert.Equal(t, model.OccupancyOut, f.student(t, 11).CurrentStatus)
}

func TestRecordBusEvent(t *testing.T) {
	f := newFixture(t, model.RouteMorning)

	event, err := f.svc.RecordBusEvent(context.Background(), 1, "unusual_exit")
	require.NoError(t, err)
	assert.Equal(t, model.EventUnusualExit, event.Kind)
	assert.Nil(t, event.StudentID)

	require.Len(t, f.notifier.notices, 1)
	n := f.notifier.notices[0]
	assert.Equal(t, "unusual exit on bus 1 at 07:05", n.Message)
	assert.Equal(t, []int64{101, 102, 103}, n.Parents)
	assert.Equal(t, []int64{901}, n.Admins)
}

func TestRecordBusEvent_RejectsAlertKinds(t *testing.T) {
	f := newFixture(t, model.RouteMorning)

	_, err := f.svc.RecordBusEvent(context.Background(), 1, "arrival")
	assert.ErrorIs(t, err, parse.ErrInvalidEventKind)
	assert.Zero(t, f.eventCount(t))
}
