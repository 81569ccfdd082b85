package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bus-tracking-backend/config"
	"bus-tracking-backend/internal/events"
	"bus-tracking-backend/internal/model"
	"bus-tracking-backend/internal/parse"
	"bus-tracking-backend/internal/tracking"
)

type testAPI struct {
	router  *gin.Engine
	store   *fakeStore
	tracker *fakeTracker
	monitor *fakeMonitor
	events  *fakeEvents
}

func newTestAPI() *testAPI {
	gin.SetMode(gin.TestMode)
	a := &testAPI{
		store:   newFakeStore(),
		tracker: &fakeTracker{},
		monitor: &fakeMonitor{running: map[int64]bool{}},
		events:  &fakeEvents{},
	}
	h := NewHandler(a.store, a.tracker, a.monitor, a.events, nil)
	a.router = NewRouter(h, config.ServerConfig{RateLimitPerSec: 1000, RateLimitBurst: 1000, CacheTTLSeconds: 60})
	return a
}

func TestHealthz(t *testing.T) {
	w := do(newTestAPI().router, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStartAndStopTracking(t *testing.T) {
	a := newTestAPI()

	w := do(a.router, http.MethodPost, "/api/buses/1/tracking", "")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"bus_id":1,"monitoring":true,"started":true}`, w.Body.String())
	assert.True(t, a.store.buses[1].MonitoringEnabled)

	w = do(a.router, http.MethodPost, "/api/buses/1/tracking", "")
	assert.JSONEq(t, `{"bus_id":1,"monitoring":true,"started":false}`, w.Body.String())

	w = do(a.router, http.MethodDelete, "/api/buses/1/tracking", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, a.store.buses[1].MonitoringEnabled)
	assert.False(t, a.monitor.Running(1))
}

func TestStartTracking_UnknownBus(t *testing.T) {
	a := newTestAPI()

	w := do(a.router, http.MethodPost, "/api/buses/9/tracking", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, a.monitor.Running(9))

	w = do(a.router, http.MethodPost, "/api/buses/abc/tracking", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEvaluate(t *testing.T) {
	a := newTestAPI()
	a.tracker.report = tracking.Report{Mode: model.RouteMorning, Eligible: 3, Evaluated: 2, Skipped: 1, Notified: 1}

	w := do(a.router, http.MethodPost, "/api/buses/1/evaluate", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "MORNING", body["route_mode"])
	assert.EqualValues(t, 2, body["evaluated"])
	assert.EqualValues(t, 1, body["notifications"])
}

func TestEvaluate_ErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: bus 1", tracking.ErrMonitoringDisabled), http.StatusConflict},
		{fmt.Errorf("%w: 1", tracking.ErrBusNotFound), http.StatusNotFound},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		a := newTestAPI()
		a.tracker.err = tc.err
		w := do(a.router, http.MethodPost, "/api/buses/1/evaluate", "")
		assert.Equal(t, tc.want, w.Code, tc.err.Error())
	}
}

func TestUpdateLocation(t *testing.T) {
	a := newTestAPI()

	w := do(a.router, http.MethodPatch, "/api/buses/1/location", `{"latitude":24.7,"longitude":46.6}`)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 24.7, *a.store.buses[1].Latitude)

	w = do(a.router, http.MethodPatch, "/api/buses/1/location", `{"latitude":124.7,"longitude":46.6}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(a.router, http.MethodPatch, "/api/buses/1/location", `{"latitude":24.7}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(a.router, http.MethodPatch, "/api/buses/5/location", `{"latitude":24.7,"longitude":46.6}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 1, a.store.locUpdates)
}

func TestUpdateRouteMode(t *testing.T) {
	a := newTestAPI()

	w := do(a.router, http.MethodPut, "/api/buses/1/route-mode", `{"route_mode":"evening"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.RouteEvening, a.store.buses[1].RouteMode)

	w = do(a.router, http.MethodPut, "/api/buses/1/route-mode", `{"route_mode":"noon"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 1, a.store.modeCalls)
}

func TestCreateStudentEvent(t *testing.T) {
	a := newTestAPI()

	w := do(a.router, http.MethodPost, "/api/buses/1/events", `{"event_type":"enter","student_id":11}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "enter", a.events.lastRaw)
	require.NotNil(t, a.events.studentID)
	assert.Equal(t, int64(11), *a.events.studentID)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ENTER_AT_HOME", body["event_type"])
	assert.EqualValues(t, 7, body["event_id"])
}

func TestCreateStudentEvent_Errors(t *testing.T) {
	a := newTestAPI()

	w := do(a.router, http.MethodPost, "/api/buses/1/events", `{"student_id":11}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	a.events.err = fmt.Errorf("%w: %q", parse.ErrInvalidSignal, "jump")
	w = do(a.router, http.MethodPost, "/api/buses/1/events", `{"event_type":"jump","student_id":11}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	a.events.err = fmt.Errorf("%w: 4", events.ErrBusNotFound)
	w = do(a.router, http.MethodPost, "/api/buses/4/events", `{"event_type":"enter"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateBusEvent(t *testing.T) {
	a := newTestAPI()

	w := do(a.router, http.MethodPost, "/api/buses/1/bus-events", `{"event_type":"unusual_exit"}`)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "unusual_exit", a.events.lastRaw)
}

func TestGetETAs_CachedUntilBusMoves(t *testing.T) {
	a := newTestAPI()
	a.tracker.etas = map[int64]time.Duration{
		12: 9 * time.Minute,
		11: 4*time.Minute + 40*time.Second,
	}

	w := do(a.router, http.MethodGet, "/api/buses/1/eta", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"bus_id":1,"etas":[{"student_id":11,"minutes":5},{"student_id":12,"minutes":9}]}`, w.Body.String())

	do(a.router, http.MethodGet, "/api/buses/1/eta", "")
	assert.Equal(t, 1, a.tracker.etaCalls)

	do(a.router, http.MethodPatch, "/api/buses/1/location", `{"latitude":24.7,"longitude":46.6}`)
	do(a.router, http.MethodGet, "/api/buses/1/eta", "")
	assert.Equal(t, 2, a.tracker.etaCalls)
}

func TestGetETAs_NoLocation(t *testing.T) {
	a := newTestAPI()
	a.tracker.err = fmt.Errorf("%w: 1", tracking.ErrNoBusLocation)

	w := do(a.router, http.MethodGet, "/api/buses/1/eta", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}
