package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"

	"bus-tracking-backend/internal/events"
	"bus-tracking-backend/internal/model"
	"bus-tracking-backend/internal/parse"
	"bus-tracking-backend/internal/store"
	"bus-tracking-backend/internal/tracking"
)

// Store is the part of the store the handlers use directly.
type Store interface {
	Bus(ctx context.Context, id int64) (*model.Bus, error)
	SetMonitoringEnabled(ctx context.Context, busID int64, enabled bool) error
	SetRouteMode(ctx context.Context, busID int64, mode model.RouteMode) error
	UpdateBusLocation(ctx context.Context, busID int64, loc model.Location, at time.Time) error
	UpsertSubscription(ctx context.Context, sub *model.PushSubscription) error
	DeleteSubscription(ctx context.Context, endpoint string) error
}

// Tracker runs ticks and estimates arrival times.
type Tracker interface {
	EvaluateOnce(ctx context.Context, busID int64) (tracking.Report, error)
	ETAs(ctx context.Context, busID int64) (map[int64]time.Duration, error)
}

// Monitor controls the per-bus monitoring loops of this process.
type Monitor interface {
	Start(busID int64) bool
	Stop(busID int64) bool
	Running(busID int64) bool
}

// Events records sensor signals and bus events.
type Events interface {
	RecordStudentSignal(ctx context.Context, busID int64, studentID *int64, raw string) (*model.Event, error)
	RecordBusEvent(ctx context.Context, busID int64, rawKind string) (*model.Event, error)
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store   Store
	tracker Tracker
	monitor Monitor
	events  Events
	webpush *webpush.Options
	// etaCache is shared with the ETA route so location updates can drop stale answers.
	etaCache *cache.Cache
}

// NewHandler creates a new API handler.
func NewHandler(s Store, tracker Tracker, monitor Monitor, ev Events, webpushOptions *webpush.Options) *Handler {
	return &Handler{
		store:   s,
		tracker: tracker,
		monitor: monitor,
		events:  ev,
		webpush: webpushOptions,
	}
}

var errInvalidRequest = gin.H{"error": "invalid request"}

func busID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid bus ID"})
		return 0, false
	}
	return id, true
}

// writeError maps domain errors to HTTP statuses.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, tracking.ErrBusNotFound),
		errors.Is(err, events.ErrBusNotFound):
		status = http.StatusNotFound
	case errors.Is(err, tracking.ErrMonitoringDisabled),
		errors.Is(err, tracking.ErrNoBusLocation):
		status = http.StatusConflict
	case errors.Is(err, parse.ErrInvalidSignal),
		errors.Is(err, parse.ErrInvalidEventKind),
		errors.Is(err, parse.ErrInvalidRouteMode),
		errors.Is(err, parse.ErrInvalidLocation):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		log.Printf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		c.AbortWithStatusJSON(status, gin.H{"error": "internal error"})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

// Healthz reports that the process is serving.
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
