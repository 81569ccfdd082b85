// Package tracking watches buses approach their students' homes and drives the
// per-parent alert state from live distances.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"bus-tracking-backend/config"
	"bus-tracking-backend/internal/model"
	"bus-tracking-backend/internal/notification"
	"bus-tracking-backend/internal/oracle"
	"bus-tracking-backend/internal/store"
	"bus-tracking-backend/internal/telemetry"
)

var (
	ErrBusNotFound        = errors.New("bus not found")
	ErrMonitoringDisabled = errors.New("monitoring disabled")
	ErrNoBusLocation      = errors.New("bus has no location")
)

// activityLookback bounds the boarding activity search when a near mark has no
// recorded start time.
const activityLookback = time.Hour

// Repository is the part of the store the engine reads and writes.
type Repository interface {
	Bus(ctx context.Context, id int64) (*model.Bus, error)
	RegisteredStudentIDs(ctx context.Context, busID int64) ([]int64, error)
	StudentIDsInBus(ctx context.Context, busID int64) ([]int64, error)
	StudentsByIDs(ctx context.Context, ids []int64) (map[int64]model.Student, error)
	ParentsOfStudents(ctx context.Context, studentIDs []int64) (map[int64][]int64, error)
	FlagsForStudents(ctx context.Context, studentIDs []int64) (map[store.PairKey]store.Flags, error)
	NearMarks(ctx context.Context, studentIDs []int64) (map[int64]store.NearMark, error)
	SetFlags(ctx context.Context, parentID, studentID int64, f store.Flags) error
	SetWasNear(ctx context.Context, studentID int64, near bool, at time.Time) error
	RecentEvents(ctx context.Context, studentID, busID int64, since time.Time, kinds ...model.EventKind) ([]model.Event, error)
}

// Notifier persists and pushes a notification.
type Notifier interface {
	Notify(ctx context.Context, n notification.Notice) (int64, error)
}

// Report summarizes one tick.
type Report struct {
	BusID int64
	Mode  model.RouteMode
	// Eligible students with a home location.
	Eligible  int
	Evaluated int
	// Skipped counts students without a home location or without a distance reading.
	Skipped  int
	Failed   int
	Notified int
}

// Engine evaluates one tick for a bus.
type Engine struct {
	repo           Repository
	provider       oracle.Provider
	notifier       Notifier
	radii          Radii
	maxConcurrency int
	now            func() time.Time
}

// NewEngine creates an engine using the zone radii and fan-out of cfg.
func NewEngine(repo Repository, provider oracle.Provider, notifier Notifier, cfg config.TrackingConfig) *Engine {
	maxConcurrency := cfg.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = 8
	}
	return &Engine{
		repo:           repo,
		provider:       provider,
		notifier:       notifier,
		radii:          Radii{Arrival: cfg.ArrivalRadiusMeters, Near: cfg.NearRadiusMeters},
		maxConcurrency: maxConcurrency,
		now:            time.Now,
	}
}

type studentResult struct {
	skipped  bool
	notified int
}

// EvaluateOnce runs one tick for busID. It returns ErrBusNotFound or
// ErrMonitoringDisabled when the monitor loop should stop. Failures of single
// students are logged and counted but never fail the tick.
func (e *Engine) EvaluateOnce(ctx context.Context, busID int64) (Report, error) {
	start := time.Now()
	ctx, span := telemetry.Tracer().Start(ctx, "tracking.tick",
		trace.WithAttributes(attribute.Int64("bus.id", busID)))
	defer span.End()

	report := Report{BusID: busID}
	bus, err := e.repo.Bus(ctx, busID)
	if errors.Is(err, store.ErrNotFound) {
		return report, fmt.Errorf("%w: %d", ErrBusNotFound, busID)
	}
	if err != nil {
		span.RecordError(err)
		return report, err
	}
	if !bus.MonitoringEnabled {
		return report, fmt.Errorf("%w: bus %d", ErrMonitoringDisabled, busID)
	}
	report.Mode = bus.RouteMode

	busLoc := bus.Location()
	if busLoc == nil {
		log.Printf("Bus %d has not reported a location yet; skipping tick", busID)
		return report, nil
	}

	targets, skipped, err := e.eligibleStudents(ctx, bus)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return report, err
	}
	report.Eligible = len(targets)
	report.Skipped = skipped
	if len(targets) == 0 {
		telemetry.RecordTick(ctx, busID, string(bus.RouteMode), time.Since(start), 0, report.Skipped)
		return report, nil
	}

	ids := make([]int64, len(targets))
	for i, st := range targets {
		ids[i] = st.ID
	}
	parents, err := e.repo.ParentsOfStudents(ctx, ids)
	if err != nil {
		return report, err
	}
	flags, err := e.repo.FlagsForStudents(ctx, ids)
	if err != nil {
		return report, err
	}
	marks, err := e.repo.NearMarks(ctx, ids)
	if err != nil {
		return report, err
	}

	var evaluated, skippedNow, failed, notified atomic.Int64
	var g errgroup.Group
	g.SetLimit(e.maxConcurrency)
	for _, st := range targets {
		st := st // per-iteration copy: go.mod targets go 1.21 (pre-1.22 loopvar semantics)
		g.Go(func() error {
			studentFlags := make(map[int64]store.Flags, len(parents[st.ID]))
			for _, p := range parents[st.ID] {
				studentFlags[p] = flags[store.PairKey{ParentID: p, StudentID: st.ID}]
			}
			res, err := e.evaluateStudent(ctx, bus, *busLoc, st, parents[st.ID], studentFlags, marks[st.ID])
			switch {
			case err != nil:
				log.Printf("Bus %d: evaluation of student %d failed: %v", busID, st.ID, err)
				failed.Add(1)
			case res.skipped:
				skippedNow.Add(1)
			default:
				evaluated.Add(1)
			}
			notified.Add(int64(res.notified))
			return nil
		})
	}
	_ = g.Wait()

	report.Evaluated = int(evaluated.Load())
	report.Skipped += int(skippedNow.Load())
	report.Failed = int(failed.Load())
	report.Notified = int(notified.Load())
	span.SetAttributes(
		attribute.String("route.mode", string(bus.RouteMode)),
		attribute.Int("students.evaluated", report.Evaluated),
		attribute.Int("notifications", report.Notified),
	)
	telemetry.RecordTick(ctx, busID, string(bus.RouteMode), time.Since(start), report.Evaluated, report.Skipped+report.Failed)
	return report, nil
}

// eligibleStudents returns the students to evaluate in the bus's route mode and
// how many were dropped for lacking a home location.
func (e *Engine) eligibleStudents(ctx context.Context, bus *model.Bus) ([]model.Student, int, error) {
	var ids []int64
	switch bus.RouteMode {
	case model.RouteEvening:
		inBus, err := e.repo.StudentIDsInBus(ctx, bus.ID)
		if err != nil {
			return nil, 0, err
		}
		ids = inBus
	default:
		registered, err := e.repo.RegisteredStudentIDs(ctx, bus.ID)
		if err != nil {
			return nil, 0, err
		}
		inBus, err := e.repo.StudentIDsInBus(ctx, bus.ID)
		if err != nil {
			return nil, 0, err
		}
		onBoard := make(map[int64]bool, len(inBus))
		for _, id := range inBus {
			onBoard[id] = true
		}
		for _, id := range registered {
			if !onBoard[id] {
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 {
		return nil, 0, nil
	}

	details, err := e.repo.StudentsByIDs(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	var out []model.Student
	skipped := 0
	for _, id := range ids {
		st, ok := details[id]
		if !ok {
			continue
		}
		// Everyone on board is watched in the evening, whatever their preference.
		if bus.RouteMode != model.RouteEvening && !st.RoutePreference.Covers(bus.RouteMode) {
			continue
		}
		if st.Home() == nil {
			skipped++
			continue
		}
		out = append(out, st)
	}
	return out, skipped, nil
}

// evaluateStudent measures one student's distance, persists the resulting flag
// changes and sends the alerts. Flags are written before alerts are sent.
func (e *Engine) evaluateStudent(ctx context.Context, bus *model.Bus, busLoc model.Location, st model.Student, parents []int64, flags map[int64]store.Flags, mark store.NearMark) (studentResult, error) {
	d := e.provider.Distance(ctx, busLoc, *st.Home())
	if !oracle.Available(d) {
		return studentResult{skipped: true}, nil
	}
	zone := e.radii.ZoneFor(d)

	boarded := false
	if NeedsActivityCheck(zone, bus.RouteMode, mark.Near) {
		since := mark.Since
		if since.IsZero() {
			since = e.now().Add(-activityLookback)
		}
		events, err := e.repo.RecentEvents(ctx, st.ID, bus.ID, since, model.BoardingKinds...)
		if err != nil {
			return studentResult{}, fmt.Errorf("activity check: %w", err)
		}
		boarded = len(events) > 0
	}

	t := Step(zone, bus.RouteMode, mark.Near, boarded, parents, flags)
	for _, p := range parents {
		next, changed := t.Flags[p]
		if !changed {
			continue
		}
		if err := e.repo.SetFlags(ctx, p, st.ID, next); err != nil {
			return studentResult{}, err
		}
	}
	if t.Near != nil {
		if err := e.repo.SetWasNear(ctx, st.ID, *t.Near, e.now()); err != nil {
			return studentResult{}, err
		}
	}

	res := studentResult{}
	for _, a := range t.Alerts {
		title, message := alertText(a.Kind, st.FirstName)
		busID, studentID := bus.ID, st.ID
		if _, err := e.notifier.Notify(ctx, notification.Notice{
			Title:     title,
			Message:   message,
			Kind:      a.Kind,
			StudentID: &studentID,
			BusID:     &busID,
			Parents:   a.Parents,
		}); err != nil {
			log.Printf("Bus %d: %s notification for student %d failed: %v", bus.ID, a.Kind, st.ID, err)
			continue
		}
		res.notified++
	}
	return res, nil
}

// ETAs estimates when the bus reaches the home of each on-board student.
func (e *Engine) ETAs(ctx context.Context, busID int64) (map[int64]time.Duration, error) {
	bus, err := e.repo.Bus(ctx, busID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrBusNotFound, busID)
	}
	if err != nil {
		return nil, err
	}
	origin := bus.Location()
	if origin == nil {
		return nil, fmt.Errorf("%w: %d", ErrNoBusLocation, busID)
	}

	ids, err := e.repo.StudentIDsInBus(ctx, busID)
	if err != nil {
		return nil, err
	}
	students, err := e.repo.StudentsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	var stops []oracle.Stop
	for _, id := range ids {
		if home := students[id].Home(); home != nil {
			stops = append(stops, oracle.Stop{StudentID: id, Location: *home})
		}
	}
	if len(stops) == 0 {
		return map[int64]time.Duration{}, nil
	}
	return e.provider.EstimateETAs(ctx, *origin, stops), nil
}
