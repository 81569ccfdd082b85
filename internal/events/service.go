// Package events records boarding signals and bus events, applies their side
// effects on occupancy and monitoring, and notifies the people concerned.
package events

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"bus-tracking-backend/internal/classify"
	"bus-tracking-backend/internal/model"
	"bus-tracking-backend/internal/notification"
	"bus-tracking-backend/internal/oracle"
	"bus-tracking-backend/internal/parse"
	"bus-tracking-backend/internal/store"
	"bus-tracking-backend/internal/telemetry"
)

var ErrBusNotFound = errors.New("bus not found")

// Store is the part of the store the service needs.
type Store interface {
	Bus(ctx context.Context, id int64) (*model.Bus, error)
	Student(ctx context.Context, id int64) (*model.Student, error)
	StudentIDsInBus(ctx context.Context, busID int64) ([]int64, error)
	SetOccupancy(ctx context.Context, studentID int64, status model.Occupancy) error
	SetMonitoringEnabled(ctx context.Context, busID int64, enabled bool) error
	AppendEvent(ctx context.Context, e *model.Event) error
	ParentsOfStudent(ctx context.Context, studentID int64) ([]int64, error)
	ParentsOfBus(ctx context.Context, busID int64) ([]int64, error)
	AdminsOfBus(ctx context.Context, busID int64) ([]int64, error)
}

// Classifier decides the kind of a signal from a recognized student.
type Classifier interface {
	Classify(ctx context.Context, sig parse.Signal, busLoc *model.Location, student model.Student) model.EventKind
}

// Notifier persists and pushes a notification.
type Notifier interface {
	Notify(ctx context.Context, n notification.Notice) (int64, error)
}

// MonitorStarter launches the proximity monitor of a bus.
type MonitorStarter interface {
	Start(busID int64) bool
}

// Service handles signals coming from the bus sensors.
type Service struct {
	store      Store
	classifier Classifier
	geocoder   oracle.Geocoder
	notifier   Notifier
	monitor    MonitorStarter
	now        func() time.Time
}

func NewService(s Store, c Classifier, g oracle.Geocoder, n Notifier, m MonitorStarter) *Service {
	return &Service{store: s, classifier: c, geocoder: g, notifier: n, monitor: m, now: time.Now}
}

// resolved is a signal with the rider looked up.
type resolved struct {
	bus     *model.Bus
	student *model.Student
	kind    model.EventKind
}

func (s *Service) loadBus(ctx context.Context, busID int64) (*model.Bus, error) {
	bus, err := s.store.Bus(ctx, busID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrBusNotFound, busID)
	}
	return bus, err
}

// resolve parses raw and decides the event kind. Riders that are unknown or
// registered on another bus are unauthorized.
func (s *Service) resolve(ctx context.Context, raw string, busID int64, studentID *int64) (resolved, error) {
	sig, err := parse.ParseSignal(raw)
	if err != nil {
		return resolved{}, err
	}
	bus, err := s.loadBus(ctx, busID)
	if err != nil {
		return resolved{}, err
	}
	if studentID == nil {
		return resolved{bus: bus, kind: classify.Unauthorized(sig)}, nil
	}
	student, err := s.store.Student(ctx, *studentID)
	if errors.Is(err, store.ErrNotFound) {
		return resolved{bus: bus, kind: classify.Unauthorized(sig)}, nil
	}
	if err != nil {
		return resolved{}, err
	}
	if !student.RidesBus(busID) {
		return resolved{bus: bus, kind: classify.Unauthorized(sig)}, nil
	}
	return resolved{
		bus:     bus,
		student: student,
		kind:    s.classifier.Classify(ctx, sig, bus.Location(), *student),
	}, nil
}

// Classify decides the kind a signal would be recorded as without recording it.
func (s *Service) Classify(ctx context.Context, raw string, busID int64, studentID *int64) (model.EventKind, error) {
	r, err := s.resolve(ctx, raw, busID, studentID)
	if err != nil {
		return "", err
	}
	return r.kind, nil
}

// RecordStudentSignal records an enter or exit signal. Invalid signals are
// rejected before anything is written.
func (s *Service) RecordStudentSignal(ctx context.Context, busID int64, studentID *int64, raw string) (*model.Event, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "events.student_signal",
		trace.WithAttributes(attribute.Int64("bus.id", busID)))
	defer span.End()

	r, err := s.resolve(ctx, raw, busID, studentID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("event.kind", string(r.kind)))

	event := s.newEvent(r.bus, r.kind)
	if r.student == nil {
		if err := s.store.AppendEvent(ctx, event); err != nil {
			return nil, err
		}
		s.notifyBus(ctx, r.bus, event)
		return event, nil
	}

	event.StudentID = &r.student.ID
	if err := s.store.AppendEvent(ctx, event); err != nil {
		return nil, err
	}
	if err := s.applyOccupancy(ctx, r.bus, r.student, r.kind); err != nil {
		return event, err
	}
	s.notifyStudent(ctx, r.bus, r.student, event)
	return event, nil
}

// RecordBusEvent records an event about the bus itself and notifies every
// parent of the bus and its admin.
func (s *Service) RecordBusEvent(ctx context.Context, busID int64, rawKind string) (*model.Event, error) {
	kind, err := parse.ParseEventKind(rawKind)
	if err != nil {
		return nil, err
	}
	bus, err := s.loadBus(ctx, busID)
	if err != nil {
		return nil, err
	}
	event := s.newEvent(bus, kind)
	if err := s.store.AppendEvent(ctx, event); err != nil {
		return nil, err
	}
	s.notifyBus(ctx, bus, event)
	return event, nil
}

func (s *Service) newEvent(bus *model.Bus, kind model.EventKind) *model.Event {
	return &model.Event{
		Kind:       kind,
		BusID:      bus.ID,
		Latitude:   bus.Latitude,
		Longitude:  bus.Longitude,
		OccurredAt: s.now(),
	}
}

// applyOccupancy updates the rider's status and, on the evening route, turns
// monitoring on when students board at school and off when the last one leaves.
func (s *Service) applyOccupancy(ctx context.Context, bus *model.Bus, student *model.Student, kind model.EventKind) error {
	var status model.Occupancy
	switch kind {
	case model.EventEnterAtHome, model.EventEnterAtSchool:
		status = model.OccupancyInBus
	case model.EventExitAtHome, model.EventExitAtSchool, model.EventUnusualExit:
		status = model.OccupancyOut
	}
	if status != "" && status != student.CurrentStatus {
		if err := s.store.SetOccupancy(ctx, student.ID, status); err != nil {
			return fmt.Errorf("failed to update occupancy of student %d: %w", student.ID, err)
		}
	}

	if bus.RouteMode != model.RouteEvening {
		return nil
	}
	switch {
	case kind == model.EventEnterAtSchool:
		if !bus.MonitoringEnabled {
			if err := s.store.SetMonitoringEnabled(ctx, bus.ID, true); err != nil {
				return err
			}
			log.Printf("Bus %d: students boarding at school, monitoring enabled", bus.ID)
		}
		if s.monitor != nil {
			s.monitor.Start(bus.ID)
		}
	case !kind.IsEnter():
		remaining, err := s.store.StudentIDsInBus(ctx, bus.ID)
		if err != nil {
			return err
		}
		if len(remaining) == 0 && bus.MonitoringEnabled {
			if err := s.store.SetMonitoringEnabled(ctx, bus.ID, false); err != nil {
				return err
			}
			log.Printf("Bus %d: no students left on board, monitoring disabled", bus.ID)
		}
	}
	return nil
}

func (s *Service) address(ctx context.Context, e *model.Event) string {
	loc := e.Location()
	if loc == nil {
		return "unknown location"
	}
	if s.geocoder == nil {
		return oracle.FallbackLabel(*loc)
	}
	return s.geocoder.ReverseGeocode(ctx, *loc)
}

func (s *Service) notifyStudent(ctx context.Context, bus *model.Bus, student *model.Student, e *model.Event) {
	parents, err := s.store.ParentsOfStudent(ctx, student.ID)
	if err != nil {
		log.Printf("Event %d: failed to load parents of student %d: %v", e.ID, student.ID, err)
	}
	admins, err := s.store.AdminsOfBus(ctx, bus.ID)
	if err != nil {
		log.Printf("Event %d: failed to load admins of bus %d: %v", e.ID, bus.ID, err)
	}

	busID, eventID := bus.ID, e.ID
	_, err = s.notifier.Notify(ctx, notification.Notice{
		Title: fmt.Sprintf("%s: %s", student.FirstName, e.Kind.Label()),
		Message: fmt.Sprintf("%s %s bus %d at %s, at %s",
			student.FullName(), e.Kind.Label(), bus.ID, e.OccurredAt.Format("15:04"), s.address(ctx, e)),
		Kind:      e.Kind,
		EventID:   &eventID,
		StudentID: e.StudentID,
		BusID:     &busID,
		Parents:   parents,
		Admins:    admins,
	})
	if err != nil {
		log.Printf("Event %d: notification failed: %v", e.ID, err)
	}
}

func (s *Service) notifyBus(ctx context.Context, bus *model.Bus, e *model.Event) {
	parents, err := s.store.ParentsOfBus(ctx, bus.ID)
	if err != nil {
		log.Printf("Event %d: failed to load parents of bus %d: %v", e.ID, bus.ID, err)
	}
	admins, err := s.store.AdminsOfBus(ctx, bus.ID)
	if err != nil {
		log.Printf("Event %d: failed to load admins of bus %d: %v", e.ID, bus.ID, err)
	}

	busID, eventID := bus.ID, e.ID
	_, err = s.notifier.Notify(ctx, notification.Notice{
		Title:   "Bus " + e.Kind.Label(),
		Message: fmt.Sprintf("%s on bus %d at %s", e.Kind.Label(), bus.ID, e.OccurredAt.Format("15:04")),
		Kind:    e.Kind,
		EventID: &eventID,
		BusID:   &busID,
		Parents: parents,
		Admins:  admins,
	})
	if err != nil {
		log.Printf("Event %d: notification failed: %v", e.ID, err)
	}
}
