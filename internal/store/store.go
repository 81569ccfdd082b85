package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"bus-tracking-backend/internal/model"
)

// ErrNotFound is returned when a bus or student does not exist.
var ErrNotFound = errors.New("record not found")

// BusRepository reads and mutates bus snapshots and their rider sets.
type BusRepository interface {
	Bus(ctx context.Context, id int64) (*model.Bus, error)
	MonitoredBusIDs(ctx context.Context) ([]int64, error)
	RegisteredStudentIDs(ctx context.Context, busID int64) ([]int64, error)
	StudentIDsInBus(ctx context.Context, busID int64) ([]int64, error)
	RouteMode(ctx context.Context, busID int64) (model.RouteMode, error)
	SetRouteMode(ctx context.Context, busID int64, mode model.RouteMode) error
	SetMonitoringEnabled(ctx context.Context, busID int64, enabled bool) error
	UpdateBusLocation(ctx context.Context, busID int64, loc model.Location, at time.Time) error
}

// StudentRepository reads students and records their occupancy.
type StudentRepository interface {
	Student(ctx context.Context, id int64) (*model.Student, error)
	StudentsByIDs(ctx context.Context, ids []int64) (map[int64]model.Student, error)
	SetOccupancy(ctx context.Context, studentID int64, status model.Occupancy) error
}

// EventLog is the append-only log of classified signals.
type EventLog interface {
	AppendEvent(ctx context.Context, e *model.Event) error
	// RecentEvents lists events of a student on a bus, newest first. A zero since
	// means no lower bound; an empty kinds list means any kind.
	RecentEvents(ctx context.Context, studentID, busID int64, since time.Time, kinds ...model.EventKind) ([]model.Event, error)
}

// NotificationState holds the per (parent, student) alert flags and the
// per-student was-near mark.
type NotificationState interface {
	Flags(ctx context.Context, parentID, studentID int64) (Flags, error)
	SetFlags(ctx context.Context, parentID, studentID int64, f Flags) error
	FlagsForStudents(ctx context.Context, studentIDs []int64) (map[PairKey]Flags, error)
	WasNear(ctx context.Context, studentID int64) (NearMark, error)
	NearMarks(ctx context.Context, studentIDs []int64) (map[int64]NearMark, error)
	SetWasNear(ctx context.Context, studentID int64, near bool, at time.Time) error
	ResetFlagsForBus(ctx context.Context, busID int64) error
}

// Recipients resolves who is told about what.
type Recipients interface {
	ParentsOfStudent(ctx context.Context, studentID int64) ([]int64, error)
	ParentsOfStudents(ctx context.Context, studentIDs []int64) (map[int64][]int64, error)
	ParentsOfBus(ctx context.Context, busID int64) ([]int64, error)
	AdminsOfBus(ctx context.Context, busID int64) ([]int64, error)
	// EnabledParents filters parentIDs down to those who have not switched the
	// given notification type off.
	EnabledParents(ctx context.Context, notificationType string, parentIDs []int64) ([]int64, error)
}

// NotificationLog persists notifications and the push subscriptions they are delivered to.
type NotificationLog interface {
	CreateNotification(ctx context.Context, n *model.Notification) error
	SubscriptionsForUsers(ctx context.Context, userIDs []int64) ([]model.PushSubscription, error)
	UpsertSubscription(ctx context.Context, sub *model.PushSubscription) error
	DeleteSubscription(ctx context.Context, endpoint string) error
}

// Store defines the interface for all database operations.
type Store interface {
	BusRepository
	StudentRepository
	EventLog
	NotificationState
	Recipients
	NotificationLog
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func notFound(err error, what string, id int64) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
	}
	return fmt.Errorf("failed to load %s %d: %w", what, id, err)
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
