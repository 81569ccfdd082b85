package notification

import (
	"context"
	"fmt"
	"log"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"bus-tracking-backend/internal/model"
	"bus-tracking-backend/internal/telemetry"
)

// Notice is a notification about to be persisted and pushed.
type Notice struct {
	Title     string
	Message   string
	Kind      model.EventKind
	EventID   *int64
	StudentID *int64
	BusID     *int64
	Parents   []int64
	Admins    []int64
}

// DispatchStore persists notifications and answers preference lookups.
type DispatchStore interface {
	CreateNotification(ctx context.Context, n *model.Notification) error
	EnabledParents(ctx context.Context, notificationType string, parentIDs []int64) ([]int64, error)
}

// Enqueuer accepts pushes for asynchronous delivery.
type Enqueuer interface {
	Enqueue(p Push) bool
}

// Dispatcher records notifications for every recipient and queues device pushes
// for those who want them.
type Dispatcher struct {
	store  DispatchStore
	pushes Enqueuer
}

func NewDispatcher(s DispatchStore, pushes Enqueuer) *Dispatcher {
	return &Dispatcher{store: s, pushes: pushes}
}

// Notify persists n and queues its push. Push problems are logged and never
// undo the persisted record. It returns the id of the stored notification, or 0
// when n has no recipients.
func (d *Dispatcher) Notify(ctx context.Context, n Notice) (int64, error) {
	if len(n.Parents) == 0 && len(n.Admins) == 0 {
		return 0, nil
	}

	ctx, span := telemetry.Tracer().Start(ctx, "notification.notify",
		trace.WithAttributes(
			attribute.String("notification.kind", string(n.Kind)),
			attribute.Int("notification.recipients", len(n.Parents)+len(n.Admins)),
		))
	defer span.End()

	record := &model.Notification{
		Title:     n.Title,
		Message:   n.Message,
		Kind:      n.Kind,
		EventID:   n.EventID,
		StudentID: n.StudentID,
		BusID:     n.BusID,
	}
	// One recipient row per user; a user who is both parent and admin is recorded as parent.
	seen := make(map[int64]bool, len(n.Parents)+len(n.Admins))
	add := func(ids []int64, role model.Role) {
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				record.Recipients = append(record.Recipients, model.NotificationRecipient{UserID: id, Role: role})
			}
		}
	}
	add(n.Parents, model.RoleParent)
	add(n.Admins, model.RoleAdmin)
	if err := d.store.CreateNotification(ctx, record); err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to persist %s notification: %w", n.Kind, err)
	}
	telemetry.RecordNotification(ctx, string(n.Kind))

	targets := append([]int64(nil), n.Admins...)
	parents := n.Parents
	if n.Kind != model.EventMissedBus {
		enabled, err := d.store.EnabledParents(ctx, n.Kind.PreferenceKey(), n.Parents)
		if err != nil {
			log.Printf("notification %d: skipping parent pushes, preference lookup failed: %v", record.ID, err)
			enabled = nil
		}
		parents = enabled
	}
	for _, id := range parents {
		if !slices.Contains(targets, id) {
			targets = append(targets, id)
		}
	}

	if d.pushes != nil && len(targets) > 0 {
		if !d.pushes.Enqueue(Push{
			NotificationID: record.ID,
			Kind:           n.Kind,
			Title:          n.Title,
			Body:           n.Message,
			UserIDs:        targets,
		}) {
			log.Printf("notification %d: push queue full, dropping device push", record.ID)
		}
	}
	return record.ID, nil
}
