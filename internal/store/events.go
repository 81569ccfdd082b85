package store

import (
	"context"
	"fmt"
	"time"

	"bus-tracking-backend/internal/model"
)

const recentEventsLimit = 50

func (s *gormStore) AppendEvent(ctx context.Context, e *model.Event) error {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(e).Error; err != nil {
		return fmt.Errorf("failed to append %s event for bus %d: %w", e.Kind, e.BusID, err)
	}
	return nil
}

func (s *gormStore) RecentEvents(ctx context.Context, studentID, busID int64, since time.Time, kinds ...model.EventKind) ([]model.Event, error) {
	q := s.db.WithContext(ctx).Where("student_id = ? AND bus_id = ?", studentID, busID)
	if !since.IsZero() {
		q = q.Where("occurred_at >= ?", since)
	}
	if len(kinds) > 0 {
		q = q.Where("event_type IN ?", kinds)
	}

	var events []model.Event
	if err := q.Order("occurred_at DESC").Limit(recentEventsLimit).Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to load events of student %d on bus %d: %w", studentID, busID, err)
	}
	return events, nil
}
