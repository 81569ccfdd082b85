package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bus-tracking-backend/internal/model"
)

func (s *gormStore) ParentsOfStudent(ctx context.Context, studentID int64) ([]int64, error) {
	var ids []int64
	if err := s.db.WithContext(ctx).Model(&model.ParentStudent{}).
		Where("student_id = ?", studentID).
		Order("parent_id").
		Pluck("parent_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list parents of student %d: %w", studentID, err)
	}
	return ids, nil
}

func (s *gormStore) ParentsOfStudents(ctx context.Context, studentIDs []int64) (map[int64][]int64, error) {
	out := make(map[int64][]int64, len(studentIDs))
	if len(studentIDs) == 0 {
		return out, nil
	}
	var links []model.ParentStudent
	if err := s.db.WithContext(ctx).
		Where("student_id IN ?", studentIDs).
		Order("student_id, parent_id").
		Find(&links).Error; err != nil {
		return nil, fmt.Errorf("failed to list parents: %w", err)
	}
	for _, l := range links {
		out[l.StudentID] = append(out[l.StudentID], l.ParentID)
	}
	return out, nil
}

// ParentsOfBus lists every parent with at least one child registered on the bus.
func (s *gormStore) ParentsOfBus(ctx context.Context, busID int64) ([]int64, error) {
	var ids []int64
	if err := s.db.WithContext(ctx).Model(&model.ParentStudent{}).
		Joins("JOIN students ON students.id = parent_student.student_id").
		Where("students.bus_id = ?", busID).
		Order("parent_student.parent_id").
		Pluck("parent_student.parent_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list parents of bus %d: %w", busID, err)
	}
	return dedupe(ids), nil
}

func (s *gormStore) AdminsOfBus(ctx context.Context, busID int64) ([]int64, error) {
	var bus model.Bus
	if err := s.db.WithContext(ctx).Select("id", "admin_id").First(&bus, busID).Error; err != nil {
		return nil, notFound(err, "bus", busID)
	}
	if bus.AdminID == nil {
		return nil, nil
	}
	return []int64{*bus.AdminID}, nil
}

func (s *gormStore) EnabledParents(ctx context.Context, notificationType string, parentIDs []int64) ([]int64, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	var disabled []int64
	if err := s.db.WithContext(ctx).Model(&model.NotificationPreference{}).
		Where("notification_type = ? AND enabled = ? AND parent_id IN ?", notificationType, false, parentIDs).
		Pluck("parent_id", &disabled).Error; err != nil {
		return nil, fmt.Errorf("failed to load %s preferences: %w", notificationType, err)
	}
	off := make(map[int64]bool, len(disabled))
	for _, id := range disabled {
		off[id] = true
	}
	enabled := make([]int64, 0, len(parentIDs))
	for _, id := range parentIDs {
		if !off[id] {
			enabled = append(enabled, id)
		}
	}
	return enabled, nil
}

// CreateNotification stores the notification together with its recipients.
func (s *gormStore) CreateNotification(ctx context.Context, n *model.Notification) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(n).Error; err != nil {
			return fmt.Errorf("failed to create notification %q: %w", n.Title, err)
		}
		return nil
	})
}

func (s *gormStore) SubscriptionsForUsers(ctx context.Context, userIDs []int64) ([]model.PushSubscription, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	var subs []model.PushSubscription
	if err := s.db.WithContext(ctx).Where("user_id IN ?", userIDs).Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("failed to load push subscriptions: %w", err)
	}
	return subs, nil
}

func (s *gormStore) UpsertSubscription(ctx context.Context, sub *model.PushSubscription) error {
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "p256dh", "auth"}),
	}).Create(sub).Error; err != nil {
		return fmt.Errorf("failed to save subscription: %w", err)
	}
	return nil
}

func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	if err := s.db.WithContext(ctx).Delete(&model.PushSubscription{}, "endpoint = ?", endpoint).Error; err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return nil
}
