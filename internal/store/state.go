package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bus-tracking-backend/internal/model"
)

// Flags returns the stored flags of a pair, or all-false if none were written yet.
func (s *gormStore) Flags(ctx context.Context, parentID, studentID int64) (Flags, error) {
	var row model.ParentStudentNotification
	err := s.db.WithContext(ctx).
		Where("parent_id = ? AND student_id = ?", parentID, studentID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Flags{}, nil
	}
	if err != nil {
		return Flags{}, fmt.Errorf("failed to load flags for parent %d student %d: %w", parentID, studentID, err)
	}
	return flagsOf(row), nil
}

// SetFlags upserts the flags of a pair.
func (s *gormStore) SetFlags(ctx context.Context, parentID, studentID int64, f Flags) error {
	row := model.ParentStudentNotification{
		ParentID:         parentID,
		StudentID:        studentID,
		ApproachNotified: f.Approach,
		ArrivalNotified:  f.Arrival,
		MissedNotified:   f.Missed,
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "parent_id"}, {Name: "student_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"approach_notified", "arrival_notified", "missed_notified", "updated_at"}),
	}).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to save flags for parent %d student %d: %w", parentID, studentID, err)
	}
	return nil
}

// FlagsForStudents batch-loads every stored pair of the given students.
func (s *gormStore) FlagsForStudents(ctx context.Context, studentIDs []int64) (map[PairKey]Flags, error) {
	out := make(map[PairKey]Flags)
	if len(studentIDs) == 0 {
		return out, nil
	}
	var rows []model.ParentStudentNotification
	if err := s.db.WithContext(ctx).Where("student_id IN ?", studentIDs).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load notification flags: %w", err)
	}
	for _, r := range rows {
		out[PairKey{ParentID: r.ParentID, StudentID: r.StudentID}] = flagsOf(r)
	}
	return out, nil
}

func (s *gormStore) WasNear(ctx context.Context, studentID int64) (NearMark, error) {
	marks, err := s.NearMarks(ctx, []int64{studentID})
	if err != nil {
		return NearMark{}, err
	}
	return marks[studentID], nil
}

func (s *gormStore) NearMarks(ctx context.Context, studentIDs []int64) (map[int64]NearMark, error) {
	out := make(map[int64]NearMark, len(studentIDs))
	if len(studentIDs) == 0 {
		return out, nil
	}
	var rows []model.StudentProximity
	if err := s.db.WithContext(ctx).Where("student_id IN ?", studentIDs).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load near marks: %w", err)
	}
	for _, r := range rows {
		mark := NearMark{Near: r.WasNear}
		if r.NearSince != nil {
			mark.Since = *r.NearSince
		}
		out[r.StudentID] = mark
	}
	return out, nil
}

// SetWasNear upserts the near mark. Marking an already-near student near again
// keeps the original near_since.
func (s *gormStore) SetWasNear(ctx context.Context, studentID int64, near bool, at time.Time) error {
	row := model.StudentProximity{StudentID: studentID, WasNear: near}
	if near {
		row.NearSince = &at
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "student_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"near_since": gorm.Expr("CASE WHEN student_proximities.was_near AND excluded.was_near THEN student_proximities.near_since ELSE excluded.near_since END"),
			"was_near":   gorm.Expr("excluded.was_near"),
			"updated_at": gorm.Expr("excluded.updated_at"),
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save near mark for student %d: %w", studentID, err)
	}
	return nil
}

// ResetFlagsForBus clears every alert flag and near mark of the bus's students.
func (s *gormStore) ResetFlagsForBus(ctx context.Context, busID int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return resetFlags(tx, busID)
	})
}

func resetFlags(tx *gorm.DB, busID int64) error {
	students := func() *gorm.DB {
		return tx.Model(&model.Student{}).Select("id").Where("bus_id = ?", busID)
	}
	if err := tx.Model(&model.ParentStudentNotification{}).
		Where("student_id IN (?)", students()).
		Updates(map[string]any{
			"approach_notified": false,
			"arrival_notified":  false,
			"missed_notified":   false,
		}).Error; err != nil {
		return fmt.Errorf("failed to reset notification flags of bus %d: %w", busID, err)
	}
	if err := tx.Model(&model.StudentProximity{}).
		Where("student_id IN (?)", students()).
		Updates(map[string]any{
			"was_near":   false,
			"near_since": nil,
		}).Error; err != nil {
		return fmt.Errorf("failed to reset near marks of bus %d: %w", busID, err)
	}
	return nil
}

func flagsOf(r model.ParentStudentNotification) Flags {
	return Flags{Approach: r.ApproachNotified, Arrival: r.ArrivalNotified, Missed: r.MissedNotified}
}
