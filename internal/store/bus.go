package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"bus-tracking-backend/internal/model"
)

func (s *gormStore) Bus(ctx context.Context, id int64) (*model.Bus, error) {
	var bus model.Bus
	if err := s.db.WithContext(ctx).First(&bus, id).Error; err != nil {
		return nil, notFound(err, "bus", id)
	}
	return &bus, nil
}

// MonitoredBusIDs lists buses whose monitoring flag is set.
func (s *gormStore) MonitoredBusIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := s.db.WithContext(ctx).Model(&model.Bus{}).
		Where("monitoring_enabled = ?", true).
		Order("id").
		Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list monitored buses: %w", err)
	}
	return ids, nil
}

func (s *gormStore) RegisteredStudentIDs(ctx context.Context, busID int64) ([]int64, error) {
	var ids []int64
	if err := s.db.WithContext(ctx).Model(&model.Student{}).
		Where("bus_id = ?", busID).
		Order("id").
		Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list students of bus %d: %w", busID, err)
	}
	return ids, nil
}

func (s *gormStore) StudentIDsInBus(ctx context.Context, busID int64) ([]int64, error) {
	var ids []int64
	if err := s.db.WithContext(ctx).Model(&model.Student{}).
		Where("bus_id = ? AND current_status = ?", busID, model.OccupancyInBus).
		Order("id").
		Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list students in bus %d: %w", busID, err)
	}
	return ids, nil
}

func (s *gormStore) RouteMode(ctx context.Context, busID int64) (model.RouteMode, error) {
	var bus model.Bus
	if err := s.db.WithContext(ctx).Select("id", "route_mode").First(&bus, busID).Error; err != nil {
		return "", notFound(err, "bus", busID)
	}
	return bus.RouteMode, nil
}

// SetRouteMode switches the route phase and resets every alert flag and near
// mark of the bus's students in the same transaction.
func (s *gormStore) SetRouteMode(ctx context.Context, busID int64, mode model.RouteMode) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Bus{}).Where("id = ?", busID).Update("route_mode", mode)
		if res.Error != nil {
			return fmt.Errorf("failed to update route mode of bus %d: %w", busID, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("bus %d: %w", busID, ErrNotFound)
		}
		return resetFlags(tx, busID)
	})
}

func (s *gormStore) SetMonitoringEnabled(ctx context.Context, busID int64, enabled bool) error {
	res := s.db.WithContext(ctx).Model(&model.Bus{}).Where("id = ?", busID).Update("monitoring_enabled", enabled)
	if res.Error != nil {
		return fmt.Errorf("failed to update monitoring of bus %d: %w", busID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("bus %d: %w", busID, ErrNotFound)
	}
	return nil
}

func (s *gormStore) UpdateBusLocation(ctx context.Context, busID int64, loc model.Location, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&model.Bus{}).Where("id = ?", busID).Updates(map[string]any{
		"latitude":            loc.Latitude,
		"longitude":           loc.Longitude,
		"location_updated_at": at,
	})
	if res.Error != nil {
		return fmt.Errorf("failed to update location of bus %d: %w", busID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("bus %d: %w", busID, ErrNotFound)
	}
	return nil
}

func (s *gormStore) Student(ctx context.Context, id int64) (*model.Student, error) {
	var student model.Student
	if err := s.db.WithContext(ctx).First(&student, id).Error; err != nil {
		return nil, notFound(err, "student", id)
	}
	return &student, nil
}

func (s *gormStore) StudentsByIDs(ctx context.Context, ids []int64) (map[int64]model.Student, error) {
	out := make(map[int64]model.Student, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var students []model.Student
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&students).Error; err != nil {
		return nil, fmt.Errorf("failed to load students: %w", err)
	}
	for _, st := range students {
		out[st.ID] = st
	}
	return out, nil
}

func (s *gormStore) SetOccupancy(ctx context.Context, studentID int64, status model.Occupancy) error {
	res := s.db.WithContext(ctx).Model(&model.Student{}).Where("id = ?", studentID).Update("current_status", status)
	if res.Error != nil {
		return fmt.Errorf("failed to set occupancy of student %d: %w", studentID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("student %d: %w", studentID, ErrNotFound)
	}
	return nil
}
