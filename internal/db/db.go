package db

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"bus-tracking-backend/config"
	"bus-tracking-backend/internal/model"
)

// Init initializes the database connection and runs migrations.
func Init(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: newLogger(cfg),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)

	log.Println("Running database migrations...")
	if err := Migrate(db); err != nil {
		return nil, err
	}

	if cfg.ApplyDDL {
		log.Println("Applying event log DDL...")
		if err := applyEventLogDDL(db); err != nil {
			log.Printf("Warning: failed to apply some event log DDL: %v. Continuing without them.", err)
		}
	}

	log.Println("Database initialization complete.")
	return db, nil
}

// Migrate creates or updates every table the service owns.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.User{},
		&model.Bus{},
		&model.Student{},
		&model.ParentStudent{},
		&model.Event{},
		&model.Notification{},
		&model.NotificationRecipient{},
		&model.NotificationPreference{},
		&model.ParentStudentNotification{},
		&model.StudentProximity{},
		&model.PushSubscription{},
	); err != nil {
		return fmt.Errorf("automigrate failed: %w", err)
	}
	return nil
}

func newLogger(cfg *config.DatabaseConfig) logger.Interface {
	level := logger.Warn
	switch strings.ToLower(cfg.LogLevel) {
	case "silent":
		level = logger.Silent
	case "error":
		level = logger.Error
	case "info":
		level = logger.Info
	}
	return logger.New(
		log.New(os.Stdout, "gorm ", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Duration(cfg.SlowQueryMillis) * time.Millisecond,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
		},
	)
}

// applyEventLogDDL adds Postgres-only indexes serving the missed-bus activity
// lookup and the newest-first event listing.
func applyEventLogDDL(db *gorm.DB) error {
	ddls := []string{
		"CREATE INDEX IF NOT EXISTS idx_events_boarding_recent ON events (student_id, bus_id, occurred_at DESC) " +
			"WHERE student_id IS NOT NULL;",
		"CREATE INDEX IF NOT EXISTS idx_events_bus_recent ON events (bus_id, occurred_at DESC);",
		"CREATE INDEX IF NOT EXISTS idx_psn_open_alerts ON parent_student_notifications (student_id) " +
			"WHERE approach_notified OR arrival_notified;",
	}

	for _, ddl := range ddls {
		if err := db.Exec(ddl).Error; err != nil {
			return fmt.Errorf("DDL failed on %q: %w", ddl, err)
		}
	}
	return nil
}
