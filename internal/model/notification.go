package model

import "time"

// Notification is a persisted alert with its recipients.
type Notification struct {
	ID         int64                   `gorm:"primaryKey"`
	Title      string                  `gorm:"size:128;not null"`
	Message    string                  `gorm:"type:text;not null"`
	Kind       EventKind               `gorm:"size:32;not null;index"`
	EventID    *int64                  `gorm:"index"`
	StudentID  *int64                  `gorm:"index"`
	BusID      *int64                  `gorm:"index"`
	CreatedAt  time.Time               `gorm:"not null"`
	Recipients []NotificationRecipient `gorm:"foreignKey:NotificationID;constraint:OnDelete:CASCADE"`
}

type NotificationRecipient struct {
	NotificationID int64 `gorm:"primaryKey;autoIncrement:false"`
	UserID         int64 `gorm:"primaryKey;autoIncrement:false;index"`
	Role           Role  `gorm:"size:16;not null"`
}

func (NotificationRecipient) TableName() string { return "notification_recipient" }

// NotificationPreference switches one notification type on or off for a parent.
// A missing row means enabled.
type NotificationPreference struct {
	ParentID         int64  `gorm:"primaryKey;autoIncrement:false"`
	NotificationType string `gorm:"primaryKey;size:32"`
	Enabled          bool   `gorm:"not null"`
}

// ParentStudentNotification holds the alert flags of one (parent, student) pair.
type ParentStudentNotification struct {
	ParentID         int64     `gorm:"primaryKey;autoIncrement:false"`
	StudentID        int64     `gorm:"primaryKey;autoIncrement:false;index"`
	ApproachNotified bool      `gorm:"not null"`
	ArrivalNotified  bool      `gorm:"not null"`
	MissedNotified   bool      `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null"`
}

// StudentProximity records whether the bus was last seen near a student's home.
type StudentProximity struct {
	StudentID int64 `gorm:"primaryKey;autoIncrement:false"`
	WasNear   bool  `gorm:"not null"`
	NearSince *time.Time
	UpdatedAt time.Time `gorm:"not null"`
}
