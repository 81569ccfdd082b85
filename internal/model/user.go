package model

// Role is a user's role. Only parents and bus admins receive notifications.
type Role string

const (
	RoleParent Role = "parent"
	RoleAdmin  Role = "admin"
)

type User struct {
	ID          int64  `gorm:"primaryKey"`
	FirstName   string `gorm:"size:64"`
	LastName    string `gorm:"size:64"`
	Email       string `gorm:"size:256;uniqueIndex"`
	PhoneNumber string `gorm:"size:32"`
	Role        Role   `gorm:"size:16;not null"`
}

// ParentStudent links a parent to one of their children.
type ParentStudent struct {
	ParentID  int64 `gorm:"primaryKey;autoIncrement:false"`
	StudentID int64 `gorm:"primaryKey;autoIncrement:false;index"`
}

func (ParentStudent) TableName() string { return "parent_student" }
