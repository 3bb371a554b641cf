package database

import "time"

// AuditLog is the persisted form of storage.AuditRecord.
type AuditLog struct {
	ID        string    `gorm:"primaryKey;size:36"`
	UserID    *string   `gorm:"index;size:64"`
	CompanyID *string   `gorm:"index;size:64"`
	Action    string    `gorm:"index;size:64;not null"`
	IPAddress string    `gorm:"size:64"`
	UserAgent string    `gorm:"size:512"`
	Success   bool      `gorm:"not null"`
	Details   string    `gorm:"type:text"` // JSON object
	Timestamp time.Time `gorm:"index;not null"`
}

// TableName sets the table for AuditLog
func (AuditLog) TableName() string {
	return "audit_logs"
}
