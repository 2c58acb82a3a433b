package model

import "time"

// AuditLog records privileged and export actions. Details is a free-form
// JSON blob describing the action target.
type AuditLog struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	Action    string    `gorm:"type:varchar(64);index;not null"`
	UserEmail string    `gorm:"type:varchar(255);not null"`
	Details   string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"index"`
}

func (AuditLog) TableName() string { return "audit_logs" }
