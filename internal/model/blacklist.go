package model

import "time"

// BlacklistedEmail blocks a banned address from signing back in. Rows are
// written by the ban operation and consulted at login verification.
type BlacklistedEmail struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	Email     string    `gorm:"type:varchar(255);uniqueIndex;not null"`
	Reason    string    `gorm:"type:varchar(255)"`
	CreatedAt time.Time
}

func (BlacklistedEmail) TableName() string { return "blacklisted_emails" }
