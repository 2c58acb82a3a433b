package model

import "time"

// Notification is the persisted "someone replied to you" record, created at
// post time for the parent author. The live per-session notification intent
// is derived separately and never stored.
type Notification struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	UserID    int64     `gorm:"index:idx_notification_user;not null"`
	MessageID int64     `gorm:"not null"`
	IsRead    bool      `gorm:"not null;default:false"`
	CreatedAt time.Time

	Message *Message `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE"`
}

func (Notification) TableName() string { return "notifications" }
