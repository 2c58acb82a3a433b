package model

import "time"

// Message is a town-square post. ParentID is nil for top-level posts and
// points at an already persisted message for replies, which keeps the
// ancestor chain finite and acyclic by construction.
type Message struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	UserID    int64     `gorm:"index:idx_message_user;not null"`
	Content   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"index:idx_message_created"`
	ParentID  *int64    `gorm:"index:idx_message_parent"`

	User    *User      `gorm:"foreignKey:UserID"`
	Parent  *Message   `gorm:"foreignKey:ParentID"`
	Replies []*Message `gorm:"foreignKey:ParentID;constraint:OnDelete:CASCADE"`
}

func (Message) TableName() string { return "messages" }

// IsReply reports whether the message references a parent.
func (m *Message) IsReply() bool { return m.ParentID != nil }
