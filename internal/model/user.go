package model

import "time"

// User is a conference participant. Authentication is passwordless
// (magic-link email), so the only credential is the address itself.
type User struct {
	ID              int64     `gorm:"primaryKey;autoIncrement"`
	Email           string    `gorm:"type:varchar(255);uniqueIndex;not null"`
	TermsAcceptedAt time.Time `gorm:"not null"`
	CreatedAt       time.Time

	// StarredMessages is the m2m star relation. The join table carries no
	// extra columns, so a pure association table suffices.
	StarredMessages []*Message `gorm:"many2many:stars;constraint:OnDelete:CASCADE"`
}

func (User) TableName() string { return "users" }
