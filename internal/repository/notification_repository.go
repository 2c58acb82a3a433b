package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/kyunghyuncho/neurips-whisper/internal/model"
)

type NotificationRepository interface {
	Create(ctx context.Context, n *model.Notification) error
	// ListForUser returns the user's notifications newest first with the
	// triggering message and its author loaded.
	ListForUser(ctx context.Context, userID int64, limit int) ([]*model.Notification, error)
	MarkRead(ctx context.Context, id, userID int64) error
}

type notificationRepository struct{ db *gorm.DB }

func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(ctx context.Context, n *model.Notification) error {
	return r.db.WithContext(ctx).Create(n).Error
}

func (r *notificationRepository) ListForUser(ctx context.Context, userID int64, limit int) ([]*model.Notification, error) {
	q := r.db.WithContext(ctx).Preload("Message.User").
		Where("user_id = ?", userID).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var res []*model.Notification
	err := q.Find(&res).Error
	return res, err
}

func (r *notificationRepository) MarkRead(ctx context.Context, id, userID int64) error {
	return r.db.WithContext(ctx).Model(&model.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("is_read", true).Error
}
