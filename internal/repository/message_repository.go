package repository

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/kyunghyuncho/neurips-whisper/internal/model"
)

// FeedFilter narrows feed queries. Tags match if the content contains any
// of them as "#tag"; Search is a case-insensitive substring match.
type FeedFilter struct {
	Tags         []string
	Search       string
	TopLevelOnly bool
}

type MessageRepository interface {
	Create(ctx context.Context, msg *model.Message) error
	GetByID(ctx context.Context, id int64) (*model.Message, error)
	// ListFeed returns messages newest first. cursor > 0 restricts the page
	// to ids strictly below it.
	ListFeed(ctx context.Context, filter FeedFilter, cursor int64, limit int) ([]*model.Message, error)
	// ListByParentIDs returns direct replies of the given messages, oldest
	// first, with authors loaded.
	ListByParentIDs(ctx context.Context, parentIDs []int64) ([]*model.Message, error)
	ListByUser(ctx context.Context, userID int64) ([]*model.Message, error)
	// ForEachMessage streams the whole table in id order, batchSize rows at
	// a time. Used by the cache rebuild.
	ForEachMessage(ctx context.Context, batchSize int, fn func(*model.Message) error) error
	// DeleteTree removes a message and every descendant.
	DeleteTree(ctx context.Context, id int64) error
	Count(ctx context.Context) (int64, error)
}

type messageRepository struct{ db *gorm.DB }

func NewMessageRepository(db *gorm.DB) MessageRepository { return &messageRepository{db: db} }

func (r *messageRepository) Create(ctx context.Context, msg *model.Message) error {
	return r.db.WithContext(ctx).Create(msg).Error
}

func (r *messageRepository) GetByID(ctx context.Context, id int64) (*model.Message, error) {
	var msg model.Message
	err := r.db.WithContext(ctx).Preload("User").Where("id = ?", id).First(&msg).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func applyFeedFilter(q *gorm.DB, filter FeedFilter) *gorm.DB {
	if filter.TopLevelOnly {
		q = q.Where("parent_id IS NULL")
	}
	if len(filter.Tags) > 0 {
		conds := make([]string, len(filter.Tags))
		args := make([]interface{}, len(filter.Tags))
		for i, tag := range filter.Tags {
			conds[i] = "content LIKE ?"
			args[i] = fmt.Sprintf("%%#%s%%", tag)
		}
		q = q.Where(strings.Join(conds, " OR "), args...)
	}
	if filter.Search != "" {
		q = q.Where("LOWER(content) LIKE ?", "%"+strings.ToLower(filter.Search)+"%")
	}
	return q
}

func (r *messageRepository) ListFeed(ctx context.Context, filter FeedFilter, cursor int64, limit int) ([]*model.Message, error) {
	q := r.db.WithContext(ctx).Preload("User").Preload("Parent.User")
	q = applyFeedFilter(q, filter)
	if cursor > 0 {
		q = q.Where("id < ?", cursor)
	}
	var res []*model.Message
	err := q.Order("created_at DESC").Limit(limit).Find(&res).Error
	return res, err
}

func (r *messageRepository) ListByParentIDs(ctx context.Context, parentIDs []int64) ([]*model.Message, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	var res []*model.Message
	err := r.db.WithContext(ctx).Preload("User").
		Where("parent_id IN ?", parentIDs).
		Order("created_at ASC").
		Find(&res).Error
	return res, err
}

func (r *messageRepository) ListByUser(ctx context.Context, userID int64) ([]*model.Message, error) {
	var res []*model.Message
	err := r.db.WithContext(ctx).Preload("User").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&res).Error
	return res, err
}

func (r *messageRepository) ForEachMessage(ctx context.Context, batchSize int, fn func(*model.Message) error) error {
	if batchSize <= 0 {
		batchSize = 500
	}
	var batch []*model.Message
	result := r.db.WithContext(ctx).Preload("User").Order("id").
		FindInBatches(&batch, batchSize, func(tx *gorm.DB, _ int) error {
			for _, m := range batch {
				if err := fn(m); err != nil {
					return err
				}
			}
			return nil
		})
	return result.Error
}

func (r *messageRepository) DeleteTree(ctx context.Context, id int64) error {
	// Collect descendants level by level, then delete the whole set. The
	// tree is acyclic by construction so this terminates.
	ids := []int64{id}
	frontier := []int64{id}
	for len(frontier) > 0 {
		var next []int64
		if err := r.db.WithContext(ctx).Model(&model.Message{}).
			Where("parent_id IN ?", frontier).
			Pluck("id", &next).Error; err != nil {
			return err
		}
		ids = append(ids, next...)
		frontier = next
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM stars WHERE message_id IN ?", ids).Error; err != nil {
			return err
		}
		if err := tx.Where("message_id IN ?", ids).Delete(&model.Notification{}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", ids).Delete(&model.Message{}).Error
	})
}

func (r *messageRepository) Count(ctx context.Context) (int64, error) {
	var cnt int64
	err := r.db.WithContext(ctx).Model(&model.Message{}).Count(&cnt).Error
	return cnt, err
}
