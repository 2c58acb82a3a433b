package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kyunghyuncho/neurips-whisper/internal/model"
)

// ErrEmailBlacklisted rejects sign-in for a banned address.
var ErrEmailBlacklisted = errors.New("email is blacklisted")

type UserRepository interface {
	GetByID(ctx context.Context, id int64) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	// GetOrCreateByEmail resolves the user for a verified login, creating
	// the account on first sign-in. Blacklisted addresses get
	// ErrEmailBlacklisted instead of an account.
	GetOrCreateByEmail(ctx context.Context, email string) (*model.User, error)
	Delete(ctx context.Context, id int64) error
	// Blacklist bars an email from future sign-ins. Idempotent.
	Blacklist(ctx context.Context, email, reason string) error
	IsBlacklisted(ctx context.Context, email string) (bool, error)
	// StarredIDs returns the set of message ids the user has starred.
	StarredIDs(ctx context.Context, userID int64) (map[int64]struct{}, error)
	ListStarred(ctx context.Context, userID int64) ([]*model.Message, error)
	// ToggleStar flips the star state and reports the new state.
	ToggleStar(ctx context.Context, userID, messageID int64) (bool, error)
}

type userRepository struct{ db *gorm.DB }

func NewUserRepository(db *gorm.DB) UserRepository { return &userRepository{db: db} }

func (r *userRepository) GetByID(ctx context.Context, id int64) (*model.User, error) {
	var u model.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&u).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	err := r.db.WithContext(ctx).Where("email = ?", email).First(&u).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *userRepository) GetOrCreateByEmail(ctx context.Context, email string) (*model.User, error) {
	banned, err := r.IsBlacklisted(ctx, email)
	if err != nil {
		return nil, err
	}
	if banned {
		return nil, ErrEmailBlacklisted
	}
	u := &model.User{Email: email, TermsAcceptedAt: time.Now().UTC()}
	// Idempotent on the email unique index.
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "email"}}, DoNothing: true}).
		Create(u).Error; err != nil {
		return nil, err
	}
	return r.GetByEmail(ctx, email)
}

func (r *userRepository) Delete(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM stars WHERE user_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", id).Delete(&model.Notification{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", id).Delete(&model.Message{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&model.User{}).Error
	})
}

func (r *userRepository) Blacklist(ctx context.Context, email, reason string) error {
	entry := &model.BlacklistedEmail{Email: email, Reason: reason}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "email"}}, DoNothing: true}).
		Create(entry).Error
}

func (r *userRepository) IsBlacklisted(ctx context.Context, email string) (bool, error) {
	var cnt int64
	err := r.db.WithContext(ctx).Model(&model.BlacklistedEmail{}).
		Where("email = ?", email).
		Count(&cnt).Error
	return cnt > 0, err
}

func (r *userRepository) StarredIDs(ctx context.Context, userID int64) (map[int64]struct{}, error) {
	var ids []int64
	if err := r.db.WithContext(ctx).Table("stars").
		Where("user_id = ?", userID).
		Pluck("message_id", &ids).Error; err != nil {
		return nil, err
	}
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

func (r *userRepository) ListStarred(ctx context.Context, userID int64) ([]*model.Message, error) {
	var res []*model.Message
	err := r.db.WithContext(ctx).Preload("User").
		Joins("JOIN stars ON stars.message_id = messages.id").
		Where("stars.user_id = ?", userID).
		Order("messages.created_at DESC").
		Find(&res).Error
	return res, err
}

func (r *userRepository) ToggleStar(ctx context.Context, userID, messageID int64) (bool, error) {
	var cnt int64
	if err := r.db.WithContext(ctx).Table("stars").
		Where("user_id = ? AND message_id = ?", userID, messageID).
		Count(&cnt).Error; err != nil {
		return false, err
	}
	if cnt > 0 {
		err := r.db.WithContext(ctx).
			Exec("DELETE FROM stars WHERE user_id = ? AND message_id = ?", userID, messageID).Error
		return false, err
	}
	err := r.db.WithContext(ctx).
		Exec("INSERT INTO stars (user_id, message_id) VALUES (?, ?)", userID, messageID).Error
	return true, err
}
