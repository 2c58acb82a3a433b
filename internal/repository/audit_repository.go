package repository

import (
	"context"
	"encoding/json"

	"gorm.io/gorm"

	"github.com/kyunghyuncho/neurips-whisper/internal/model"
)

type AuditRepository interface {
	// Log records a privileged or export action. details is JSON-encoded;
	// audit failures never fail the logged action itself.
	Log(ctx context.Context, action, userEmail string, details interface{}) error
	List(ctx context.Context, limit int) ([]*model.AuditLog, error)
}

type auditRepository struct{ db *gorm.DB }

func NewAuditRepository(db *gorm.DB) AuditRepository { return &auditRepository{db: db} }

func (r *auditRepository) Log(ctx context.Context, action, userEmail string, details interface{}) error {
	payload := ""
	if details != nil {
		if b, err := json.Marshal(details); err == nil {
			payload = string(b)
		}
	}
	entry := &model.AuditLog{Action: action, UserEmail: userEmail, Details: payload}
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *auditRepository) List(ctx context.Context, limit int) ([]*model.AuditLog, error) {
	q := r.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var res []*model.AuditLog
	err := q.Find(&res).Error
	return res, err
}
