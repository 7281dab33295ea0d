package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/viral_go_server/internal/model"
)

type RequestRepository struct {
	db *gorm.DB
}

func NewRequestRepository(db *gorm.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

func (r *RequestRepository) Create(ctx context.Context, req *model.UserRequest) error {
	return r.db.WithContext(ctx).Create(req).Error
}

// CountInRange 统计 [start, end) 内的消耗记录
func (r *RequestRepository) CountInRange(ctx context.Context, userID int64, start, end time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.UserRequest{}).
		Where("user_id = ? AND created_at >= ? AND created_at < ?", userID, start, end).
		Count(&count).Error
	return count, err
}
