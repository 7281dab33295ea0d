package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"github.com/qs3c/viral_go_server/internal/model"
)

type ResultRepository struct {
	db *gorm.DB
}

func NewResultRepository(db *gorm.DB) *ResultRepository {
	return &ResultRepository{db: db}
}

// Create 单行写入，要么完整写入要么不写
func (r *ResultRepository) Create(ctx context.Context, historyID string, posts []*model.Post) error {
	data, err := json.Marshal(posts)
	if err != nil {
		return fmt.Errorf("failed to marshal posts: %w", err)
	}

	return r.db.WithContext(ctx).Create(&model.SearchResult{
		SearchHistoryID: historyID,
		Results:         data,
	}).Error
}

// GetPosts 获取历史对应的帖子，结果集不存在时返回 gorm.ErrRecordNotFound
func (r *ResultRepository) GetPosts(ctx context.Context, historyID string) ([]*model.Post, error) {
	var result model.SearchResult
	if err := r.db.WithContext(ctx).Where("search_history_id = ?", historyID).First(&result).Error; err != nil {
		return nil, err
	}

	var posts []*model.Post
	if err := json.Unmarshal(result.Results, &posts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal results of %s: %w", historyID, err)
	}
	return posts, nil
}

// Exists 检查结果集是否存在
func (r *ResultRepository) Exists(ctx context.Context, historyID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.SearchResult{}).
		Where("search_history_id = ?", historyID).Count(&count).Error
	return count > 0, err
}

