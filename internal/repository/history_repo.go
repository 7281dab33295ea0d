package repository

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/viral_go_server/internal/model"
	"github.com/qs3c/viral_go_server/internal/pkg/pubsub"
)

// ChangeNotifier 写入成功后发布行级变更通知
type ChangeNotifier interface {
	Notify(ctx context.Context, ev *pubsub.ChangeEvent) error
}

type HistoryRepository struct {
	db       *gorm.DB
	notifier ChangeNotifier
}

// NewHistoryRepository notifier 可以为 nil
func NewHistoryRepository(db *gorm.DB, notifier ChangeNotifier) *HistoryRepository {
	return &HistoryRepository{db: db, notifier: notifier}
}

func (r *HistoryRepository) Create(ctx context.Context, entry *model.SearchHistory) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return err
	}
	r.notify(ctx, pubsub.ChangeInsert, entry.UserID, entry.ID)
	return nil
}

func (r *HistoryRepository) GetByID(ctx context.Context, id string) (*model.SearchHistory, error) {
	var entry model.SearchHistory
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListByUserID 分页获取用户历史，按时间倒序
func (r *HistoryRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.SearchHistory, int64, error) {
	var entries []*model.SearchHistory
	var total int64

	query := r.db.WithContext(ctx).Model(&model.SearchHistory{}).Where("user_id = ?", userID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	// 超出总页数直接返回空页，同时避免 offset 溢出
	if total == 0 || int64(page-1) > (total-1)/int64(pageSize) {
		return []*model.SearchHistory{}, total, nil
	}

	offset := (page - 1) * pageSize
	if err := query.Order("created_at DESC").Offset(offset).Limit(pageSize).Find(&entries).Error; err != nil {
		return nil, 0, err
	}

	return entries, total, nil
}

// ListRecent 获取最近 limit 条历史（未去重）
func (r *HistoryRepository) ListRecent(ctx context.Context, userID int64, limit int) ([]*model.SearchHistory, error) {
	var entries []*model.SearchHistory
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// Delete 删除用户自己的历史及其结果集，返回是否删除了记录
func (r *HistoryRepository) Delete(ctx context.Context, userID int64, id string) (bool, error) {
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND user_id = ?", id, userID).Delete(&model.SearchHistory{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected
		if deleted == 0 {
			return nil
		}
		return tx.Where("search_history_id = ?", id).Delete(&model.SearchResult{}).Error
	})
	if err != nil {
		return false, err
	}

	if deleted > 0 {
		r.notify(ctx, pubsub.ChangeDelete, userID, id)
	}
	return deleted > 0, nil
}

// CountOlderThan 统计过期历史数量
func (r *HistoryRepository) CountOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.SearchHistory{}).
		Where("created_at < ?", cutoff).Count(&count).Error
	return count, err
}

// PurgeOlderThan 删除过期历史及其结果集，按用户发布删除通知
func (r *HistoryRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var expired []*model.SearchHistory
	if err := r.db.WithContext(ctx).Select("id", "user_id").
		Where("created_at < ?", cutoff).Find(&expired).Error; err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}

	ids := make([]string, len(expired))
	for i, e := range expired {
		ids[i] = e.ID
	}

	var purged int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("search_history_id IN ?", ids).Delete(&model.SearchResult{}).Error; err != nil {
			return err
		}
		res := tx.Where("id IN ?", ids).Delete(&model.SearchHistory{})
		purged = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, err
	}

	for _, e := range expired {
		r.notify(ctx, pubsub.ChangeDelete, e.UserID, e.ID)
	}
	return purged, nil
}

func (r *HistoryRepository) notify(ctx context.Context, typ pubsub.ChangeType, userID int64, recordID string) {
	if r.notifier == nil {
		return
	}
	ev := &pubsub.ChangeEvent{
		Type:     typ,
		Table:    model.SearchHistory{}.TableName(),
		UserID:   userID,
		RecordID: recordID,
	}
	if err := r.notifier.Notify(ctx, ev); err != nil {
		zap.L().Warn("failed to publish history change",
			zap.Int64("user_id", userID),
			zap.String("history_id", recordID),
			zap.Error(err))
	}
}
