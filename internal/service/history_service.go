package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/viral_go_server/internal/model"
	"github.com/qs3c/viral_go_server/internal/model/dto"
	"github.com/qs3c/viral_go_server/internal/pipeline"
	"github.com/qs3c/viral_go_server/internal/pkg/cache"
	"github.com/qs3c/viral_go_server/internal/pkg/pubsub"
	"github.com/qs3c/viral_go_server/internal/repository"
)

const (
	// recentCacheSize 缓存中保存的去重后条数，超过的请求直接截断
	recentCacheSize = 20
	// recentScanFactor 去重前多取几倍，避免重复查询词挤掉条目
	recentScanFactor = 4
)

type HistoryService struct {
	history       *repository.HistoryRepository
	results       *repository.ResultRepository
	cache         *cache.Cache
	retentionDays int
	logger        *zap.Logger

	// generations 每次失效递增，读库期间发生过失效则不回写缓存
	genMu       sync.Mutex
	generations map[int64]uint64
	// onLoaded 读库之后、回写缓存之前调用，测试用
	onLoaded func(userID int64)
}

func NewHistoryService(
	history *repository.HistoryRepository,
	results *repository.ResultRepository,
	viewCache *cache.Cache,
	retentionDays int,
	logger *zap.Logger,
) *HistoryService {
	if retentionDays <= 0 {
		retentionDays = 7
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryService{
		history:       history,
		results:       results,
		cache:         viewCache,
		retentionDays: retentionDays,
		logger:        logger,
		generations:   make(map[int64]uint64),
	}
}

// List 分页获取历史
func (s *HistoryService) List(ctx context.Context, userID int64, page, pageSize int) ([]*dto.HistoryItem, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	entries, total, err := s.history.ListByUserID(ctx, userID, page, pageSize)
	if err != nil {
		return nil, 0, err
	}

	return ToHistoryItems(entries), total, nil
}

// Recent 最近搜索，按查询词去重，最多 limit 条
func (s *HistoryService) Recent(ctx context.Context, userID int64, limit int) ([]*model.SearchHistory, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > recentCacheSize {
		limit = recentCacheSize
	}

	key := cache.SearchHistoryKey(userID)
	var entries []*model.SearchHistory
	if err := s.cache.Get(ctx, key, &entries); err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			s.logger.Warn("failed to read search history cache", zap.Int64("user_id", userID), zap.Error(err))
		}

		gen := s.generation(userID)
		raw, err := s.history.ListRecent(ctx, userID, recentCacheSize*recentScanFactor)
		if err != nil {
			return nil, err
		}
		entries = pipeline.DedupeRecent(raw, recentCacheSize)
		if s.onLoaded != nil {
			s.onLoaded(userID)
		}

		if s.generation(userID) == gen {
			if err := s.cache.Set(ctx, key, entries); err != nil {
				s.logger.Warn("failed to write search history cache", zap.Int64("user_id", userID), zap.Error(err))
			}
			// Set 与并发失效交错时再删一次
			if s.generation(userID) != gen {
				s.dropRecent(ctx, userID)
			}
		}
	}

	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Detail 历史详情，结果集按查询参数过滤排序分页
// 结果集缺失时返回 ResultsMissing，历史已被清理时返回 ErrHistoryNotFound
func (s *HistoryService) Detail(ctx context.Context, userID int64, id string, q dto.ResultsQuery) (*dto.HistoryDetail, error) {
	entry, err := s.history.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrHistoryNotFound
		}
		return nil, err
	}
	if entry.UserID != userID {
		return nil, ErrHistoryNotFound
	}

	query := ToPipelineQuery(q)
	detail := &dto.HistoryDetail{
		Entry:   toHistoryItem(entry),
		SortKey: string(query.Sort.Key),
		SortDir: string(query.Sort.Dir),
	}

	posts, err := s.results.GetPosts(ctx, id)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		detail.ResultsMissing = true
		posts = nil
	}

	page := pipeline.Apply(posts, query)
	detail.Posts = page.Items
	detail.Total = page.Total
	detail.Page = page.Page
	detail.PageSize = page.PageSize
	detail.PageCount = page.PageCount
	return detail, nil
}

// Delete 删除用户自己的历史
func (s *HistoryService) Delete(ctx context.Context, userID int64, id string) error {
	deleted, err := s.history.Delete(ctx, userID, id)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrHistoryNotFound
	}

	s.InvalidateRecent(ctx, userID)
	return nil
}

// InvalidateRecent 使最近搜索缓存失效，变更通知到达时也会调用
func (s *HistoryService) InvalidateRecent(ctx context.Context, userID int64) {
	s.genMu.Lock()
	s.generations[userID]++
	s.genMu.Unlock()

	s.dropRecent(ctx, userID)
}

func (s *HistoryService) generation(userID int64) uint64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.generations[userID]
}

func (s *HistoryService) dropRecent(ctx context.Context, userID int64) {
	if err := s.cache.Invalidate(ctx, cache.SearchHistoryKey(userID)); err != nil {
		s.logger.Warn("failed to invalidate search history cache", zap.Int64("user_id", userID), zap.Error(err))
	}
}

// HandleChange 先失效缓存再交给下游，保证监听者重新查询时读到最新数据
func (s *HistoryService) HandleChange(next func(*pubsub.ChangeEvent)) func(*pubsub.ChangeEvent) {
	return func(ev *pubsub.ChangeEvent) {
		s.InvalidateRecent(context.Background(), ev.UserID)
		next(ev)
	}
}

// Purge 删除超过保留期的历史，dryRun 只统计
func (s *HistoryService) Purge(ctx context.Context, now time.Time, dryRun bool) (int64, error) {
	cutoff := now.UTC().AddDate(0, 0, -s.retentionDays)

	if dryRun {
		return s.history.CountOlderThan(ctx, cutoff)
	}
	return s.history.PurgeOlderThan(ctx, cutoff)
}

// RetentionDays 保留天数
func (s *HistoryService) RetentionDays() int {
	return s.retentionDays
}

// ToPipelineQuery 查询参数转换为 pipeline 查询
func ToPipelineQuery(q dto.ResultsQuery) pipeline.Query {
	sortState := pipeline.ParseSortState(q.SortKey, q.SortDir)
	if key := strings.TrimSpace(q.Toggle); key != "" {
		sortState = sortState.Toggle(pipeline.SortKey(key))
	}
	return pipeline.Query{
		Filters: pipeline.ParseFilters(pipeline.RawFilters{
			MinViews:      q.MinViews,
			MinPlays:      q.MinPlays,
			MinLikes:      q.MinLikes,
			MinComments:   q.MinComments,
			MinEngagement: q.MinEngagement,
			DateFrom:      q.DateFrom,
		}),
		Sort:     sortState,
		Page:     q.Page,
		PageSize: q.PageSize,
	}
}

func toHistoryItem(e *model.SearchHistory) *dto.HistoryItem {
	return &dto.HistoryItem{
		ID:             e.ID,
		Platform:       e.Platform,
		Query:          e.SearchQuery,
		ResultLimit:    e.ResultLimit,
		DateFloor:      e.DateFloor,
		BulkSearchURLs: []string(e.BulkSearchURLs),
		CreatedAt:      e.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// ToHistoryItems 批量转换
func ToHistoryItems(entries []*model.SearchHistory) []*dto.HistoryItem {
	items := make([]*dto.HistoryItem, len(entries))
	for i, e := range entries {
		items[i] = toHistoryItem(e)
	}
	return items
}
