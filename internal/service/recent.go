package service

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/qs3c/viral_go_server/internal/model"
	"github.com/qs3c/viral_go_server/internal/pkg/pubsub"
)

// HideState 乐观隐藏的两种状态
type HideState string

const (
	// HidePending 已从可见列表移除，删除尚未确认（删除失败时保持此状态）
	HidePending HideState = "pending_hidden"
	// HideConfirmed 后端删除成功
	HideConfirmed HideState = "confirmed_deleted"
)

// RecentSource 最近搜索的读取和删除
type RecentSource interface {
	Recent(ctx context.Context, userID int64, limit int) ([]*model.SearchHistory, error)
	Delete(ctx context.Context, userID int64, id string) error
}

// RecentActivitySync 单个用户视图的最近搜索缓存
// 每收到一次变更通知就整体重新查询，不做增量合并
type RecentActivitySync struct {
	userID int64
	source RecentSource
	feed   pubsub.ChangeFeed
	limit  int
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	group  singleflight.Group
	wg     sync.WaitGroup

	mu        sync.Mutex
	entries   []*model.SearchHistory
	hidden    map[string]HideState
	sub       pubsub.Subscription
	onUpdate  func([]*model.SearchHistory)
	closed    bool
	gen       uint64 // 收到的通知数
	loadedGen uint64 // 最近一次加载开始时的 gen
}

func NewRecentActivitySync(userID int64, source RecentSource, feed pubsub.ChangeFeed, limit int, logger *zap.Logger) *RecentActivitySync {
	if limit < 1 {
		limit = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecentActivitySync{
		userID: userID,
		source: source,
		feed:   feed,
		limit:  limit,
		logger: logger,
		hidden: make(map[string]HideState),
	}
}

// OnUpdate 可见列表变化时回调，在 Start 之前设置
func (s *RecentActivitySync) OnUpdate(fn func([]*model.SearchHistory)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUpdate = fn
}

// Start 先订阅再做首次加载，避免两者之间的变更丢失
func (s *RecentActivitySync) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.sub = s.feed.OnChange(s.userID, func(pubsub.ChangeEvent) {
		s.refresh()
	})
	s.mu.Unlock()

	if err := s.load(); err != nil {
		return err
	}
	s.notify()
	return nil
}

// Visible 去重截断后的缓存，去掉已隐藏的条目
func (s *RecentActivitySync) Visible() []*model.SearchHistory {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visibleLocked()
}

// HideStatus 条目的隐藏状态
func (s *RecentActivitySync) HideStatus(id string) (HideState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.hidden[id]
	return st, ok
}

// Hide 立即从可见列表移除，同时发起删除
// 删除失败只记日志，本次会话内条目保持隐藏
func (s *RecentActivitySync) Hide(ctx context.Context, id string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if _, ok := s.hidden[id]; ok {
		s.mu.Unlock()
		return
	}
	s.hidden[id] = HidePending
	s.wg.Add(1)
	s.mu.Unlock()

	s.notify()

	go func() {
		defer s.wg.Done()

		if err := s.source.Delete(context.WithoutCancel(ctx), s.userID, id); err != nil {
			s.logger.Warn("failed to delete hidden history entry",
				zap.Int64("user_id", s.userID),
				zap.String("history_id", id),
				zap.Error(err))
			return
		}

		s.mu.Lock()
		if !s.closed {
			s.hidden[id] = HideConfirmed
		}
		s.mu.Unlock()
	}()
}

// Close 取消订阅并放弃进行中的查询，可重复调用
func (s *RecentActivitySync) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	sub, cancel := s.sub, s.cancel
	s.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
}

// Wait 等待后台查询和删除结束（测试和优雅退出用）
func (s *RecentActivitySync) Wait() {
	s.wg.Wait()
}

// Refresh 手动触发一次重新查询
func (s *RecentActivitySync) Refresh() {
	s.refresh()
}

// refresh 通知触发的后台重新查询
func (s *RecentActivitySync) refresh() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.gen++
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.refetch()
	}()
}

// refetch 重叠的查询由 singleflight 合并；如果合并到的查询开始于最新通知之前则再查一次
func (s *RecentActivitySync) refetch() {
	for {
		_, err, _ := s.group.Do("recent", func() (interface{}, error) {
			return nil, s.load()
		})
		if err != nil {
			if s.ctx.Err() == nil {
				s.logger.Warn("failed to refetch recent searches", zap.Int64("user_id", s.userID), zap.Error(err))
			}
			return
		}

		s.mu.Lock()
		stale := !s.closed && s.loadedGen < s.gen
		closed := s.closed
		s.mu.Unlock()

		if closed {
			return
		}
		if !stale {
			s.notify()
			return
		}
	}
}

func (s *RecentActivitySync) load() error {
	s.mu.Lock()
	gen := s.gen
	ctx := s.ctx
	s.mu.Unlock()

	entries, err := s.source.Recent(ctx, s.userID, s.limit)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// 已有更新的查询结果时丢弃本次
	if s.closed || gen < s.loadedGen {
		return nil
	}
	s.entries = entries
	s.loadedGen = gen
	return nil
}

func (s *RecentActivitySync) notify() {
	s.mu.Lock()
	fn := s.onUpdate
	closed := s.closed
	visible := s.visibleLocked()
	s.mu.Unlock()

	if fn != nil && !closed {
		fn(visible)
	}
}

func (s *RecentActivitySync) visibleLocked() []*model.SearchHistory {
	out := make([]*model.SearchHistory, 0, len(s.entries))
	for _, e := range s.entries {
		if _, hidden := s.hidden[e.ID]; hidden {
			continue
		}
		out = append(out, e)
	}
	return out
}
