package cron

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/qs3c/viral_go_server/internal/service"
)

// Sweeper 清理过期的锁定记录，Redis 存储依赖 TTL，不需要
type Sweeper interface {
	Sweep() int
}

type Service struct {
	historyService *service.HistoryService
	sweeper        Sweeper
	logger         *zap.Logger
	now            func() time.Time
	stopChan       chan struct{}
	stopOnce       sync.Once
}

func NewService(historyService *service.HistoryService, sweeper Sweeper, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		historyService: historyService,
		sweeper:        sweeper,
		logger:         logger,
		now:            time.Now,
		stopChan:       make(chan struct{}),
	}
}

// Start 启动定时任务
func (s *Service) Start() {
	go s.runDailyPurge()
	go s.runCleanup()
	s.logger.Info("cron service started (history purge + lockout sweep)")
}

// Stop 停止定时任务，可重复调用
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		s.logger.Info("cron service stopped")
	})
}

// runDailyPurge 每天 UTC 零点清理超过保留期的搜索历史
func (s *Service) runDailyPurge() {
	now := s.now().UTC()
	nextMidnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	timer := time.NewTimer(nextMidnight.Sub(now))

	for {
		select {
		case <-s.stopChan:
			timer.Stop()
			return
		case <-timer.C:
			if _, err := s.RunNow(context.Background()); err != nil {
				s.logger.Error("history purge failed", zap.Error(err))
			}
			timer.Reset(24 * time.Hour)
		}
	}
}

// runCleanup 每小时清理一次内存中的锁定记录
func (s *Service) runCleanup() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.sweepLockouts()
		}
	}
}

func (s *Service) sweepLockouts() int {
	if s.sweeper == nil {
		return 0
	}
	removed := s.sweeper.Sweep()
	if removed > 0 {
		s.logger.Info("lockout sweep finished", zap.Int("removed", removed))
	}
	return removed
}

// RunNow 立即执行一次历史清理（用于测试或手动触发）
func (s *Service) RunNow(ctx context.Context) (int64, error) {
	if s.historyService == nil {
		return 0, nil
	}

	removed, err := s.historyService.Purge(ctx, s.now(), false)
	if err != nil {
		return 0, err
	}
	s.logger.Info("history purge finished",
		zap.Int64("removed", removed),
		zap.Int("retention_days", s.historyService.RetentionDays()))
	return removed, nil
}
