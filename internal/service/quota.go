package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/viral_go_server/internal/model"
	"github.com/qs3c/viral_go_server/internal/model/dto"
	"github.com/qs3c/viral_go_server/internal/pkg/cache"
	"github.com/qs3c/viral_go_server/internal/repository"
)

// 配额消耗类型，全部计入同一个月度上限
const (
	RequestTypeInstagram = "instagram_search"
	RequestTypeTikTok    = "tiktok_search"
	RequestTypeBulk      = "bulk_search"
)

// RequestTypeFor 根据平台和是否批量得到消耗类型
func RequestTypeFor(platform string, bulk bool) string {
	if bulk {
		return RequestTypeBulk
	}
	if platform == model.PlatformTikTok {
		return RequestTypeTikTok
	}
	return RequestTypeInstagram
}

// Admission 准入结果，仅作参考；权威数值在下次读取时重新统计
type Admission struct {
	Allowed  bool
	Used     int64
	Ceiling  int
	PlanName string
	Reason   string
}

// BillingPeriod now 所在的 UTC 自然月 [start, end)
func BillingPeriod(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

type QuotaTracker struct {
	requests *repository.RequestRepository
	users    *repository.UserRepository
	plans    *PlanResolver
	cache    *cache.Cache
	logger   *zap.Logger
}

func NewQuotaTracker(
	requests *repository.RequestRepository,
	users *repository.UserRepository,
	plans *PlanResolver,
	viewCache *cache.Cache,
	logger *zap.Logger,
) *QuotaTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QuotaTracker{
		requests: requests,
		users:    users,
		plans:    plans,
		cache:    viewCache,
		logger:   logger,
	}
}

// CurrentConsumption 当前计费周期内的消耗次数，没有记录时为 0
func (t *QuotaTracker) CurrentConsumption(ctx context.Context, userID int64, now time.Time) (int64, error) {
	start, end := BillingPeriod(now)
	return t.requests.CountInRange(ctx, userID, start, end)
}

// Admit used >= ceiling 时拒绝
func (t *QuotaTracker) Admit(ctx context.Context, userID int64, limits PlanLimits, now time.Time) (*Admission, error) {
	used, err := t.CurrentConsumption(ctx, userID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to count consumption: %w", err)
	}

	adm := &Admission{
		Allowed:  used < int64(limits.MonthlyRequests),
		Used:     used,
		Ceiling:  limits.MonthlyRequests,
		PlanName: limits.DisplayName,
	}
	if !adm.Allowed {
		adm.Reason = "quota_exceeded"
	}
	return adm, nil
}

// RecordConsumption 追加一条消耗记录
func (t *QuotaTracker) RecordConsumption(ctx context.Context, userID int64, requestType string, now time.Time) error {
	start, end := BillingPeriod(now)
	return t.requests.Create(ctx, &model.UserRequest{
		UserID:      userID,
		RequestType: requestType,
		CreatedAt:   now.UTC(),
		PeriodStart: start,
		PeriodEnd:   end,
	})
}

// PlanFor 读取用户套餐
func (t *QuotaTracker) PlanFor(ctx context.Context, userID int64) (PlanLimits, error) {
	user, err := t.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return PlanLimits{}, ErrSession
		}
		return PlanLimits{}, err
	}
	return t.plans.Resolve(user.PlanID), nil
}

// Status 当前周期的配额视图，优先读缓存
func (t *QuotaTracker) Status(ctx context.Context, userID int64, now time.Time) (*dto.SubscriptionStatus, error) {
	key := cache.SubscriptionStatusKey(userID)

	var cached dto.SubscriptionStatus
	if err := t.cache.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	} else if !errors.Is(err, cache.ErrMiss) {
		t.logger.Warn("failed to read subscription status cache", zap.Int64("user_id", userID), zap.Error(err))
	}

	limits, err := t.PlanFor(ctx, userID)
	if err != nil {
		return nil, err
	}

	used, err := t.CurrentConsumption(ctx, userID, now)
	if err != nil {
		return nil, err
	}

	remaining := int64(limits.MonthlyRequests) - used
	if remaining < 0 {
		remaining = 0
	}

	start, end := BillingPeriod(now)
	status := &dto.SubscriptionStatus{
		Plan:        limits.ToInfo(),
		Ceiling:     limits.MonthlyRequests,
		Used:        used,
		Remaining:   remaining,
		PeriodStart: start.Format(time.RFC3339),
		PeriodEnd:   end.Format(time.RFC3339),
	}

	if err := t.cache.Set(ctx, key, status); err != nil {
		t.logger.Warn("failed to write subscription status cache", zap.Int64("user_id", userID), zap.Error(err))
	}
	return status, nil
}
