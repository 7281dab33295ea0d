package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/qs3c/viral_go_server/internal/model"
	"github.com/qs3c/viral_go_server/internal/model/dto"
	"github.com/qs3c/viral_go_server/internal/pkg/cache"
	"github.com/qs3c/viral_go_server/internal/pkg/metrics"
	"github.com/qs3c/viral_go_server/internal/pkg/retrieval"
	"github.com/qs3c/viral_go_server/internal/repository"
)

// State 一次搜索的状态机
type State string

const (
	StateIdle        State = "idle"
	StateAdmitting   State = "admitting"
	StateDispatching State = "dispatching"
	StatePersisting  State = "persisting"
	StateSettled     State = "settled"
)

const maxQueryLength = 500

// Identity 会话身份，只读
type Identity struct {
	UserID int64
}

// SearchOutcome 一次搜索的结果，失败时也会返回，用于观察状态轨迹
type SearchOutcome struct {
	AttemptID    string
	States       []State
	Success      bool
	Admission    *Admission
	Posts        []*model.Post
	Dropped      int
	HistoryID    string
	HistorySaved bool
	// Shared 是否复用了相同请求的进行中调用
	Shared bool
}

func (o *SearchOutcome) enter(s State) {
	o.States = append(o.States, s)
}

func (o *SearchOutcome) settle(success bool) {
	o.Success = success
	o.enter(StateSettled)
}

// searchPlan 校验后的请求
type searchPlan struct {
	platform    string
	targets     []string
	bulk        bool
	query       string
	resultLimit int
	dateFloor   string
}

func (p *searchPlan) dedupKey(userID int64) string {
	return fmt.Sprintf("%d|%s|%s|%d|%s", userID, p.platform, strings.Join(p.targets, ","), p.resultLimit, p.dateFloor)
}

// dispatchResult singleflight 共享的调用结果
type dispatchResult struct {
	posts        []*model.Post
	dropped      int
	persisted    bool // 是否进入了持久化阶段
	historyID    string
	historySaved bool
}

type SearchOrchestrator struct {
	history *repository.HistoryRepository
	results *repository.ResultRepository
	quota   *QuotaTracker
	client  retrieval.Client
	cache   *cache.Cache
	metrics *metrics.Collector
	logger  *zap.Logger
	group   singleflight.Group
	now     func() time.Time
}

func NewSearchOrchestrator(
	history *repository.HistoryRepository,
	results *repository.ResultRepository,
	quota *QuotaTracker,
	client retrieval.Client,
	viewCache *cache.Cache,
	collector *metrics.Collector,
	logger *zap.Logger,
) *SearchOrchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SearchOrchestrator{
		history: history,
		results: results,
		quota:   quota,
		client:  client,
		cache:   viewCache,
		metrics: collector,
		logger:  logger,
		now:     time.Now,
	}
}

// WithClock 替换时钟（测试用）
func (s *SearchOrchestrator) WithClock(now func() time.Time) *SearchOrchestrator {
	s.now = now
	return s
}

// Search Idle -> Admitting -> Dispatching -> Persisting -> Settled
// 准入是乐观的：统计和调用之间没有事务，相同请求只通过 singleflight 合并
func (s *SearchOrchestrator) Search(ctx context.Context, id Identity, req *dto.SearchRequest) (*SearchOutcome, error) {
	out := &SearchOutcome{AttemptID: uuid.NewString()}
	out.enter(StateIdle)

	plan, err := validateSearch(req)
	if err != nil {
		out.settle(false)
		s.metrics.ObserveSearch("invalid", metrics.OutcomeValidation)
		return out, err
	}

	limits, err := s.quota.PlanFor(ctx, id.UserID)
	if err != nil {
		out.settle(false)
		return out, err
	}
	if err := applyPlanLimits(plan, limits); err != nil {
		out.settle(false)
		s.metrics.ObserveSearch(plan.platform, metrics.OutcomeValidation)
		return out, err
	}

	out.enter(StateAdmitting)
	now := s.now()
	adm, err := s.quota.Admit(ctx, id.UserID, limits, now)
	if err != nil {
		out.settle(false)
		return out, persistenceError(err)
	}
	out.Admission = adm
	if !adm.Allowed {
		out.settle(false)
		s.metrics.ObserveSearch(plan.platform, metrics.OutcomeQuota)
		return out, &QuotaExceededError{PlanName: adm.PlanName, Ceiling: adm.Ceiling, Used: adm.Used}
	}

	out.enter(StateDispatching)
	// 共享调用不随单个调用方取消
	ch := s.group.DoChan(plan.dedupKey(id.UserID), func() (interface{}, error) {
		return s.dispatch(context.WithoutCancel(ctx), id.UserID, plan, limits)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		out.settle(false)
		return out, ctx.Err()
	}
	out.Shared = res.Shared

	dr, _ := res.Val.(*dispatchResult)
	if dr != nil {
		out.Posts = dr.posts
		out.Dropped = dr.dropped
		out.HistoryID = dr.historyID
		out.HistorySaved = dr.historySaved
		if dr.persisted {
			out.enter(StatePersisting)
		}
	}

	if res.Err != nil {
		out.settle(false)
		var extErr *ExternalServiceError
		if errors.As(res.Err, &extErr) {
			s.metrics.ObserveSearch(plan.platform, metrics.OutcomeExternal)
		} else {
			s.metrics.ObserveSearch(plan.platform, metrics.OutcomePersist)
		}
		return out, res.Err
	}

	out.settle(true)
	if len(out.Posts) == 0 {
		s.metrics.ObserveSearch(plan.platform, metrics.OutcomeEmpty)
	} else {
		s.metrics.ObserveSearch(plan.platform, metrics.OutcomeSuccess)
	}
	return out, nil
}

func (s *SearchOrchestrator) dispatch(ctx context.Context, userID int64, plan *searchPlan, limits PlanLimits) (*dispatchResult, error) {
	start := time.Now()
	fetched, err := s.client.Fetch(ctx, retrieval.Request{
		Platform:    plan.platform,
		Targets:     plan.targets,
		ResultLimit: plan.resultLimit,
		DateFloor:   plan.dateFloor,
	})
	s.metrics.ObserveRetrieval(plan.platform, time.Since(start))
	if err != nil {
		s.logger.Warn("retrieval failed",
			zap.Int64("user_id", userID),
			zap.String("platform", plan.platform),
			zap.Error(err))
		return nil, &ExternalServiceError{Err: err}
	}

	res := &dispatchResult{posts: fetched.Posts, dropped: fetched.Dropped}
	if res.posts == nil {
		res.posts = []*model.Post{}
	}

	var persistErr error
	if len(res.posts) > 0 && limits.HistoryEnabled {
		res.persisted = true
		persistErr = s.persist(ctx, userID, plan, res)
	}

	// 已经向外部服务发出了请求，即使结果为空也计入消耗
	now := s.now()
	if err := s.quota.RecordConsumption(ctx, userID, RequestTypeFor(plan.platform, plan.bulk), now); err != nil {
		s.logger.Error("failed to record consumption",
			zap.Int64("user_id", userID),
			zap.String("history_id", res.historyID),
			zap.Error(err))
	}

	if err := s.cache.Invalidate(ctx, cache.SubscriptionStatusKey(userID), cache.SearchHistoryKey(userID)); err != nil {
		s.logger.Warn("failed to invalidate views", zap.Int64("user_id", userID), zap.Error(err))
	}

	return res, persistErr
}

// persist 先写历史再写结果集
// 历史写入失败只记日志，结果仍返回；结果集写入失败则整体失败，已写入的历史保留不回滚
func (s *SearchOrchestrator) persist(ctx context.Context, userID int64, plan *searchPlan, res *dispatchResult) error {
	entry := &model.SearchHistory{
		ID:          uuid.NewString(),
		UserID:      userID,
		Platform:    plan.platform,
		SearchQuery: plan.query,
		ResultLimit: plan.resultLimit,
		DateFloor:   plan.dateFloor,
		CreatedAt:   s.now().UTC(),
	}
	if plan.bulk {
		entry.BulkSearchURLs = model.StringArray(plan.targets)
	}

	if err := s.history.Create(ctx, entry); err != nil {
		s.logger.Error("failed to save search history",
			zap.Int64("user_id", userID),
			zap.Error(err))
		return nil
	}
	res.historyID = entry.ID

	if err := s.results.Create(ctx, entry.ID, res.posts); err != nil {
		s.logger.Error("failed to save search results, history entry left without results",
			zap.Int64("user_id", userID),
			zap.String("history_id", entry.ID),
			zap.Error(err))
		return persistenceError(err)
	}

	res.historySaved = true
	return nil
}

// validateSearch 与套餐无关的校验
func validateSearch(req *dto.SearchRequest) (*searchPlan, error) {
	if req == nil {
		return nil, invalid("platform", "请求不能为空")
	}

	platform := strings.ToLower(strings.TrimSpace(req.Platform))
	if platform != model.PlatformInstagram && platform != model.PlatformTikTok {
		return nil, invalid("platform", "不支持的平台")
	}

	plan := &searchPlan{platform: platform, resultLimit: req.ResultLimit}

	if req.IsBulk() {
		seen := make(map[string]struct{}, len(req.URLs))
		for _, u := range req.URLs {
			u = strings.TrimSpace(u)
			if u == "" {
				continue
			}
			if _, ok := seen[u]; ok {
				continue
			}
			seen[u] = struct{}{}
			plan.targets = append(plan.targets, u)
		}
		if len(plan.targets) == 0 {
			return nil, invalid("urls", "请至少提供一个主页链接")
		}
		plan.bulk = true
		plan.query = truncate(strings.Join(plan.targets, ", "), maxQueryLength)
	} else {
		username := strings.TrimPrefix(strings.TrimSpace(req.Username), "@")
		username = strings.TrimSpace(username)
		if username == "" {
			return nil, invalid("username", "请输入用户名")
		}
		plan.targets = []string{username}
		plan.query = truncate(username, maxQueryLength)
	}

	if req.ResultLimit < 0 {
		return nil, invalid("result_limit", "结果数量必须大于 0")
	}

	if floor := strings.TrimSpace(req.DateFloor); floor != "" {
		if _, err := time.Parse("2006-01-02", floor); err != nil {
			return nil, invalid("date_floor", "日期格式应为 YYYY-MM-DD")
		}
		plan.dateFloor = floor
	}

	return plan, nil
}

// applyPlanLimits 批量数量上限和单账号结果数裁剪
func applyPlanLimits(plan *searchPlan, limits PlanLimits) error {
	if plan.bulk && len(plan.targets) > limits.BulkSearchMaxProfiles {
		return invalid("urls", fmt.Sprintf("%s套餐最多同时搜索 %d 个主页", limits.DisplayName, limits.BulkSearchMaxProfiles))
	}

	if plan.resultLimit == 0 || plan.resultLimit > limits.MaxResultsPerProfile {
		plan.resultLimit = limits.MaxResultsPerProfile
	}
	return nil
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
