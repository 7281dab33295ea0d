package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/viral_go_server/config"
	"github.com/qs3c/viral_go_server/internal/model"
	"github.com/qs3c/viral_go_server/internal/model/dto"
	"github.com/qs3c/viral_go_server/internal/pkg/cache"
	"github.com/qs3c/viral_go_server/internal/pkg/retrieval"
	"github.com/qs3c/viral_go_server/internal/repository"
	"github.com/qs3c/viral_go_server/internal/testutil"
)

// stubClient 记录调用，可选阻塞直到 release 关闭
type stubClient struct {
	mu       sync.Mutex
	calls    int32
	requests []retrieval.Request
	result   *retrieval.Result
	err      error
	started  chan struct{}
	release  chan struct{}
}

func (c *stubClient) Fetch(ctx context.Context, req retrieval.Request) (*retrieval.Result, error) {
	if atomic.AddInt32(&c.calls, 1) == 1 && c.started != nil {
		close(c.started)
	}

	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()

	if c.release != nil {
		<-c.release
	}
	if c.err != nil {
		return nil, c.err
	}
	return c.result, nil
}

func (c *stubClient) callCount() int {
	return int(atomic.LoadInt32(&c.calls))
}

func (c *stubClient) lastRequest() retrieval.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[len(c.requests)-1]
}

type searchEnv struct {
	db        *gorm.DB
	client    *stubClient
	tracker   *QuotaTracker
	viewCache *cache.Cache
	svc       *SearchOrchestrator
	now       time.Time
}

func setupSearch(t *testing.T, client *stubClient) *searchEnv {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	redisClient, _ := testutil.SetupTestRedis(t)
	viewCache := cache.New(redisClient, time.Minute)

	tracker := NewQuotaTracker(
		repository.NewRequestRepository(db),
		repository.NewUserRepository(db),
		NewPlanResolver(config.SubscriptionConfig{}),
		viewCache,
		nil,
	)

	now := time.Date(2024, 5, 20, 10, 0, 0, 0, time.UTC)
	svc := NewSearchOrchestrator(
		repository.NewHistoryRepository(db, nil),
		repository.NewResultRepository(db),
		tracker,
		client,
		viewCache,
		nil,
		nil,
	).WithClock(func() time.Time { return now })

	return &searchEnv{db: db, client: client, tracker: tracker, viewCache: viewCache, svc: svc, now: now}
}

func samplePosts(n int) []*model.Post {
	posts := make([]*model.Post, n)
	published := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := range posts {
		posts[i] = testutil.TestPost(string(rune('a'+i)), int64(1000*(i+1)), int64(100*(i+1)), int64(10*(i+1)), published)
	}
	return posts
}

func (e *searchEnv) used(t *testing.T, userID int64) int64 {
	t.Helper()
	used, err := e.tracker.CurrentConsumption(context.Background(), userID, e.now)
	require.NoError(t, err)
	return used
}

func TestSearch_QuotaExceeded_NoFetch(t *testing.T) {
	env := setupSearch(t, &stubClient{result: &retrieval.Result{Posts: samplePosts(2)}})
	user := testutil.TestUser(t, env.db, testutil.WithPlan("free"))
	testutil.TestRequests(t, env.db, user.ID, 3, env.now)

	out, err := env.svc.Search(context.Background(), Identity{UserID: user.ID}, &dto.SearchRequest{
		Platform: "instagram",
		Username: "natgeo",
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	var quotaErr *QuotaExceededError
	require.True(t, errors.As(err, &quotaErr))
	assert.Equal(t, "Free", quotaErr.PlanName)
	assert.Equal(t, 3, quotaErr.Ceiling)
	assert.Equal(t, int64(3), quotaErr.Used)

	assert.Equal(t, 0, env.client.callCount())
	assert.False(t, out.Success)
	assert.Equal(t, []State{StateIdle, StateAdmitting, StateSettled}, out.States)
	assert.Equal(t, int64(3), env.used(t, user.ID))
}

func TestSearch_Validation(t *testing.T) {
	tests := []struct {
		name  string
		req   *dto.SearchRequest
		field string
	}{
		{"空请求", nil, "platform"},
		{"未知平台", &dto.SearchRequest{Platform: "youtube", Username: "x"}, "platform"},
		{"空用户名", &dto.SearchRequest{Platform: "instagram", Username: " @ "}, "username"},
		{"批量链接全为空", &dto.SearchRequest{Platform: "tiktok", URLs: []string{" ", ""}}, "urls"},
		{"负数结果数", &dto.SearchRequest{Platform: "instagram", Username: "x", ResultLimit: -1}, "result_limit"},
		{"日期格式错误", &dto.SearchRequest{Platform: "instagram", Username: "x", DateFloor: "05/01/2024"}, "date_floor"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupSearch(t, &stubClient{result: &retrieval.Result{}})
			user := testutil.TestUser(t, env.db, testutil.WithPlan("pro"))

			out, err := env.svc.Search(context.Background(), Identity{UserID: user.ID}, tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)

			var vErr *ValidationError
			require.True(t, errors.As(err, &vErr))
			assert.Equal(t, tt.field, vErr.Field)

			assert.Equal(t, []State{StateIdle, StateSettled}, out.States)
			assert.Equal(t, 0, env.client.callCount())
			assert.Equal(t, int64(0), env.used(t, user.ID))
		})
	}
}

func TestSearch_BulkOverPlanLimit(t *testing.T) {
	env := setupSearch(t, &stubClient{result: &retrieval.Result{}})
	user := testutil.TestUser(t, env.db, testutil.WithPlan("free"))

	_, err := env.svc.Search(context.Background(), Identity{UserID: user.ID}, &dto.SearchRequest{
		Platform: "tiktok",
		URLs:     []string{"https://www.tiktok.com/@a", "https://www.tiktok.com/@b"},
	})

	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, 0, env.client.callCount())
}

func TestSearch_UnknownUser(t *testing.T) {
	env := setupSearch(t, &stubClient{result: &retrieval.Result{}})

	_, err := env.svc.Search(context.Background(), Identity{UserID: 424242}, &dto.SearchRequest{
		Platform: "instagram",
		Username: "natgeo",
	})

	assert.ErrorIs(t, err, ErrSession)
	assert.Equal(t, 0, env.client.callCount())
}

func TestSearch_SuccessPersistsHistory(t *testing.T) {
	posts := samplePosts(3)
	env := setupSearch(t, &stubClient{result: &retrieval.Result{Posts: posts, Dropped: 1}})
	user := testutil.TestUser(t, env.db, testutil.WithPlan("starter"))
	ctx := context.Background()

	// 预先写入视图缓存，搜索结束后应被清除
	require.NoError(t, env.viewCache.Set(ctx, cache.SubscriptionStatusKey(user.ID), map[string]int{"used": 0}))
	require.NoError(t, env.viewCache.Set(ctx, cache.SearchHistoryKey(user.ID), []string{}))

	out, err := env.svc.Search(ctx, Identity{UserID: user.ID}, &dto.SearchRequest{
		Platform:    "instagram",
		Username:    "@natgeo",
		ResultLimit: 20,
		DateFloor:   "2024-04-01",
	})
	require.NoError(t, err)

	assert.True(t, out.Success)
	assert.NotEmpty(t, out.AttemptID)
	assert.Equal(t, []State{StateIdle, StateAdmitting, StateDispatching, StatePersisting, StateSettled}, out.States)
	assert.Len(t, out.Posts, 3)
	assert.Equal(t, 1, out.Dropped)
	assert.True(t, out.HistorySaved)
	require.NotEmpty(t, out.HistoryID)
	require.NotNil(t, out.Admission)
	assert.Equal(t, int64(0), out.Admission.Used)

	req := env.client.lastRequest()
	assert.Equal(t, []string{"natgeo"}, req.Targets)
	assert.Equal(t, 20, req.ResultLimit)
	assert.Equal(t, "2024-04-01", req.DateFloor)

	var entry model.SearchHistory
	require.NoError(t, env.db.Where("id = ?", out.HistoryID).First(&entry).Error)
	assert.Equal(t, "natgeo", entry.SearchQuery)
	assert.Equal(t, user.ID, entry.UserID)

	saved, err := repository.NewResultRepository(env.db).GetPosts(ctx, out.HistoryID)
	require.NoError(t, err)
	assert.Len(t, saved, 3)

	assert.Equal(t, int64(1), env.used(t, user.ID))

	var dest interface{}
	assert.ErrorIs(t, env.viewCache.Get(ctx, cache.SubscriptionStatusKey(user.ID), &dest), cache.ErrMiss)
	assert.ErrorIs(t, env.viewCache.Get(ctx, cache.SearchHistoryKey(user.ID), &dest), cache.ErrMiss)
}

func TestSearch_ResultLimitClampedToPlan(t *testing.T) {
	env := setupSearch(t, &stubClient{result: &retrieval.Result{}})
	user := testutil.TestUser(t, env.db, testutil.WithPlan("free"))
	ctx := context.Background()

	_, err := env.svc.Search(ctx, Identity{UserID: user.ID}, &dto.SearchRequest{Platform: "instagram", Username: "a", ResultLimit: 50})
	require.NoError(t, err)
	assert.Equal(t, 10, env.client.lastRequest().ResultLimit)

	// 0 表示使用套餐上限
	_, err = env.svc.Search(ctx, Identity{UserID: user.ID}, &dto.SearchRequest{Platform: "instagram", Username: "b"})
	require.NoError(t, err)
	assert.Equal(t, 10, env.client.lastRequest().ResultLimit)

	_, err = env.svc.Search(ctx, Identity{UserID: user.ID}, &dto.SearchRequest{Platform: "instagram", Username: "c", ResultLimit: 5})
	require.NoError(t, err)
	assert.Equal(t, 5, env.client.lastRequest().ResultLimit)
}

func TestSearch_EmptyResultsConsumeQuotaWithoutHistory(t *testing.T) {
	env := setupSearch(t, &stubClient{result: &retrieval.Result{Posts: nil}})
	user := testutil.TestUser(t, env.db, testutil.WithPlan("pro"))

	out, err := env.svc.Search(context.Background(), Identity{UserID: user.ID}, &dto.SearchRequest{
		Platform: "tiktok",
		Username: "nobody",
	})
	require.NoError(t, err)

	assert.True(t, out.Success)
	assert.NotNil(t, out.Posts)
	assert.Empty(t, out.Posts)
	assert.Empty(t, out.HistoryID)
	assert.False(t, out.HistorySaved)
	assert.Equal(t, []State{StateIdle, StateAdmitting, StateDispatching, StateSettled}, out.States)
	assert.Equal(t, int64(1), env.used(t, user.ID))

	var count int64
	env.db.Model(&model.SearchHistory{}).Count(&count)
	assert.Equal(t, int64(0), count)

	var req model.UserRequest
	require.NoError(t, env.db.First(&req).Error)
	assert.Equal(t, RequestTypeTikTok, req.RequestType)
}

func TestSearch_HistoryDisabledPlan(t *testing.T) {
	env := setupSearch(t, &stubClient{result: &retrieval.Result{Posts: samplePosts(2)}})
	user := testutil.TestUser(t, env.db, testutil.WithPlan("free"))

	out, err := env.svc.Search(context.Background(), Identity{UserID: user.ID}, &dto.SearchRequest{
		Platform: "instagram",
		Username: "natgeo",
	})
	require.NoError(t, err)

	assert.Len(t, out.Posts, 2)
	assert.False(t, out.HistorySaved)
	assert.NotContains(t, out.States, StatePersisting)
	assert.Equal(t, int64(1), env.used(t, user.ID))

	var count int64
	env.db.Model(&model.SearchHistory{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestSearch_BulkDedupesTargets(t *testing.T) {
	env := setupSearch(t, &stubClient{result: &retrieval.Result{Posts: samplePosts(1)}})
	user := testutil.TestUser(t, env.db, testutil.WithPlan("starter"))

	out, err := env.svc.Search(context.Background(), Identity{UserID: user.ID}, &dto.SearchRequest{
		Platform: "tiktok",
		URLs:     []string{"https://www.tiktok.com/@a", " https://www.tiktok.com/@a ", "https://www.tiktok.com/@b", ""},
	})
	require.NoError(t, err)

	want := []string{"https://www.tiktok.com/@a", "https://www.tiktok.com/@b"}
	assert.Equal(t, want, env.client.lastRequest().Targets)

	var entry model.SearchHistory
	require.NoError(t, env.db.Where("id = ?", out.HistoryID).First(&entry).Error)
	assert.Equal(t, want, []string(entry.BulkSearchURLs))
	assert.Equal(t, "https://www.tiktok.com/@a, https://www.tiktok.com/@b", entry.SearchQuery)

	var req model.UserRequest
	require.NoError(t, env.db.First(&req).Error)
	assert.Equal(t, RequestTypeBulk, req.RequestType)
}

func TestSearch_ExternalError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		message string
	}{
		{"凭证", retrieval.ErrAuth, "检索服务凭证无效，请联系管理员"},
		{"账号不存在", retrieval.ErrTargetNotFound, "未找到该账号，请检查用户名或链接"},
		{"限流", retrieval.ErrRateLimited, "检索服务请求过于频繁，请稍后重试"},
		{"其他", retrieval.ErrUpstream, "检索服务暂时不可用，请稍后重试"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupSearch(t, &stubClient{err: tt.err})
			user := testutil.TestUser(t, env.db, testutil.WithPlan("pro"))

			out, err := env.svc.Search(context.Background(), Identity{UserID: user.ID}, &dto.SearchRequest{
				Platform: "instagram",
				Username: "natgeo",
			})
			require.Error(t, err)

			assert.ErrorIs(t, err, ErrExternalService)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.message, err.Error())
			assert.False(t, out.Success)
			assert.Equal(t, []State{StateIdle, StateAdmitting, StateDispatching, StateSettled}, out.States)
			assert.Equal(t, 1, env.client.callCount())
			// 外部失败不计入消耗
			assert.Equal(t, int64(0), env.used(t, user.ID))
		})
	}
}

func TestSearch_ResultsWriteFailureLeavesOrphan(t *testing.T) {
	env := setupSearch(t, &stubClient{result: &retrieval.Result{Posts: samplePosts(2)}})
	user := testutil.TestUser(t, env.db, testutil.WithPlan("pro"))
	require.NoError(t, env.db.Migrator().DropTable(&model.SearchResult{}))

	out, err := env.svc.Search(context.Background(), Identity{UserID: user.ID}, &dto.SearchRequest{
		Platform: "instagram",
		Username: "natgeo",
	})
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrPersistence)
	assert.False(t, out.Success)
	assert.False(t, out.HistorySaved)
	assert.Equal(t, []State{StateIdle, StateAdmitting, StateDispatching, StatePersisting, StateSettled}, out.States)
	require.NotEmpty(t, out.HistoryID)

	// 历史保留，不回滚
	var count int64
	env.db.Model(&model.SearchHistory{}).Where("id = ?", out.HistoryID).Count(&count)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, int64(1), env.used(t, user.ID))
}

func TestSearch_HistoryWriteFailureStillReturnsPosts(t *testing.T) {
	env := setupSearch(t, &stubClient{result: &retrieval.Result{Posts: samplePosts(2)}})
	user := testutil.TestUser(t, env.db, testutil.WithPlan("pro"))
	require.NoError(t, env.db.Migrator().DropTable(&model.SearchHistory{}))

	out, err := env.svc.Search(context.Background(), Identity{UserID: user.ID}, &dto.SearchRequest{
		Platform: "instagram",
		Username: "natgeo",
	})
	require.NoError(t, err)

	assert.True(t, out.Success)
	assert.Len(t, out.Posts, 2)
	assert.Empty(t, out.HistoryID)
	assert.False(t, out.HistorySaved)
	assert.Equal(t, int64(1), env.used(t, user.ID))
}

func TestSearch_ConcurrentIdenticalRequestsShareCall(t *testing.T) {
	client := &stubClient{
		result:  &retrieval.Result{Posts: samplePosts(1)},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	env := setupSearch(t, client)
	user := testutil.TestUser(t, env.db, testutil.WithPlan("pro"))
	req := &dto.SearchRequest{Platform: "instagram", Username: "natgeo"}

	var wg sync.WaitGroup
	outs := make([]*SearchOutcome, 2)
	errs := make([]error, 2)
	run := func(i int) {
		defer wg.Done()
		outs[i], errs[i] = env.svc.Search(context.Background(), Identity{UserID: user.ID}, req)
	}

	wg.Add(1)
	go run(0)
	<-client.started

	wg.Add(1)
	go run(1)
	// 等第二个调用进入 singleflight
	time.Sleep(200 * time.Millisecond)
	close(client.release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, 1, client.callCount())
	assert.True(t, outs[0].Shared || outs[1].Shared)
	assert.Equal(t, outs[0].HistoryID, outs[1].HistoryID)
	assert.NotEqual(t, outs[0].AttemptID, outs[1].AttemptID)
	assert.Equal(t, int64(1), env.used(t, user.ID))
}

func TestSearch_CallerCancelled(t *testing.T) {
	client := &stubClient{
		result:  &retrieval.Result{Posts: samplePosts(1)},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	env := setupSearch(t, client)
	user := testutil.TestUser(t, env.db, testutil.WithPlan("pro"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := env.svc.Search(ctx, Identity{UserID: user.ID}, &dto.SearchRequest{Platform: "instagram", Username: "natgeo"})
		done <- err
	}()

	<-client.started
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	// 调用方放弃后共享调用仍然完成并计入消耗
	close(client.release)
	assert.Eventually(t, func() bool {
		used, err := env.tracker.CurrentConsumption(context.Background(), user.ID, env.now)
		return err == nil && used == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("abc", 2))
	assert.Equal(t, "搜索", truncate("搜索历史", 2))
}
