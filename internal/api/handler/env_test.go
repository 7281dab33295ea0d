package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/viral_go_server/config"
	"github.com/qs3c/viral_go_server/internal/api/middleware"
	"github.com/qs3c/viral_go_server/internal/pkg/jwt"
	"github.com/qs3c/viral_go_server/internal/pkg/pubsub"
	"github.com/qs3c/viral_go_server/internal/pkg/ratelimit"
	"github.com/qs3c/viral_go_server/internal/pkg/response"
	"github.com/qs3c/viral_go_server/internal/pkg/retrieval"
	"github.com/qs3c/viral_go_server/internal/pkg/ws"
	"github.com/qs3c/viral_go_server/internal/repository"
	"github.com/qs3c/viral_go_server/internal/service"
	"github.com/qs3c/viral_go_server/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testJWTSecret = "test-secret-key"

type stubRetrieval struct {
	mu     sync.Mutex
	calls  int
	result *retrieval.Result
	err    error
}

func (s *stubRetrieval) Fetch(ctx context.Context, req retrieval.Request) (*retrieval.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func (s *stubRetrieval) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	db          *gorm.DB
	cfg         *config.Config
	retrieval   *stubRetrieval
	clock       *manualClock
	feed        *pubsub.Feed
	hub         *ws.Hub
	historyRepo *repository.HistoryRepository
	router      *gin.Engine
}

// setupEnv 组装与生产一致的路由，使用 SQLite 内存库和本地变更分发
func setupEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	cfg := config.Default()
	cfg.JWT.Secret = testJWTSecret

	feed := pubsub.NewFeed()
	historyRepo := repository.NewHistoryRepository(db, feed)
	resultRepo := repository.NewResultRepository(db)
	userRepo := repository.NewUserRepository(db)

	plans := service.NewPlanResolver(cfg.Subscription)
	quota := service.NewQuotaTracker(repository.NewRequestRepository(db), userRepo, plans, nil, nil)
	stub := &stubRetrieval{result: &retrieval.Result{}}
	hub := ws.NewHub(nil)
	orchestrator := service.NewSearchOrchestrator(historyRepo, resultRepo, quota, stub, nil, nil, nil)
	historySvc := service.NewHistoryService(historyRepo, resultRepo, nil, cfg.History.RetentionDays, nil)

	clock := &manualClock{now: time.Date(2024, 5, 20, 10, 0, 0, 0, time.UTC)}
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore().WithClock(clock.Now), ratelimit.Config{
		MaxAttempts:     5,
		LockoutDuration: time.Minute,
		PollInterval:    10 * time.Millisecond,
	}).WithClock(clock.Now)

	authHandler := NewAuthHandler(service.NewAuthService(userRepo, cfg), limiter)
	searchHandler := NewSearchHandler(orchestrator, quota, hub, nil)
	historyHandler := NewHistoryHandler(historySvc, cfg.History.RecentLimit)
	planHandler := NewPlanHandler(plans, quota)
	wsHandler := NewWebSocketHandler(hub, historySvc, feed, testJWTSecret, 5, cfg.CORS.AllowedOrigins, nil)

	router := gin.New()
	api := router.Group("/api/v1")
	api.GET("/ws", wsHandler.Handle)
	api.GET("/plans", middleware.OptionalAuth(testJWTSecret), planHandler.List)
	api.POST("/auth/register", middleware.Lockout(limiter, ActionRegister, nil, nil), authHandler.Register)
	api.POST("/auth/login", middleware.Lockout(limiter, ActionLogin, nil, nil), authHandler.Login)
	api.GET("/auth/lockout", authHandler.LockoutStatus)
	api.GET("/auth/lockout/stream", authHandler.LockoutStream)

	authed := api.Group("", middleware.Auth(testJWTSecret))
	authed.GET("/user/profile", authHandler.Profile)
	authed.GET("/user/subscription-status", planHandler.SubscriptionStatus)
	authed.POST("/searches", searchHandler.Create)
	authed.GET("/history", historyHandler.List)
	authed.GET("/history/recent", historyHandler.Recent)
	authed.GET("/history/:id/results", historyHandler.Detail)
	authed.DELETE("/history/:id", historyHandler.Delete)

	return &testEnv{
		db:          db,
		cfg:         cfg,
		retrieval:   stub,
		clock:       clock,
		feed:        feed,
		hub:         hub,
		historyRepo: historyRepo,
		router:      router,
	}
}

func (e *testEnv) token(t *testing.T, userID int64) string {
	t.Helper()
	token, err := jwt.GenerateToken(userID, testJWTSecret, 24)
	require.NoError(t, err)
	return token
}

func performRequest(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	return performAuthRequest(r, method, path, body, "")
}

func performAuthRequest(r http.Handler, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBytes)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "192.0.2.10:4321"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func parseResponse(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	var resp response.Response
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	return resp
}

// decodeData 把 response.Data 重新解码为具体类型
func decodeData(t *testing.T, resp response.Response, dest interface{}) {
	t.Helper()
	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, dest))
}
