package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/qs3c/viral_go_server/config"
	"github.com/qs3c/viral_go_server/internal/api"
	"github.com/qs3c/viral_go_server/internal/api/handler"
	"github.com/qs3c/viral_go_server/internal/database"
	"github.com/qs3c/viral_go_server/internal/pkg/cache"
	"github.com/qs3c/viral_go_server/internal/pkg/cron"
	"github.com/qs3c/viral_go_server/internal/pkg/logger"
	"github.com/qs3c/viral_go_server/internal/pkg/metrics"
	"github.com/qs3c/viral_go_server/internal/pkg/pubsub"
	"github.com/qs3c/viral_go_server/internal/pkg/ratelimit"
	"github.com/qs3c/viral_go_server/internal/pkg/retrieval"
	"github.com/qs3c/viral_go_server/internal/pkg/ws"
	"github.com/qs3c/viral_go_server/internal/repository"
	"github.com/qs3c/viral_go_server/internal/service"
)

const cacheTTL = 5 * time.Minute

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	// 加载配置
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zl, err := logger.New(cfg.Log, cfg.Server.Mode)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zl.Sync()
	zap.ReplaceGlobals(zl)

	// 初始化数据库
	db, err := database.Open(&cfg.Database)
	if err != nil {
		zl.Fatal("failed to connect database", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		zl.Fatal("failed to migrate database", zap.Error(err))
	}
	zl.Info("database connected", zap.String("driver", cfg.Database.Driver))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis 可选：不可用时退化为单进程模式（本地分发、内存锁定、无缓存）
	var rdb *redis.Client
	if cfg.Redis.Host != "" {
		rdb, err = database.NewRedis(&cfg.Redis)
		if err != nil {
			zl.Warn("redis unavailable, running single-process mode", zap.Error(err))
			rdb = nil
		} else {
			zl.Info("redis connected")
		}
	}

	feed := pubsub.NewFeed()
	var (
		notifier  repository.ChangeNotifier = feed
		viewCache *cache.Cache
		store     ratelimit.Store
		sweeper   cron.Sweeper
	)
	if rdb != nil {
		notifier = pubsub.NewPublisher(rdb)
		viewCache = cache.New(rdb, cacheTTL)
		store = ratelimit.NewRedisStore(rdb)
	} else {
		memStore := ratelimit.NewMemoryStore()
		store = memStore
		sweeper = memStore
	}

	collector, err := metrics.NewCollector()
	if err != nil {
		zl.Fatal("failed to init metrics", zap.Error(err))
	}

	// 初始化 WebSocket Hub
	wsHub := ws.NewHub(zl.Named("ws"))
	if err := collector.RegisterConnections(wsHub.ConnectionCount); err != nil {
		zl.Fatal("failed to register websocket gauge", zap.Error(err))
	}

	// 初始化 Repository
	userRepo := repository.NewUserRepository(db)
	historyRepo := repository.NewHistoryRepository(db, notifier)
	resultRepo := repository.NewResultRepository(db)
	requestRepo := repository.NewRequestRepository(db)

	retrievalClient := retrieval.NewHTTPClient(retrieval.Config{
		BaseURL: cfg.Retrieval.BaseURL,
		Token:   cfg.Retrieval.Token,
		Timeout: time.Duration(cfg.Retrieval.TimeoutSeconds) * time.Second,
		Actors:  cfg.Retrieval.Actors,
	})

	limiter := ratelimit.NewLimiter(store, ratelimit.Config{
		MaxAttempts:     cfg.RateLimit.MaxAttempts,
		LockoutDuration: time.Duration(cfg.RateLimit.LockoutSeconds) * time.Second,
		PollInterval:    time.Duration(cfg.RateLimit.PollIntervalMS) * time.Millisecond,
		TrustedLocal:    cfg.Server.TrustedLocal,
	})

	// 初始化 Service
	plans := service.NewPlanResolver(cfg.Subscription)
	authService := service.NewAuthService(userRepo, cfg)
	quotaTracker := service.NewQuotaTracker(requestRepo, userRepo, plans, viewCache, zl.Named("quota"))
	orchestrator := service.NewSearchOrchestrator(historyRepo, resultRepo, quotaTracker, retrievalClient, viewCache, collector, zl.Named("search"))
	historyService := service.NewHistoryService(historyRepo, resultRepo, viewCache, cfg.History.RetentionDays, zl.Named("history"))

	// 跨进程变更经 Redis 回到本进程，先失效缓存再分发给连接
	if rdb != nil {
		subscriber := pubsub.NewSubscriber(rdb)
		go func() {
			err := subscriber.Subscribe(ctx, historyService.HandleChange(feed.Dispatch))
			if err != nil && !errors.Is(err, context.Canceled) {
				zl.Error("change subscription stopped", zap.Error(err))
			}
		}()
	}

	// 初始化 Handler
	authHandler := handler.NewAuthHandler(authService, limiter)
	searchHandler := handler.NewSearchHandler(orchestrator, quotaTracker, wsHub, zl.Named("search"))
	historyHandler := handler.NewHistoryHandler(historyService, cfg.History.RecentLimit)
	planHandler := handler.NewPlanHandler(plans, quotaTracker)
	websocketHandler := handler.NewWebSocketHandler(
		wsHub,
		historyService,
		feed,
		cfg.JWT.Secret,
		cfg.History.RecentLimit,
		cfg.CORS.AllowedOrigins,
		zl.Named("ws"),
	)

	// 初始化 Router
	router := api.NewRouter(
		authHandler,
		searchHandler,
		historyHandler,
		planHandler,
		websocketHandler,
		limiter,
		collector,
		zl,
		cfg,
	)
	engine := router.Setup()

	cronService := cron.NewService(historyService, sweeper, zl.Named("cron"))
	cronService.Start()
	defer cronService.Stop()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: engine}

	go func() {
		zl.Info("server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("failed to start server", zap.Error(err))
		}
	}()

	// 监听退出信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	zl.Info("received shutdown signal")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("server shutdown failed", zap.Error(err))
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	zl.Info("server stopped")
}
