package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/qs3c/viral_go_server/config"
	"github.com/qs3c/viral_go_server/internal/api/handler"
	"github.com/qs3c/viral_go_server/internal/api/middleware"
	"github.com/qs3c/viral_go_server/internal/pkg/metrics"
	"github.com/qs3c/viral_go_server/internal/pkg/ratelimit"
)

type Router struct {
	authHandler      *handler.AuthHandler
	searchHandler    *handler.SearchHandler
	historyHandler   *handler.HistoryHandler
	planHandler      *handler.PlanHandler
	websocketHandler *handler.WebSocketHandler
	limiter          *ratelimit.Limiter
	metrics          *metrics.Collector
	logger           *zap.Logger
	cfg              *config.Config
}

func NewRouter(
	authHandler *handler.AuthHandler,
	searchHandler *handler.SearchHandler,
	historyHandler *handler.HistoryHandler,
	planHandler *handler.PlanHandler,
	websocketHandler *handler.WebSocketHandler,
	limiter *ratelimit.Limiter,
	collector *metrics.Collector,
	logger *zap.Logger,
	cfg *config.Config,
) *Router {
	return &Router{
		authHandler:      authHandler,
		searchHandler:    searchHandler,
		historyHandler:   historyHandler,
		planHandler:      planHandler,
		websocketHandler: websocketHandler,
		limiter:          limiter,
		metrics:          collector,
		logger:           logger,
		cfg:              cfg,
	}
}

func (r *Router) Setup() *gin.Engine {
	if r.cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(r.cfg.CORS))
	if r.metrics != nil {
		engine.Use(r.metrics.Middleware())
		engine.GET("/metrics", gin.WrapH(r.metrics.Handler()))
	}

	secret := r.cfg.JWT.Secret

	api := engine.Group("/api/v1")
	{
		// WebSocket
		api.GET("/ws", r.websocketHandler.Handle)

		// 公开接口 - 套餐（可选认证）
		api.GET("/plans", middleware.OptionalAuth(secret), r.planHandler.List)

		// 公开接口 - 认证，连续失败会被临时锁定
		auth := api.Group("/auth")
		{
			auth.POST("/register", middleware.Lockout(r.limiter, handler.ActionRegister, r.metrics, r.logger), r.authHandler.Register)
			auth.POST("/login", middleware.Lockout(r.limiter, handler.ActionLogin, r.metrics, r.logger), r.authHandler.Login)
			auth.GET("/lockout", r.authHandler.LockoutStatus)
			auth.GET("/lockout/stream", r.authHandler.LockoutStream)
		}

		// 需要认证的接口
		authenticated := api.Group("")
		authenticated.Use(middleware.Auth(secret))
		{
			// 用户
			user := authenticated.Group("/user")
			{
				user.GET("/profile", r.authHandler.Profile)
				user.GET("/subscription-status", r.planHandler.SubscriptionStatus)
			}

			// 搜索
			authenticated.POST("/searches", r.searchHandler.Create)

			// 历史
			history := authenticated.Group("/history")
			{
				history.GET("", r.historyHandler.List)
				history.GET("/recent", r.historyHandler.Recent)
				history.GET("/:id/results", r.historyHandler.Detail)
				history.DELETE("/:id", r.historyHandler.Delete)
			}
		}
	}

	return engine
}
