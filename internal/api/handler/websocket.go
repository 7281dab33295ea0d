package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/qs3c/viral_go_server/internal/model"
	"github.com/qs3c/viral_go_server/internal/pkg/jwt"
	"github.com/qs3c/viral_go_server/internal/pkg/pubsub"
	"github.com/qs3c/viral_go_server/internal/pkg/ws"
	"github.com/qs3c/viral_go_server/internal/service"
)

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
)

type WebSocketHandler struct {
	hub         *ws.Hub
	recent      service.RecentSource
	feed        pubsub.ChangeFeed
	jwtSecret   string
	recentLimit int
	upgrader    websocket.Upgrader
	logger      *zap.Logger
}

func NewWebSocketHandler(
	hub *ws.Hub,
	recent service.RecentSource,
	feed pubsub.ChangeFeed,
	jwtSecret string,
	recentLimit int,
	allowedOrigins []string,
	logger *zap.Logger,
) *WebSocketHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketHandler{
		hub:         hub,
		recent:      recent,
		feed:        feed,
		jwtSecret:   jwtSecret,
		recentLimit: recentLimit,
		upgrader: websocket.Upgrader{
			CheckOrigin:     originChecker(allowedOrigins),
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger,
	}
}

// originChecker 没有 Origin 的非浏览器客户端放行
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

// Handle WebSocket 连接处理，每个连接维护一份最近搜索视图
// GET /api/v1/ws?token=xxx
func (h *WebSocketHandler) Handle(c *gin.Context) {
	// 验证 JWT Token
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	claims, err := jwt.ParseToken(token, h.jwtSecret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	// 升级连接
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade connection", zap.Error(err))
		return
	}

	client := &ws.Client{
		UserID: claims.UserID,
		Conn:   conn,
	}
	h.hub.Register(client)

	ctx, cancel := context.WithCancel(context.Background())
	recentSync := service.NewRecentActivitySync(claims.UserID, h.recent, h.feed, h.recentLimit, h.logger)
	recentSync.OnUpdate(func(entries []*model.SearchHistory) {
		msg := &ws.Message{Type: ws.MessageRecentSearches, Data: service.ToHistoryItems(entries)}
		if err := client.Send(msg); err != nil {
			h.logger.Debug("failed to push recent searches", zap.Int64("user_id", claims.UserID), zap.Error(err))
		}
	})

	if err := recentSync.Start(ctx); err != nil {
		h.logger.Warn("failed to load recent searches", zap.Int64("user_id", claims.UserID), zap.Error(err))
		_ = client.Send(&ws.Message{Type: ws.MessageError, Data: "加载最近搜索失败"})
	}

	go h.keepAlive(ctx, client)

	// 读取客户端消息，出错即视为断开
	go func() {
		defer func() {
			cancel()
			recentSync.Close()
			h.hub.Unregister(client)
			conn.Close()
		}()

		conn.SetReadLimit(4096)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}

			var msg ws.ClientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}

			switch msg.Type {
			case ws.ClientHide:
				if msg.ID != "" {
					recentSync.Hide(ctx, msg.ID)
				}
			case ws.ClientRefresh:
				recentSync.Refresh()
			}
		}
	}()
}

func (h *WebSocketHandler) keepAlive(ctx context.Context, client *ws.Client) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := client.Ping(); err != nil {
				return
			}
		}
	}
}
