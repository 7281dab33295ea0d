package handler

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/qs3c/viral_go_server/internal/api/middleware"
	"github.com/qs3c/viral_go_server/internal/model/dto"
	"github.com/qs3c/viral_go_server/internal/pkg/response"
	"github.com/qs3c/viral_go_server/internal/pkg/ws"
	"github.com/qs3c/viral_go_server/internal/service"
)

type SearchHandler struct {
	orchestrator *service.SearchOrchestrator
	quota        *service.QuotaTracker
	hub          *ws.Hub
	logger       *zap.Logger
}

func NewSearchHandler(orchestrator *service.SearchOrchestrator, quota *service.QuotaTracker, hub *ws.Hub, logger *zap.Logger) *SearchHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SearchHandler{
		orchestrator: orchestrator,
		quota:        quota,
		hub:          hub,
		logger:       logger,
	}
}

// Create 发起一次搜索，同步等待外部检索完成
// POST /api/v1/searches
func (h *SearchHandler) Create(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	out, err := h.orchestrator.Search(ctx, service.Identity{UserID: userID}, &req)
	if err != nil {
		h.writeError(c, out, err)
		return
	}

	resp := &dto.SearchResponse{
		AttemptID:      out.AttemptID,
		HistoryID:      out.HistoryID,
		Posts:          out.Posts,
		Total:          len(out.Posts),
		Dropped:        out.Dropped,
		HistorySaved:   out.HistorySaved,
		QuotaRemaining: h.remaining(ctx, userID, out),
	}

	// 只在用户有在线连接时推送
	if h.hub != nil && h.hub.IsOnline(userID) {
		msg := &ws.Message{Type: ws.MessageSearchCompleted, Data: gin.H{
			"attempt_id": out.AttemptID,
			"history_id": out.HistoryID,
			"total":      resp.Total,
		}}
		if err := h.hub.SendToUser(userID, msg); err != nil {
			h.logger.Warn("failed to push search completion", zap.Int64("user_id", userID), zap.Error(err))
		}
	}

	response.Success(c, resp)
}

// remaining 重新读取配额视图（搜索结束时已失效），失败时按准入结果估算
func (h *SearchHandler) remaining(ctx context.Context, userID int64, out *service.SearchOutcome) int64 {
	status, err := h.quota.Status(ctx, userID, time.Now())
	if err == nil {
		return status.Remaining
	}

	h.logger.Warn("failed to read subscription status", zap.Int64("user_id", userID), zap.Error(err))
	if out.Admission == nil {
		return 0
	}
	left := int64(out.Admission.Ceiling) - out.Admission.Used - 1
	if left < 0 {
		left = 0
	}
	return left
}

func (h *SearchHandler) writeError(c *gin.Context, out *service.SearchOutcome, err error) {
	var (
		vErr     *service.ValidationError
		quotaErr *service.QuotaExceededError
		extErr   *service.ExternalServiceError
	)

	switch {
	case errors.As(err, &vErr):
		response.ParamError(c, vErr.Message)
	case errors.As(err, &quotaErr):
		response.QuotaError(c, quotaErr.Error())
	case errors.As(err, &extErr):
		response.ExternalError(c, extErr.Error())
	case errors.Is(err, service.ErrSession):
		response.AuthError(c, err.Error())
	case errors.Is(err, context.Canceled):
		// 客户端已断开
		c.Abort()
	default:
		attemptID := ""
		if out != nil {
			attemptID = out.AttemptID
		}
		h.logger.Error("search failed", zap.String("attempt_id", attemptID), zap.Error(err))
		if errors.Is(err, service.ErrPersistence) {
			response.ServerError(c, service.ErrPersistence.Error())
			return
		}
		response.ServerError(c, "")
	}
}
