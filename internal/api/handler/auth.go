package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/viral_go_server/internal/api/middleware"
	"github.com/qs3c/viral_go_server/internal/model/dto"
	"github.com/qs3c/viral_go_server/internal/pkg/ratelimit"
	"github.com/qs3c/viral_go_server/internal/pkg/response"
	"github.com/qs3c/viral_go_server/internal/service"
)

// 受锁定保护的敏感操作
const (
	ActionLogin    = "login"
	ActionRegister = "register"
)

type AuthHandler struct {
	authService *service.AuthService
	limiter     *ratelimit.Limiter
}

func NewAuthHandler(authService *service.AuthService, limiter *ratelimit.Limiter) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		limiter:     limiter,
	}
}

// Register 用户注册
// POST /api/v1/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req dto.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	resp, err := h.authService.Register(c.Request.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEmailExists), errors.Is(err, service.ErrUsernameExists):
			middleware.MarkAttemptFailed(c)
			response.ParamError(c, err.Error())
		default:
			response.ServerError(c, "")
		}
		return
	}

	middleware.MarkAttemptSucceeded(c)
	response.SuccessWithMessage(c, "注册成功", resp)
}

// Login 用户登录
// POST /api/v1/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	resp, err := h.authService.Login(c.Request.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			middleware.MarkAttemptFailed(c)
			response.AuthError(c, err.Error())
		default:
			response.ServerError(c, "")
		}
		return
	}

	middleware.MarkAttemptSucceeded(c)
	response.SuccessWithMessage(c, "登录成功", resp)
}

// Profile 当前用户信息
// GET /api/v1/user/profile
func (h *AuthHandler) Profile(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	info, err := h.authService.GetUserByID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			response.AuthError(c, service.ErrSession.Error())
			return
		}
		response.ServerError(c, "")
		return
	}

	response.Success(c, info)
}

// LockoutStatus 当前客户端的锁定状态，前端按 1 秒间隔轮询显示倒计时
// GET /api/v1/auth/lockout?action=login
func (h *AuthHandler) LockoutStatus(c *gin.Context) {
	action, ok := lockoutAction(c)
	if !ok {
		return
	}

	st, err := h.limiter.Check(c.Request.Context(), ratelimit.Key(action, c.ClientIP()))
	if err != nil {
		response.ServerError(c, "")
		return
	}

	response.Success(c, middleware.ToLockoutStatus(action, st))
}

// LockoutStream 以 SSE 推送剩余时间，解锁后结束
// GET /api/v1/auth/lockout/stream?action=login
func (h *AuthHandler) LockoutStream(c *gin.Context) {
	action, ok := lockoutAction(c)
	if !ok {
		return
	}

	updates := h.limiter.Watch(c.Request.Context(), ratelimit.Key(action, c.ClientIP()))
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	c.Stream(func(w io.Writer) bool {
		st, open := <-updates
		if !open {
			return false
		}
		c.SSEvent("lockout", middleware.ToLockoutStatus(action, st))
		return st.Locked
	})
}

func lockoutAction(c *gin.Context) (string, bool) {
	action := c.DefaultQuery("action", ActionLogin)
	if action != ActionLogin && action != ActionRegister {
		response.ParamError(c, "不支持的操作类型")
		return "", false
	}
	return action, true
}
