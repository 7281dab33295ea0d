package middleware

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/qs3c/viral_go_server/internal/model/dto"
	"github.com/qs3c/viral_go_server/internal/pkg/metrics"
	"github.com/qs3c/viral_go_server/internal/pkg/ratelimit"
	"github.com/qs3c/viral_go_server/internal/pkg/response"
)

const (
	attemptResultKey = "attemptResult"
)

// MarkAttemptFailed 处理器标记本次敏感操作失败（凭证错误等）
func MarkAttemptFailed(c *gin.Context) {
	c.Set(attemptResultKey, false)
}

// MarkAttemptSucceeded 成功后清除失败记录
func MarkAttemptSucceeded(c *gin.Context) {
	c.Set(attemptResultKey, true)
}

// ToLockoutStatus 转换为接口返回结构
func ToLockoutStatus(action string, st ratelimit.Status) dto.LockoutStatus {
	return dto.LockoutStatus{
		Action:           action,
		Locked:           st.Locked,
		Attempts:         st.Attempts,
		RemainingSeconds: int(st.RemainingSeconds()),
	}
}

// Lockout 按 action + 客户端 IP 限制连续失败
// 锁定期间直接拒绝，不进入处理器；处理器通过 MarkAttempt* 报告结果
func Lockout(limiter *ratelimit.Limiter, action string, collector *metrics.Collector, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		key := ratelimit.Key(action, c.ClientIP())
		ctx := c.Request.Context()

		st, err := limiter.Check(ctx, key)
		if err != nil {
			// 存储不可用时放行
			logger.Warn("failed to check lockout", zap.String("key", key), zap.Error(err))
		} else if st.Locked {
			response.LockedError(c, "", ToLockoutStatus(action, st))
			c.Abort()
			return
		}

		c.Next()

		result, ok := c.Get(attemptResultKey)
		if !ok {
			return
		}

		if succeeded, _ := result.(bool); succeeded {
			if err := limiter.Reset(ctx, key); err != nil {
				logger.Warn("failed to reset lockout", zap.String("key", key), zap.Error(err))
			}
			return
		}

		st, err = limiter.RecordFailure(ctx, key)
		if err != nil {
			logger.Warn("failed to record attempt", zap.String("key", key), zap.Error(err))
			return
		}
		if st.Locked {
			collector.ObserveLockout(action)
			logger.Info("action locked",
				zap.String("action", action),
				zap.String("client_ip", c.ClientIP()),
				zap.Int64("remaining_seconds", st.RemainingSeconds()))
		}
	}
}
