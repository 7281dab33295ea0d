package service

import (
	"errors"
	"fmt"

	"github.com/qs3c/viral_go_server/internal/pkg/retrieval"
)

var (
	ErrValidation      = errors.New("请求参数无效")
	ErrQuotaExceeded   = errors.New("本月请求次数已用完")
	ErrExternalService = errors.New("检索服务暂时不可用，请稍后重试")
	ErrPersistence     = errors.New("保存搜索结果失败")
	ErrSession         = errors.New("登录已失效，请重新登录")
	ErrHistoryNotFound = errors.New("搜索记录不存在或已过期")
)

// ValidationError 输入校验失败，不消耗配额
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// QuotaExceededError 携带套餐名和上限用于提示
type QuotaExceededError struct {
	PlanName string
	Ceiling  int
	Used     int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("%s套餐本月 %d 次请求已用完，请升级套餐或等待下个计费周期", e.PlanName, e.Ceiling)
}

func (e *QuotaExceededError) Unwrap() error {
	return ErrQuotaExceeded
}

// ExternalServiceError 外部检索失败，不自动重试
// errors.Is 同时匹配 ErrExternalService 和具体的 retrieval 错误
type ExternalServiceError struct {
	Err error
}

func (e *ExternalServiceError) Error() string {
	switch {
	case errors.Is(e.Err, retrieval.ErrAuth):
		return "检索服务凭证无效，请联系管理员"
	case errors.Is(e.Err, retrieval.ErrTargetNotFound):
		return "未找到该账号，请检查用户名或链接"
	case errors.Is(e.Err, retrieval.ErrRateLimited):
		return "检索服务请求过于频繁，请稍后重试"
	default:
		return ErrExternalService.Error()
	}
}

func (e *ExternalServiceError) Unwrap() []error {
	return []error{ErrExternalService, e.Err}
}

func persistenceError(err error) error {
	return fmt.Errorf("%w: %v", ErrPersistence, err)
}
