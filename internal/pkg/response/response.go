package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// 业务错误码，HTTP 状态始终为 200
const (
	CodeSuccess          = 0
	CodeParamError       = 1000
	CodeAuthFailed       = 1001
	CodeResourceNotFound = 1003
	CodeQuotaExceeded    = 1004
	CodeLocked           = 1006
	CodeExternalService  = 1007
	CodeServerError      = 5000
)

var codeMessages = map[int]string{
	CodeSuccess:          "success",
	CodeParamError:       "参数错误",
	CodeAuthFailed:       "认证失败",
	CodeResourceNotFound: "资源不存在",
	CodeQuotaExceeded:    "本月请求次数已用完",
	CodeLocked:           "尝试次数过多，请稍后再试",
	CodeExternalService:  "检索服务暂时不可用，请稍后重试",
	CodeServerError:      "服务器内部错误",
}

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// PageData 分页数据
type PageData struct {
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
	Items    interface{} `json:"items"`
}

// DefaultMessage 错误码的默认提示，未知错误码返回空串
func DefaultMessage(code int) string {
	return codeMessages[code]
}

func Success(c *gin.Context, data interface{}) {
	SuccessWithMessage(c, codeMessages[CodeSuccess], data)
}

func SuccessWithMessage(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Response{Code: CodeSuccess, Message: message, Data: data})
}

// SuccessPage items 为 nil 时输出空数组
func SuccessPage(c *gin.Context, total int64, page, pageSize int, items interface{}) {
	if items == nil {
		items = []interface{}{}
	}
	Success(c, PageData{Total: total, Page: page, PageSize: pageSize, Items: items})
}

// Error message 为空时使用错误码的默认提示
func Error(c *gin.Context, code int, message string) {
	fail(c, code, message, nil)
}

func fail(c *gin.Context, code int, message string, data interface{}) {
	if message == "" {
		message = codeMessages[code]
	}
	c.JSON(http.StatusOK, Response{Code: code, Message: message, Data: data})
}

func ParamError(c *gin.Context, message string) {
	fail(c, CodeParamError, message, nil)
}

// AuthError 会话缺失或失效，前端据此跳转登录
func AuthError(c *gin.Context, message string) {
	fail(c, CodeAuthFailed, message, nil)
}

func NotFoundError(c *gin.Context, message string) {
	fail(c, CodeResourceNotFound, message, nil)
}

func QuotaError(c *gin.Context, message string) {
	fail(c, CodeQuotaExceeded, message, nil)
}

// LockedError data 携带 LockoutStatus，用于倒计时
func LockedError(c *gin.Context, message string, data interface{}) {
	fail(c, CodeLocked, message, data)
}

func ExternalError(c *gin.Context, message string) {
	fail(c, CodeExternalService, message, nil)
}

func ServerError(c *gin.Context, message string) {
	fail(c, CodeServerError, message, nil)
}
