package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/viral_go_server/internal/api/middleware"
	"github.com/qs3c/viral_go_server/internal/model/dto"
	"github.com/qs3c/viral_go_server/internal/pkg/response"
	"github.com/qs3c/viral_go_server/internal/service"
)

// maxPage 页码上限
const maxPage = 10000

type HistoryHandler struct {
	historyService *service.HistoryService
	recentLimit    int
}

func NewHistoryHandler(historyService *service.HistoryService, recentLimit int) *HistoryHandler {
	if recentLimit < 1 {
		recentLimit = 5
	}
	return &HistoryHandler{
		historyService: historyService,
		recentLimit:    recentLimit,
	}
}

// List 分页历史
// GET /api/v1/history?page=1&page_size=20
func (h *HistoryHandler) List(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if page > maxPage {
		page = maxPage
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	items, total, err := h.historyService.List(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		response.ServerError(c, "")
		return
	}

	response.SuccessPage(c, total, page, pageSize, items)
}

// Recent 最近搜索（按查询词去重）
// GET /api/v1/history/recent?limit=5
func (h *HistoryHandler) Recent(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(h.recentLimit)))
	if err != nil || limit < 1 || limit > h.recentLimit {
		limit = h.recentLimit
	}

	entries, err := h.historyService.Recent(c.Request.Context(), userID, limit)
	if err != nil {
		response.ServerError(c, "")
		return
	}

	response.Success(c, service.ToHistoryItems(entries))
}

// Detail 历史结果，支持过滤、排序、分页参数
// GET /api/v1/history/:id/results
// 带 toggle 时以 sort/dir 为当前状态，点击同一列翻转方向，新列从降序开始
func (h *HistoryHandler) Detail(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var q dto.ResultsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.ParamError(c, err.Error())
		return
	}
	if q.Page > maxPage {
		q.Page = maxPage
	}

	detail, err := h.historyService.Detail(c.Request.Context(), userID, c.Param("id"), q)
	if err != nil {
		if errors.Is(err, service.ErrHistoryNotFound) {
			response.NotFoundError(c, err.Error())
			return
		}
		response.ServerError(c, "")
		return
	}

	response.Success(c, detail)
}

// Delete 删除历史
// DELETE /api/v1/history/:id
func (h *HistoryHandler) Delete(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	if err := h.historyService.Delete(c.Request.Context(), userID, c.Param("id")); err != nil {
		if errors.Is(err, service.ErrHistoryNotFound) {
			response.NotFoundError(c, err.Error())
			return
		}
		response.ServerError(c, "")
		return
	}

	response.SuccessWithMessage(c, "删除成功", nil)
}
