package dto

import (
	"github.com/qs3c/viral_go_server/internal/model"
)

// SearchRequest 搜索请求，每次提交临时构造，不落库
type SearchRequest struct {
	Platform    string   `json:"platform" binding:"required,oneof=instagram tiktok"`
	Username    string   `json:"username"`
	URLs        []string `json:"urls,omitempty"` // 批量搜索
	ResultLimit int      `json:"result_limit"`
	DateFloor   string   `json:"date_floor,omitempty"` // YYYY-MM-DD
}

// IsBulk 是否为批量搜索
func (r *SearchRequest) IsBulk() bool {
	return len(r.URLs) > 0
}

// SearchResponse 搜索响应
type SearchResponse struct {
	AttemptID      string        `json:"attempt_id"`
	HistoryID      string        `json:"history_id,omitempty"`
	Posts          []*model.Post `json:"posts"`
	Total          int           `json:"total"`
	Dropped        int           `json:"dropped"`
	HistorySaved   bool          `json:"history_saved"`
	QuotaRemaining int64         `json:"quota_remaining"`
}

// ResultsQuery 结果列表的过滤、排序、分页参数（原样字符串，由 pipeline 解析）
type ResultsQuery struct {
	MinViews      string `form:"min_views"`
	MinPlays      string `form:"min_plays"`
	MinLikes      string `form:"min_likes"`
	MinComments   string `form:"min_comments"`
	MinEngagement string `form:"min_engagement"`
	DateFrom      string `form:"date_from"`
	SortKey       string `form:"sort"`
	SortDir       string `form:"dir"`
	Toggle        string `form:"toggle"`
	Page          int    `form:"page"`
	PageSize      int    `form:"page_size"`
}
