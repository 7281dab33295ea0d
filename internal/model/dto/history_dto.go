package dto

import (
	"github.com/qs3c/viral_go_server/internal/model"
)

// HistoryItem 搜索历史列表项
type HistoryItem struct {
	ID             string   `json:"id"`
	Platform       string   `json:"platform"`
	Query          string   `json:"query"`
	ResultLimit    int      `json:"result_limit"`
	DateFloor      string   `json:"date_floor,omitempty"`
	BulkSearchURLs []string `json:"bulk_search_urls,omitempty"`
	CreatedAt      string   `json:"created_at"`
}

// HistoryDetail 历史详情，结果集可能已过期或写入失败
type HistoryDetail struct {
	Entry          *HistoryItem  `json:"entry"`
	ResultsMissing bool          `json:"results_missing"`
	Posts          []*model.Post `json:"posts"`
	Total          int           `json:"total"`
	Page           int           `json:"page"`
	PageSize       int           `json:"page_size"`
	PageCount      int           `json:"page_count"`
	SortKey        string        `json:"sort,omitempty"`
	SortDir        string        `json:"dir,omitempty"`
}
