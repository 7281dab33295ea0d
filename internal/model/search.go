package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

const (
	PlatformInstagram = "instagram"
	PlatformTikTok    = "tiktok"
)

// StringArray 用于 JSON 数组字段
type StringArray []string

func (s StringArray) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *StringArray) Scan(value interface{}) error {
	if value == nil {
		*s = []string{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return nil
	}
}

// SearchHistory 一次成功且非空的搜索记录，7 天后由清理任务删除
type SearchHistory struct {
	ID             string      `gorm:"primaryKey;size:36" json:"id"`
	UserID         int64       `gorm:"not null;index" json:"user_id"`
	Platform       string      `gorm:"size:20;not null" json:"platform"`
	SearchQuery    string      `gorm:"size:500;not null" json:"search_query"`
	ResultLimit    int         `json:"result_limit"`
	DateFloor      string      `gorm:"size:10" json:"date_floor,omitempty"`
	BulkSearchURLs StringArray `gorm:"column:bulk_search_urls;type:json" json:"bulk_search_urls,omitempty"`
	CreatedAt      time.Time   `gorm:"index" json:"created_at"`
}

func (SearchHistory) TableName() string {
	return "search_history"
}

// SearchResult 与 SearchHistory 一一对应，Results 为 Post 的 JSON 数组
type SearchResult struct {
	SearchHistoryID string         `gorm:"primaryKey;size:36" json:"search_history_id"`
	Results         datatypes.JSON `gorm:"not null" json:"results"`
	CreatedAt       time.Time      `json:"created_at"`
}

func (SearchResult) TableName() string {
	return "search_results"
}

// UserRequest 一条配额消耗记录
type UserRequest struct {
	ID          int64     `gorm:"primaryKey" json:"id"`
	UserID      int64     `gorm:"not null;index:idx_user_requests_period,priority:1" json:"user_id"`
	RequestType string    `gorm:"size:30;not null" json:"request_type"`
	CreatedAt   time.Time `gorm:"not null;index:idx_user_requests_period,priority:2" json:"created_at"`
	PeriodStart time.Time `gorm:"not null" json:"period_start"`
	PeriodEnd   time.Time `gorm:"not null" json:"period_end"`
}

func (UserRequest) TableName() string {
	return "user_requests"
}
