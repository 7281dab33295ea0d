package model

import "time"

// Post 平台无关的帖子结构，保存在 search_results.results 中
type Post struct {
	ID              string    `json:"id"`
	URL             string    `json:"url"`
	Platform        string    `json:"platform"`
	OwnerUsername   string    `json:"owner_username,omitempty"`
	Caption         string    `json:"caption"`
	PublishedAt     time.Time `json:"published_at"`
	ViewCount       int64     `json:"view_count"`
	PlayCount       int64     `json:"play_count"`
	LikeCount       int64     `json:"like_count"`
	CommentCount    int64     `json:"comment_count"`
	ShareCount      *int64    `json:"share_count,omitempty"`
	EngagementRatio float64   `json:"engagement_ratio"` // 百分比，保留两位小数
	VideoURL        string    `json:"video_url,omitempty"`
	ThumbnailURL    string    `json:"thumbnail_url,omitempty"`
}
