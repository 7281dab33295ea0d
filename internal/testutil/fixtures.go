package testutil

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/qs3c/viral_go_server/internal/model"
)

var userSeq int64

// TestUser 创建测试用户
func TestUser(t *testing.T, db *gorm.DB, opts ...func(*model.User)) *model.User {
	t.Helper()

	n := atomic.AddInt64(&userSeq, 1)
	email := fmt.Sprintf("test_%d@example.com", n)
	passwordHash := "$2a$10$abcdefghijklmnopqrstuvwxyz123456" // bcrypt hash placeholder
	user := &model.User{
		Username:     fmt.Sprintf("testuser_%d", n),
		Email:        &email,
		PasswordHash: &passwordHash,
	}

	for _, opt := range opts {
		opt(user)
	}

	if err := db.Create(user).Error; err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}

	return user
}

// WithUsername 设置用户名
func WithUsername(username string) func(*model.User) {
	return func(u *model.User) {
		u.Username = username
	}
}

// WithEmail 设置邮箱
func WithEmail(email string) func(*model.User) {
	return func(u *model.User) {
		u.Email = &email
	}
}

// WithPlan 设置订阅套餐
func WithPlan(planID string) func(*model.User) {
	return func(u *model.User) {
		u.PlanID = &planID
	}
}

// WithPasswordHash 设置密码哈希
func WithPasswordHash(hash string) func(*model.User) {
	return func(u *model.User) {
		u.PasswordHash = &hash
	}
}

// TestRequests 为用户写入 n 条配额消耗记录
func TestRequests(t *testing.T, db *gorm.DB, userID int64, n int, at time.Time) {
	t.Helper()

	start := time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		req := &model.UserRequest{
			UserID:      userID,
			RequestType: "instagram_search",
			CreatedAt:   at,
			PeriodStart: start,
			PeriodEnd:   start.AddDate(0, 1, 0),
		}
		if err := db.Create(req).Error; err != nil {
			t.Fatalf("Failed to create test request: %v", err)
		}
	}
}

// TestHistory 创建测试搜索历史
func TestHistory(t *testing.T, db *gorm.DB, userID int64, query string, opts ...func(*model.SearchHistory)) *model.SearchHistory {
	t.Helper()

	entry := &model.SearchHistory{
		ID:          uuid.NewString(),
		UserID:      userID,
		Platform:    model.PlatformInstagram,
		SearchQuery: query,
		ResultLimit: 10,
		CreatedAt:   time.Now().UTC(),
	}

	for _, opt := range opts {
		opt(entry)
	}

	if err := db.Create(entry).Error; err != nil {
		t.Fatalf("Failed to create test history: %v", err)
	}

	return entry
}

// WithCreatedAt 设置历史创建时间
func WithCreatedAt(at time.Time) func(*model.SearchHistory) {
	return func(h *model.SearchHistory) {
		h.CreatedAt = at
	}
}

// TestResults 为历史写入结果集
func TestResults(t *testing.T, db *gorm.DB, historyID string, posts []*model.Post) *model.SearchResult {
	t.Helper()

	data, err := json.Marshal(posts)
	if err != nil {
		t.Fatalf("Failed to marshal posts: %v", err)
	}

	result := &model.SearchResult{
		SearchHistoryID: historyID,
		Results:         data,
	}
	if err := db.Create(result).Error; err != nil {
		t.Fatalf("Failed to create test results: %v", err)
	}

	return result
}

// TestPost 构造一个测试帖子
func TestPost(id string, views, likes, comments int64, publishedAt time.Time) *model.Post {
	return &model.Post{
		ID:           id,
		URL:          "https://www.instagram.com/p/" + id,
		Platform:     model.PlatformInstagram,
		Caption:      "caption " + id,
		PublishedAt:  publishedAt,
		ViewCount:    views,
		PlayCount:    views,
		LikeCount:    likes,
		CommentCount: comments,
	}
}
