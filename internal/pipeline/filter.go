package pipeline

import (
	"strconv"
	"strings"
	"time"

	"github.com/qs3c/viral_go_server/internal/model"
)

// RawFilters 查询参数原样字符串
type RawFilters struct {
	MinViews      string
	MinPlays      string
	MinLikes      string
	MinComments   string
	MinEngagement string
	DateFrom      string
}

// Filters 解析后的过滤条件，nil 表示未设置，不参与过滤
type Filters struct {
	MinViews      *int64
	MinPlays      *int64
	MinLikes      *int64
	MinComments   *int64
	MinEngagement *float64
	DateFrom      *time.Time
}

// ParseFilters 只保留能解析的值，无法解析的视为未设置而不是 0
func ParseFilters(raw RawFilters) Filters {
	return Filters{
		MinViews:      parseInt(raw.MinViews),
		MinPlays:      parseInt(raw.MinPlays),
		MinLikes:      parseInt(raw.MinLikes),
		MinComments:   parseInt(raw.MinComments),
		MinEngagement: parseFloat(raw.MinEngagement),
		DateFrom:      parseDate(raw.DateFrom),
	}
}

// Active 是否有任何条件生效
func (f Filters) Active() bool {
	return f.MinViews != nil || f.MinPlays != nil || f.MinLikes != nil ||
		f.MinComments != nil || f.MinEngagement != nil || f.DateFrom != nil
}

// Filter 所有生效条件取交集，返回新切片，不修改输入
func Filter(posts []*model.Post, f Filters) []*model.Post {
	out := make([]*model.Post, 0, len(posts))
	for _, p := range posts {
		if f.match(p) {
			out = append(out, p)
		}
	}
	return out
}

func (f Filters) match(p *model.Post) bool {
	if f.MinViews != nil && p.ViewCount < *f.MinViews {
		return false
	}
	if f.MinPlays != nil && p.PlayCount < *f.MinPlays {
		return false
	}
	if f.MinLikes != nil && p.LikeCount < *f.MinLikes {
		return false
	}
	if f.MinComments != nil && p.CommentCount < *f.MinComments {
		return false
	}
	if f.MinEngagement != nil && p.EngagementRatio < *f.MinEngagement {
		return false
	}
	// 截止日当天及之后的保留
	if f.DateFrom != nil && p.PublishedAt.Before(*f.DateFrom) {
		return false
	}
	return true
}

// parseInt 取开头的带符号数字部分，"100.5" 得 100，"150abc" 得 150
func parseInt(s string) *int64 {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return nil
	}
	n, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

func parseFloat(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &n
}

func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return &t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		t = t.UTC()
		return &t
	}
	return nil
}
