package pipeline

import (
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/qs3c/viral_go_server/internal/model"
)

type SortKey string

const (
	SortViews       SortKey = "views"
	SortPlays       SortKey = "plays"
	SortLikes       SortKey = "likes"
	SortComments    SortKey = "comments"
	SortShares      SortKey = "shares"
	SortEngagement  SortKey = "engagement"
	SortPublishedAt SortKey = "published_at"
	SortCaption     SortKey = "caption"
	SortOwner       SortKey = "owner"
)

type Direction string

const (
	Desc Direction = "desc"
	Asc  Direction = "asc"
)

// SortState 同一时间只有一个排序键
type SortState struct {
	Key SortKey
	Dir Direction
}

// ParseSortState 解析查询参数，方向缺省为降序
func ParseSortState(key, dir string) SortState {
	st := SortState{Key: SortKey(strings.TrimSpace(key)), Dir: Desc}
	if strings.EqualFold(strings.TrimSpace(dir), string(Asc)) {
		st.Dir = Asc
	}
	return st
}

// Toggle 同一个键翻转方向，新键从降序开始
func (s SortState) Toggle(key SortKey) SortState {
	if s.Key == key {
		if s.Dir == Desc {
			return SortState{Key: key, Dir: Asc}
		}
		return SortState{Key: key, Dir: Desc}
	}
	return SortState{Key: key, Dir: Desc}
}

// Sort 稳定排序，返回新切片；未知或空的键保持原顺序
func Sort(posts []*model.Post, state SortState) []*model.Post {
	out := make([]*model.Post, len(posts))
	copy(out, posts)

	cmp := comparator(state.Key)
	if cmp == nil {
		return out
	}

	sort.SliceStable(out, func(i, j int) bool {
		if state.Dir == Asc {
			return cmp(out[i], out[j]) < 0
		}
		return cmp(out[j], out[i]) < 0
	})
	return out
}

// comparator 数值字段相减比较，字符串字段按语言规则比较
func comparator(key SortKey) func(a, b *model.Post) int {
	switch key {
	case SortViews:
		return numeric(func(p *model.Post) int64 { return p.ViewCount })
	case SortPlays:
		return numeric(func(p *model.Post) int64 { return p.PlayCount })
	case SortLikes:
		return numeric(func(p *model.Post) int64 { return p.LikeCount })
	case SortComments:
		return numeric(func(p *model.Post) int64 { return p.CommentCount })
	case SortShares:
		return numeric(func(p *model.Post) int64 {
			if p.ShareCount == nil {
				return 0
			}
			return *p.ShareCount
		})
	case SortEngagement:
		return func(a, b *model.Post) int {
			return sign(a.EngagementRatio - b.EngagementRatio)
		}
	case SortPublishedAt:
		return func(a, b *model.Post) int {
			return a.PublishedAt.Compare(b.PublishedAt)
		}
	case SortCaption:
		return locale(func(p *model.Post) string { return p.Caption })
	case SortOwner:
		return locale(func(p *model.Post) string { return p.OwnerUsername })
	default:
		return nil
	}
}

func numeric(field func(*model.Post) int64) func(a, b *model.Post) int {
	return func(a, b *model.Post) int {
		d := field(a) - field(b)
		switch {
		case d < 0:
			return -1
		case d > 0:
			return 1
		}
		return 0
	}
}

// locale Collator 不是并发安全的，每次排序单独创建
func locale(field func(*model.Post) string) func(a, b *model.Post) int {
	c := collate.New(language.English)
	return func(a, b *model.Post) int {
		return c.CompareString(field(a), field(b))
	}
}

func sign(f float64) int {
	switch {
	case f < 0:
		return -1
	case f > 0:
		return 1
	}
	return 0
}
