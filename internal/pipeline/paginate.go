package pipeline

import "github.com/qs3c/viral_go_server/internal/model"

const DefaultPageSize = 25

// Paginate 1 起始页码，返回 data[(page-1)*size : page*size]
func Paginate(posts []*model.Post, page, size int) []*model.Post {
	if size < 1 {
		size = DefaultPageSize
	}
	if page < 1 {
		page = 1
	}

	// 先按页数比较，避免 (page-1)*size 溢出
	if page > PageCount(len(posts), size) {
		return []*model.Post{}
	}
	start := (page - 1) * size
	end := start + size
	if end > len(posts) {
		end = len(posts)
	}
	return posts[start:end]
}

// PageCount 总页数，空集合为 0
func PageCount(total, size int) int {
	if size < 1 {
		size = DefaultPageSize
	}
	if total <= 0 {
		return 0
	}
	return (total-1)/size + 1
}

// Pager 当前页状态
type Pager struct {
	Page int
	Size int
}

func NewPager() *Pager {
	return &Pager{Page: 1, Size: DefaultPageSize}
}

// SetPageSize 修改每页数量会回到第一页
func (p *Pager) SetPageSize(size int) {
	if size < 1 {
		size = DefaultPageSize
	}
	p.Size = size
	p.Page = 1
}

func (p *Pager) SetPage(page int) {
	if page < 1 {
		page = 1
	}
	p.Page = page
}
