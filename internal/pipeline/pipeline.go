// Package pipeline 对结果集做过滤、排序、分页和最近搜索去重
// 所有函数都是纯函数，不修改输入
package pipeline

import "github.com/qs3c/viral_go_server/internal/model"

// Query 一次展示请求
type Query struct {
	Filters  Filters
	Sort     SortState
	Page     int
	PageSize int
}

// Page 展示结果，Total 为过滤后的数量
type Page struct {
	Items     []*model.Post
	Total     int
	Page      int
	PageSize  int
	PageCount int
}

// Apply 固定顺序：过滤 -> 排序 -> 分页
func Apply(posts []*model.Post, q Query) Page {
	pager := NewPager()
	if q.PageSize > 0 {
		pager.SetPageSize(q.PageSize)
	}
	pager.SetPage(q.Page)

	filtered := Filter(posts, q.Filters)
	sorted := Sort(filtered, q.Sort)

	return Page{
		Items:     Paginate(sorted, pager.Page, pager.Size),
		Total:     len(sorted),
		Page:      pager.Page,
		PageSize:  pager.Size,
		PageCount: PageCount(len(sorted), pager.Size),
	}
}
