package pipeline

import "github.com/qs3c/viral_go_server/internal/model"

// DedupeRecent 按查询词去重，保留第一次出现（输入已按时间倒序），最多 limit 条
func DedupeRecent(entries []*model.SearchHistory, limit int) []*model.SearchHistory {
	out := make([]*model.SearchHistory, 0, limit)
	if limit <= 0 {
		return out
	}

	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if _, ok := seen[e.SearchQuery]; ok {
			continue
		}
		seen[e.SearchQuery] = struct{}{}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out
}
