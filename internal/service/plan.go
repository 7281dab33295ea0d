package service

import (
	"sort"
	"strings"

	"github.com/qs3c/viral_go_server/config"
	"github.com/qs3c/viral_go_server/internal/model/dto"
)

// PlanLimits 套餐的配额上限和功能开关，一个计费周期内不变
type PlanLimits struct {
	PlanID                string
	DisplayName           string
	MonthlyRequests       int
	HistoryEnabled        bool
	BulkSearchMaxProfiles int
	MaxResultsPerProfile  int
}

// ToInfo 转换为接口返回结构
func (p PlanLimits) ToInfo() dto.PlanInfo {
	return dto.PlanInfo{
		PlanID:          p.PlanID,
		DisplayName:     p.DisplayName,
		MonthlyRequests: p.MonthlyRequests,
		Features: dto.PlanFeatures{
			HistoryEnabled:        p.HistoryEnabled,
			BulkSearchMaxProfiles: p.BulkSearchMaxProfiles,
			MaxResultsPerProfile:  p.MaxResultsPerProfile,
		},
	}
}

// 内置套餐表，配置中未提供 plans 时使用
var builtinPlans = map[string]config.PlanConfig{
	"free":     {DisplayName: "Free", MonthlyRequests: 3, HistoryEnabled: false, BulkSearchMaxProfiles: 1, MaxResultsPerProfile: 10},
	"starter":  {DisplayName: "Starter", MonthlyRequests: 50, HistoryEnabled: true, BulkSearchMaxProfiles: 5, MaxResultsPerProfile: 30},
	"pro":      {DisplayName: "Pro", MonthlyRequests: 200, HistoryEnabled: true, BulkSearchMaxProfiles: 20, MaxResultsPerProfile: 50},
	"business": {DisplayName: "Business", MonthlyRequests: 1000, HistoryEnabled: true, BulkSearchMaxProfiles: 50, MaxResultsPerProfile: 100},
}

// PlanResolver 套餐 ID 到限制的固定映射
type PlanResolver struct {
	plans    map[string]PlanLimits
	fallback PlanLimits
}

func NewPlanResolver(cfg config.SubscriptionConfig) *PlanResolver {
	source := cfg.Plans
	if len(source) == 0 {
		source = builtinPlans
	}

	plans := make(map[string]PlanLimits, len(source))
	for id, p := range source {
		id = normalizePlanID(id)
		// 上限必须大于 0
		if id == "" || p.MonthlyRequests <= 0 {
			continue
		}
		if p.BulkSearchMaxProfiles < 1 {
			p.BulkSearchMaxProfiles = 1
		}
		if p.MaxResultsPerProfile < 1 {
			p.MaxResultsPerProfile = 1
		}
		name := p.DisplayName
		if name == "" {
			name = id
		}
		plans[id] = PlanLimits{
			PlanID:                id,
			DisplayName:           name,
			MonthlyRequests:       p.MonthlyRequests,
			HistoryEnabled:        p.HistoryEnabled,
			BulkSearchMaxProfiles: p.BulkSearchMaxProfiles,
			MaxResultsPerProfile:  p.MaxResultsPerProfile,
		}
	}
	if len(plans) == 0 {
		return NewPlanResolver(config.SubscriptionConfig{})
	}

	r := &PlanResolver{plans: plans}
	r.fallback = r.Plans()[0]
	return r
}

// Resolve 纯函数，未知或为空的 ID 返回默认（最低）档
func (r *PlanResolver) Resolve(planID *string) PlanLimits {
	if planID == nil {
		return r.fallback
	}
	if p, ok := r.plans[normalizePlanID(*planID)]; ok {
		return p
	}
	return r.fallback
}

// Default 最低档
func (r *PlanResolver) Default() PlanLimits {
	return r.fallback
}

// Plans 按上限升序
func (r *PlanResolver) Plans() []PlanLimits {
	out := make([]PlanLimits, 0, len(r.plans))
	for _, p := range r.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MonthlyRequests != out[j].MonthlyRequests {
			return out[i].MonthlyRequests < out[j].MonthlyRequests
		}
		return out[i].PlanID < out[j].PlanID
	})
	return out
}

// normalizePlanID 忽略大小写，兼容支付平台的 plan_xxx 形式
func normalizePlanID(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	return strings.TrimPrefix(id, "plan_")
}
