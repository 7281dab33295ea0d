package dto

// PlanFeatures 套餐功能开关
type PlanFeatures struct {
	HistoryEnabled        bool `json:"history_enabled"`
	BulkSearchMaxProfiles int  `json:"bulk_search_max_profiles"`
	MaxResultsPerProfile  int  `json:"max_results_per_profile"`
}

// PlanInfo 套餐信息
type PlanInfo struct {
	PlanID          string       `json:"plan_id"`
	DisplayName     string       `json:"display_name"`
	MonthlyRequests int          `json:"monthly_requests"`
	Features        PlanFeatures `json:"features"`
}

// SubscriptionStatus 当前计费周期的配额使用情况
type SubscriptionStatus struct {
	Plan        PlanInfo `json:"plan"`
	Ceiling     int      `json:"ceiling"`
	Used        int64    `json:"used"`
	Remaining   int64    `json:"remaining"`
	PeriodStart string   `json:"period_start"`
	PeriodEnd   string   `json:"period_end"`
}
