package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/viral_go_server/config"
)

func strPtr(s string) *string {
	return &s
}

func TestPlanResolver_Builtin(t *testing.T) {
	r := NewPlanResolver(config.SubscriptionConfig{})

	tests := []struct {
		name    string
		planID  *string
		want    string
		ceiling int
	}{
		{"free", strPtr("free"), "free", 3},
		{"starter", strPtr("starter"), "starter", 50},
		{"pro", strPtr("pro"), "pro", 200},
		{"business", strPtr("business"), "business", 1000},
		{"大小写和前缀", strPtr("  PLAN_Pro "), "pro", 200},
		{"未知套餐", strPtr("enterprise"), "free", 3},
		{"空字符串", strPtr(""), "free", 3},
		{"未设置", nil, "free", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Resolve(tt.planID)
			assert.Equal(t, tt.want, got.PlanID)
			assert.Equal(t, tt.ceiling, got.MonthlyRequests)
		})
	}
}

func TestPlanResolver_FreeFeatures(t *testing.T) {
	r := NewPlanResolver(config.SubscriptionConfig{})

	free := r.Default()
	assert.Equal(t, "free", free.PlanID)
	assert.False(t, free.HistoryEnabled)
	assert.Equal(t, 1, free.BulkSearchMaxProfiles)
	assert.Equal(t, 10, free.MaxResultsPerProfile)

	pro := r.Resolve(strPtr("pro"))
	assert.True(t, pro.HistoryEnabled)
}

func TestPlanResolver_Deterministic(t *testing.T) {
	r := NewPlanResolver(config.SubscriptionConfig{})

	for i := 0; i < 10; i++ {
		assert.Equal(t, r.Resolve(strPtr("starter")), r.Resolve(strPtr("starter")))
	}
}

func TestPlanResolver_Configured(t *testing.T) {
	r := NewPlanResolver(config.SubscriptionConfig{
		DefaultPlan: "team",
		Plans: map[string]config.PlanConfig{
			"basic":  {DisplayName: "Basic", MonthlyRequests: 10},
			"team":   {DisplayName: "Team", MonthlyRequests: 100, HistoryEnabled: true, BulkSearchMaxProfiles: 10, MaxResultsPerProfile: 40},
			"broken": {DisplayName: "Broken", MonthlyRequests: 0},
		},
	})

	plans := r.Plans()
	require.Len(t, plans, 2)
	assert.Equal(t, "basic", plans[0].PlanID)
	assert.Equal(t, "team", plans[1].PlanID)

	// 上限为 0 的套餐被忽略，未知套餐落到最低档
	assert.Equal(t, "basic", r.Resolve(strPtr("broken")).PlanID)
	assert.Equal(t, "basic", r.Default().PlanID)

	basic := r.Resolve(strPtr("basic"))
	assert.Equal(t, 1, basic.BulkSearchMaxProfiles)
	assert.Equal(t, 1, basic.MaxResultsPerProfile)
}

func TestPlanResolver_AllInvalidFallsBackToBuiltin(t *testing.T) {
	r := NewPlanResolver(config.SubscriptionConfig{
		Plans: map[string]config.PlanConfig{
			"zero": {MonthlyRequests: 0},
		},
	})

	assert.Equal(t, "free", r.Default().PlanID)
	assert.Len(t, r.Plans(), 4)
}

func TestPlanLimits_ToInfo(t *testing.T) {
	r := NewPlanResolver(config.SubscriptionConfig{})

	info := r.Resolve(strPtr("starter")).ToInfo()
	assert.Equal(t, "starter", info.PlanID)
	assert.Equal(t, "Starter", info.DisplayName)
	assert.Equal(t, 50, info.MonthlyRequests)
	assert.True(t, info.Features.HistoryEnabled)
	assert.Equal(t, 5, info.Features.BulkSearchMaxProfiles)
	assert.Equal(t, 30, info.Features.MaxResultsPerProfile)
}
