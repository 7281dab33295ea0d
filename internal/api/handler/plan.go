package handler

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/viral_go_server/internal/api/middleware"
	"github.com/qs3c/viral_go_server/internal/model/dto"
	"github.com/qs3c/viral_go_server/internal/pkg/response"
	"github.com/qs3c/viral_go_server/internal/service"
)

type PlanHandler struct {
	plans *service.PlanResolver
	quota *service.QuotaTracker
}

func NewPlanHandler(plans *service.PlanResolver, quota *service.QuotaTracker) *PlanHandler {
	return &PlanHandler{
		plans: plans,
		quota: quota,
	}
}

// List 套餐列表，登录时附带当前套餐
// GET /api/v1/plans
func (h *PlanHandler) List(c *gin.Context) {
	plans := h.plans.Plans()
	infos := make([]dto.PlanInfo, len(plans))
	for i, p := range plans {
		infos[i] = p.ToInfo()
	}

	data := gin.H{"plans": infos}
	if userID, ok := middleware.GetUserID(c); ok {
		if limits, err := h.quota.PlanFor(c.Request.Context(), userID); err == nil {
			data["current_plan_id"] = limits.PlanID
		}
	}

	response.Success(c, data)
}

// SubscriptionStatus 当前计费周期的配额使用情况
// GET /api/v1/user/subscription-status
func (h *PlanHandler) SubscriptionStatus(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	status, err := h.quota.Status(c.Request.Context(), userID, time.Now())
	if err != nil {
		if errors.Is(err, service.ErrSession) {
			response.AuthError(c, err.Error())
			return
		}
		response.ServerError(c, "")
		return
	}

	response.Success(c, status)
}
