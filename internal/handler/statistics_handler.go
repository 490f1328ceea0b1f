package handler

import (
	"net/http"

	"draftreview/internal/middleware"
	"draftreview/internal/model"
	"draftreview/internal/service"
	"draftreview/pkg/response"

	"github.com/gin-gonic/gin"
)

type StatisticsHandler struct {
	statisticsService service.StatisticsService
	auth              *middleware.Auth
}

func NewStatisticsHandler(statisticsService service.StatisticsService, auth *middleware.Auth) *StatisticsHandler {
	return &StatisticsHandler{statisticsService: statisticsService, auth: auth}
}

func (h *StatisticsHandler) RegisterRoutes(router *gin.RouterGroup) {
	statsGroup := router.Group("/api/statistics")
	{
		statsGroup.GET("", h.auth.RequireRole(model.RoleAdmin, model.RoleReviewer, model.RoleStaff), h.GetStatistics)
	}
}

// @Summary      Get Task Statistics
// @Description  Task counts by status, created today and overdue. Reviewers are scoped to their own tasks, staff to tasks they created.
// @Tags         Statistics
// @Produce      json
// @Param        workspace_id query string false "Workspace"
// @Param        reviewer_id  query string false "Reviewer (admin only)"
// @Param        creator_id   query string false "Creator (admin only)"
// @Success      200 {object} response.Response{data=model.TaskStatistics}
// @Failure      401 {object} response.Response "Unauthorized"
// @Failure      500 {object} response.Response "Internal server error"
// @Security     BearerAuth
// @Router       /api/statistics [get]
func (h *StatisticsHandler) GetStatistics(c *gin.Context) {
	var scope model.StatisticsScope
	if err := c.ShouldBindQuery(&scope); err != nil {
		badRequest(c, err.Error())
		return
	}

	actor := middleware.ActorFrom(c)
	switch actor.Role {
	case model.RoleReviewer:
		scope.ReviewerID = actor.ID
	case model.RoleStaff:
		scope.CreatorID = actor.ID
	}

	stats, err := h.statisticsService.GetStatistics(c.Request.Context(), scope)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, stats))
}
