package handler

import (
	"net/http"

	"draftreview/internal/middleware"
	"draftreview/internal/model"
	"draftreview/internal/service"
	"draftreview/pkg/pagination"
	"draftreview/pkg/response"

	"github.com/gin-gonic/gin"
)

type AvailabilityRequest struct {
	IsAvailable *bool `json:"is_available" binding:"required"`
}

type ReviewerHandler struct {
	workloads service.WorkloadRegistry
	reviews   service.ReviewService
	auth      *middleware.Auth
}

func NewReviewerHandler(workloads service.WorkloadRegistry, reviews service.ReviewService, auth *middleware.Auth) *ReviewerHandler {
	return &ReviewerHandler{workloads: workloads, reviews: reviews, auth: auth}
}

func (h *ReviewerHandler) RegisterRoutes(router *gin.RouterGroup) {
	reviewers := router.Group("/api/reviewers")
	{
		reviewers.GET("", h.auth.RequireRole(model.RoleAdmin), h.ListWorkloads)
		reviewers.GET("/me/pending", h.auth.RequireRole(model.RoleReviewer, model.RoleAdmin), h.ListPending)
		reviewers.PUT("/:id", h.auth.RequireRole(model.RoleAdmin), h.Register)
		reviewers.PUT("/:id/availability", h.auth.RequireRole(model.RoleReviewer, model.RoleAdmin), h.SetAvailability)
		reviewers.PUT("/:id/quality", h.auth.RequireRole(model.RoleAdmin), h.UpdateQuality)
	}
}

// ListWorkloads returns every reviewer's workload row
// @Summary      List reviewer workloads
// @Tags         reviewers
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response{data=[]model.ReviewerWorkload}
// @Router       /api/reviewers [get]
func (h *ReviewerHandler) ListWorkloads(c *gin.Context) {
	rows, err := h.workloads.ListWorkloads(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, rows))
}

// ListPending returns the caller's open review queue
// @Summary      My pending reviews
// @Description  Highest priority first, then earliest deadline
// @Tags         reviewers
// @Security     BearerAuth
// @Produce      json
// @Param        limit   query     int  false  "Page size (default 20)"
// @Param        offset  query     int  false  "Offset"
// @Success      200     {object}  response.Response{data=[]model.ReviewTask}
// @Router       /api/reviewers/me/pending [get]
func (h *ReviewerHandler) ListPending(c *gin.Context) {
	p := pagination.Parse(c)
	tasks, err := h.reviews.ListPendingTasks(c.Request.Context(), middleware.ActorFrom(c).ID, p.Limit, p.Offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, tasks))
}

// Register creates or reconfigures a reviewer
// @Summary      Register reviewer
// @Tags         reviewers
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id    path      string                       true  "Reviewer ID"
// @Param        body  body      service.RegisterReviewerDTO  true  "Capacity"
// @Success      200   {object}  response.Response{data=model.ReviewerWorkload}
// @Router       /api/reviewers/{id} [put]
func (h *ReviewerHandler) Register(c *gin.Context) {
	var req service.RegisterReviewerDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	w, err := h.workloads.RegisterReviewer(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, w))
}

// SetAvailability opts a reviewer in or out of assignment
// @Summary      Toggle availability
// @Tags         reviewers
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id    path      string               true  "Reviewer ID"
// @Param        body  body      AvailabilityRequest  true  "Availability"
// @Success      200   {object}  response.Response{data=model.ReviewerWorkload}
// @Failure      403   {object}  response.Response
// @Router       /api/reviewers/{id}/availability [put]
func (h *ReviewerHandler) SetAvailability(c *gin.Context) {
	var req AvailabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	w, err := h.workloads.SetAvailability(c.Request.Context(), middleware.ActorFrom(c), c.Param("id"), *req.IsAvailable)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, w))
}

// UpdateQuality stores externally computed quality signals
// @Summary      Update quality signals
// @Tags         reviewers
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id    path      string                     true  "Reviewer ID"
// @Param        body  body      service.QualitySignalsDTO  true  "Signals (0-100)"
// @Success      200   {object}  response.Response{data=model.ReviewerWorkload}
// @Router       /api/reviewers/{id}/quality [put]
func (h *ReviewerHandler) UpdateQuality(c *gin.Context) {
	var req service.QualitySignalsDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	w, err := h.workloads.UpdateQualitySignals(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, w))
}
