package handler

import (
	"net/http"

	"draftreview/internal/middleware"
	"draftreview/internal/model"
	"draftreview/internal/service"
	"draftreview/pkg/response"

	"github.com/gin-gonic/gin"
)

type TransitionRequest struct {
	Event           string  `json:"event" binding:"required"`
	Content         *string `json:"content"`
	Comment         string  `json:"comment"`
	ExpectedVersion int     `json:"expected_version" binding:"min=0"`
}

// TaskView is a task together with its review history.
type TaskView struct {
	Task    *model.ReviewTask           `json:"task"`
	History []service.ReviewLogResponse `json:"history"`
}

type TaskHandler struct {
	reviews service.ReviewService
	auth    *middleware.Auth
}

func NewTaskHandler(reviews service.ReviewService, auth *middleware.Auth) *TaskHandler {
	return &TaskHandler{reviews: reviews, auth: auth}
}

func (h *TaskHandler) RegisterRoutes(router *gin.RouterGroup) {
	tasks := router.Group("/api/tasks")
	{
		tasks.POST("", h.auth.RequireRole(model.RoleAdmin, model.RoleStaff), h.CreateTask)
		tasks.GET("/:id", h.auth.RequireRole(), h.GetTask)
		tasks.GET("/:id/history", h.auth.RequireRole(), h.History)
		tasks.POST("/:id/transitions", h.auth.RequireRole(model.RoleAdmin, model.RoleStaff, model.RoleReviewer), h.Transition)
		tasks.POST("/:id/assign", h.auth.RequireRole(model.RoleAdmin), h.Assign)
	}
}

// CreateTask drafts a document and opens a review task for it
// @Summary      Create review task
// @Description  Generates a draft with the configured AI providers and assigns the least loaded reviewer
// @Tags         tasks
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        body  body      service.CreateTaskDTO  true  "Task request"
// @Success      201   {object}  response.Response{data=model.ReviewTask}
// @Failure      400   {object}  response.Response
// @Failure      409   {object}  response.Response "No eligible reviewer"
// @Failure      503   {object}  response.Response "Generation unavailable"
// @Router       /api/tasks [post]
func (h *TaskHandler) CreateTask(c *gin.Context) {
	var req service.CreateTaskDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	task, err := h.reviews.CreateTask(c.Request.Context(), middleware.ActorFrom(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, task))
}

// GetTask returns a task with its review history
// @Summary      Get review task
// @Tags         tasks
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Task ID"
// @Success      200  {object}  response.Response{data=TaskView}
// @Failure      403  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Router       /api/tasks/{id} [get]
func (h *TaskHandler) GetTask(c *gin.Context) {
	id, ok := parseTaskID(c)
	if !ok {
		return
	}
	actor := middleware.ActorFrom(c)

	task, err := h.reviews.GetTask(c.Request.Context(), id, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	history, err := h.reviews.History(c.Request.Context(), id, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, TaskView{
		Task:    task,
		History: service.ToReviewLogResponses(history),
	}))
}

// History returns the review log of a task, oldest first
// @Summary      Task review history
// @Tags         tasks
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Task ID"
// @Success      200  {object}  response.Response{data=[]service.ReviewLogResponse}
// @Router       /api/tasks/{id}/history [get]
func (h *TaskHandler) History(c *gin.Context) {
	id, ok := parseTaskID(c)
	if !ok {
		return
	}
	history, err := h.reviews.History(c.Request.Context(), id, middleware.ActorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, service.ToReviewLogResponses(history)))
}

// Transition applies a workflow event to a task
// @Summary      Apply workflow event
// @Description  Refused transitions return 409 with the task's current status in details.current_status
// @Tags         tasks
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id    path      string             true  "Task ID"
// @Param        body  body      TransitionRequest  true  "Event"
// @Success      200   {object}  response.Response{data=model.ReviewTask}
// @Failure      409   {object}  response.Response
// @Router       /api/tasks/{id}/transitions [post]
func (h *TaskHandler) Transition(c *gin.Context) {
	id, ok := parseTaskID(c)
	if !ok {
		return
	}
	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	task, err := h.reviews.Transition(c.Request.Context(), id, req.Event, middleware.ActorFrom(c), service.TransitionPayload{
		Content:         req.Content,
		Comment:         req.Comment,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, task))
}

// Assign assigns a held task to the least loaded reviewer
// @Summary      Assign held task
// @Tags         tasks
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Task ID"
// @Success      200  {object}  response.Response{data=model.ReviewTask}
// @Failure      409  {object}  response.Response
// @Router       /api/tasks/{id}/assign [post]
func (h *TaskHandler) Assign(c *gin.Context) {
	id, ok := parseTaskID(c)
	if !ok {
		return
	}
	task, err := h.reviews.AssignPending(c.Request.Context(), id, middleware.ActorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, task))
}
