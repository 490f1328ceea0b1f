package handler

import (
	"net/http"

	"draftreview/internal/middleware"
	"draftreview/internal/model"
	"draftreview/internal/service"
	"draftreview/pkg/response"

	"github.com/gin-gonic/gin"
)

type DispatchRequest struct {
	Comment         string `json:"comment"`
	ExpectedVersion int    `json:"expected_version"`
}

// DeliveryHandler serves the delivery service, which authenticates with
// X-Service-Key instead of a user token.
type DeliveryHandler struct {
	reviews service.ReviewService
	auth    *middleware.Auth
}

func NewDeliveryHandler(reviews service.ReviewService, auth *middleware.Auth) *DeliveryHandler {
	return &DeliveryHandler{reviews: reviews, auth: auth}
}

func (h *DeliveryHandler) RegisterRoutes(router *gin.RouterGroup) {
	group := router.Group("/api/delivery")
	group.Use(h.auth.RequireRole(model.RoleDelivery))
	{
		group.POST("/tasks/:id/dispatch", h.Dispatch)
	}
}

// Dispatch marks an authorized task as sent
// @Summary      Dispatch authorized document
// @Tags         delivery
// @Security     ServiceKey
// @Accept       json
// @Produce      json
// @Param        id    path      string           true   "Task ID"
// @Param        body  body      DispatchRequest  false  "Dispatch note"
// @Success      200   {object}  response.Response{data=model.ReviewTask}
// @Failure      409   {object}  response.Response
// @Router       /api/delivery/tasks/{id}/dispatch [post]
func (h *DeliveryHandler) Dispatch(c *gin.Context) {
	id, ok := parseTaskID(c)
	if !ok {
		return
	}

	var req DispatchRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}

	task, err := h.reviews.Transition(c.Request.Context(), id, model.EventDispatch, middleware.ActorFrom(c), service.TransitionPayload{
		Comment:         req.Comment,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, task))
}
