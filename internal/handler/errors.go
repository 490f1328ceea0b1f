package handler

import (
	"errors"
	"net/http"

	"draftreview/internal/logger"
	"draftreview/internal/model"
	"draftreview/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// classify maps the error taxonomy to an HTTP status and a stable code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrInvalidPrompt):
		return http.StatusBadRequest, "invalid_prompt"
	case errors.Is(err, model.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, model.ErrGenerationFailed):
		return http.StatusServiceUnavailable, "generation_failed"
	case errors.Is(err, model.ErrNoEligibleReviewer):
		return http.StatusConflict, "no_eligible_reviewer"
	case errors.Is(err, model.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, model.ErrConcurrentModification):
		return http.StatusConflict, "concurrent_modification"
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func respondError(c *gin.Context, err error) {
	status, code := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.From(c.Request.Context(), nil).Error("request failed", zap.Error(err))
		msg = "internal server error"
	}

	body := response.Coded(status, code, msg)
	if current, ok := model.CurrentStatusOf(err); ok {
		body = body.WithDetail("current_status", current)
	}
	_ = c.Error(err)
	c.JSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, response.Coded(http.StatusBadRequest, "invalid_request", msg))
}

func parseTaskID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid task id")
		return uuid.Nil, false
	}
	return id, true
}
