package handler

import (
	"net/http"
	"time"

	"draftreview/internal/middleware"
	"draftreview/internal/model"
	"draftreview/internal/service"
	"draftreview/pkg/pagination"
	"draftreview/pkg/response"

	"github.com/gin-gonic/gin"
)

type AuditHandler struct {
	auditService service.AuditService
	auth         *middleware.Auth
}

func NewAuditHandler(auditService service.AuditService, auth *middleware.Auth) *AuditHandler {
	return &AuditHandler{auditService: auditService, auth: auth}
}

func (h *AuditHandler) RegisterRoutes(router *gin.RouterGroup) {
	group := router.Group("/api/audit-logs")
	group.Use(h.auth.RequireRole(model.RoleAdmin)) // Protect history logs
	{
		group.GET("", h.GetAuditLogs)
	}
}

// GetAuditLogs retrieves review log entries by actor or by time range, newest first
// @Summary      Get review logs
// @Description  With actor_id lists that actor's entries; otherwise lists entries in [from, to)
// @Tags         audit
// @Security     BearerAuth
// @Produce      json
// @Param        actor_id  query     string  false  "Actor ID"
// @Param        from      query     string  false  "From (RFC3339)"
// @Param        to        query     string  false  "To (RFC3339)"
// @Param        page      query     int     false  "Page number (default 1)"
// @Param        limit     query     int     false  "Number of items per page (default 20)"
// @Success      200       {object}  response.Response{data=response.Page}
// @Failure      400       {object}  response.Response
// @Router       /api/audit-logs [get]
func (h *AuditHandler) GetAuditLogs(c *gin.Context) {
	p := pagination.Parse(c)

	var (
		logs  []service.ReviewLogResponse
		total int64
		err   error
	)
	if actorID := c.Query("actor_id"); actorID != "" {
		logs, total, err = h.auditService.ListByActor(c.Request.Context(), actorID, p.Page, p.Limit)
	} else {
		var from, to time.Time
		if from, err = parseTime(c.Query("from")); err != nil {
			badRequest(c, "invalid from format, expected RFC3339")
			return
		}
		if to, err = parseTime(c.Query("to")); err != nil {
			badRequest(c, "invalid to format, expected RFC3339")
			return
		}
		logs, total, err = h.auditService.ListByRange(c.Request.Context(), from, to, p.Page, p.Limit)
	}
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, response.Page{
		Items: logs,
		Total: total,
		Page:  p.Page,
		Limit: p.Limit,
	}))
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
