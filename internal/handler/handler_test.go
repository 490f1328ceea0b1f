package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"draftreview/internal/config"
	"draftreview/internal/database/dbtest"
	"draftreview/internal/generation"
	"draftreview/internal/handler"
	"draftreview/internal/middleware"
	"draftreview/internal/model"
	"draftreview/internal/repository"
	"draftreview/internal/service"
)

const draft = "SERVICE AGREEMENT\n1. Scope\n2. Fees\n"

type stubGenerator struct{ err error }

func (g *stubGenerator) Generate(_ context.Context, _ generation.Prompt) (generation.Result, error) {
	if g.err != nil {
		return generation.Result{}, g.err
	}
	return generation.Result{Content: draft, Metadata: model.AIMetadata{Provider: "stub"}}, nil
}

type api struct {
	router    *gin.Engine
	auth      *middleware.Auth
	gen       *stubGenerator
	workloads service.WorkloadRegistry
}

type envelope struct {
	Status     string                 `json:"status"`
	StatusCode int                    `json:"status_code"`
	Data       json.RawMessage        `json:"data"`
	Error      string                 `json:"error"`
	Code       string                 `json:"code"`
	Details    map[string]interface{} `json:"details"`
}

func newAPI(t *testing.T) *api {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := dbtest.Open(t)
	tasks := repository.NewTaskRepository(db)
	logs := repository.NewReviewLogRepository(db)
	txManager := repository.NewTransactionManager(db)
	workloads := service.NewWorkloadRegistry(repository.NewWorkloadRepository(db), tasks, txManager, 3, nil, nil)
	gen := &stubGenerator{}
	reviews := service.NewReviewService(service.ReviewServiceDeps{
		Tasks: tasks, Logs: logs, TxManager: txManager, Workloads: workloads,
		Generator: gen, Policy: config.PolicyReject,
	})

	hash, err := bcrypt.GenerateFromPassword([]byte("courier-key"), bcrypt.MinCost)
	require.NoError(t, err)
	auth := middleware.NewAuth([]byte("handler-secret"), string(hash))

	r := gin.New()
	group := r.Group("")
	handler.NewTaskHandler(reviews, auth).RegisterRoutes(group)
	handler.NewReviewerHandler(workloads, reviews, auth).RegisterRoutes(group)
	handler.NewDeliveryHandler(reviews, auth).RegisterRoutes(group)
	handler.NewAuditHandler(service.NewAuditService(logs), auth).RegisterRoutes(group)
	handler.NewStatisticsHandler(service.NewStatisticsService(repository.NewStatisticsRepository(db)), auth).RegisterRoutes(group)

	return &api{router: r, auth: auth, gen: gen, workloads: workloads}
}

func (a *api) do(t *testing.T, method, path string, actor *model.Actor, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		if actor.Role == model.RoleDelivery {
			req.Header.Set(middleware.ServiceKeyHeader, "courier-key")
		} else {
			token, err := a.auth.IssueToken(*actor, time.Hour)
			require.NoError(t, err)
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec.Code, env
}

var (
	adminActor    = &model.Actor{ID: "admin-1", Role: model.RoleAdmin}
	staffActor    = &model.Actor{ID: "staff-1", Role: model.RoleStaff}
	reviewerActor = &model.Actor{ID: "rev-1", Role: model.RoleReviewer}
	otherReviewer = &model.Actor{ID: "rev-2", Role: model.RoleReviewer}
	deliveryActor = &model.Actor{ID: middleware.DeliveryActorID, Role: model.RoleDelivery}
)

func createBody() map[string]interface{} {
	return map[string]interface{}{
		"prompt": map[string]interface{}{
			"document_type": "service_agreement",
			"instructions":  "Draft a service agreement.",
		},
		"title":    "Services for Initech",
		"priority": 4,
		"deadline": time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339),
	}
}

func (a *api) registerReviewer(t *testing.T, id string) {
	t.Helper()
	code, env := a.do(t, http.MethodPut, "/api/reviewers/"+id, adminActor, map[string]interface{}{
		"display_name": id, "max_concurrent_tasks": 3, "daily_capacity": 5,
	})
	require.Equal(t, http.StatusOK, code, env.Error)
}

func (a *api) createTask(t *testing.T) model.ReviewTask {
	t.Helper()
	code, env := a.do(t, http.MethodPost, "/api/tasks", staffActor, createBody())
	require.Equal(t, http.StatusCreated, code, env.Error)
	var task model.ReviewTask
	require.NoError(t, json.Unmarshal(env.Data, &task))
	return task
}

func (a *api) transition(t *testing.T, id uuid.UUID, actor *model.Actor, body map[string]interface{}) (int, envelope) {
	t.Helper()
	return a.do(t, http.MethodPost, "/api/tasks/"+id.String()+"/transitions", actor, body)
}

func TestCreateTask(t *testing.T) {
	a := newAPI(t)
	a.registerReviewer(t, "rev-1")

	task := a.createTask(t)
	assert.Equal(t, model.StatusPending, task.Status)
	require.NotNil(t, task.ReviewerID)
	assert.Equal(t, "rev-1", *task.ReviewerID)
	assert.Equal(t, 4, task.Priority)

	code, env := a.do(t, http.MethodPost, "/api/tasks", reviewerActor, createBody())
	assert.Equal(t, http.StatusForbidden, code)
	assert.Contains(t, env.Error, "insufficient permissions")
}

func TestCreateTask_errors(t *testing.T) {
	a := newAPI(t)

	code, env := a.do(t, http.MethodPost, "/api/tasks", staffActor, createBody())
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "no_eligible_reviewer", env.Code)

	a.registerReviewer(t, "rev-1")

	blank := createBody()
	blank["prompt"] = map[string]interface{}{"document_type": "nda"}
	code, env = a.do(t, http.MethodPost, "/api/tasks", staffActor, blank)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_prompt", env.Code)

	noDeadline := createBody()
	delete(noDeadline, "deadline")
	code, _ = a.do(t, http.MethodPost, "/api/tasks", staffActor, noDeadline)
	assert.Equal(t, http.StatusBadRequest, code)

	a.gen.err = model.ErrGenerationFailed
	code, env = a.do(t, http.MethodPost, "/api/tasks", staffActor, createBody())
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "generation_failed", env.Code)

	code, _ = a.do(t, http.MethodPost, "/api/tasks", nil, createBody())
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	a := newAPI(t)
	a.registerReviewer(t, "rev-1")
	task := a.createTask(t)

	code, env := a.transition(t, task.ID, reviewerActor, map[string]interface{}{"event": "approve"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "invalid_transition", env.Code)
	assert.Equal(t, "pending", env.Details["current_status"])

	code, env = a.transition(t, task.ID, reviewerActor, map[string]interface{}{"event": "accept", "expected_version": 1})
	require.Equal(t, http.StatusOK, code, env.Error)

	code, env = a.transition(t, task.ID, reviewerActor, map[string]interface{}{"event": "approve", "expected_version": 1})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "concurrent_modification", env.Code)
	assert.Equal(t, "in_review", env.Details["current_status"])

	for _, event := range []string{"approve", "authorize"} {
		code, env = a.transition(t, task.ID, reviewerActor, map[string]interface{}{"event": event})
		require.Equal(t, http.StatusOK, code, env.Error)
	}

	code, env = a.do(t, http.MethodPost, "/api/delivery/tasks/"+task.ID.String()+"/dispatch", deliveryActor, nil)
	require.Equal(t, http.StatusOK, code, env.Error)
	var sent model.ReviewTask
	require.NoError(t, json.Unmarshal(env.Data, &sent))
	assert.Equal(t, model.StatusSent, sent.Status)
	require.NotNil(t, sent.FinalContent)
	assert.Equal(t, draft, *sent.FinalContent)

	code, env = a.do(t, http.MethodGet, "/api/tasks/"+task.ID.String(), staffActor, nil)
	require.Equal(t, http.StatusOK, code)
	var view handler.TaskView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Len(t, view.History, 5)
	assert.Equal(t, middleware.DeliveryActorID, view.History[4].ActorID)

	w, err := a.workloads.GetWorkload(context.Background(), "rev-1")
	require.NoError(t, err)
	assert.Equal(t, 0, w.PendingReviews)
}

func TestGetTask_errors(t *testing.T) {
	a := newAPI(t)
	a.registerReviewer(t, "rev-1")
	task := a.createTask(t)

	code, env := a.do(t, http.MethodGet, "/api/tasks/"+task.ID.String(), otherReviewer, nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "forbidden", env.Code)

	code, _ = a.do(t, http.MethodGet, "/api/tasks/"+uuid.NewString(), adminActor, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = a.do(t, http.MethodGet, "/api/tasks/not-a-uuid", adminActor, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = a.do(t, http.MethodGet, "/api/tasks/"+task.ID.String()+"/history", reviewerActor, nil)
	require.Equal(t, http.StatusOK, code)
	var history []service.ReviewLogResponse
	require.NoError(t, json.Unmarshal(env.Data, &history))
	require.Len(t, history, 1)
	assert.Equal(t, model.EventCreate, history[0].Event)
}

func TestDispatch_requiresServiceKey(t *testing.T) {
	a := newAPI(t)
	a.registerReviewer(t, "rev-1")
	task := a.createTask(t)

	code, _ := a.do(t, http.MethodPost, "/api/delivery/tasks/"+task.ID.String()+"/dispatch", adminActor, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, env := a.do(t, http.MethodPost, "/api/delivery/tasks/"+task.ID.String()+"/dispatch", deliveryActor, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "pending", env.Details["current_status"])
}

func TestReviewerEndpoints(t *testing.T) {
	a := newAPI(t)
	a.registerReviewer(t, "rev-1")
	a.createTask(t)
	a.createTask(t)

	code, env := a.do(t, http.MethodGet, "/api/reviewers/me/pending?limit=1", reviewerActor, nil)
	require.Equal(t, http.StatusOK, code)
	var queue []model.ReviewTask
	require.NoError(t, json.Unmarshal(env.Data, &queue))
	assert.Len(t, queue, 1)

	code, _ = a.do(t, http.MethodPut, "/api/reviewers/rev-1/availability", otherReviewer, map[string]interface{}{"is_available": false})
	assert.Equal(t, http.StatusForbidden, code)

	code, env = a.do(t, http.MethodPut, "/api/reviewers/rev-1/availability", reviewerActor, map[string]interface{}{"is_available": false})
	require.Equal(t, http.StatusOK, code, env.Error)

	code, env = a.do(t, http.MethodPut, "/api/reviewers/rev-1/quality", adminActor, map[string]interface{}{"approval_rate": "92.5", "client_satisfaction": 80})
	require.Equal(t, http.StatusOK, code, env.Error)
	var w model.ReviewerWorkload
	require.NoError(t, json.Unmarshal(env.Data, &w))
	assert.Equal(t, "92.5", w.ApprovalRate.String())
	assert.False(t, w.IsAvailable)

	code, _ = a.do(t, http.MethodPut, "/api/reviewers/rev-2", adminActor, map[string]interface{}{"max_concurrent_tasks": 0})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = a.do(t, http.MethodGet, "/api/reviewers", adminActor, nil)
	require.Equal(t, http.StatusOK, code)
	var rows []model.ReviewerWorkload
	require.NoError(t, json.Unmarshal(env.Data, &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].PendingReviews)
}

func TestStatisticsAndAudit(t *testing.T) {
	a := newAPI(t)
	a.registerReviewer(t, "rev-1")
	a.createTask(t)

	code, env := a.do(t, http.MethodGet, "/api/statistics?reviewer_id=someone-else", reviewerActor, nil)
	require.Equal(t, http.StatusOK, code)
	var stats model.TaskStatistics
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, "rev-1", stats.Scope.ReviewerID)
	assert.EqualValues(t, 1, stats.ByStatus[model.StatusPending])

	code, _ = a.do(t, http.MethodGet, "/api/audit-logs", reviewerActor, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, env = a.do(t, http.MethodGet, "/api/audit-logs?actor_id=staff-1", adminActor, nil)
	require.Equal(t, http.StatusOK, code)
	var page struct {
		Items []service.ReviewLogResponse `json:"items"`
		Total int64                       `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.EqualValues(t, 1, page.Total)

	code, _ = a.do(t, http.MethodGet, "/api/audit-logs?from=yesterday", adminActor, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = a.do(t, http.MethodGet, "/api/audit-logs?from=2030-01-02T00:00:00Z&to=2030-01-01T00:00:00Z", adminActor, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_request", env.Code)
}
