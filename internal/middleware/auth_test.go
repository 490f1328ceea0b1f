package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"

	"draftreview/internal/model"
)

func newTestAuth(t *testing.T) *Auth {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("courier-key"), bcrypt.MinCost)
	require.NoError(t, err)
	return NewAuth([]byte("test-secret"), string(hash))
}

func newRouter(auth *Auth, roles ...string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/whoami", auth.RequireRole(roles...), func(c *gin.Context) {
		actor := ActorFrom(c)
		c.JSON(http.StatusOK, gin.H{"id": actor.ID, "role": actor.Role})
	})
	return r
}

func TestRequireRole(t *testing.T) {
	auth := newTestAuth(t)
	reviewerToken, err := auth.IssueToken(model.Actor{ID: "rev-1", Role: model.RoleReviewer}, time.Hour)
	require.NoError(t, err)
	expired, err := auth.IssueToken(model.Actor{ID: "rev-1", Role: model.RoleReviewer}, -time.Minute)
	require.NoError(t, err)
	foreign, err := NewAuth([]byte("other"), "").IssueToken(model.Actor{ID: "rev-1", Role: model.RoleReviewer}, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name     string
		roles    []string
		header   map[string]string
		wantCode int
		wantBody string
	}{
		{"bearer token", nil, map[string]string{"Authorization": "Bearer " + reviewerToken}, http.StatusOK, `"id":"rev-1"`},
		{"role allowed", []string{model.RoleAdmin, model.RoleReviewer}, map[string]string{"Authorization": "Bearer " + reviewerToken}, http.StatusOK, `"role":"reviewer"`},
		{"role denied", []string{model.RoleAdmin}, map[string]string{"Authorization": "Bearer " + reviewerToken}, http.StatusForbidden, "insufficient permissions"},
		{"missing", nil, nil, http.StatusUnauthorized, "authorization is missing"},
		{"bad scheme", nil, map[string]string{"Authorization": "Basic abc"}, http.StatusUnauthorized, "Bearer"},
		{"expired", nil, map[string]string{"Authorization": "Bearer " + expired}, http.StatusUnauthorized, "expired"},
		{"wrong secret", nil, map[string]string{"Authorization": "Bearer " + foreign}, http.StatusUnauthorized, "signature"},
		{"service key", []string{model.RoleDelivery}, map[string]string{ServiceKeyHeader: "courier-key"}, http.StatusOK, `"id":"delivery-service"`},
		{"wrong service key", []string{model.RoleDelivery}, map[string]string{ServiceKeyHeader: "guess"}, http.StatusUnauthorized, "service key rejected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			newRouter(auth, tt.roles...).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
}

func TestRequireRole_cookie(t *testing.T) {
	auth := newTestAuth(t)
	token, err := auth.IssueToken(model.Actor{ID: "staff-1", Role: model.RoleStaff}, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: token})
	rec := httptest.NewRecorder()
	newRouter(auth).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"staff-1"`)
}

func TestParseToken_requiresSubjectAndRole(t *testing.T) {
	auth := newTestAuth(t)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "x"}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = auth.ParseToken(token)
	assert.Error(t, err)
}

func TestVerifyServiceKey_unconfigured(t *testing.T) {
	assert.False(t, NewAuth([]byte("s"), "").VerifyServiceKey("anything"))
}

func TestRequestLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.InfoLevel)
	auth := newTestAuth(t)
	token, err := auth.IssueToken(model.Actor{ID: "rev-1", Role: model.RoleReviewer}, time.Hour)
	require.NoError(t, err)

	r := gin.New()
	r.Use(RequestLogger(zap.New(core)))
	r.GET("/ok", auth.RequireRole(), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
	entries := logs.FilterMessage("request completed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "req-42", fields["request_id"])
	assert.Equal(t, "rev-1", fields["actor_id"])
	assert.EqualValues(t, http.StatusNoContent, fields["status"])
}
