package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/bimestre-scheduler-api/internal/models"
	"github.com/noah-isme/bimestre-scheduler-api/internal/service"
)

func securedRouter(tokens TokenValidator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	group := router.Group("", JWT(tokens))
	group.GET("/events", RequireRoles(models.RoleViewer, models.RoleEditor, models.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	group.POST("/cleanup/execute", RequireRoles(models.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func serve(router *gin.Engine, method, path, token string) int {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w.Code
}

func TestJWTAndRBAC(t *testing.T) {
	tokens := service.NewTokenService(service.TokenConfig{Secret: "secret", Issuer: "scheduler"})
	router := securedRouter(tokens)

	viewer, err := tokens.IssueToken("viewer-1", models.RoleViewer, time.Hour)
	require.NoError(t, err)
	admin, err := tokens.IssueToken("admin-1", models.RoleAdmin, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodGet, "/events", ""))
	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodGet, "/events", "garbage"))
	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/events", viewer))
	assert.Equal(t, http.StatusForbidden, serve(router, http.MethodPost, "/cleanup/execute", viewer))
	assert.Equal(t, http.StatusOK, serve(router, http.MethodPost, "/cleanup/execute", admin))
}

func TestJWTRejectsMalformedHeader(t *testing.T) {
	router := securedRouter(service.NewTokenService(service.TokenConfig{Secret: "secret"}))

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid authorization header")
}

func TestRBACSelf(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(ContextUserKey, &models.JWTClaims{UserID: "u1", Role: models.RoleViewer})
		c.Next()
	})
	router.GET("/users/:id/permissions", RBAC(string(models.RoleAdmin), "SELF"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/users/u1/permissions", ""))
	assert.Equal(t, http.StatusForbidden, serve(router, http.MethodGet, "/users/u2/permissions", ""))
}

func TestMetricsMiddlewareRecordsRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := service.NewMetricsService()
	router := gin.New()
	router.Use(Metrics(metrics))
	router.GET("/bimestres/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	assert.Equal(t, http.StatusNotFound, serve(router, http.MethodGet, "/bimestres/abc", ""))

	w := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, w.Body.String(), `/bimestres/:id`)
}
