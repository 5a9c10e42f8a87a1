package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-points-api/internal/models"
	"github.com/noah-isme/sma-points-api/internal/service"
	"github.com/noah-isme/sma-points-api/pkg/config"
)

const testSecret = "router-test-secret"

func memoryConfig() *config.Config {
	return &config.Config{
		Env:       "test",
		APIPrefix: "/api/v1",
		CORS:      config.CORSConfig{AllowedOrigins: []string{"https://app.example.com"}},
		JWT:       config.JWTConfig{Secret: testSecret},
		Points: config.PointsConfig{
			Store:          config.StoreMemory,
			Timezone:       "UTC",
			LevelStep:      100,
			PolicyCacheTTL: time.Minute,
		},
		Dispatch: config.DispatchConfig{
			MaxAttempts:     1,
			RetryDelay:      time.Millisecond,
			Workers:         1,
			BufferSize:      8,
			BreakerFailures: 5,
			BreakerTimeout:  time.Second,
		},
		DeadLetter: config.DeadLetterConfig{Sink: config.SinkDatabase},
	}
}

func newTestApp(t *testing.T) *app {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	a, err := newApp(ctx, memoryConfig(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		cancel()
		a.dispatcher.Stop()
		a.close()
	})
	return a
}

func bearer(t *testing.T, userID string, role models.UserRole) string {
	t.Helper()
	token, err := service.NewTokenService(testSecret, "").IssueToken(&models.JWTClaims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	require.NoError(t, err)
	return "Bearer " + token
}

func do(h http.Handler, method, path, auth string, body interface{}) *httptest.ResponseRecorder {
	var payload bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&payload).Encode(body)
	}
	req := httptest.NewRequest(method, path, &payload)
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouterAwardAndSelfRead(t *testing.T) {
	a := newTestApp(t)
	teacher := bearer(t, "teacher-1", models.RoleTeacher)
	student := bearer(t, "stu-1", models.RoleStudent)

	rec := do(a.handler, http.MethodPost, "/api/v1/points/transactions", teacher, map[string]interface{}{
		"student_id":  "stu-1",
		"amount":      15,
		"kind":        "earned",
		"source":      "behavior",
		"description": "helped a classmate",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(a.handler, http.MethodGet, "/api/v1/points/accounts/stu-1", student, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var envelope struct {
		Data models.Account `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, 15, envelope.Data.CurrentBalance)
	assert.Equal(t, 15, envelope.Data.TotalEarned)
}

func TestRouterRoleChecks(t *testing.T) {
	a := newTestApp(t)
	student := bearer(t, "stu-1", models.RoleStudent)

	assert.Equal(t, http.StatusUnauthorized, do(a.handler, http.MethodGet, "/api/v1/points/accounts/stu-1", "", nil).Code)
	assert.Equal(t, http.StatusForbidden, do(a.handler, http.MethodGet, "/api/v1/points/accounts/stu-2", student, nil).Code)
	assert.Equal(t, http.StatusForbidden, do(a.handler, http.MethodPost, "/api/v1/points/transactions", student, map[string]interface{}{}).Code)
	assert.Equal(t, http.StatusForbidden, do(a.handler, http.MethodGet, "/api/v1/points/policies", bearer(t, "teacher-1", models.RoleTeacher), nil).Code)
}

func TestRouterAdminRoutes(t *testing.T) {
	a := newTestApp(t)
	admin := bearer(t, "admin-1", models.RoleAdmin)

	rec := do(a.handler, http.MethodGet, "/api/v1/points/policies", admin, nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(a.handler, http.MethodGet, "/api/v1/points/dead-letters", admin, nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestRouterProbesAndCORS(t *testing.T) {
	a := newTestApp(t)

	assert.Equal(t, http.StatusOK, do(a.handler, http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, do(a.handler, http.MethodGet, "/ready", "", nil).Code)
	assert.Equal(t, http.StatusOK, do(a.handler, http.MethodGet, "/metrics", "", nil).Code)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/points/transactions", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/points/transactions", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
