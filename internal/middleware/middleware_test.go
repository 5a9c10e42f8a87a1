package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-points-api/internal/models"
	appErrors "github.com/noah-isme/sma-points-api/pkg/errors"
)

type stubValidator struct {
	claims *models.JWTClaims
}

func (s stubValidator) ValidateToken(token string) (*models.JWTClaims, error) {
	if token != "good" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	return s.claims, nil
}

func newRouter(claims *models.JWTClaims, allowed ...string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/accounts/:studentId", JWT(stubValidator{claims: claims}), RBAC(allowed...), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func serve(r *gin.Engine, path, auth string) int {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	r.ServeHTTP(w, req)
	return w.Code
}

func TestJWTRequiresBearerToken(t *testing.T) {
	r := newRouter(&models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}, "ADMIN")

	assert.Equal(t, http.StatusUnauthorized, serve(r, "/accounts/stu-1", ""))
	assert.Equal(t, http.StatusUnauthorized, serve(r, "/accounts/stu-1", "Basic abc"))
	assert.Equal(t, http.StatusUnauthorized, serve(r, "/accounts/stu-1", "Bearer bad"))
	assert.Equal(t, http.StatusOK, serve(r, "/accounts/stu-1", "Bearer good"))
}

func TestRBACAllowsSelf(t *testing.T) {
	r := newRouter(&models.JWTClaims{UserID: "stu-1", Role: models.RoleStudent}, "ADMIN", "SELF")

	assert.Equal(t, http.StatusOK, serve(r, "/accounts/stu-1", "Bearer good"))
	assert.Equal(t, http.StatusForbidden, serve(r, "/accounts/stu-2", "Bearer good"))
}

func TestRBACWithoutClaims(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	RequireRoles(models.RoleAdmin)(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.True(t, c.IsAborted())
}

type recordingObserver struct {
	mu    sync.Mutex
	paths []string
}

func (r *recordingObserver) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	observer := &recordingObserver{}
	r := gin.New()
	r.Use(Metrics(observer))
	r.GET("/accounts/:studentId", func(c *gin.Context) { c.Status(http.StatusOK) })

	serve(r, "/accounts/stu-1", "")
	serve(r, "/wp-login.php", "")
	require.Len(t, observer.paths, 2)
	assert.Equal(t, []string{"/accounts/:studentId", "unmatched"}, observer.paths)
}
