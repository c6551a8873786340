package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	kratoslog "github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goim-confession/pkg/auth"
	tracecontext "goim-confession/pkg/context"
	"goim-confession/pkg/logger"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func token(t *testing.T, userID, role string) string {
	t.Helper()
	tok, err := auth.GenerateJWT(userID, role, &auth.JWTConfig{Secret: testSecret, ExpireTime: time.Hour})
	require.NoError(t, err)
	return "Bearer " + tok
}

func newAuthEngine(admins ...string) *gin.Engine {
	am := NewAuthMiddleware(logger.NewKratosLogger(logger.NewNop()), testSecret, admins)
	engine := gin.New()
	engine.GET("/member", am.GinAuth(), func(c *gin.Context) {
		ctx := c.Request.Context()
		c.String(http.StatusOK, tracecontext.GetUserID(ctx)+":"+tracecontext.GetRole(ctx))
	})
	engine.GET("/admin", am.GinAuth(), am.RequireAdmin(), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(ContextUserID))
	})
	return engine
}

func do(engine http.Handler, path, authz string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestGinAuth(t *testing.T) {
	engine := newAuthEngine("listed")

	assert.Equal(t, http.StatusUnauthorized, do(engine, "/member", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(engine, "/member", "Bearer garbage").Code)

	w := do(engine, "/member", token(t, "u1", ""))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u1:member", w.Body.String())

	assert.Equal(t, http.StatusForbidden, do(engine, "/admin", token(t, "u1", "")).Code)
	assert.Equal(t, http.StatusOK, do(engine, "/admin", token(t, "boss", auth.RoleAdmin)).Code)
	// 配置中的管理员持有成员令牌也可以访问
	assert.Equal(t, http.StatusOK, do(engine, "/admin", token(t, "listed", "")).Code)
}

func TestIPRateLimiter(t *testing.T) {
	limiter := NewIPRateLimiter(0.001, 2)
	engine := gin.New()
	engine.Use(limiter.RateLimit())
	engine.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	assert.Equal(t, http.StatusNoContent, do(engine, "/", "").Code)
	assert.Equal(t, http.StatusNoContent, do(engine, "/", "").Code)
	w := do(engine, "/", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	assert.Equal(t, 0, limiter.Cleanup(time.Now()))
	assert.Equal(t, 1, limiter.Cleanup(time.Now().Add(time.Hour)))
}

func TestRecovery(t *testing.T) {
	engine := gin.New()
	engine.Use(Recovery(logger.NewNop()))
	engine.GET("/", func(c *gin.Context) { panic("boom") })

	w := do(engine, "/", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestOTelMiddleware_SetsRequestID(t *testing.T) {
	engine := gin.New()
	engine.Use(NewOTelMiddleware("test").GinMiddleware()...)
	engine.Use(NewLoggingMiddleware(kratoslog.DefaultLogger).GinLogging())
	engine.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, tracecontext.GetRequestID(c.Request.Context()))
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, "req-1", w.Body.String())
	assert.Equal(t, "req-1", w.Header().Get(RequestIDHeader))
}
