package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRouter(h gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(h)
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestSecurity_CORSSetsHeadersAndShortCircuitsOptions(t *testing.T) {
	sec := New(zap.NewNop(), 100)
	router := newTestRouter(sec.CORS())

	req := httptest.NewRequest(http.MethodOptions, "/ping", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestSecurity_SecurityHeadersSet(t *testing.T) {
	sec := New(zap.NewNop(), 100)
	router := newTestRouter(sec.SecurityHeaders())

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestSecurity_RequestIDSetsHeaderAndIsUnique(t *testing.T) {
	sec := New(zap.NewNop(), 100)
	router := newTestRouter(sec.RequestID())

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec1 := httptest.NewRecorder()
	router.ServeHTTP(rec1, req)

	req2 := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req2)

	id1 := rec1.Header().Get("X-Request-ID")
	id2 := rec2.Header().Get("X-Request-ID")
	require.NotEmpty(t, id1)
	require.NotEmpty(t, id2)
	assert.NotEqual(t, id1, id2)
}

func TestSecurity_RateLimiterBlocksOverLimit(t *testing.T) {
	sec := New(zap.NewNop(), 2)
	router := newTestRouter(sec.RateLimiter())

	req := func() *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ping", nil)
		r.RemoteAddr = "10.0.0.1:1234"
		return r
	}

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req())
		last = rec
	}
	assert.Equal(t, http.StatusTooManyRequests, last.Code)
}
