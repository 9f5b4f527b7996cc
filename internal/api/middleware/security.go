// Package middleware holds the gin middleware wrapped around every
// route: CORS, security headers, per-IP rate limiting, and request
// IDs for the access log, following the teacher's
// internal/api/middleware/security.go shape.
package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"
)

// Security bundles the stateful middleware (only the rate limiter
// carries state; the rest are pure header-setters).
type Security struct {
	logger      *zap.Logger
	rateLimiter *limiter.Limiter
}

// New builds a Security limiting each client IP to ratePerMinute
// requests per minute.
func New(logger *zap.Logger, ratePerMinute int64) *Security {
	rate := limiter.Rate{Period: time.Minute, Limit: ratePerMinute}
	return &Security{
		logger:      logger,
		rateLimiter: limiter.New(memory.NewStore(), rate),
	}
}

// RateLimiter rejects a client IP once it exceeds the configured rate,
// mirroring SecurityMiddleware.RateLimiter.
func (s *Security) RateLimiter() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, err := s.rateLimiter.Get(c.Request.Context(), c.ClientIP())
		if err != nil {
			s.logger.Error("rate limiter lookup failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			c.Abort()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(ctx.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(ctx.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(ctx.Reset, 10))

		if ctx.Reached {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// CORS allows cross-origin REST/WS access, following
// SecurityMiddleware.CORS.
func (s *Security) CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// SecurityHeaders sets standard defensive response headers, following
// SecurityMiddleware.SecurityHeaders.
func (s *Security) SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

// RequestID tags every request with a correlation id for the access
// log, following SecurityMiddleware.RequestID.
func (s *Security) RequestID() gin.HandlerFunc {
	var seq uint64
	return func(c *gin.Context) {
		id := fmt.Sprintf("req_%d_%d", time.Now().UnixNano(), atomic.AddUint64(&seq, 1))
		c.Set("request_id", id)
		c.Writer.Header().Set("X-Request-ID", id)
		s.logger.Debug("request received",
			zap.String("request_id", id),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("client_ip", c.ClientIP()),
		)
		c.Next()
	}
}
