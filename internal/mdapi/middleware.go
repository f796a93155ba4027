package mdapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"
)

// securityMiddleware bundles JWT bearer auth and rate limiting, the same
// trio the teacher's internal/api/middleware/security.go composes, pared
// down to this surface's read-only bearer-token contract (no roles: the API
// exposes no mutating operations to gate).
type securityMiddleware struct {
	secret      []byte
	logger      *zap.Logger
	rateLimiter *limiter.Limiter
}

func newSecurityMiddleware(jwtSecret string, logger *zap.Logger) *securityMiddleware {
	rate := limiter.Rate{Period: time.Minute, Limit: 300}
	store := memory.NewStore()
	return &securityMiddleware{
		secret:      []byte(jwtSecret),
		logger:      logger,
		rateLimiter: limiter.New(store, rate),
	}
}

// JWTAuth validates a bearer token signed with HS256 and the configured
// secret. No claims beyond standard registered claims are required: this
// surface is read-only and carries no per-user authorization.
func (m *securityMiddleware) JWTAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			c.Abort()
			return
		}
		tokenString := strings.TrimPrefix(header, "Bearer ")

		claims := jwt.RegisteredClaims{}
		_, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
			return m.secret, nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil {
			m.logger.Warn("mdapi: rejected token", zap.Error(err))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// RateLimiter throttles by client IP (same ulule/limiter construction as the
// teacher's security middleware).
func (m *securityMiddleware) RateLimiter() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, err := m.rateLimiter.Get(c.Request.Context(), c.ClientIP())
		if err != nil {
			m.logger.Error("mdapi: rate limiter error", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
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
