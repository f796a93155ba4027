// Package mdapi is the read-only HTTP surface over mdcore's book/consumer
// state: snapshot reads, ring-buffer consumer lag, and health (spec.md §6
// lists this alongside the WS/REST inputs as an external interface; the
// teacher's internal/api/middleware pattern supplies the gin+JWT+rate-limit
// stack this adapts).
package mdapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerfiles "github.com/swaggo/files"
	ginswagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/quantedge/mdcore/internal/book"
	"github.com/quantedge/mdcore/internal/ringbuffer"
)

// BookSource resolves a (provider, symbol) pair to its live order book.
type BookSource func(provider, symbol string) (*book.OrderBook, bool)

// LagSource resolves a named ring-buffer consumer to its lag/health.
type LagSource func(consumerName string) (lag uint64, lagPct float64, state ringbuffer.HealthState, ok bool)

// Server is the read-only gin HTTP API.
type Server struct {
	router *gin.Engine
	http   *http.Server
	logger *zap.Logger
}

// Config configures Server construction.
type Config struct {
	Addr        string
	Environment string // "production" disables gin's debug logging
	JWTSecret   string
}

// New builds a gin router with recovery, CORS, JWT auth, and rate limiting
// (the same middleware trio the teacher's internal/api/middleware/security.go
// composes), wired to read-only book/lag handlers.
func New(cfg Config, books BookSource, lags LagSource, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	sec := newSecurityMiddleware(cfg.JWTSecret, logger)
	router.Use(sec.RateLimiter())

	router.GET("/swagger/*any", ginswagger.WrapHandler(swaggerfiles.Handler))

	api := router.Group("/api/v1", sec.JWTAuth())
	registerBookRoutes(api, books)
	registerLagRoutes(api, lags)
	router.GET("/healthz", healthHandler())

	return &Server{router: router, logger: logger, http: &http.Server{Addr: cfg.Addr, Handler: router}}
}

// ListenAndServe starts the HTTP server; it blocks until Shutdown is called
// or the listener errors.
func (s *Server) ListenAndServe() error {
	return s.http.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Router exposes the underlying gin engine for tests.
func (s *Server) Router() *gin.Engine { return s.router }

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("mdapi request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
