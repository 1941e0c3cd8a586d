// Package api is the HTTP surface over the analysis engine. Every
// service-layer method maps to one route; handlers validate the wire
// request, call the core with value types, and return the core's
// structured result as-is. In-band failures keep HTTP 200 with
// success=false in the body; 4xx is reserved for malformed requests.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"market-analysis-engine/internal/analysis"
	"market-analysis-engine/internal/backtest"
	"market-analysis-engine/internal/database"
	"market-analysis-engine/internal/events"
	"market-analysis-engine/internal/marketdata"
	"market-analysis-engine/internal/metrics"
	"market-analysis-engine/internal/workflow"
)

// RateLimiter provides simple in-memory rate limiting per client and
// endpoint.
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int
	window   time.Duration
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow checks if a request is allowed for the given key.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            int
	ProductionMode  bool
	AllowedOrigins  []string
	RateLimit       int
	RateLimitWindow time.Duration
}

// Dependencies are the core services the routes bind to. Runs and DB are
// optional; their routes degrade when persistence is not configured. A
// non-nil Bus feeds the recent-events endpoint.
type Dependencies struct {
	Market    *marketdata.Service
	Analysis  *analysis.Orchestrator
	Workflow  *workflow.Workflow
	Engine    *backtest.Engine
	Optimizer *backtest.WalkForwardOptimizer
	Runs      *database.RunRepository
	DB        *database.DB
	Bus       *events.Bus
}

// Server is the HTTP API server.
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	deps        Dependencies
	config      ServerConfig
	rateLimiter *RateLimiter
	events      *eventLog
	logger      zerolog.Logger
}

// NewServer builds the router with middleware and every route registered.
func NewServer(config ServerConfig, deps Dependencies, logger zerolog.Logger) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}
	if config.RateLimit <= 0 {
		config.RateLimit = 120
	}
	if config.RateLimitWindow <= 0 {
		config.RateLimitWindow = time.Minute
	}
	if len(config.AllowedOrigins) == 0 {
		config.AllowedOrigins = []string{"http://localhost:5173", "http://localhost:3000"}
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = config.AllowedOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.ExposeHeaders = []string{"Content-Length"}
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:      router,
		deps:        deps,
		config:      config,
		rateLimiter: NewRateLimiter(config.RateLimit, config.RateLimitWindow),
		events:      newEventLog(),
		logger:      logger.With().Str("component", "api").Logger(),
	}
	if deps.Bus != nil {
		deps.Bus.SubscribeAll(server.events.Record)
	}
	server.setupRoutes()
	return server
}

// rateLimitMiddleware limits requests per client IP and endpoint.
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		key := c.ClientIP() + ":" + path

		if !s.rateLimiter.Allow(key) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   true,
				"message": "Rate limit exceeded. Please slow down.",
				"path":    path,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := s.router.Group("/api")
	api.Use(s.rateLimitMiddleware())
	{
		// Market data
		api.GET("/market-data", s.handleGetMarketData)
		api.GET("/market-data/providers", s.handleProviderStatus)
		api.GET("/market-data/status", s.handleIngestionStatus)
		api.DELETE("/market-data/cache", s.handleInvalidateCache)

		// Analysis pipeline
		api.POST("/analyze", s.handleAnalyze)

		// Engine activity
		api.GET("/events", s.handleRecentEvents)

		// Workflow
		api.GET("/workflow/trend", s.handleAssessTrend)
		api.GET("/workflow/alignment", s.handleCheckAlignment)
		api.GET("/workflow/fibonacci", s.handleFibonacciLevels)
		api.GET("/workflow/indicators", s.handleIndicatorConfirmation)
		api.POST("/workflow/categorize", s.handleCategorizeTrade)
		api.POST("/workflow/scan", s.handleScanOpportunities)
		api.POST("/workflow/validate", s.handleValidateTrade)
		api.GET("/workflow/cascade", s.handleDetectCascade)

		// Backtesting
		api.POST("/backtest", s.handleRunBacktest)
		api.GET("/backtest/runs", s.handleListBacktestRuns)
		api.GET("/backtest/runs/:id", s.handleGetBacktestRun)
		api.POST("/backtest/optimize", s.handleOptimize)
	}
}

// Start blocks serving HTTP until the server is shut down.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Router exposes the gin engine, used by tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// handleHealth reports process and persistence health.
func (s *Server) handleHealth(c *gin.Context) {
	response := gin.H{"status": "healthy", "time": time.Now().UTC().Format(time.RFC3339)}

	if s.deps.DB != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.DB.Ping(ctx); err != nil {
			response["status"] = "degraded"
			response["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, response)
			return
		}
		response["database"] = "healthy"
	}

	c.JSON(http.StatusOK, response)
}

// errorResponse is a helper to send error responses.
func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

// successResponse is a helper to send success responses.
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}
