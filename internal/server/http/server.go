// Package http exposes the stage router over a JSON API served by gin.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"specpilot/internal/cache"
	"specpilot/internal/invoker"
	"specpilot/internal/observability"
	"specpilot/internal/router"
	"specpilot/internal/shared/logging"
)

// Config configures the HTTP adapter.
type Config struct {
	Addr        string
	CORSOrigins []string
	// RateLimit is the number of requests per key inside RateWindow; zero disables limiting.
	RateLimit       int
	RateWindow      time.Duration
	MetricsPath     string
	ShutdownTimeout time.Duration
	Debug           bool
}

// Deps are the components the handlers serve.
type Deps struct {
	Router  *router.StageRouter
	Invoker *invoker.Invoker
	// Cache may be nil when caching is disabled.
	Cache     *cache.Cache[string]
	Metrics   http.Handler
	Tracer    trace.Tracer
	AccessLog *observability.AccessLogger
	Logger    logging.Logger
	Now       func() time.Time
}

// Server owns the gin engine and its http.Server.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	router     *router.StageRouter
	invoker    *invoker.Invoker
	cache      *cache.Cache[string]
	limiter    *invoker.SlidingWindowLimiter
	logger     logging.Logger
	now        func() time.Time
	startTime  time.Time
	shutdown   time.Duration
}

// NewServer builds the engine and registers every route.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	if deps.Router == nil {
		return nil, fmt.Errorf("http server: router is required")
	}
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	logger := deps.Logger
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("HTTP")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.New(corsConfig(cfg.CORSOrigins)))

	s := &Server{
		engine:    engine,
		router:    deps.Router,
		invoker:   deps.Invoker,
		cache:     deps.Cache,
		logger:    logger,
		now:       now,
		startTime: now(),
		shutdown:  cfg.ShutdownTimeout,
	}
	if cfg.RateLimit > 0 {
		s.limiter = invoker.NewSlidingWindowLimiter(invoker.RateLimitConfig{
			Limit:  cfg.RateLimit,
			Window: cfg.RateWindow,
			Now:    now,
		})
	}
	s.routes(deps, cfg.MetricsPath)

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func corsConfig(origins []string) cors.Config {
	config := cors.DefaultConfig()
	config.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Requested-With"}
	config.ExposeHeaders = []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = origins
	}
	return config
}

func (s *Server) routes(deps Deps, metricsPath string) {
	api := s.engine.Group("/api")
	api.Use(ObservabilityMiddleware(deps.Tracer, deps.AccessLog))
	api.GET("/health", s.handleHealth)

	limited := api.Group("")
	limited.Use(RateLimitMiddleware(s.limiter))

	sessions := limited.Group("/sessions")
	{
		sessions.POST("", s.handleCreateSession)
		sessions.GET("/:id", s.handleGetSession)
		sessions.DELETE("/:id", s.handleDeleteSession)
		sessions.GET("/:id/messages", s.handleGetMessages)
		sessions.POST("/:id/turns", s.handleAdvance)
	}

	cacheRoutes := limited.Group("/cache")
	{
		cacheRoutes.GET("/stats", s.handleCacheStats)
		cacheRoutes.POST("/invalidate", s.handleCacheInvalidate)
	}

	if deps.Metrics != nil {
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		s.engine.GET(metricsPath, gin.WrapH(deps.Metrics))
	}
}

// Handler exposes the engine, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Stopping HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdown)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return <-errCh
}
