package server

import (
	"context"
	"net/http"
	"time"

	"github.com/convoyhq/gateway/internal/circuitbreaker"
	"github.com/convoyhq/gateway/internal/config"
	"github.com/convoyhq/gateway/internal/middleware"
	"github.com/convoyhq/gateway/internal/proxy"
	"github.com/convoyhq/gateway/internal/ratelimit"
	"github.com/convoyhq/gateway/internal/retry"
	"github.com/convoyhq/gateway/internal/storage"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	router     *gin.Engine
	config     *config.Config
	redis      *storage.RedisClient
	breakers   *circuitbreaker.Registry
	proxies    map[string]*proxy.Proxy
	logger     *zap.Logger
	httpServer *http.Server
	startTime  time.Time
}

func New(cfg *config.Config, redis *storage.RedisClient, logger *zap.Logger) *Server {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	s := &Server{
		router:   router,
		config:   cfg,
		redis:    redis,
		breakers: circuitbreaker.NewRegistry(circuitbreaker.Config{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			BreakDuration:    cfg.Breaker.BreakDuration,
		}, logger),
		proxies:   make(map[string]*proxy.Proxy),
		logger:    logger,
		startTime: time.Now(),
	}

	s.initializeProxies()
	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) initializeProxies() {
	retrier := retry.New(s.config.Retry.MaxAttempts, s.logger)

	for _, svc := range s.config.Services {
		p, err := proxy.New(
			svc.Target,
			s.breakers.Get(svc.Target),
			retrier,
			s.config.Retry.RetryableStatus,
			s.logger,
		)
		if err != nil {
			s.logger.Error("failed to create proxy",
				zap.String("path", svc.Path),
				zap.String("target", svc.Target),
				zap.Error(err),
			)
			continue
		}

		s.proxies[svc.Path] = p
		s.logger.Info("initialized proxy",
			zap.String("path", svc.Path),
			zap.String("target", svc.Target),
		)
	}
}

// Middleware order is the admission pipeline: recovery wraps everything,
// correlation runs before rate limiting so even 429s carry the id, claims
// run before the limiter so the user policy can apply.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery())
	s.router.Use(middleware.Correlation(s.logger))
	s.router.Use(middleware.AccessLog())
	s.router.Use(middleware.Claims())

	limiter := ratelimit.NewFixedWindow(s.redis, s.config.RateLimit.ExpiryGrace)
	s.router.Use(middleware.RateLimit(limiter, s.config.RateLimit, s.config.HealthPaths, s.logger))
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/health/ready", s.ready)
	s.setupProxyRoutes()
}

func (s *Server) setupProxyRoutes() {
	for path, proxyInstance := range s.proxies {
		p := proxyInstance

		s.router.Any(path+"/*proxyPath", func(c *gin.Context) {
			p.Handle(c)
		})
		s.router.Any(path, func(c *gin.Context) {
			p.Handle(c)
		})

		s.logger.Info("registered proxy route", zap.String("path", path))
	}
}

// healthCheck reports the counter store's reachability for operators. A
// down store degrades the report, never the gateway itself; the limiter's
// fail mode decides what happens to traffic.
func (s *Server) healthCheck(c *gin.Context) {
	redisHealthy := true
	if err := s.redis.Ping(c.Request.Context()); err != nil {
		redisHealthy = false
	}

	status := "healthy"
	if !redisHealthy {
		status = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    status,
		"service":   "gateway",
		"uptime":    time.Since(s.startTime).Seconds(),
		"timestamp": time.Now().Unix(),
		"checks": gin.H{
			"redis": redisHealthy,
		},
	})
}

func (s *Server) ready(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) Run(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}

	s.logger.Info("starting gateway",
		zap.String("addr", addr),
		zap.String("environment", s.config.Server.Environment),
	)

	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) Router() *gin.Engine {
	return s.router
}
