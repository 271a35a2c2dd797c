// Package api provides the HTTP server for the flow proxy.
// It wires middleware for logging, recovery, metrics, CORS and body limits,
// and registers the flow routes together with the health and metrics endpoints.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/victorsharp-labs/flow-proxy/internal/api/handlers/flow"
	"github.com/victorsharp-labs/flow-proxy/internal/api/middleware"
	"github.com/victorsharp-labs/flow-proxy/internal/buildinfo"
	"github.com/victorsharp-labs/flow-proxy/internal/cache"
	"github.com/victorsharp-labs/flow-proxy/internal/config"
	"github.com/victorsharp-labs/flow-proxy/internal/logging"
	"github.com/victorsharp-labs/flow-proxy/internal/resolver"
	"github.com/victorsharp-labs/flow-proxy/internal/upstream"
)

const (
	defaultAllowMethods = "GET, POST, PUT, PATCH, DELETE, OPTIONS, HEAD"
	defaultAllowHeaders = "Content-Type, Authorization, X-Requested-With, X-Flow-Session, X-Flow-Token, X-Request-Id"
)

type serverOptionConfig struct {
	extraMiddleware    []gin.HandlerFunc
	engineConfigurator func(*gin.Engine)
	endpointCache      *cache.EndpointCache
	upstreamClient     upstream.Doer
}

// ServerOption customises HTTP server construction.
type ServerOption func(*serverOptionConfig)

// WithMiddleware appends additional Gin middleware during server construction.
func WithMiddleware(mw ...gin.HandlerFunc) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.extraMiddleware = append(cfg.extraMiddleware, mw...)
	}
}

// WithEngineConfigurator allows callers to mutate the Gin engine prior to middleware setup.
func WithEngineConfigurator(fn func(*gin.Engine)) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.engineConfigurator = fn
	}
}

// WithEndpointCache injects the endpoint cache shared by all requests.
func WithEndpointCache(c *cache.EndpointCache) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.endpointCache = c
	}
}

// WithUpstreamClient replaces the client used for upstream calls.
func WithUpstreamClient(client upstream.Doer) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.upstreamClient = client
	}
}

// Server represents the flow proxy HTTP server.
type Server struct {
	// engine is the Gin web framework engine instance.
	engine *gin.Engine

	// server is the underlying HTTP server.
	server *http.Server

	cfg      *config.Config
	cache    *cache.EndpointCache
	resolver *resolver.Resolver
	handler  *flow.Handler
}

// NewServer creates and initializes a new API server.
func NewServer(cfg *config.Config, opts ...ServerOption) *Server {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	optionState := &serverOptionConfig{}
	for i := range opts {
		opts[i](optionState)
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	if optionState.engineConfigurator != nil {
		optionState.engineConfigurator(engine)
	}

	middleware.SetMetricsEnabled(cfg.IsMetricsEnabled())

	engine.Use(logging.GinLogrusLogger())
	engine.Use(logging.GinLogrusRecovery())
	engine.Use(middleware.PrometheusMiddleware())
	engine.Use(corsMiddleware(cfg.CORS))
	engine.Use(bodyLimitMiddleware(cfg.RequestBodyLimit()))
	engine.Use(middleware.RequestDecompressionMiddleware(cfg.RequestBodyLimit()))
	for _, mw := range optionState.extraMiddleware {
		engine.Use(mw)
	}

	endpoints := optionState.endpointCache
	if endpoints == nil {
		endpoints = cache.NewEndpointCache(cfg.Upstream.GetCacheTTL())
	}

	client := optionState.upstreamClient
	if client == nil {
		built, err := upstream.NewClientFromConfig(&cfg.Upstream)
		if err != nil {
			log.WithError(err).Warn("invalid upstream proxy settings, calling upstream directly")
			built = upstream.NewClient(
				upstream.WithDefaultHeaders(cfg.Upstream.HeadersFor("")),
				upstream.WithMaxResponseBytes(cfg.Upstream.GetMaxResponseBytes()),
			)
		}
		client = built
	}

	res := resolver.New(client, endpoints, resolver.WithAdvanceOnTransportError(cfg.Upstream.AdvanceOnTransportError))

	s := &Server{
		engine:   engine,
		cfg:      cfg,
		cache:    endpoints,
		resolver: res,
		handler:  flow.NewHandler(cfg, res),
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 30 * time.Second,
	}

	return s
}

// setupRoutes configures the API routes for the server.
func (s *Server) setupRoutes() {
	prefix := s.cfg.NormalizedRoutePrefix()
	group := s.engine.Group(prefix)
	{
		group.POST("/session/validate", s.handler.ValidateSession)
		group.GET("/session/validate", s.handler.ValidateSession)
		group.POST("/video/generate", s.handler.Generate)
		group.POST("/veo/generate", s.handler.Generate)
		group.GET("/video/status/:id", s.handler.Status)
		group.GET("/veo/status/:id", s.handler.Status)
		if s.cfg.IsDebugEndpointsEnabled() {
			group.GET("/debug/env", s.handler.DebugEnv)
			group.GET("/debug/logs", s.handler.DebugLogs)
			group.DELETE("/debug/cache", s.handler.DebugClearCache)
		}
	}

	s.engine.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "%s is running", buildinfo.ServiceName)
	})

	s.engine.GET("/health", func(c *gin.Context) {
		logging.SkipGinRequestLogging(c)
		c.JSON(http.StatusOK, gin.H{
			"ok":      true,
			"service": buildinfo.ServiceName,
			"ts":      time.Now().UnixMilli(),
		})
	})

	s.engine.GET("/metrics", middleware.MetricsHandler())

	s.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"ok":     false,
			"error":  "API Endpoint Not Found",
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
		})
	})
}

// Handler exposes the configured engine, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// EndpointCache returns the endpoint cache owned by the server.
func (s *Server) EndpointCache() *cache.EndpointCache {
	return s.cache
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Start begins listening for and serving HTTP requests.
// It's a blocking call and will only return on an unrecoverable error.
func (s *Server) Start() error {
	if s == nil || s.server == nil {
		return fmt.Errorf("failed to start HTTP server: server not initialized")
	}

	log.Infof("flow proxy listening on %s (routes under %q)", s.server.Addr, s.cfg.NormalizedRoutePrefix())
	if errServe := s.server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %v", errServe)
	}
	return nil
}

// Stop gracefully shuts down the API server without interrupting any
// active connections.
func (s *Server) Stop(ctx context.Context) error {
	log.Debug("Stopping API server...")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %v", err)
	}

	log.Debug("API server stopped")
	return nil
}

// corsMiddleware reflects the caller's origin when no allow-list is configured,
// so browser clients can send credentials from any origin.
func corsMiddleware(cors config.CORSConfig) gin.HandlerFunc {
	allowMethods := defaultAllowMethods
	if len(cors.AllowMethods) > 0 {
		allowMethods = strings.Join(cors.AllowMethods, ", ")
	}
	allowHeaders := defaultAllowHeaders
	if len(cors.AllowHeaders) > 0 {
		allowHeaders = strings.Join(cors.AllowHeaders, ", ")
	}

	return func(c *gin.Context) {
		origin := strings.TrimSpace(c.GetHeader("Origin"))

		allowed := origin != "" && (len(cors.AllowOrigins) == 0 || originAllowed(cors.AllowOrigins, origin))
		if allowed {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", allowMethods)
			c.Header("Access-Control-Allow-Headers", allowHeaders)
			c.Header("Access-Control-Expose-Headers", "X-Request-Id")
			c.Header("Vary", "Origin")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func originAllowed(allowOrigins []string, origin string) bool {
	if origin == "" || len(allowOrigins) == 0 {
		return false
	}
	for _, allowed := range allowOrigins {
		allowed = strings.TrimSpace(allowed)
		if allowed == "" {
			continue
		}
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// bodyLimitMiddleware caps inbound request bodies; reads past the limit fail with
// *http.MaxBytesError, which handlers turn into 413.
func bodyLimitMiddleware(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit > 0 && c.Request.Body != nil && c.Request.Body != http.NoBody {
			if c.Request.ContentLength > limit {
				c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
					"ok":    false,
					"error": "Request body too large",
					"code":  "invalid_payload",
				})
				return
			}
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}
