// Package api provides the HTTP API server for the monitor.
// It uses Echo to serve REST endpoints and a WebSocket push stream for
// real-time metric, alert and entity status updates.
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/louissader/homelab-infrastructure-monitor/internal/auth"
	"github.com/louissader/homelab-infrastructure-monitor/internal/bus"
	"github.com/louissader/homelab-infrastructure-monitor/internal/config"
	"github.com/louissader/homelab-infrastructure-monitor/internal/ingest"
	"github.com/louissader/homelab-infrastructure-monitor/internal/rules"
	"github.com/louissader/homelab-infrastructure-monitor/internal/store"
	"github.com/louissader/homelab-infrastructure-monitor/internal/telemetry"
	"github.com/louissader/homelab-infrastructure-monitor/internal/version"
)

// Server is the API server. It owns no domain logic: handlers translate
// HTTP to calls on the store, the ingestion coordinator and the rule
// engine, and translate domain errors back to HTTP.
type Server struct {
	echo       *echo.Echo
	config     *config.Config
	store      *store.Store
	coord      *ingest.Coordinator
	engine     *rules.Engine
	bus        *bus.Bus
	metrics    *telemetry.Metrics
	authMiddle *auth.Middleware
	validate   *validator.Validate
	logger     *zap.Logger
}

// New creates a new API server instance.
func New(
	cfg *config.Config,
	st *store.Store,
	coord *ingest.Coordinator,
	engine *rules.Engine,
	eventBus *bus.Bus,
	metrics *telemetry.Metrics,
	logger *zap.Logger,
) *Server {
	e := echo.New()

	e.HideBanner = true
	e.HidePort = true
	e.Debug = cfg.Server.Debug

	e.HTTPErrorHandler = HTTPErrorHandler

	server := &Server{
		echo:       e,
		config:     cfg,
		store:      st,
		coord:      coord,
		engine:     engine,
		bus:        eventBus,
		metrics:    metrics,
		authMiddle: auth.NewMiddleware(cfg, st.Entities),
		validate:   validator.New(),
		logger:     logger.With(zap.String("component", "api")),
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures Echo middleware.
func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "[${time_rfc3339}] ${status} ${method} ${uri} (${latency_human})\n",
	}))

	s.echo.Use(middleware.Recover())

	s.echo.Use(SecurityHeaders)

	if len(s.config.Security.AllowedOrigins) > 0 {
		s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: s.config.Security.AllowedOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, auth.HeaderAPIKey},
		}))
	}

	s.echo.Use(middleware.RequestID())

	if s.config.Security.RateLimit > 0 {
		s.echo.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(
			rate.Limit(s.config.Security.RateLimit),
		)))
	}

	s.echo.Use(ValidateContentType)
	s.echo.Use(ValidateAcceptHeader)
}

// setupRoutes configures API routes.
func (s *Server) setupRoutes() {
	// Health check and Prometheus metrics are unauthenticated; probes and
	// scrapers carry no tokens.
	s.echo.GET("/health", s.healthCheck)
	s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))

	v1 := s.echo.Group("/api/v1")

	// Metric routes. Ingest accepts per-entity agent keys as well as
	// operator tokens; reads are operator-only.
	metricRoutes := v1.Group("/metrics")
	metricRoutes.POST("/ingest", s.ingestMetrics, s.authMiddle.RequireAgentKey)
	metricRoutes.GET("", s.listMetrics, s.authMiddle.RequireRead)
	metricRoutes.GET("/latest", s.latestMetrics, s.authMiddle.RequireRead)
	metricRoutes.DELETE("", s.cleanupMetrics, s.authMiddle.RequireAdmin)

	// Entity routes
	entityRoutes := v1.Group("/entities")
	entityRoutes.GET("", s.listEntities, s.authMiddle.RequireRead)
	entityRoutes.GET("/:id", s.getEntity, ValidateIDFormat, s.authMiddle.RequireRead)
	entityRoutes.POST("", s.createEntity, s.authMiddle.RequireWrite)
	entityRoutes.PUT("/:id", s.updateEntity, ValidateIDFormat, s.authMiddle.RequireWrite)
	entityRoutes.DELETE("/:id", s.deleteEntity, ValidateIDFormat, s.authMiddle.RequireAdmin)
	entityRoutes.POST("/:id/apikey", s.rotateAPIKey, ValidateIDFormat, s.authMiddle.RequireWrite)

	// Alert routes
	alertRoutes := v1.Group("/alerts")
	alertRoutes.GET("", s.listAlerts, s.authMiddle.RequireRead)
	alertRoutes.GET("/:id", s.getAlert, ValidateIDFormat, s.authMiddle.RequireRead)
	alertRoutes.POST("/:id/acknowledge", s.acknowledgeAlert, ValidateIDFormat, s.authMiddle.RequireWrite)
	alertRoutes.POST("/:id/resolve", s.resolveAlert, ValidateIDFormat, s.authMiddle.RequireWrite)

	// Alert rule routes
	ruleRoutes := v1.Group("/rules")
	ruleRoutes.GET("", s.listRules, s.authMiddle.RequireRead)
	ruleRoutes.GET("/:id", s.getRule, ValidateIDFormat, s.authMiddle.RequireRead)
	ruleRoutes.POST("", s.createRule, s.authMiddle.RequireWrite)
	ruleRoutes.PUT("/:id", s.updateRule, ValidateIDFormat, s.authMiddle.RequireWrite)
	ruleRoutes.DELETE("/:id", s.deleteRule, ValidateIDFormat, s.authMiddle.RequireWrite)

	// Statistics routes
	statsRoutes := v1.Group("/stats")
	statsRoutes.GET("/overview", s.statsOverview, s.authMiddle.RequireRead)

	// WebSocket push stream
	v1.GET("/ws", s.handleStream, s.authMiddle.RequireRead)

	// Authentication routes
	authRoutes := v1.Group("/auth")
	authRoutes.POST("/login", s.login)
	authRoutes.GET("/me", s.me, s.authMiddle.RequireAuth)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)

	s.logger.Info("starting API server",
		zap.String("address", addr),
		zap.String("database", s.store.Driver()),
		zap.Bool("auth", s.config.Security.AuthEnabled),
		zap.Bool("tls", s.config.Server.TLSEnabled))

	s.echo.Server.ReadTimeout = s.config.Server.ReadTimeout
	s.echo.Server.WriteTimeout = s.config.Server.WriteTimeout

	if s.config.Server.TLSEnabled {
		return s.echo.StartTLS(addr, s.config.Server.TLSCert, s.config.Server.TLSKey)
	}

	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server. Store teardown belongs to the
// process lifecycle, not the HTTP layer.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")

	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("error shutting down server: %w", err)
	}
	return nil
}

// healthCheck handles health check requests.
func (s *Server) healthCheck(c echo.Context) error {
	snapshots, err := s.store.Snapshots.Count(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
			"status":  "unhealthy",
			"error":   "store unavailable",
			"details": err.Error(),
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   "monitord",
		"version":   version.Version,
		"database":  s.store.Driver(),
		"snapshots": snapshots,
		"stream":    s.bus.Stats(),
	})
}

// ServeHTTP allows Server to implement http.Handler for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
