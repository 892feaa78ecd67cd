package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/rs/zerolog/log"

	"example.com/backoffice/services/ledger/audit"
	"example.com/backoffice/services/ledger/cache"
	"example.com/backoffice/services/ledger/config"
	"example.com/backoffice/services/ledger/dispatch"
	"example.com/backoffice/services/ledger/eventstore"
	"example.com/backoffice/services/ledger/replay"
	"example.com/backoffice/services/ledger/schema"
	"example.com/backoffice/services/ledger/tracing"
)

// Server is the HTTP server for the API
type Server struct {
	cfg        config.Config
	router     *gin.Engine
	httpServer *http.Server

	store      eventstore.Store
	engine     *replay.Engine
	auditSvc   *audit.Service
	registry   *schema.Registry
	migrator   *schema.Migrator
	dispatcher *dispatch.Dispatcher
	cache      *cache.RedisCache
	tracer     tracing.Tracer
}

// NewServer creates a new API server
func NewServer(
	cfg config.Config,
	store eventstore.Store,
	engine *replay.Engine,
	auditSvc *audit.Service,
	registry *schema.Registry,
	migrator *schema.Migrator,
	dispatcher *dispatch.Dispatcher,
	redisCache *cache.RedisCache,
	tracer tracing.Tracer,
) *Server {
	server := &Server{
		cfg:        cfg,
		router:     gin.Default(),
		store:      store,
		engine:     engine,
		auditSvc:   auditSvc,
		registry:   registry,
		migrator:   migrator,
		dispatcher: dispatcher,
		cache:      redisCache,
		tracer:     tracer,
	}

	// Setup middleware
	server.setupMiddleware()

	// Setup routes
	server.setupRoutes()

	return server
}

// setupMiddleware adds middleware to the router
func (s *Server) setupMiddleware() {
	// Add request ID middleware
	s.router.Use(RequestIDMiddleware())

	// Add CORS middleware
	if s.cfg.CorsEnabled {
		s.router.Use(CORSMiddleware(s.cfg.CorsOrigins))
	}

	// Add recovery middleware
	s.router.Use(gin.Recovery())

	// Add logging middleware
	s.router.Use(LoggingMiddleware())

	// Add tracing middleware when the agent is configured
	if s.tracer != nil {
		if app := s.tracer.Application(); app != nil {
			s.router.Use(nrgin.Middleware(app))
		}
	}
}

// setupRoutes defines the API routes
func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	// API v1 group
	v1 := s.router.Group("/api/v1")

	// Event routes
	eventRoutes := v1.Group("/events")
	{
		eventRoutes.POST("", s.storeEvent)
		eventRoutes.GET("", s.queryEvents)
		eventRoutes.GET("/statistics", s.getStatistics)
	}

	// Aggregate routes
	aggregateRoutes := v1.Group("/aggregates")
	{
		aggregateRoutes.GET("/:id", s.getAggregateState)
		aggregateRoutes.GET("/:id/events", s.getAggregateEvents)
		aggregateRoutes.GET("/:id/consistency", s.validateConsistency)
		aggregateRoutes.GET("/:id/snapshot", s.getSnapshot)
		aggregateRoutes.POST("/:id/replay", s.replayAggregate)
		aggregateRoutes.POST("/:id/replay/advanced", s.replayAggregateAdvanced)
		aggregateRoutes.POST("/:id/replay/checkpoints", s.replayAggregateWithCheckpoints)
	}
	v1.POST("/replay/parallel", s.replayParallel)

	// Audit routes
	auditRoutes := v1.Group("/audit")
	{
		auditRoutes.GET("/trail/:id", s.getAuditTrail)
		auditRoutes.GET("/trail/:id/enhanced", s.getEnhancedAuditTrail)
		auditRoutes.POST("/compliance/report", s.generateComplianceReport)
		auditRoutes.GET("/users/:id/actions", s.getUserActions)
		auditRoutes.GET("/users/:id/risk", s.getUserRiskScore)
		auditRoutes.POST("/access", s.trackSensitiveAccess)
		auditRoutes.GET("/analytics", s.getFinancialAnalytics)
	}

	// Schema routes
	schemaRoutes := v1.Group("/schema")
	{
		schemaRoutes.GET("/types", s.getRegisteredTypes)
		schemaRoutes.GET("/history/:eventType", s.getSchemaHistory)
		schemaRoutes.GET("/status/:eventType", s.getMigrationStatus)
		schemaRoutes.POST("/migrate", s.migrateEvents)
		schemaRoutes.POST("/rollback/:eventID", s.rollbackMigration)
	}

	// Dead letter queue routes
	dlqRoutes := v1.Group("/dlq")
	{
		dlqRoutes.GET("", s.listDeadLetters)
		dlqRoutes.POST("/:eventID/retry", s.retryDeadLetter)
	}

	// Dispatcher metrics
	v1.GET("/metrics", s.getDispatcherMetrics)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    s.cfg.HTTPServerAddress,
		Handler: s.router,
	}

	log.Info().Msgf("HTTP server starting on %s", s.cfg.HTTPServerAddress)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
