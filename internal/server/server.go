// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/mbd888/fraudswarm/internal/analysis"
	"github.com/mbd888/fraudswarm/internal/config"
	"github.com/mbd888/fraudswarm/internal/embedding"
	"github.com/mbd888/fraudswarm/internal/events"
	"github.com/mbd888/fraudswarm/internal/health"
	"github.com/mbd888/fraudswarm/internal/history"
	"github.com/mbd888/fraudswarm/internal/idgen"
	"github.com/mbd888/fraudswarm/internal/logging"
	"github.com/mbd888/fraudswarm/internal/metrics"
	"github.com/mbd888/fraudswarm/internal/ratelimit"
	"github.com/mbd888/fraudswarm/internal/realtime"
	"github.com/mbd888/fraudswarm/internal/security"
	"github.com/mbd888/fraudswarm/internal/traces"
	"github.com/mbd888/fraudswarm/internal/validation"
)

// Version is reported by /health and /api and tagged on traces.
var Version = "0.1.0"

const (
	healthCheckTimeout = 2 * time.Second
	dbStatsInterval    = 15 * time.Second
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg           *config.Config
	history       history.Store
	embedder      embedding.Embedder
	auditStore    analysis.Store
	analyzer      *analysis.Analyzer
	publisher     *events.Publisher
	extraSinks    []analysis.Sink
	realtimeHub   *realtime.Hub
	rateLimiter   *ratelimit.Limiter
	health        *health.Registry
	db            *sql.DB       // nil if using in-memory
	redis         *redis.Client // nil without REDIS_URL
	router        *gin.Engine
	httpSrv       *http.Server
	logger        *slog.Logger
	cancelRunCtx  context.CancelFunc // cancels background goroutines started in Run
	traceShutdown func(context.Context) error
	drainDelay    time.Duration

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithHistoryStore replaces the configured transaction history (for testing
// and embedding the service).
func WithHistoryStore(store history.Store) Option {
	return func(s *Server) {
		s.history = store
	}
}

// WithEmbedder replaces the configured embedding backend.
func WithEmbedder(e embedding.Embedder) Option {
	return func(s *Server) {
		s.embedder = e
	}
}

// WithAuditStore replaces the configured audit trail store.
func WithAuditStore(store analysis.Store) Option {
	return func(s *Server) {
		s.auditStore = store
	}
}

// WithSink adds a decision sink alongside the built-in ones.
func WithSink(sink analysis.Sink) Option {
	return func(s *Server) {
		s.extraSinks = append(s.extraSinks, sink)
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		health:     health.NewRegistry(),
		drainDelay: 5 * time.Second,
	}

	// Apply options first (may set stores/logger)
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	shutdown, err := traces.Init(ctx, cfg.OTLPEndpoint, Version, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	s.traceShutdown = shutdown

	// Storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if s.history == nil || s.auditStore == nil {
		if err := s.setupStorage(); err != nil {
			return nil, err
		}
	}
	s.health.Register("history", health.FromPing("history", healthCheckTimeout, s.history.Ping))

	// Merchant reputation cache
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		s.redis = redis.NewClient(redisOpts)
		s.history = history.NewCachedStore(s.history, s.redis, cfg.MerchantCacheTTL, s.logger)
		s.health.Register("redis", health.FromPing("redis", healthCheckTimeout, func(ctx context.Context) error {
			return s.redis.Ping(ctx).Err()
		}))
		s.logger.Info("merchant cache enabled", "addr", redisOpts.Addr, "ttl", cfg.MerchantCacheTTL)
	}

	if s.embedder == nil {
		s.embedder = newEmbedder(cfg)
	}
	if r, ok := s.embedder.(*embedding.Resilient); ok {
		s.health.Register("embedding", r.Check)
	}
	s.logger.Info("embedding backend configured", "provider", cfg.EmbeddingProvider, "dim", cfg.EmbeddingDim)

	// Decision sinks: audit trail, live feed, and optionally Kafka
	s.realtimeHub = realtime.NewHub(s.logger)
	sinks := []analysis.Sink{analysis.AuditSink(s.auditStore), s.realtimeHub}

	if len(cfg.KafkaBrokers) > 0 {
		pub, err := events.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			s.logger.Warn("failed to connect to kafka, decision stream disabled", "error", err)
		} else {
			s.publisher = pub
			sinks = append(sinks, pub)
			s.logger.Info("decision stream enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
		}
	}
	sinks = append(sinks, s.extraSinks...)

	analyzerOpts := []analysis.Option{
		analysis.WithLogger(s.logger),
		analysis.WithTimeouts(cfg.AgentTimeout, cfg.AnalysisTimeout),
	}
	for _, sink := range sinks {
		analyzerOpts = append(analyzerOpts, analysis.WithSink(sink))
	}
	s.analyzer = analysis.New(analysis.DefaultAgents(s.history, s.embedder), analyzerOpts...)

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

func (s *Server) setupStorage() error {
	if s.cfg.DatabaseURL == "" {
		if s.history == nil {
			s.history = history.NewMemoryStore()
		}
		if s.auditStore == nil {
			s.auditStore = analysis.NewMemoryStore()
		}
		s.logger.Warn("DATABASE_URL not set, using in-memory storage")
		return nil
	}

	db, err := sql.Open("postgres", s.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Every analysis runs up to five agent queries concurrently.
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	s.db = db
	if s.history == nil {
		s.history = history.NewPostgresStore(db)
	}
	if s.auditStore == nil {
		s.auditStore = analysis.NewPostgresStore(db)
	}
	s.logger.Info("using PostgreSQL storage", "url", maskDSN(s.cfg.DatabaseURL))
	return nil
}

func newEmbedder(cfg *config.Config) embedding.Embedder {
	if cfg.EmbeddingProvider == "openai" {
		client := embedding.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.EmbeddingModel, cfg.EmbeddingDim)
		return embedding.NewResilient(client, "openai")
	}
	return embedding.NewHashEmbedder(cfg.EmbeddingDim)
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())

	// Any origin may call the scoring API.
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	if s.cfg.RateLimitRPM > 0 {
		s.rateLimiter = ratelimit.New(ratelimit.FromRPM(s.cfg.RateLimitRPM))
		s.router.Use(s.rateLimiter.Middleware())
	}

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > 128 {
			requestID = idgen.WithPrefix("req_")
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// Live decision feed
	s.router.GET("/", feedPageHandler)
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	s.router.GET("/api", s.infoHandler)

	api := s.router.Group("/api")
	analysis.NewHandler(s.analyzer, s.auditStore).RegisterRoutes(api)
	api.GET("/feed/stats", s.feedStatsHandler)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, checks := s.health.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   Version,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "FraudSwarm",
		"description": "Real-time multi-agent transaction fraud scoring",
		"version":     Version,
		"agents":      analysis.Weights,
		"endpoints": []string{
			"POST /api/analyze",
			"POST /api/pattern",
			"GET /api/analyses/:user_id",
			"GET /ws",
		},
	})
}

func (s *Server) feedStatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.realtimeHub.Stats())
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, dbStatsInterval)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Give load balancers time to stop sending traffic
	time.Sleep(s.drainDelay)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	// In-flight decisions still have to reach the audit trail and stream.
	s.analyzer.Wait()
	s.logger.Info("decision sinks drained")

	// Stops the realtime hub and DB stats collector
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			s.logger.Error("kafka producer close error", "error", err)
		}
	}

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
		}
	}

	if s.traceShutdown != nil {
		if err := s.traceShutdown(ctx); err != nil {
			s.logger.Error("trace exporter shutdown error", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
