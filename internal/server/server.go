// Package server wires the decision engine, alert desk and operator
// surfaces into one HTTP server.
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
	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/pressly/goose/v3"
	"github.com/redis/go-redis/v9"

	"github.com/mbd888/riskgate/internal/alerts"
	"github.com/mbd888/riskgate/internal/auth"
	"github.com/mbd888/riskgate/internal/circuitbreaker"
	"github.com/mbd888/riskgate/internal/config"
	"github.com/mbd888/riskgate/internal/health"
	"github.com/mbd888/riskgate/internal/logging"
	"github.com/mbd888/riskgate/internal/metrics"
	"github.com/mbd888/riskgate/internal/ratelimit"
	"github.com/mbd888/riskgate/internal/realtime"
	"github.com/mbd888/riskgate/internal/risk"
	"github.com/mbd888/riskgate/internal/security"
	"github.com/mbd888/riskgate/internal/traces"
	"github.com/mbd888/riskgate/internal/txn"
	"github.com/mbd888/riskgate/internal/validation"
	"github.com/mbd888/riskgate/migrations"
)

// Version is reported by the health and info endpoints.
var Version = "dev"

const (
	alertWorkers = 4
	alertBuffer  = 1024

	breakerThreshold = 5
	breakerCooldown  = 30 * time.Second
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	policy       risk.Policy
	riskService  *risk.Service
	reviewTimer  *risk.ReviewTimer
	alertManager *alerts.Manager
	alertRaiser  *alerts.AsyncRaiser
	kafka        *alerts.KafkaNotifier
	authMgr      *auth.Manager
	realtimeHub  *realtime.Hub
	rateLimiter  *ratelimit.Limiter
	health       *health.Registry
	backend      string

	db    *sql.DB // nil unless DATABASE_URL is set
	bolt  *risk.BoltStore
	redis *redis.Client

	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

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

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFormat),
		health: health.NewRegistry(2 * time.Second),
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	policy, err := risk.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load risk policy: %w", err)
	}
	s.policy = policy
	if cfg.PolicyFile != "" {
		s.logger.Info("risk policy loaded", "file", cfg.PolicyFile)
	}

	var (
		profiles   risk.Store
		alertStore alerts.Store
		authStore  auth.Store
		history    txn.Store
	)

	// Storage: PostgreSQL, then bbolt, then in-memory.
	switch {
	case cfg.DatabaseURL != "":
		db, err := openPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			if err := applyMigrations(ctx, db); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("failed to apply migrations: %w", err)
			}
			s.logger.Info("database migrations applied")
		}
		s.db = db
		s.backend = "postgres"
		profiles = risk.NewPostgresStore(db)
		alertStore = alerts.NewPostgresStore(db)
		authStore = auth.NewPostgresStore(db)
		history = txn.NewPostgresStore(db)
		s.health.Register("postgres", health.PingChecker("postgres", db.PingContext))
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

	case cfg.BoltPath != "":
		b, err := risk.OpenBoltStore(cfg.BoltPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open bolt store: %w", err)
		}
		s.bolt = b
		s.backend = "bolt"
		profiles = b
		alertStore = alerts.NewMemoryStore()
		authStore = auth.NewMemoryStore()
		history = txn.NewMemoryStore()
		s.logger.Info("using bbolt profile storage (alerts and history in memory)", "path", cfg.BoltPath)

	default:
		s.backend = "memory"
		profiles = risk.NewMemoryStore()
		alertStore = alerts.NewMemoryStore()
		authStore = auth.NewMemoryStore()
		history = txn.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Redis takes over velocity history when configured.
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			s.closeStores()
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		s.redis = redis.NewClient(opt)
		rs := txn.NewRedisStore(s.redis)
		history = rs
		s.health.Register("redis", health.PingChecker("redis", rs.Ping))
		s.logger.Info("using Redis transaction history", "addr", opt.Addr)
	}

	// Alert desk and its fan-out.
	s.realtimeHub = realtime.NewHub(s.logger, realtime.WithAllowedOrigins(cfg.CORSOrigins))
	notifiers := []alerts.Notifier{s.realtimeHub}
	if len(cfg.KafkaBrokers) > 0 {
		s.kafka = alerts.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaAlertTopic)
		notifiers = append(notifiers, s.kafka)
		s.logger.Info("publishing alert events to kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaAlertTopic)
	}
	if cfg.AlertWebhookURL != "" {
		notifiers = append(notifiers, alerts.NewWebhookNotifier(cfg.AlertWebhookURL, cfg.AlertWebhookSecret))
		s.logger.Info("posting alert events to webhook", "url", maskDSN(cfg.AlertWebhookURL))
	}
	s.alertManager = alerts.NewManager(alertStore,
		alerts.WithNotifiers(notifiers...),
		alerts.WithEscalationQueue(policy.EscalationQueue),
		alerts.WithLogger(s.logger),
	)
	s.alertRaiser = alerts.NewAsyncRaiser(s.alertManager, alertWorkers, alertBuffer, s.logger)

	// Decision engine.
	s.riskService = risk.NewService(profiles, history, policy,
		risk.WithRecorder(history),
		risk.WithRaiser(s.alertRaiser),
		risk.WithBreaker(circuitbreaker.New(breakerThreshold, breakerCooldown)),
		risk.WithLogger(s.logger),
	)
	s.reviewTimer = risk.NewReviewTimer(s.riskService, cfg.ReviewInterval, s.logger)

	s.authMgr = auth.NewManager(authStore, cfg.ServiceToken).WithLogger(s.logger)
	if cfg.ServiceToken == "" {
		s.logger.Warn("SERVICE_TOKEN not set; only issued service keys are accepted")
	}
	if cfg.AdminSecret == "" {
		s.logger.Warn("ADMIN_SECRET not set; any authenticated service may use admin routes")
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

func openPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func applyMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, ".")
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
	s.router.Use(security.CORSMiddleware(s.cfg.CORSOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))
	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())

	// Authentication never aborts here; route groups enforce it. It runs
	// before the limiter so buckets are per service.
	s.router.Use(auth.Middleware(s.authMgr))

	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: s.cfg.RateLimitRPM,
		BurstSize:         max(10, s.cfg.RateLimitRPM/10),
		CleanupInterval:   time.Minute,
	})
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Keep an upstream request ID (load balancer, calling service).
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
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
			logger.Debug("request completed",
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
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	v1 := s.router.Group("/v1")
	v1.GET("/info", s.infoHandler)

	riskHandler := risk.NewHandler(s.riskService)
	alertHandler := alerts.NewHandler(s.alertManager)
	authHandler := auth.NewHandler(s.authMgr)

	authHandler.RegisterRoutes(v1)

	// Calling services (issued key or SERVICE_TOKEN).
	protected := v1.Group("")
	protected.Use(auth.RequireAuth())
	riskHandler.RegisterProtectedRoutes(protected)
	alertHandler.RegisterProtectedRoutes(protected)
	authHandler.RegisterProtectedRoutes(protected)

	// Review desk.
	admin := v1.Group("/admin")
	admin.Use(auth.RequireAdmin(s.cfg.AdminSecret))
	riskHandler.RegisterAdminRoutes(admin)
	alertHandler.RegisterAdminRoutes(admin)
	authHandler.RegisterAdminRoutes(admin)
	admin.GET("/alerts/stream", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})
	admin.GET("/stream/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.realtimeHub.Stats())
	})
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Backend   string          `json:"backend"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ok, checks := s.health.CheckAll(c.Request.Context())

	status, code := "healthy", http.StatusOK
	if !ok {
		status, code = "degraded", http.StatusServiceUnavailable
	}

	c.JSON(code, HealthResponse{
		Status:    status,
		Version:   Version,
		Backend:   s.backend,
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
	if ok, checks := s.health.CheckAll(c.Request.Context()); !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "checks": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	ops := make([]string, 0, len(s.policy.Operations))
	for _, op := range []txn.Operation{txn.OpDeposit, txn.OpWithdrawal, txn.OpTrade} {
		if _, ok := s.policy.Operations[op]; ok {
			ops = append(ops, string(op))
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"name":        "riskgate",
		"description": "Transaction risk and compliance decision engine",
		"version":     Version,
		"backend":     s.backend,
		"operations":  ops,
		"timezone":    s.policy.Timezone,
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	shutdownTracing, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, Version, s.logger)
	if err != nil {
		s.logger.Warn("tracing init failed, continuing without export", "error", err)
		shutdownTracing = func(context.Context) error { return nil }
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = shutdownTracing(sctx)
	}()

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
		s.logger.Info("starting server", "port", s.cfg.Port, "backend", s.backend)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)
	go s.reviewTimer.Start(runCtx)
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

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
		s.closeStores()
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
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.reviewTimer.Stop()
	s.rateLimiter.Stop()

	// Drain queued alerts before the hub and stores go away.
	if err := s.alertRaiser.Close(ctx); err != nil {
		s.logger.Warn("alert queue not fully drained", "error", err)
	}

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	if s.kafka != nil {
		if err := s.kafka.Close(); err != nil {
			s.logger.Error("kafka writer close error", "error", err)
		}
	}

	s.closeStores()
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) closeStores() {
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
		}
	}
	if s.bolt != nil {
		if err := s.bolt.Close(); err != nil {
			s.logger.Error("bolt close error", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
