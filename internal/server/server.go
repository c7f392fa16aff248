// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
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

	"github.com/mbd888/treasurer/internal/approvals"
	"github.com/mbd888/treasurer/internal/auth"
	"github.com/mbd888/treasurer/internal/config"
	"github.com/mbd888/treasurer/internal/health"
	"github.com/mbd888/treasurer/internal/ledger"
	"github.com/mbd888/treasurer/internal/logging"
	"github.com/mbd888/treasurer/internal/metrics"
	"github.com/mbd888/treasurer/internal/mnee"
	"github.com/mbd888/treasurer/internal/notify"
	"github.com/mbd888/treasurer/internal/policy"
	"github.com/mbd888/treasurer/internal/ratelimit"
	"github.com/mbd888/treasurer/internal/registry"
	"github.com/mbd888/treasurer/internal/retry"
	"github.com/mbd888/treasurer/internal/saga"
	"github.com/mbd888/treasurer/internal/security"
	"github.com/mbd888/treasurer/internal/treasury"
	"github.com/mbd888/treasurer/internal/validation"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	treasury     treasury.Service
	policyStore  policy.Store
	reservations *ledger.Reservations
	approvals    *approvals.Queue
	vendors      registry.Store
	orchestrator *saga.Orchestrator
	sink         notify.Sink
	checks       *health.Registry
	rateLimiter  *ratelimit.Limiter
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc

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

// WithTreasury sets a custom chain client (for testing)
func WithTreasury(t treasury.Service) Option {
	return func(s *Server) {
		s.treasury = t
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set treasury/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.policyStore = policy.NewPostgresStore(db)
		s.reservations = ledger.NewReservations(ledger.NewPostgresStore(db), s.logger)
		s.approvals = approvals.NewQueue(approvals.NewPostgresStore(db), s.logger)
		s.vendors = registry.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		s.policyStore = policy.NewMemoryStore()
		s.reservations = ledger.NewReservations(ledger.NewMemoryStore(), s.logger)
		s.approvals = approvals.NewQueue(approvals.NewMemoryStore(), s.logger)
		s.vendors = registry.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Create treasury if not injected
	if s.treasury == nil {
		t, err := treasury.New(treasury.Config{
			RPCURL:       cfg.RPCURL,
			PrivateKey:   cfg.PrivateKey,
			ChainID:      cfg.ChainID,
			MNEEContract: cfg.MNEEContract,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create treasury: %w", err)
		}
		s.treasury = t
	}

	// Alert sinks: structured log always, webhook when configured
	sinks := notify.MultiSink{notify.NewLogSink(s.logger)}
	if cfg.AlertWebhookURL != "" {
		if cfg.IsProduction() {
			if err := security.ValidateEndpointURL(cfg.AlertWebhookURL); err != nil {
				return nil, fmt.Errorf("alert webhook URL rejected: %w", err)
			}
		}
		sinks = append(sinks, notify.NewWebhookSink(cfg.AlertWebhookURL, cfg.WebhookSecret, s.logger))
		s.logger.Info("alert webhook enabled", "url", cfg.AlertWebhookURL)
	}
	s.sink = sinks

	// Payment pipeline
	gate := policy.NewGate(s.policyStore, cfg.ApprovalLimitName, cfg.ApprovalLimitDefault)
	executor := treasury.NewExecutor(s.treasury, registry.NewResolver(s.vendors), s.sink, s.logger)
	retryPolicy := retry.Policy{
		MaxAttempts:  cfg.RetryMaxAttempts,
		InitialDelay: cfg.RetryInitialDelay,
		MaxDelay:     cfg.RetryMaxDelay,
		Base:         2.0,
		Jitter:       true,
	}
	s.orchestrator = saga.New(gate, s.reservations, executor, s.approvals, s.sink, retryPolicy, s.logger)
	s.approvals.SetResubmitter(s.orchestrator)

	// Subsystem health checks exposed on /health
	s.checks = health.NewRegistry()
	s.checks.Register("rpc", func(ctx context.Context) health.Status {
		if _, err := s.treasury.Balance(ctx); err != nil {
			return health.Status{Name: "rpc", Healthy: false, Detail: err.Error()}
		}
		return health.Status{Name: "rpc", Healthy: true}
	})
	if s.db != nil {
		s.checks.Register("database", func(ctx context.Context) health.Status {
			if err := s.db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	}

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

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig())
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
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

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")

	// Payment submission
	saga.NewHandler(s.orchestrator).RegisterRoutes(v1)

	// Reservation lookup
	ledger.NewHandler(s.reservations).RegisterRoutes(v1)

	// Policy limit: read is public, write is operator-only
	policyHandler := policy.NewHandler(s.policyStore, s.cfg.ApprovalLimitName, s.cfg.ApprovalLimitDefault)
	policyHandler.RegisterRoutes(v1)

	// Vendor directory: read is public, mutation is operator-only
	vendorHandler := registry.NewHandler(s.vendors)
	vendorHandler.RegisterRoutes(v1)

	// Treasury balance
	v1.GET("/treasury/balance", s.balanceHandler)

	// OPERATOR ROUTES (admin secret required)
	admin := v1.Group("")
	admin.Use(auth.RequireAdmin(s.cfg.AdminSecret))
	{
		policyHandler.RegisterProtectedRoutes(admin)
		vendorHandler.RegisterProtectedRoutes(admin)
		approvals.NewHandler(s.approvals).RegisterProtectedRoutes(admin)
	}
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.checks.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    statuses,
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
		"name":        "Treasurer",
		"description": "Policy-gated MNEE payment execution",
		"version":     "0.1.0",
		"chain":       "soneium-minato",
		"currency":    saga.Currency,
	})
}

// balanceHandler returns the treasury's MNEE balance
func (s *Server) balanceHandler(c *gin.Context) {
	ctx := c.Request.Context()

	balance, err := s.treasury.Balance(ctx)
	if err != nil {
		logging.L(ctx).Error("failed to get balance", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "balance_error",
			"message": "Failed to retrieve treasury balance",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"address":  s.treasury.Address(),
		"balance":  mnee.Format(balance),
		"currency": saga.Currency,
		"chain":    "soneium-minato",
		"chain_id": s.cfg.ChainID,
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
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
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"treasury", s.treasury.Address(),
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Sample DB pool stats into Prometheus gauges
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

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

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Close chain connection
	if err := s.treasury.Close(); err != nil {
		s.logger.Error("treasury close error", "error", err)
	}

	// Close database connection pool
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

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
