// Package server wires the stores, services and HTTP routes of the
// front-desk API and runs them with graceful shutdown.
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
	"github.com/mbd888/gymops/internal/account"
	"github.com/mbd888/gymops/internal/auth"
	"github.com/mbd888/gymops/internal/config"
	"github.com/mbd888/gymops/internal/discount"
	"github.com/mbd888/gymops/internal/enrollment"
	"github.com/mbd888/gymops/internal/health"
	"github.com/mbd888/gymops/internal/logging"
	"github.com/mbd888/gymops/internal/metrics"
	"github.com/mbd888/gymops/internal/order"
	"github.com/mbd888/gymops/internal/plan"
	"github.com/mbd888/gymops/internal/ratelimit"
	"github.com/mbd888/gymops/internal/receipts"
	"github.com/mbd888/gymops/internal/retry"
	"github.com/mbd888/gymops/internal/security"
	"github.com/mbd888/gymops/internal/subscription"
	"github.com/mbd888/gymops/internal/traces"
	"github.com/mbd888/gymops/internal/validation"
)

// Version is reported by /health and attached to trace resources.
var Version = "0.1.0"

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and its dependencies.
type Server struct {
	cfg    *config.Config
	db     *sql.DB // nil when using in-memory stores
	logger *slog.Logger

	plans         []plan.Plan // injected catalog, skips the seed file
	catalog       *plan.Catalog
	planStore     plan.Store
	authMgr       *auth.Manager
	accounts      *account.Service
	discounts     *discount.Service
	subscriptions *subscription.Service
	receipts      *receipts.Service
	enrollment    *enrollment.Service
	reconciler    *enrollment.Reconciler
	rateLimiter   *ratelimit.Limiter
	health        *health.Registry

	router          *gin.Engine
	httpSrv         *http.Server
	shutdownTracing func(context.Context) error
	unregisterDB    func()
	cancelRunCtx    context.CancelFunc
	drainDelay      time.Duration

	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithPlans supplies the catalog directly instead of reading the seed file.
func WithPlans(plans []plan.Plan) Option {
	return func(s *Server) {
		s.plans = plans
	}
}

// WithDrainDelay sets how long Shutdown waits for load balancers to stop
// routing before closing listeners.
func WithDrainDelay(d time.Duration) Option {
	return func(s *Server) {
		s.drainDelay = d
	}
}

// New creates a new server instance.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		health:     health.NewRegistry(),
		drainDelay: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	shutdown, err := traces.Init(ctx, cfg.OTLPEndpoint, Version, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	s.shutdownTracing = shutdown

	var (
		accountStore    account.Store
		discountStore   discount.Store
		lineStore       subscription.Store
		receiptStore    receipts.Store
		commitStore     enrollment.CommitStore
		keyStore        auth.Store
		seedPlanStorage func(context.Context, []plan.Plan) error
	)

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		planStore := plan.NewPostgresStore(db)
		s.planStore = planStore
		seedPlanStorage = planStore.Upsert
		accountStore = account.NewPostgresStore(db)
		discountStore = discount.NewPostgresStore(db)
		lineStore = subscription.NewPostgresStore(db)
		receiptStore = receipts.NewPostgresStore(db)
		commitStore = enrollment.NewPostgresStore(db)
		keyStore = auth.NewPostgresStore(db)

		s.health.Register("database", health.DBChecker("database", db))
		if s.unregisterDB, err = metrics.RegisterDB(db); err != nil {
			s.logger.Warn("database pool metrics disabled", "error", err)
		}
	} else {
		s.logger.Info("using in-memory storage (data will not persist)")

		planStore := plan.NewMemoryStore()
		s.planStore = planStore
		seedPlanStorage = func(_ context.Context, plans []plan.Plan) error {
			planStore.Replace(plans)
			return nil
		}
		accountStore = account.NewMemoryStore()
		discountStore = discount.NewMemoryStore()
		lineStore = subscription.NewMemoryStore()
		receiptStore = receipts.NewMemoryStore()
		commitStore = enrollment.NewMemoryStore()
		keyStore = auth.NewMemoryStore()
	}

	if err := s.loadCatalog(ctx, seedPlanStorage); err != nil {
		s.closeDB()
		return nil, err
	}

	var signer *receipts.Signer
	if cfg.ReceiptHMACSecret != "" {
		signer = receipts.NewSigner(cfg.ReceiptHMACSecret)
	} else {
		s.logger.Warn("receipt signing disabled (no RECEIPT_HMAC_SECRET set)")
	}

	s.authMgr = auth.NewManager(keyStore)
	s.accounts = account.NewService(accountStore).WithLogger(s.logger)
	s.discounts = discount.NewService(discountStore).WithLogger(s.logger)
	s.subscriptions = subscription.NewService(lineStore).WithLogger(s.logger)
	s.receipts = receipts.NewService(receiptStore, signer)
	s.enrollment = enrollment.NewService(
		order.NewBuilder(s.catalog),
		commitStore,
		s.accounts,
		s.discounts,
		s.subscriptions,
		s.receipts,
	).WithLogger(s.logger).
		WithTimeout(cfg.CommitTimeout).
		WithRetryPolicy(retry.Policy{
			MaxAttempts: cfg.CommitMaxAttempts,
			BaseDelay:   100 * time.Millisecond,
			MaxDelay:    2 * time.Second,
		})
	s.reconciler = enrollment.NewReconciler(s.enrollment, commitStore, s.logger).
		WithInterval(cfg.ReconcileInterval)

	if err := s.bootstrapOperator(ctx); err != nil {
		s.closeDB()
		return nil, err
	}

	catalogSize := len(s.catalog.Plans())
	s.health.Register("catalog", health.CatalogChecker("catalog", func() int { return catalogSize }))
	s.health.Register("reconciler", health.LoopChecker("reconciler", s.reconciler.Running))

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	return s, nil
}

// loadCatalog seeds plan storage from the YAML file (or injected plans)
// and snapshots the catalog. The snapshot is fixed for the process lifetime.
func (s *Server) loadCatalog(ctx context.Context, seed func(context.Context, []plan.Plan) error) error {
	plans := s.plans
	if plans == nil && s.cfg.PlanCatalogPath != "" {
		loaded, err := plan.LoadSeedFile(s.cfg.PlanCatalogPath)
		switch {
		case err == nil:
			plans = loaded
		case errors.Is(err, os.ErrNotExist) && s.db != nil:
			s.logger.Warn("plan seed file not found, using stored catalog", "path", s.cfg.PlanCatalogPath)
		default:
			return fmt.Errorf("failed to load plan catalog: %w", err)
		}
	}
	if plans != nil {
		if err := seed(ctx, plans); err != nil {
			return fmt.Errorf("failed to seed plan catalog: %w", err)
		}
	}

	catalog, err := plan.LoadCatalog(ctx, s.planStore)
	if err != nil {
		return fmt.Errorf("failed to load plan catalog: %w", err)
	}
	s.catalog = catalog
	metrics.CatalogPlans.Set(float64(len(catalog.Plans())))
	s.logger.Info("plan catalog loaded", "plans", len(catalog.Plans()))
	return nil
}

// bootstrapOperator imports the configured operator key. In development a
// key is generated when none is configured so the API is usable locally.
func (s *Server) bootstrapOperator(ctx context.Context) error {
	if s.cfg.OperatorAPIKey != "" {
		if _, err := s.authMgr.ImportKey(ctx, s.cfg.OperatorName, "bootstrap", s.cfg.OperatorAPIKey); err != nil {
			return fmt.Errorf("failed to import operator key: %w", err)
		}
		s.logger.Info("operator key imported", "operator", s.cfg.OperatorName)
		return nil
	}
	if !s.cfg.IsDevelopment() {
		s.logger.Warn("no OPERATOR_API_KEY configured; mutation routes need a key from the store")
		return nil
	}
	raw, _, err := s.authMgr.GenerateKey(ctx, s.cfg.OperatorName, "development")
	if err != nil {
		return fmt.Errorf("failed to generate development operator key: %w", err)
	}
	s.logger.Warn("generated development operator key", "operator", s.cfg.OperatorName, "api_key", raw)
	return nil
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

	s.router.Use(logging.RequestIDMiddleware(s.logger))
	s.router.Use(logging.AccessLog())
	s.router.Use(metrics.Middleware())
	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(security.ParseOrigins(s.cfg.CORSAllowedOrigins)))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))
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
	if s.cfg.RateLimitPerMinute > 0 {
		rl := ratelimit.DefaultConfig()
		rl.RequestsPerMinute = s.cfg.RateLimitPerMinute
		s.rateLimiter = ratelimit.New(rl)
		v1.Use(s.rateLimiter.Middleware())
	}
	v1.Use(validation.MemberIDParamMiddleware())
	v1.Use(auth.Middleware(s.authMgr))

	protected := v1.Group("")
	protected.Use(auth.RequireAuth())

	plan.NewHandler(s.planStore).RegisterRoutes(v1)

	accountHandler := account.NewHandler(s.accounts)
	accountHandler.RegisterRoutes(v1)
	accountHandler.RegisterProtectedRoutes(protected)

	discountHandler := discount.NewHandler(s.discounts)
	discountHandler.RegisterRoutes(v1)
	discountHandler.RegisterProtectedRoutes(protected)

	subscription.NewHandler(s.subscriptions).RegisterRoutes(v1)
	receipts.NewHandler(s.receipts).RegisterRoutes(v1)

	enrollmentHandler := enrollment.NewHandler(s.enrollment)
	enrollmentHandler.RegisterRoutes(v1)
	enrollmentHandler.RegisterProtectedRoutes(protected)

	auth.NewHandler(s.authMgr).RegisterProtectedRoutes(protected)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	rep := s.health.Check(ctx)
	status, code := "healthy", http.StatusOK
	if !rep.Healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	c.JSON(code, HealthResponse{
		Status:    status,
		Version:   Version,
		Checks:    rep.Checks,
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

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Start launches background loops. Run calls it; tests may call it directly.
func (s *Server) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	go func() {
		metrics.BackgroundLoops.WithLabelValues("reconciler").Set(1)
		defer metrics.BackgroundLoops.WithLabelValues("reconciler").Set(0)
		s.reconciler.Start(runCtx)
	}()

	s.ready.Store(true)
}

// Run starts the HTTP server with graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.cfg.CommitTimeout + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	s.Start(ctx)
	s.logger.Info("server ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		_ = s.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.httpSrv != nil && s.drainDelay > 0 {
		time.Sleep(s.drainDelay)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var shutdownErr error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			shutdownErr = err
		}
	}

	// In-flight commits have finished; stop background loops.
	s.reconciler.Stop()
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	if s.shutdownTracing != nil {
		if err := s.shutdownTracing(ctx); err != nil {
			s.logger.Error("tracing shutdown error", "error", err)
		}
	}
	s.closeDB()

	s.logger.Info("server stopped")
	return shutdownErr
}

func (s *Server) closeDB() {
	if s.db == nil {
		return
	}
	if s.unregisterDB != nil {
		s.unregisterDB()
	}
	if err := s.db.Close(); err != nil {
		s.logger.Error("database close error", "error", err)
		return
	}
	s.logger.Info("database connection closed")
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
