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

	"github.com/riskguard/riskguard/internal/address"
	"github.com/riskguard/riskguard/internal/circuitbreaker"
	"github.com/riskguard/riskguard/internal/config"
	"github.com/riskguard/riskguard/internal/geo"
	"github.com/riskguard/riskguard/internal/health"
	"github.com/riskguard/riskguard/internal/history"
	"github.com/riskguard/riskguard/internal/idgen"
	"github.com/riskguard/riskguard/internal/llm"
	"github.com/riskguard/riskguard/internal/logging"
	"github.com/riskguard/riskguard/internal/metrics"
	"github.com/riskguard/riskguard/internal/phone"
	"github.com/riskguard/riskguard/internal/ratelimit"
	"github.com/riskguard/riskguard/internal/risk"
	"github.com/riskguard/riskguard/internal/scoring"
	"github.com/riskguard/riskguard/internal/security"
	"github.com/riskguard/riskguard/internal/traces"
	"github.com/riskguard/riskguard/internal/validation"
	"github.com/riskguard/riskguard/internal/webhooks"
	"github.com/riskguard/riskguard/migrations"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg     *config.Config
	version string

	db          *sql.DB // nil if using in-memory
	geoCache    *geo.Cache
	verifier    *geo.Verifier
	evaluator   *risk.Evaluator
	phones      phone.Normalizer
	addresses   address.Checker
	scoring     *scoring.Service
	health      *health.Registry
	rateLimiter *ratelimit.Limiter
	reviewHooks *webhooks.Dispatcher // nil when no receivers are configured

	// test overrides
	lookups   *geoLookups
	completer llm.Completer

	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	stopTracing  func(context.Context) error
	cancelRunCtx context.CancelFunc
	drainDelay   time.Duration

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

type geoLookups struct {
	primary   geo.CityLookup
	secondary geo.CityLookup
	postal    geo.PostalLookup
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithVersion sets the build version reported by the info and health endpoints.
func WithVersion(version string) Option {
	return func(s *Server) {
		s.version = version
	}
}

// WithGeoLookups replaces the configured geo providers (for testing).
// Nil lookups are treated as unavailable.
func WithGeoLookups(primary, secondary geo.CityLookup, postal geo.PostalLookup) Option {
	return func(s *Server) {
		s.lookups = &geoLookups{primary: primary, secondary: secondary, postal: postal}
	}
}

// WithCompleter replaces the chat-completion client used by model backends.
func WithCompleter(c llm.Completer) Option {
	return func(s *Server) {
		s.completer = c
	}
}

// WithDrainDelay sets how long Shutdown waits for load balancers to stop
// sending traffic before closing listeners.
func WithDrainDelay(d time.Duration) Option {
	return func(s *Server) {
		s.drainDelay = d
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		version:    "dev",
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		health:     health.NewRegistry(),
		drainDelay: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Storage: Postgres if DATABASE_URL is set, otherwise in-memory
	var (
		assessments risk.Store
		orders      history.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db

		riskStore := risk.NewPostgresStore(db)
		historyStore := history.NewPostgresStore(db)
		if cfg.IsDevelopment() {
			if err := migrations.Up(ctx, db, s.logger); err != nil {
				_ = db.Close()
				return nil, err
			}
		}
		assessments, orders = riskStore, historyStore
		s.health.Register("database", health.Database(db))
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		assessments, orders = risk.NewMemoryStore(), history.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	if err := s.setupGeo(); err != nil {
		return nil, err
	}
	s.setupBackends()

	gazetteer := geo.NewGazetteer()
	rules, err := risk.NewRuleSet(gazetteer, cfg.VelocityRuleExpr)
	if err != nil {
		return nil, fmt.Errorf("build rule set: %w", err)
	}
	var backend risk.Backend = risk.NewRuleEngine(rules)
	if cfg.RiskEvaluator == config.RiskModel {
		backend = risk.NewModelBackend(rules, s.completer, cfg.LLMModel, s.logger)
	}
	s.evaluator = risk.NewEvaluator(rules, backend)

	deps := scoring.Deps{
		Phones:      s.phones,
		Geo:         s.verifier,
		Classifier:  geo.DefaultClassifier(gazetteer),
		Addresses:   s.addresses,
		Evaluator:   s.evaluator,
		History:     orders,
		Recorder:    orders,
		Assessments: assessments,
		Orders:      orders,
		Logger:      s.logger,
	}
	if len(cfg.ReviewWebhookURLs) > 0 {
		targets := make([]webhooks.Target, 0, len(cfg.ReviewWebhookURLs))
		for _, u := range cfg.ReviewWebhookURLs {
			targets = append(targets, webhooks.Target{URL: u, Secret: cfg.ReviewWebhookSecret})
		}
		s.reviewHooks = webhooks.NewDispatcher(targets, webhooks.Options{Logger: s.logger})
		deps.Notifier = webhooks.NewReviewNotifier(s.reviewHooks)
		s.logger.Info("review webhooks enabled", "receivers", len(targets))
	}
	s.scoring = scoring.NewService(deps)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	return s, nil
}

// setupGeo builds the provider chain: ZipcodeStack first when a key is
// configured, Nominatim second, behind one breaker and one result cache.
func (s *Server) setupGeo() error {
	cache, err := geo.NewCache(s.cfg.GeoCacheTTL, s.cfg.GeoCacheMB)
	if err != nil {
		return err
	}
	s.geoCache = cache

	breaker := circuitbreaker.New(5, 30*time.Second)
	breaker.OnTransition(func(provider string, from, to circuitbreaker.State) {
		s.logger.Warn("geo provider circuit changed",
			"provider", provider, "from", from.String(), "to", to.String())
	})

	opts := geo.Options{
		Breaker:     breaker,
		Cache:       cache,
		Logger:      s.logger,
		Timeout:     s.cfg.GeoTimeout,
		MaxAttempts: s.cfg.GeoMaxAttempts,
	}
	switch {
	case s.lookups != nil:
		opts.Primary, opts.Secondary, opts.Postal = s.lookups.primary, s.lookups.secondary, s.lookups.postal
	default:
		if s.cfg.ZipcodeStackAPIKey != "" {
			zs := geo.NewZipcodeStack(s.cfg.ZipcodeStackURL, s.cfg.ZipcodeStackAPIKey, s.cfg.GeoTimeout)
			opts.Primary, opts.Postal = zs, zs
		} else {
			s.logger.Warn("ZIPCODESTACK_API_KEY not set; postal codes cannot be verified")
		}
		opts.Secondary = geo.NewNominatim(s.cfg.NominatimURL, s.cfg.NominatimUserAgent, s.cfg.GeoTimeout, s.cfg.NominatimRPS)
	}

	s.verifier = geo.NewVerifier(opts)
	s.health.RegisterOptional("geo", health.Breaker("geo", breaker, s.verifier.Providers()))
	s.logger.Info("geo providers configured", "providers", s.verifier.Providers())
	return nil
}

// setupBackends picks the phone normalizer and address checker. Model
// backends keep the local implementation as their fallback.
func (s *Server) setupBackends() {
	table := phone.NewTableNormalizer()
	heuristic := address.NewHeuristicChecker()
	s.phones, s.addresses = table, heuristic

	if !s.cfg.UsesModel() {
		return
	}
	if s.completer == nil {
		s.completer = llm.NewClient(s.cfg.LLMBaseURL, s.cfg.LLMAPIKey, s.cfg.LLMTimeout)
	}
	client := s.completer
	if s.cfg.PhoneNormalizer == config.PhoneModel {
		s.phones = phone.NewModelNormalizer(client, s.cfg.LLMFastModel, table, s.logger)
	}
	if s.cfg.AddressChecker == config.AddressModel {
		s.addresses = address.Fallback{
			Primary:   address.NewModelChecker(client, s.cfg.LLMModel, s.logger),
			Secondary: heuristic,
		}
	}
	s.logger.Info("model backends enabled",
		"phone", s.cfg.PhoneNormalizer, "address", s.cfg.AddressChecker,
		"evaluator", s.cfg.RiskEvaluator, "base_url", s.cfg.LLMBaseURL)
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

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.CORSOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	if s.cfg.RateLimitRPM > 0 {
		rl := ratelimit.DefaultConfig()
		rl.RequestsPerMinute = s.cfg.RateLimitRPM
		s.rateLimiter = ratelimit.New(rl)
		s.router.Use(s.rateLimiter.Middleware())
	}

	s.router.Use(metrics.Middleware())
	s.router.Use(traces.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Honor an upstream ID (load balancer, shop backend) when present.
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

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
		}
		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed", append(attrs, "client_ip", c.ClientIP())...)
		case status >= 400:
			logger.Warn("request completed", attrs...)
		case path == "/health/live" || path == "/health/ready" || path == "/metrics":
			logger.Debug("request completed", attrs...)
		default:
			logger.Info("request completed", attrs...)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.router.GET("/", s.infoHandler)
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	v1 := s.router.Group("/api/v1")
	scoring.NewHandler(s.scoring).RegisterRoutes(v1)

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "No route for " + c.Request.Method + " " + c.Request.URL.Path,
		})
	})
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
	healthy, checks := s.health.CheckAll(c.Request.Context())

	status, httpStatus := "healthy", http.StatusOK
	switch {
	case !healthy:
		status, httpStatus = "unhealthy", http.StatusServiceUnavailable
	case health.Degraded(checks):
		// Scoring still answers with ERROR checks when providers are down.
		status = "degraded"
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   s.version,
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
	if s.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "reason": "database"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	storage := "memory"
	if s.db != nil {
		storage = "postgres"
	}
	c.JSON(http.StatusOK, gin.H{
		"name":             "riskguard",
		"version":          s.version,
		"rule_set_version": risk.RuleSetVersion,
		"max_score":        risk.MaxScore,
		"evaluator":        s.evaluator.Backend(),
		"phone_normalizer": s.cfg.PhoneNormalizer,
		"address_checker":  s.cfg.AddressChecker,
		"geo_providers":    s.verifier.Providers(),
		"storage":          storage,
		"review_webhooks":  s.reviewHooks != nil,
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server and blocks until a signal, ctx cancellation or
// a listener error, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	stopTracing, err := traces.Init(runCtx, traces.Options{
		Endpoint:    s.cfg.OTLPEndpoint,
		Version:     s.version,
		SampleRatio: s.cfg.TraceSampleRatio,
	}, s.logger)
	if err != nil {
		// Scoring does not depend on tracing.
		s.logger.Warn("tracing init failed", "error", err)
	} else {
		s.stopTracing = stopTracing
	}

	if s.db != nil {
		if err := metrics.RegisterDB(s.db, "riskguard"); err != nil {
			s.logger.Warn("db pool metrics not registered", "error", err)
		}
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second, // provider retries and model calls on /analyze
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"env", s.cfg.Env,
			"rule_set", risk.RuleSetVersion,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	s.ready.Store(true)
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

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(s.drainDelay)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var shutdownErr error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			shutdownErr = err
		}
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.reviewHooks != nil {
		if err := s.reviewHooks.Close(ctx); err != nil {
			s.logger.Warn("review webhooks still in flight at shutdown", "error", err)
		}
	}

	if s.geoCache != nil {
		if err := s.geoCache.Close(); err != nil {
			s.logger.Error("geo cache close error", "error", err)
		}
	}

	if s.stopTracing != nil {
		if err := s.stopTracing(ctx); err != nil {
			s.logger.Error("tracer shutdown error", "error", err)
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
	return shutdownErr
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
