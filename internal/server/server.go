// Package server wires the ConvoDock HTTP API together: stores, the dunning
// engine, lifecycle event fan-out, and the gin router.
package server

import (
	"context"
	"crypto/subtle"
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
	_ "github.com/lib/pq"

	"github.com/convodock/convodock/internal/billing"
	"github.com/convodock/convodock/internal/chatbot"
	"github.com/convodock/convodock/internal/config"
	"github.com/convodock/convodock/internal/health"
	"github.com/convodock/convodock/internal/idgen"
	"github.com/convodock/convodock/internal/logging"
	"github.com/convodock/convodock/internal/mailer"
	"github.com/convodock/convodock/internal/metrics"
	"github.com/convodock/convodock/internal/payments"
	"github.com/convodock/convodock/internal/ratelimit"
	"github.com/convodock/convodock/internal/realtime"
	"github.com/convodock/convodock/internal/security"
	"github.com/convodock/convodock/internal/tenant"
	"github.com/convodock/convodock/internal/traces"
	"github.com/convodock/convodock/internal/validation"
	"github.com/convodock/convodock/internal/webhooks"
)

// Server is the ConvoDock API server.
type Server struct {
	cfg *config.Config

	tenants      tenant.Store
	subs         billing.Store
	bots         chatbot.Store
	hooks        webhooks.Store
	engine       *billing.Engine
	dunningTimer *billing.Timer
	botService   *chatbot.Service
	dispatcher   *webhooks.Dispatcher
	hub          *realtime.Hub
	rateLimiter  *ratelimit.Limiter
	checks       *health.Registry
	gateway      billing.Gateway
	notifier     billing.Notifier

	db            *sql.DB // nil when using in-memory stores
	router        *gin.Engine
	httpSrv       *http.Server
	logger        *slog.Logger
	traceShutdown func(context.Context) error
	cancelRunCtx  context.CancelFunc

	ready atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithGateway overrides the payment gateway (for testing).
func WithGateway(gw billing.Gateway) Option {
	return func(s *Server) {
		s.gateway = gw
	}
}

// WithNotifier overrides the email notifier (for testing).
func WithNotifier(n billing.Notifier) Option {
	return func(s *Server) {
		s.notifier = n
	}
}

// New creates a server instance with all components wired.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
		checks: health.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	// Storage: Postgres when DATABASE_URL is set, in-memory otherwise.
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("connect to database %s: %w", maskDSN(cfg.DatabaseURL), err)
		}
		s.db = db

		s.tenants = tenant.NewPostgresStore(db)
		s.subs = billing.NewPostgresStore(db)
		s.bots = chatbot.NewPostgresStore(db)

		hookStore := webhooks.NewPostgresStore(db)
		if err := hookStore.Migrate(context.Background()); err != nil {
			return nil, fmt.Errorf("migrate webhook subscriptions: %w", err)
		}
		s.hooks = hookStore

		s.checks.Register("database", func(ctx context.Context) health.Status {
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
		s.logger.Info("using postgres storage", "dsn", maskDSN(cfg.DatabaseURL))
	} else {
		s.tenants = tenant.NewMemoryStore()
		s.subs = billing.NewMemoryStore()
		s.bots = chatbot.NewMemoryStore()
		s.hooks = webhooks.NewMemoryStore()
		s.logger.Info("using in-memory storage (set DATABASE_URL for persistence)")
	}

	// Payment gateway: real Stripe in production, simulated otherwise.
	if s.gateway == nil {
		if cfg.StripeSecretKey != "" {
			s.gateway = payments.NewStripeGateway(cfg.StripeSecretKey)
			s.logger.Info("stripe gateway configured")
		} else {
			s.gateway = payments.NewSimulatedGateway()
			s.logger.Info("payment gateway simulated (set STRIPE_SECRET_KEY for real charges)")
		}
	}

	// Email notifications over SMTP, or a no-op sink when unconfigured.
	if s.notifier == nil {
		if cfg.SMTPHost != "" {
			s.notifier = mailer.New(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPSender, s.logger)
		} else {
			s.notifier = &mailer.NopMailer{Logger: s.logger}
		}
	}

	// Tracing (no-op when OTLP endpoint is unset).
	shutdown, err := traces.Init(context.Background(), cfg.OTLPEndpoint, s.logger)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	s.traceShutdown = shutdown

	// Dunning engine and its periodic queue processor.
	s.engine = billing.NewEngine(billing.DunningConfig{
		RetrySchedule:     cfg.DunningRetryDays,
		MaxRetries:        cfg.DunningMaxRetries,
		SendNotifications: cfg.DunningNotifications,
		AutoCancel:        cfg.DunningAutoCancel,
		GracePeriodDays:   cfg.DunningGraceDays,
	}, s.subs, s.tenants, s.gateway, s.notifier, s.logger)
	s.dunningTimer = billing.NewTimer(s.engine, time.Duration(cfg.DunningIntervalMins)*time.Minute, s.logger)

	// Lifecycle events fan out to webhooks and the websocket hub.
	s.hub = realtime.NewHub(s.logger)
	s.dispatcher = webhooks.NewDispatcher(s.hooks)
	emitter := newLifecycleEmitter(webhooks.NewEmitter(s.dispatcher, s.logger), s.hub)
	s.engine.SetEmitter(emitter)

	s.botService = chatbot.NewService(s.bots, s.tenants, s.logger)
	s.botService.SetEvents(emitter)

	// Router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

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

	burst := s.cfg.RateLimitRPM / 6
	if burst < 5 {
		burst = 5
	}
	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: s.cfg.RateLimitRPM,
		BurstSize:         burst,
		CleanupInterval:   time.Minute,
	})
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.AllowedOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))
	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
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

// adminAuthMiddleware guards /v1/admin routes with a shared secret. In
// development mode with no secret configured, admin routes are open so the
// demo flow works out of the box.
func (s *Server) adminAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AdminSecret == "" {
			if s.cfg.IsProduction() {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
					"error":   "admin_disabled",
					"message": "Admin API is not configured",
				})
				return
			}
			c.Next()
			return
		}

		provided := c.GetHeader("X-Admin-Secret")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(s.cfg.AdminSecret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Invalid or missing admin secret",
			})
			return
		}
		c.Next()
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.livenessHandler)
	s.router.GET("/readyz", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	tenantHandler := tenant.NewHandler(s.tenants)
	billingHandler := billing.NewHandler(s.engine, s.subs, s.tenants)
	botHandler := chatbot.NewHandler(s.botService)
	hookHandler := webhooks.NewHandler(s.hooks, s.dispatcher)

	v1 := s.router.Group("/v1")
	tenantHandler.RegisterRoutes(v1)
	billingHandler.RegisterRoutes(v1)
	botHandler.RegisterRoutes(v1)
	hookHandler.RegisterRoutes(v1)

	// Live billing and chatbot lifecycle events.
	v1.GET("/events/ws", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})
	v1.GET("/events/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.hub.Stats())
	})

	admin := v1.Group("/admin")
	admin.Use(s.adminAuthMiddleware())
	tenantHandler.RegisterAdminRoutes(admin)
	billingHandler.RegisterAdminRoutes(admin)
}

func (s *Server) livenessHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
		return
	}

	healthy, statuses := s.checks.CheckAll(c.Request.Context())
	code := http.StatusOK
	status := "ready"
	if !healthy {
		code = http.StatusServiceUnavailable
		status = "degraded"
	}
	c.JSON(code, gin.H{"status": status, "checks": statuses})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server and background workers, blocking until the
// context is cancelled or a shutdown signal arrives.
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
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.hub.Run(runCtx)
	go s.dunningTimer.Start(runCtx)

	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

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

// Shutdown gracefully stops the server and its background workers.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.dunningTimer.Stop()
	s.logger.Info("dunning timer stopped")

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
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

// Router returns the gin router for testing.
func (s *Server) Router() *gin.Engine {
	return s.router
}
