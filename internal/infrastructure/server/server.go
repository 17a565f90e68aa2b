package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
	"go.uber.org/zap"

	apihttp "github.com/zhaoge0202/EnsoAI/internal/api/http"
	"github.com/zhaoge0202/EnsoAI/internal/api/middleware"
	"github.com/zhaoge0202/EnsoAI/internal/api/ws"
	"github.com/zhaoge0202/EnsoAI/internal/infrastructure/config"
	"github.com/zhaoge0202/EnsoAI/internal/infrastructure/logging"
	"github.com/zhaoge0202/EnsoAI/internal/infrastructure/monitoring"
	"github.com/zhaoge0202/EnsoAI/internal/providers/terminal"
	"github.com/zhaoge0202/EnsoAI/internal/service"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	router    *gin.Engine
	registry  *service.Registry
	terminals *terminal.Provider
	logger    *logging.Logger
	config    *config.Config
	metrics   *monitoring.Metrics
}

// Option configures a Server.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
	terminals  *terminal.Provider
}

// WithPrometheus registers collectors with reg and serves /metrics from it.
func WithPrometheus(reg *prometheus.Registry) Option {
	return func(o *options) {
		o.registerer = reg
		o.gatherer = reg
	}
}

// WithTerminalProvider replaces the provider built from configuration.
func WithTerminalProvider(p *terminal.Provider) Option {
	return func(o *options) { o.terminals = p }
}

// New creates a new server instance
func New(cfg *config.Config, logger *logging.Logger, opts ...Option) (*Server, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	o := options{registerer: prometheus.DefaultRegisterer, gatherer: prometheus.DefaultGatherer}
	for _, opt := range opts {
		opt(&o)
	}

	logger.Info("Initializing PTY host",
		zap.String("host", cfg.Server.Host),
		zap.String("port", cfg.Server.Port),
	)

	// Initialize metrics first (needed by other components)
	metrics := monitoring.NewMetricsWith(o.registerer)

	terminals := o.terminals
	if terminals == nil {
		var err error
		terminals, err = NewTerminalProvider(cfg, logger, metrics)
		if err != nil {
			return nil, err
		}
	}

	registry := service.NewRegistry(
		service.WithLogger(logger.Component("registry")),
		service.WithMetrics(metrics),
	)
	if err := registry.Register(terminals); err != nil {
		return nil, fmt.Errorf("failed to register terminal provider: %w", err)
	}

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.AccessLog(logger.Component("http")))
	router.Use(monitoring.Middleware(metrics, "/metrics"))
	cors := middleware.DefaultCORSConfig()
	switch {
	case cfg.Server.CORSLoopback:
		cors.Loopback = true
		cors.AllowOrigins = lo.Without(cfg.Server.AllowOrigins, "*")
	case len(cfg.Server.AllowOrigins) > 0:
		cors.AllowOrigins = cfg.Server.AllowOrigins
	}
	router.Use(middleware.CORS(cors))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		limits := middleware.DefaultRateLimitConfig()
		limits.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		limits.Burst = cfg.RateLimit.Burst
		router.Use(middleware.RateLimit(limits))
	}

	handlers := apihttp.NewHandlers(terminals, registry, metrics, logger.Component("api"))
	wsHandler := ws.NewHandler(terminals, metrics, logger.Component("ws"))
	registerRoutes(router, handlers, wsHandler)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(o.gatherer, promhttp.HandlerOpts{})))

	logger.Info("Server initialized successfully")

	return &Server{
		router:    router,
		registry:  registry,
		terminals: terminals,
		logger:    logger,
		config:    cfg,
		metrics:   metrics,
	}, nil
}

func registerRoutes(router *gin.Engine, h *apihttp.Handlers, wsHandler *ws.Handler) {
	router.GET("/", h.Root)
	router.GET("/health", h.Health)
	router.GET("/stats", h.Stats)

	// Service management
	router.GET("/services", h.ListServices)
	router.POST("/services/discover", h.DiscoverServices)
	router.POST("/services/execute", h.ExecuteService)

	// Interactive sessions
	router.POST("/terminals", h.CreateTerminal)
	router.GET("/terminals", h.ListTerminals)
	router.DELETE("/terminals", h.DestroyAllTerminals)
	router.POST("/terminals/destroy-under", h.DestroyTerminalsUnder)
	router.GET("/terminals/:id", h.GetTerminal)
	router.DELETE("/terminals/:id", h.DestroyTerminal)
	router.POST("/terminals/:id/input", h.WriteTerminal)
	router.POST("/terminals/:id/resize", h.ResizeTerminal)
	router.GET("/terminals/:id/stream", wsHandler.HandleTerminal)

	// One-shot commands
	router.POST("/commands/run", h.RunCommand)
	router.GET("/clis", h.DetectCLIs)
}

// Handler returns the HTTP handler serving all routes.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Terminals returns the terminal provider.
func (s *Server) Terminals() *terminal.Provider {
	return s.terminals
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Server.Host, s.config.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			s.Close()
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	if err != nil {
		s.logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	s.Close()
	return err
}

// Close destroys every session and flushes the logger.
func (s *Server) Close() {
	s.logger.Info("Shutting down server...")
	if n := s.terminals.KillAll(); n > 0 {
		s.logger.Info("Destroyed terminal sessions", zap.Int("count", n))
	}
	_ = s.logger.Sync()
}
