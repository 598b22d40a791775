package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/idotmatrix-bridge/internal/audit"
	"github.com/nerrad567/idotmatrix-bridge/internal/bridges/idotmatrix"
	"github.com/nerrad567/idotmatrix-bridge/internal/display"
	"github.com/nerrad567/idotmatrix-bridge/internal/infrastructure/config"
	"github.com/nerrad567/idotmatrix-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/idotmatrix-bridge/internal/process"
	"github.com/nerrad567/idotmatrix-bridge/internal/session"
	"github.com/nerrad567/idotmatrix-bridge/internal/transport"
)

const (
	// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
	// to complete during shutdown.
	gracefulShutdownTimeout = 10 * time.Second

	// defaultCommandTimeout bounds a REST command, matching the MQTT bridge.
	defaultCommandTimeout = 30 * time.Second

	// defaultScanTimeout applies when neither the request nor Deps set one.
	defaultScanTimeout = 5 * time.Second

	// maxScanTimeout caps ?timeout= on the discovery endpoint.
	maxScanTimeout = 60 * time.Second
)

// HealthSource provides the bridge health snapshot for GET /health.
type HealthSource interface {
	Snapshot() idotmatrix.HealthMessage
}

// DaemonSource reports the supervised bluetoothd for GET /health.
type DaemonSource interface {
	Stats() process.Stats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Registry *display.Registry
	Sessions *session.Manager

	// Scanner is optional; without it GET /discovery returns 503.
	Scanner     transport.Scanner
	ScanTimeout time.Duration

	// Health is optional; without it GET /health reports session counts only.
	Health HealthSource

	// Audit is optional; without it GET /events returns 503.
	Audit audit.Repository

	// Daemon is set only when the bridge runs bluetoothd itself.
	Daemon DaemonSource

	CommandTimeout time.Duration
	Version        string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg            config.APIConfig
	wsCfg          config.WebSocketConfig
	secCfg         config.SecurityConfig
	logger         *logging.Logger
	registry       *display.Registry
	sessions       *session.Manager
	scanner        transport.Scanner
	scanTimeout    time.Duration
	health         HealthSource
	audit          audit.Repository
	daemon         DaemonSource
	commandTimeout time.Duration
	version        string
	hub            *Hub
	limiter        *ipRateLimiter
	server         *http.Server
	cancel         context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The WebSocket hub is created here and registered as a session event sink,
// so events flow to clients from the moment the server exists. The server
// does not listen until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("display registry is required")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if deps.Security.JWT.Enabled && deps.Security.JWT.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required when jwt is enabled")
	}

	s := &Server{
		cfg:            deps.Config,
		wsCfg:          deps.WS,
		secCfg:         deps.Security,
		logger:         deps.Logger,
		registry:       deps.Registry,
		sessions:       deps.Sessions,
		scanner:        deps.Scanner,
		scanTimeout:    deps.ScanTimeout,
		health:         deps.Health,
		audit:          deps.Audit,
		daemon:         deps.Daemon,
		commandTimeout: deps.CommandTimeout,
		version:        deps.Version,
	}
	if s.scanTimeout <= 0 {
		s.scanTimeout = defaultScanTimeout
	}
	if s.commandTimeout <= 0 {
		s.commandTimeout = defaultCommandTimeout
	}
	if rl := deps.Security.RateLimit; rl.Enabled && rl.RequestsPerMinute > 0 {
		s.limiter = newIPRateLimiter(rl.RequestsPerMinute, rl.Burst)
	}

	s.hub = NewHub(s.wsCfg, s.logger)
	s.sessions.AddSink(s.hub)

	return s, nil
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the routed HTTP handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and the rate limiter sweep, then launches the
// HTTP listener in a background goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	if s.limiter != nil {
		go s.limiter.sweepLoop(srvCtx)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
