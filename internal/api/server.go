package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/gray-logic-mesh/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-mesh/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-mesh/internal/mesh"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Mesh is the coordinator surface used by the handlers.
// *mesh.Coordinator satisfies it.
type Mesh interface {
	Devices() []mesh.DeviceInfo
	DeviceCount() int
	GetDevice(sel mesh.DeviceSelector) (mesh.DeviceInfo, error)
	Remove(ctx context.Context, ieee mesh.EUI64) error
	Permit(ctx context.Context, duration time.Duration) error
	PermitWithKey(ctx context.Context, node mesh.EUI64, code []byte, duration time.Duration) error
	LocalIEEE() (mesh.EUI64, bool)
	LocalNWK() (mesh.NWK, bool)
	IsAddressingRoot() bool
	Events() *mesh.Broadcaster
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Network  config.NetworkConfig
	Logger   *logging.Logger
	Mesh     Mesh

	// Gatherer backs GET /metrics. Optional; the route is absent when nil.
	Gatherer prometheus.Gatherer

	// Checks are reported by GET /api/v1/health, keyed by component name.
	Checks map[string]HealthCheck

	Version string
}

// Server is the HTTP API server for the mesh core.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	secCfg   config.SecurityConfig
	netCfg   config.NetworkConfig
	logger   *logging.Logger
	mesh     Mesh
	gatherer prometheus.Gatherer
	checks   map[string]HealthCheck
	version  string

	server *http.Server
	hub    *Hub
	sub    mesh.SubscriptionID
	cancel context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, coordinator)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Mesh == nil {
		return nil, fmt.Errorf("coordinator is required")
	}

	s := &Server{
		cfg:      deps.Config,
		wsCfg:    deps.WS,
		secCfg:   deps.Security,
		netCfg:   deps.Network,
		logger:   deps.Logger,
		mesh:     deps.Mesh,
		gatherer: deps.Gatherer,
		checks:   deps.Checks,
		version:  deps.Version,
	}
	s.hub = NewHub(s.wsCfg, s.logger)

	return s, nil
}

// Start begins listening for HTTP connections.
//
// It attaches the WebSocket hub to the coordinator's lifecycle events, builds
// the router, and launches the HTTP listener in a background goroutine. The
// server can be stopped with Close().
//
// Parameters:
//   - ctx: Parent context for the hub's lifetime
//
// Returns:
//   - error: Always nil; listener failures are logged
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	s.sub = s.hub.Attach(s.mesh.Events())

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
// It detaches the hub from the event stream, then waits up to 10 seconds for
// in-flight requests to complete.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	s.mesh.Events().Unsubscribe(s.sub)
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
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
