package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Trivenidigital/Vizora-sub012/internal/audit"
	"github.com/Trivenidigital/Vizora-sub012/internal/display"
	"github.com/Trivenidigital/Vizora-sub012/internal/fleet"
	"github.com/Trivenidigital/Vizora-sub012/internal/infrastructure/config"
	"github.com/Trivenidigital/Vizora-sub012/internal/infrastructure/logging"
	"github.com/Trivenidigital/Vizora-sub012/internal/pairing"
	"github.com/Trivenidigital/Vizora-sub012/internal/protocol"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is implemented by every infrastructure client.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ConnectionReporter reports broker connectivity for /metrics.
type ConnectionReporter interface {
	IsConnected() bool
	SubscriptionCount() int
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Security  config.SecurityConfig
	Logger    *logging.Logger
	Displays  *display.Registry
	Pairing   *pairing.Service
	Fleet     *fleet.Service
	AuditRepo audit.Repository   // optional
	DB        *sql.DB            // optional, pool stats for /metrics
	MQTT      ConnectionReporter // optional
	Health    map[string]HealthChecker
	Version   string
}

// Server is the HTTP API server for fleetd.
//
// It owns the HTTP listener, the device gateway, the dashboard hub and the
// pairing sweep. The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	displays  *display.Registry
	pairing   *pairing.Service
	fleet     *fleet.Service
	auditRepo audit.Repository
	auditCh   chan *audit.Entry
	db        *sql.DB
	mqtt      ConnectionReporter
	health    map[string]HealthChecker
	version   string
	startTime time.Time

	hub            *Hub
	gateway        *Gateway
	requestLimiter *RateLimiter
	statusLimiter  *RateLimiter
	server         *http.Server
	listener       net.Listener
	cancel         context.CancelFunc // cancels background goroutines on Close()
	wg             sync.WaitGroup
}

// New creates a new API server with the given dependencies and wires the
// fleet service to the gateway and hub.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Displays == nil {
		return nil, fmt.Errorf("display registry is required")
	}
	if deps.Pairing == nil {
		return nil, fmt.Errorf("pairing service is required")
	}
	if deps.Fleet == nil {
		return nil, fmt.Errorf("fleet service is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		displays:  deps.Displays,
		pairing:   deps.Pairing,
		fleet:     deps.Fleet,
		auditRepo: deps.AuditRepo,
		db:        deps.DB,
		mqtt:      deps.MQTT,
		health:    deps.Health,
		version:   deps.Version,
		startTime: time.Now(),
	}
	if s.auditRepo != nil {
		s.auditCh = make(chan *audit.Entry, auditChanSize)
	}

	if rl := deps.Config.RateLimit; rl.Enabled {
		s.requestLimiter = NewRateLimiter(rl.PairingRequestsRPM, rl.MaxClients)
		s.statusLimiter = NewRateLimiter(rl.PairingStatusRPM, rl.MaxClients)
	}

	s.hub = NewHub(deps.WS, deps.Logger)
	s.gateway = NewGateway(deps.WS, deps.Fleet, deps.Logger)

	s.fleet.SetDeliverer(s.gateway.Send)
	s.fleet.OnStatus(func(orgID string, ev protocol.StatusEvent) {
		s.hub.BroadcastToOrg(orgID, protocol.EventDeviceStatus, ev)
	})

	return s, nil
}

// Start begins listening for HTTP connections and launches the hub, the
// gateway, the pairing sweep and the audit writer. They all stop when ctx is
// cancelled or Close is called.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.wg.Go(func() { s.hub.Run(srvCtx) })
	s.wg.Go(func() { s.gateway.Run(srvCtx) })
	s.wg.Go(func() { s.pairing.Run(srvCtx) })
	if s.auditCh != nil {
		s.wg.Go(func() { s.drainAuditLog(srvCtx) })
	}

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port))
	if err != nil {
		s.cancel()
		s.wg.Wait()
		return fmt.Errorf("listening on %s:%d: %w", s.cfg.Host, s.cfg.Port, err)
	}
	s.listener = ln

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", ln.Addr().String(),
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", ln.Addr().String())
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server and waits for the background
// goroutines to exit.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	err := s.server.Shutdown(ctx)
	s.wg.Wait()
	if err != nil {
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
