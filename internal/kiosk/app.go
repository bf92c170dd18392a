package kiosk

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Trivenidigital/Vizora-sub012/internal/contentcache"
	"github.com/Trivenidigital/Vizora-sub012/internal/devicelink"
	"github.com/Trivenidigital/Vizora-sub012/internal/infrastructure/config"
	"github.com/Trivenidigital/Vizora-sub012/internal/infrastructure/logging"
	"github.com/Trivenidigital/Vizora-sub012/internal/protocol"
	"github.com/Trivenidigital/Vizora-sub012/internal/sysmetrics"
)

// File names under the agent data directory.
const (
	credentialFile = "credential.json"
	identifierFile = "device-id"
	cacheDir       = "content-cache"
)

// Options configures an App.
type Options struct {
	Config *config.AgentConfig
	// ConfigPath enables hot reload and persistence of remote config updates.
	// Empty disables both.
	ConfigPath string
	Logger     *logging.Logger

	// Host defaults to a RendererHost when a renderer command is configured
	// and to HeadlessHost otherwise.
	Host    Host
	Version string
}

// runner is implemented by hosts that own a process, such as RendererHost.
type runner interface {
	Run(ctx context.Context) error
}

// App is the device application context.
type App struct {
	cfgPath string
	logger  *logging.Logger
	host    Host
	version string

	identifier string
	link       *devicelink.Link
	dispatcher *devicelink.Dispatcher
	cache      *contentcache.Manager
	sampler    *sysmetrics.Sampler
	pairing    *devicelink.PairingClient
	watcher    *config.AgentWatcher

	pairingNeeded chan struct{}
	retryDelay    time.Duration

	mu     sync.Mutex
	cfg    *config.AgentConfig
	cancel context.CancelFunc
}

// New builds the application context. Nothing runs until Run.
func New(opts Options) (*App, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("agent config is required")
	}
	if opts.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	cfg := opts.Config
	dataDir := cfg.Device.DataDir
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	a := &App{
		cfgPath:       opts.ConfigPath,
		logger:        opts.Logger,
		host:          opts.Host,
		version:       opts.Version,
		cfg:           cfg,
		pairingNeeded: make(chan struct{}, 1),
		retryDelay:    defaultRetryDelay,
	}
	if a.host == nil && cfg.Renderer.Command != "" {
		rh, err := NewRendererHost(cfg.Renderer, opts.Logger.With("component", "renderer"))
		if err != nil {
			return nil, err
		}
		a.host = rh
	}
	if a.host == nil {
		a.host = HeadlessHost{Logger: opts.Logger}
	}

	id, err := devicelink.LoadOrCreateIdentifier(filepath.Join(dataDir, identifierFile))
	if err != nil {
		return nil, err
	}
	a.identifier = id

	a.cache, err = contentcache.New(filepath.Join(dataDir, cacheDir), cfg.CacheMaxBytes(), opts.Logger.With("component", "cache"))
	if err != nil {
		return nil, err
	}

	a.sampler = sysmetrics.NewSampler(dataDir)
	a.pairing = devicelink.NewPairingClient(cfg.Device.APIURL)

	a.dispatcher = devicelink.NewDispatcher(opts.Logger.With("component", "commands"))
	a.registerCommands()

	a.link, err = devicelink.New(devicelink.Options{
		URL:               cfg.Device.RealtimeURL,
		Credentials:       devicelink.NewCredentialStore(filepath.Join(dataDir, credentialFile)),
		Dispatcher:        a.dispatcher,
		Metrics:           a.sampler,
		HeartbeatInterval: cfg.GetHeartbeatInterval(),
		Logger:            opts.Logger.With("component", "link"),
	})
	if err != nil {
		return nil, err
	}
	a.link.OnPairingRequired(a.requirePairing)
	a.link.OnConfig(a.applyServerConfig)

	if a.cfgPath != "" {
		a.watcher = config.NewAgentWatcher(a.cfgPath, opts.Logger.Logger)
		a.watcher.OnChange(a.applyAgentConfig)
	}

	return a, nil
}

// Identifier returns the persistent device identifier.
func (a *App) Identifier() string { return a.identifier }

// Config returns a copy of the active agent config.
func (a *App) Config() config.AgentConfig {
	a.mu.Lock()
	defer a.mu.Unlock()
	return *a.cfg
}

// Run starts the link, the pairing flow, the watchers and the renderer when
// one is configured, and blocks until ctx is cancelled, Quit is called, or one of them
// fails.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()
	defer cancel()

	a.logger.Info("kiosk agent starting",
		"device", a.identifier,
		"realtime_url", a.Config().Device.RealtimeURL,
		"paired", a.link.Credential() != nil,
	)

	if a.link.Credential() == nil {
		a.requirePairing()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.link.Run(ctx) })
	g.Go(func() error { return a.pairingLoop(ctx) })
	g.Go(func() error {
		if err := a.cache.Watch(ctx); err != nil {
			a.logger.Warn("cache watcher unavailable", "error", err)
		}
		return nil
	})
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(ctx) })
	}
	if r, ok := a.host.(runner); ok {
		g.Go(func() error { return r.Run(ctx) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	a.logger.Info("kiosk agent stopped")
	return err
}

// requirePairing wakes the pairing loop. Safe to call repeatedly.
func (a *App) requirePairing() {
	select {
	case a.pairingNeeded <- struct{}{}:
	default:
	}
}

// applyServerConfig handles the config event sent on connect.
func (a *App) applyServerConfig(ev protocol.ConfigEvent) {
	if ev.CacheSize > 0 {
		a.cache.SetMaxSize(ev.CacheSize)
	}
	a.logger.Debug("server config applied",
		"heartbeat_interval_ms", ev.HeartbeatInterval,
		"cache_size", ev.CacheSize,
	)
}

// applyAgentConfig handles a reloaded config file.
func (a *App) applyAgentConfig(cfg *config.AgentConfig) {
	a.mu.Lock()
	a.cfg = cfg
	a.mu.Unlock()

	a.link.SetHeartbeatInterval(cfg.GetHeartbeatInterval())
	a.cache.SetMaxSize(cfg.CacheMaxBytes())
	a.logger.SetLevel(cfg.Logging.Level)
	a.logger.Info("agent config reloaded")
}
