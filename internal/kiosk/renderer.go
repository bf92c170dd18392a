package kiosk

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Trivenidigital/Vizora-sub012/internal/infrastructure/config"
	"github.com/Trivenidigital/Vizora-sub012/internal/infrastructure/logging"
	"github.com/Trivenidigital/Vizora-sub012/internal/pairing"
	"github.com/Trivenidigital/Vizora-sub012/internal/process"
)

// urlPlaceholder in renderer args is replaced with the player URL.
const urlPlaceholder = "{url}"

// RendererHost drives a supervised renderer process (a browser in kiosk
// mode). Pairing codes and the display id reach the player as query
// parameters; reload and fullscreen changes relaunch the process.
type RendererHost struct {
	cfg    config.RendererConfig
	logger *logging.Logger
	sup    *process.Supervisor

	mu         sync.Mutex
	query      url.Values
	fullscreen bool
}

// NewRendererHost builds a host for cfg. It does not start the renderer.
func NewRendererHost(cfg config.RendererConfig, logger *logging.Logger) (*RendererHost, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("renderer command is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid renderer url: %w", err)
	}
	h := &RendererHost{
		cfg:        cfg,
		logger:     logger,
		query:      url.Values{},
		fullscreen: cfg.Fullscreen,
	}
	h.sup = process.NewSupervisor(process.Config{
		Name:         "renderer",
		Binary:       cfg.Command,
		Args:         h.args(),
		RestartDelay: time.Duration(cfg.RestartDelay) * time.Second,
	}, logger)
	return h, nil
}

// Run supervises the renderer until ctx is cancelled.
func (h *RendererHost) Run(ctx context.Context) error {
	return h.sup.Run(ctx)
}

// Stats reports the renderer process state.
func (h *RendererHost) Stats() process.Stats {
	return h.sup.Stats()
}

func (h *RendererHost) ShowPairing(code *pairing.CodeResponse) {
	h.logger.Info("pairing code issued", "code", code.Code, "pairing_url", code.PairingURL)
	h.navigate(url.Values{"pairingCode": {code.Code}})
}

func (h *RendererHost) Paired(displayID string) {
	h.logger.Info("display paired", "display_id", displayID)
	h.navigate(url.Values{"displayId": {displayID}})
}

func (h *RendererHost) Reload() {
	h.sup.Restart(nil)
}

func (h *RendererHost) ToggleFullscreen() {
	h.mu.Lock()
	h.fullscreen = !h.fullscreen
	on := h.fullscreen
	h.mu.Unlock()
	h.logger.Info("fullscreen toggled", "fullscreen", on)
	h.sup.Restart(h.args())
}

// Quit is a no-op; the renderer stops when the agent's Run context ends.
func (h *RendererHost) Quit() {}

func (h *RendererHost) navigate(q url.Values) {
	h.mu.Lock()
	h.query = q
	h.mu.Unlock()
	h.sup.Restart(h.args())
}

// args renders the renderer command line for the current state.
func (h *RendererHost) args() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	target := h.cfg.URL
	if len(h.query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + h.query.Encode()
	}

	args := make([]string, 0, len(h.cfg.Args)+len(h.cfg.FullscreenArgs))
	if h.fullscreen {
		args = append(args, h.cfg.FullscreenArgs...)
	}
	for _, a := range h.cfg.Args {
		args = append(args, strings.ReplaceAll(a, urlPlaceholder, target))
	}
	return args
}
