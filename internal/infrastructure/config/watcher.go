package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// AgentChangeHandler receives a freshly loaded agent config.
type AgentChangeHandler func(cfg *AgentConfig)

// AgentWatcher reloads the agent config file when it changes on disk.
// Bursts of writes are debounced so editors and atomic renames trigger one reload.
type AgentWatcher struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	handlers []AgentChangeHandler
}

// NewAgentWatcher creates a watcher for the agent config at path.
func NewAgentWatcher(path string, logger *slog.Logger) *AgentWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &AgentWatcher{
		path:     path,
		debounce: 300 * time.Millisecond,
		logger:   logger,
	}
}

// OnChange registers a handler called after each successful reload.
func (w *AgentWatcher) OnChange(h AgentChangeHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, h)
}

// Run watches until ctx is cancelled.
//
// The parent directory is watched rather than the file itself so that
// atomic replace-by-rename (as SaveAgent does) keeps being observed.
func (w *AgentWatcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	target := filepath.Clean(w.path)
	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, w.reload)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("agent config watcher error", "error", err)
		}
	}
}

func (w *AgentWatcher) reload() {
	cfg, err := LoadAgent(w.path)
	if err != nil {
		w.logger.Error("agent config reload failed", "path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	handlers := make([]AgentChangeHandler, len(w.handlers))
	copy(handlers, w.handlers)
	w.mu.Unlock()

	for _, h := range handlers {
		h(cfg)
	}

	w.logger.Info("agent config reloaded", "path", w.path)
}
