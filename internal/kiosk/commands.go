package kiosk

import (
	"context"
	"fmt"
	"slices"

	"github.com/Trivenidigital/Vizora-sub012/internal/infrastructure/config"
	"github.com/Trivenidigital/Vizora-sub012/internal/protocol"
)

// Command types understood by the agent.
const (
	CmdReload       = "reload"
	CmdClearCache   = "clear_cache"
	CmdUpdate       = "update"
	CmdUnpair       = "unpair"
	CmdUpdateConfig = "update_config"
	CmdPushContent  = "push_content"
)

func (a *App) registerCommands() {
	a.dispatcher.Register(CmdReload, a.cmdReload)
	a.dispatcher.Register(CmdClearCache, a.cmdClearCache)
	a.dispatcher.Register(CmdUpdate, a.cmdUpdate)
	a.dispatcher.Register(CmdUnpair, a.cmdUnpair)
	a.dispatcher.Register(CmdUpdateConfig, a.cmdUpdateConfig)
	a.dispatcher.Register(CmdPushContent, a.cmdPushContent)
}

func (a *App) cmdReload(context.Context, map[string]any) error {
	a.host.Reload()
	return nil
}

func (a *App) cmdClearCache(context.Context, map[string]any) error {
	a.cache.Clear()
	a.host.Reload()
	return nil
}

// cmdUpdate acknowledges update requests. Agent binaries are replaced by the
// OS package manager, not in place.
func (a *App) cmdUpdate(_ context.Context, payload map[string]any) error {
	a.logger.Info("update requested, ignoring", "payload", payload)
	return nil
}

func (a *App) cmdUnpair(context.Context, map[string]any) error {
	a.link.Unpair()
	return nil
}

// cmdUpdateConfig merges payload into the agent config, applies what can be
// applied live and persists the result.
func (a *App) cmdUpdateConfig(_ context.Context, payload map[string]any) error {
	a.mu.Lock()
	next := *a.cfg
	changed := next.ApplyOverrides(payload)
	if len(changed) == 0 {
		a.mu.Unlock()
		return nil
	}
	if err := next.Validate(); err != nil {
		a.mu.Unlock()
		return fmt.Errorf("rejecting config update: %w", err)
	}
	a.cfg = &next
	a.mu.Unlock()

	for _, key := range changed {
		switch key {
		case "heartbeatInterval":
			a.link.SetHeartbeatInterval(next.GetHeartbeatInterval())
		case "cacheSize":
			a.cache.SetMaxSize(next.CacheMaxBytes())
		case "logLevel":
			a.logger.SetLevel(next.Logging.Level)
		}
	}
	if slices.Contains(changed, "apiUrl") || slices.Contains(changed, "realtimeUrl") {
		a.logger.Warn("endpoint change takes effect after restart")
	}
	a.logger.Info("config updated remotely", "changed", changed)

	if a.cfgPath == "" {
		return nil
	}
	if err := config.SaveAgent(a.cfgPath, &next); err != nil {
		return fmt.Errorf("persisting config update: %w", err)
	}
	return nil
}

// cmdPushContent prefetches pushed content so playback starts from disk.
// Accepted shapes: {"content": {...}, "duration": n} and a bare content object.
func (a *App) cmdPushContent(ctx context.Context, payload map[string]any) error {
	content, ok := payload["content"].(map[string]any)
	if !ok {
		content = payload
	}
	id, _ := content["id"].(string)
	if id == "" {
		id, _ = content["contentId"].(string)
	}
	url, _ := content["url"].(string)
	if id == "" || url == "" {
		return fmt.Errorf("push_content needs content id and url")
	}
	mime, _ := content["mimeType"].(string)

	path := a.cache.Download(ctx, id, url, mime)
	if path == url {
		a.LogError(protocol.ContentError{
			ContentID:    id,
			ErrorType:    "download_failed",
			ErrorMessage: "content could not be cached",
		})
	}
	a.link.SetCurrentContent(&protocol.CurrentContent{ContentID: id, Status: "pushed"})
	a.logger.Info("pushed content ready", "content_id", id, "cached", path != url)
	return nil
}
