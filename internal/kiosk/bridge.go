package kiosk

import (
	"context"
	"runtime"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/Trivenidigital/Vizora-sub012/internal/contentcache"
	"github.com/Trivenidigital/Vizora-sub012/internal/process"
	"github.com/Trivenidigital/Vizora-sub012/internal/protocol"
)

// DeviceInfo describes the display to the renderer and to fleetd.
type DeviceInfo struct {
	Identifier      string `json:"deviceIdentifier"`
	Paired          bool   `json:"paired"`
	Connected       bool   `json:"connected"`
	Hostname        string `json:"hostname,omitempty"`
	Platform        string `json:"platform"`
	PlatformVersion string `json:"platformVersion,omitempty"`
	Arch            string `json:"arch"`
	Version         string `json:"version"`

	// Commands lists the command types this agent handles.
	Commands []string       `json:"commands"`
	Renderer *process.Stats `json:"renderer,omitempty"`
}

// DeviceInfo reports identity and platform details. Platform lookups that
// fail leave their fields empty.
func (a *App) DeviceInfo(ctx context.Context) DeviceInfo {
	info := DeviceInfo{
		Identifier: a.identifier,
		Paired:     a.link.Credential() != nil,
		Connected:  a.link.Connected(),
		Platform:   runtime.GOOS,
		Arch:       runtime.GOARCH,
		Version:    a.version,
		Commands:   a.dispatcher.Types(),
	}
	if hi, err := host.InfoWithContext(ctx); err == nil {
		info.Hostname = hi.Hostname
		if hi.Platform != "" {
			info.Platform = hi.Platform
		}
		info.PlatformVersion = hi.PlatformVersion
	}
	if rh, ok := a.host.(*RendererHost); ok {
		st := rh.Stats()
		info.Renderer = &st
	}
	return info
}

// SendHeartbeat sends a heartbeat now. No-op while disconnected.
func (a *App) SendHeartbeat(ctx context.Context) error {
	return a.link.SendHeartbeat(ctx)
}

// SetCurrentContent records what is playing for subsequent heartbeats.
func (a *App) SetCurrentContent(cc *protocol.CurrentContent) {
	a.link.SetCurrentContent(cc)
}

// LogImpression reports a completed playback.
func (a *App) LogImpression(imp protocol.Impression) {
	a.link.LogImpression(imp)
}

// LogError reports a playback or download failure.
func (a *App) LogError(ce protocol.ContentError) {
	a.link.LogError(ce)
}

// CacheDownload returns a local path for url, or url itself when caching fails.
func (a *App) CacheDownload(ctx context.Context, contentID, url, mimeType string) string {
	return a.cache.Download(ctx, contentID, url, mimeType)
}

// CacheGet returns the cached path of contentID.
func (a *App) CacheGet(contentID string) (string, bool) {
	return a.cache.CachedPath(contentID)
}

// CacheStats summarizes cache usage.
func (a *App) CacheStats() contentcache.Stats {
	return a.cache.Stats()
}

// CacheEntries lists cached items, least recently used first.
func (a *App) CacheEntries() []contentcache.Entry {
	return a.cache.Entries()
}

// CacheClear removes every cached item.
func (a *App) CacheClear() {
	a.cache.Clear()
}

// ToggleFullscreen forwards to the host.
func (a *App) ToggleFullscreen() {
	a.host.ToggleFullscreen()
}

// Quit tells the host to exit and stops Run.
func (a *App) Quit() {
	a.host.Quit()
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
