// Package kiosk is the application context of the on-device agent.
//
// App owns every long-lived device component (realtime link, content cache,
// metrics sampler, pairing flow, config watcher) and exposes the bridge
// surface a renderer calls into. Host is the seam to whatever draws the
// screen; HeadlessHost logs instead of drawing.
package kiosk
