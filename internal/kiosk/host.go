package kiosk

import (
	"github.com/Trivenidigital/Vizora-sub012/internal/infrastructure/logging"
	"github.com/Trivenidigital/Vizora-sub012/internal/pairing"
)

// Host is implemented by the process that renders content.
type Host interface {
	// ShowPairing displays a pairing code (and its QR image) to the operator.
	ShowPairing(code *pairing.CodeResponse)
	// Paired is called once a credential has been obtained.
	Paired(displayID string)
	Reload()
	ToggleFullscreen()
	Quit()
}

// HeadlessHost logs host hooks. Used by the CLI and on displays without a
// local renderer attached.
type HeadlessHost struct {
	Logger *logging.Logger
}

func (h HeadlessHost) ShowPairing(code *pairing.CodeResponse) {
	h.Logger.Info("pairing code issued",
		"code", code.Code,
		"pairing_url", code.PairingURL,
		"expires_in_seconds", code.ExpiresInSeconds,
	)
}

func (h HeadlessHost) Paired(displayID string) {
	h.Logger.Info("display paired", "display_id", displayID)
}

func (h HeadlessHost) Reload()           { h.Logger.Info("reload requested") }
func (h HeadlessHost) ToggleFullscreen() { h.Logger.Info("fullscreen toggle requested") }
func (h HeadlessHost) Quit()             { h.Logger.Info("quit requested") }
