package kiosk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Trivenidigital/Vizora-sub012/internal/devicelink"
	"github.com/Trivenidigital/Vizora-sub012/internal/pairing"
)

// defaultRetryDelay spaces out failed code requests and credential writes.
const defaultRetryDelay = 5 * time.Second

// pairingLoop runs one pairing flow each time pairing becomes necessary.
func (a *App) pairingLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-a.pairingNeeded:
		}
		if a.link.Credential() != nil {
			continue
		}
		if err := a.pairUntilDone(ctx); err != nil && ctx.Err() == nil {
			a.logger.Error("pairing flow stopped", "error", err, "retry_in", a.retryDelay)
			if !a.sleep(ctx) {
				return nil
			}
			a.requirePairing()
		}
	}
}

// pairUntilDone requests codes and polls them until one is completed.
// An expired code is replaced with a fresh one.
func (a *App) pairUntilDone(ctx context.Context) error {
	for {
		code, err := a.RequestPairingCode(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			a.logger.Warn("pairing code request failed", "error", err, "retry_in", a.retryDelay)
			if !a.sleep(ctx) {
				return nil
			}
			continue
		}
		a.host.ShowPairing(code)

		cfg := a.Config()
		st, err := a.pairing.WaitForPairing(ctx, code.Code, cfg.GetPairingPollInterval(), a.logger)
		switch {
		case errors.Is(err, devicelink.ErrCodeGone):
			a.logger.Info("pairing code expired, requesting a new one", "code", code.Code)
			continue
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		return a.storeUntilDone(ctx, st)
	}
}

// storeUntilDone retries acceptCredential. fleetd consumes the pairing
// request once it reports paired, so the same token must be kept.
func (a *App) storeUntilDone(ctx context.Context, st *pairing.StatusResponse) error {
	for {
		err := a.acceptCredential(st)
		if err == nil || st.DeviceToken == "" {
			return err
		}
		a.logger.Error("accepting credential failed", "error", err, "retry_in", a.retryDelay)
		if !a.sleep(ctx) {
			return nil
		}
	}
}

// sleep waits one retry delay; false means ctx ended first.
func (a *App) sleep(ctx context.Context) bool {
	t := time.NewTimer(a.retryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// RequestPairingCode asks fleetd for a new pairing code for this display.
func (a *App) RequestPairingCode(ctx context.Context) (*pairing.CodeResponse, error) {
	cfg := a.Config()
	return a.pairing.RequestCode(ctx, a.identifier, cfg.Device.Nickname, a.pairingMetadata(ctx))
}

// CheckPairingStatus polls code once; a paired result is stored and the
// realtime link is started with it.
func (a *App) CheckPairingStatus(ctx context.Context, code string) (*pairing.StatusResponse, error) {
	st, err := a.pairing.CheckStatus(ctx, code)
	if err != nil {
		return nil, err
	}
	if st.Status == pairing.StatusPaired {
		if err := a.acceptCredential(st); err != nil {
			return nil, err
		}
	}
	return st, nil
}

func (a *App) acceptCredential(st *pairing.StatusResponse) error {
	if st.DeviceToken == "" {
		return fmt.Errorf("paired response carried no device token")
	}
	err := a.link.Connect(&devicelink.Credential{
		DeviceToken:      st.DeviceToken,
		DeviceIdentifier: a.identifier,
	})
	if err != nil {
		return fmt.Errorf("storing credential: %w", err)
	}
	a.logger.Info("pairing complete", "display_id", st.DisplayID)
	a.host.Paired(st.DisplayID)
	return nil
}

func (a *App) pairingMetadata(ctx context.Context) map[string]any {
	info := a.DeviceInfo(ctx)
	return map[string]any{
		"hostname":        info.Hostname,
		"platform":        info.Platform,
		"platformVersion": info.PlatformVersion,
		"arch":            info.Arch,
		"agentVersion":    info.Version,
		"commands":        info.Commands,
	}
}
