package main

import (
	"fmt"

	"github.com/Trivenidigital/Vizora-sub012/internal/infrastructure/config"
	"github.com/Trivenidigital/Vizora-sub012/internal/infrastructure/logging"
	"github.com/Trivenidigital/Vizora-sub012/internal/kiosk"
)

// newApp loads the agent config and builds the application context.
func newApp(configPath string) (*kiosk.App, error) {
	cfg, err := config.LoadAgent(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	log := logging.New(cfg.Logging, "kiosk", version)
	app, err := kiosk.New(kiosk.Options{
		Config:     cfg,
		ConfigPath: configPath,
		Logger:     log,
		Version:    version,
	})
	if err != nil {
		return nil, err
	}
	return app, nil
}
