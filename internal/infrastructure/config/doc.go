// Package config handles loading and validating fleet configuration.
//
// Two configurations live here:
//   - Config: the fleetd server (HTTP API, realtime gateway, pairing, stores)
//   - AgentConfig: the kiosk agent running on each display
//
// Both follow the same loading order: defaults, then YAML, then
// environment variables (FLEETD_* for the server, KIOSK_* for the agent),
// then validation of the whole document with every problem reported at once.
//
// Security Considerations:
//   - Secrets (JWT signing keys, broker passwords) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// The agent config may change at runtime (remote update_config commands write
// it back with SaveAgent). AgentWatcher observes the file and hands reloaded
// values to registered handlers.
//
// Usage:
//
//	cfg, err := config.Load("configs/fleetd.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Server.Name)
package config
