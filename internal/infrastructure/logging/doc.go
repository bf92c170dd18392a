// Package logging provides structured logging for fleetd and the kiosk agent.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across both binaries.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Runtime level changes shared by derived loggers
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "fleetd", "1.0.0")
//	logger.Info("starting service", "port", 3000)
//	logger.Error("failed to connect", "error", err)
//
// # Security
//
// Never log device credentials or JWT secrets. Pairing codes are
// short-lived and may be logged; device tokens may not.
package logging
