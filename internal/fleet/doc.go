// Package fleet tracks what connected displays are doing right now.
//
// The display registry (internal/display) holds durable records. This
// package holds the short-lived remainder: the live status of every
// realtime link, per-display command queues, the latest heartbeat, daily
// impression counters and a small ring of recent content errors. State
// lives behind the Store interface with an in-memory implementation for
// single-instance deployments and a Redis one for shared deployments.
//
// Service is the entry point used by the realtime gateway and the HTTP
// API. It fans processed telemetry out to InfluxDB (MetricsWriter) and
// MQTT (Publisher) when those are configured, and accepts commands from
// MQTT via SubscribeCommands.
package fleet
