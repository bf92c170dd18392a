// Package influxdb writes display telemetry to InfluxDB v2.
//
// Each heartbeat becomes a display_heartbeat point (cpu_usage,
// memory_usage, storage_used) tagged by display_id and organization_id.
// Impressions and content errors are written as content_impression and
// content_error points. Writes are batched and asynchronous; the store is
// optional and fleetd runs without it.
package influxdb
