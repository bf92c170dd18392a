// Package mqtt connects fleetd to an MQTT broker.
//
// fleetd publishes display status transitions and processed heartbeats so
// other services (alerting, BI, building management) can follow the fleet
// without polling the API, and subscribes to per-display command topics so
// those services can queue commands for a display.
//
// Topic layout (prefix from mqtt.topic_prefix, default "fleet"):
//
//	fleet/system/status            retained fleetd online/offline (LWT)
//	fleet/display/{id}/status      retained device:status event
//	fleet/display/{id}/heartbeat   processed heartbeat sample
//	fleet/display/{id}/event       impressions and content errors
//	fleet/display/{id}/command     inbound command {type, payload}
//
// The client reconnects automatically and restores its subscriptions.
// Handlers run with panic recovery.
package mqtt
