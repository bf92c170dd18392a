// Package protocol defines the JSON frames exchanged over the realtime link
// between a kiosk display and fleetd.
//
// Three frame types exist. A display sends "req" frames naming a method
// (heartbeat, content:impression, content:error); the gateway answers each
// with a "res" frame carrying the same id. The gateway pushes "event" frames
// (command, config, error) at any time.
//
// Both the server gateway (internal/api) and the device link
// (internal/devicelink) import this package so the wire format has a single
// definition.
package protocol
