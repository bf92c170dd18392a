// Package api provides the HTTP API, the display realtime gateway and the
// dashboard WebSocket hub for fleetd.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// It provides:
//   - Public pairing endpoints (rate limited per client IP)
//   - Operator endpoints for completing pairing, listing displays and sending commands
//   - The /realtime gateway holding one link per paired display
//   - The /ws hub pushing device:status events to dashboards of the same organisation
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Authentication
//
// Two token kinds are accepted. Display credentials are minted at pairing and
// signed with the device secret. Operator tokens are issued by the
// organisation auth layer and verified with the user secret. Websocket
// clients may pass either as ?token= because browsers cannot set headers on
// upgrade requests.
//
// # Graceful Degradation
//
// Redis, MQTT, InfluxDB and the audit log are optional. Without them the
// fleet service keeps state in memory and skips the corresponding sinks.
package api
