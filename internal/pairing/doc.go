// Package pairing turns an anonymous kiosk into an organisation-scoped,
// credentialed display.
//
// A device asks for a short code, shows it (and its QR rendering) on
// screen, and polls. An operator enters the code in the dashboard, which
// calls Complete; the credential is written to the display registry and
// handed to the device on its next poll, at which point the code is
// consumed.
//
// Live requests sit behind a Store: MemoryStore for a single fleetd
// process, RedisStore when several instances share one code space.
package pairing
