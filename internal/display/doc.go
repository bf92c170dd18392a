// Package display provides the Device Registry for the kiosk fleet.
//
// A Display is the durable, organisation-scoped record of a kiosk screen:
// its hardware-derived identifier, the credential issued at pairing, its
// connectivity status and last heartbeat. Impressions reported by a display
// are stored alongside it.
//
// The Registry wraps a Repository (SQLite in production) and is
// intentionally read-through: the pairing service relies on a credential
// written by one request being visible to the very next poll.
package display
