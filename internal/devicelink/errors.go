package devicelink

import "errors"

var (
	// ErrUnauthorized is returned when fleetd rejects the stored credential.
	ErrUnauthorized = errors.New("devicelink: unauthorized")

	// ErrNotConnected is returned by request helpers while no link is up.
	ErrNotConnected = errors.New("devicelink: not connected")

	// ErrCodeGone is returned when a pairing code is unknown or expired.
	ErrCodeGone = errors.New("devicelink: pairing code expired or unknown")
)
