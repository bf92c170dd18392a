package display

import "errors"

// Domain errors for the display package.
var (
	// ErrNotFound is returned when no display matches the lookup.
	ErrNotFound = errors.New("display: not found")

	// ErrExists is returned when the ID or device identifier is already registered.
	ErrExists = errors.New("display: already exists")

	// ErrInvalid is returned when validation fails.
	ErrInvalid = errors.New("display: invalid")
)
