package pairing

import "errors"

// Domain errors for the pairing package.
var (
	// ErrAlreadyPaired is returned when a code is requested for a device
	// that already holds a credential.
	ErrAlreadyPaired = errors.New("pairing: device is already paired")

	// ErrCodeNotFound is returned for unknown (or already consumed) codes.
	ErrCodeNotFound = errors.New("pairing: code not found")

	// ErrCodeExpired is returned once for a code past its expiry; the
	// request is deleted, so later lookups return ErrCodeNotFound.
	ErrCodeExpired = errors.New("pairing: code expired")

	// ErrCodeGenerationExhausted is returned when every generated code
	// collided with a live one.
	ErrCodeGenerationExhausted = errors.New("pairing: unable to generate a unique code")

	// ErrInvalidRequest is returned for malformed input.
	ErrInvalidRequest = errors.New("pairing: invalid request")
)
