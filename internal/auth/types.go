package auth

import "errors"

// Role is the dashboard role carried in a user token issued by the
// organisation auth layer.
type Role string

const (
	// RoleViewer can see displays and pairing state.
	RoleViewer Role = "viewer"

	// RoleManager can pair displays and send them commands.
	RoleManager Role = "manager"

	// RoleAdmin can additionally read the audit trail.
	RoleAdmin Role = "admin"
)

// TokenTypeDevice is the "type" claim of every display credential.
const TokenTypeDevice = "device"

// Sentinel errors for token handling.
var (
	ErrTokenInvalid   = errors.New("invalid token")
	ErrTokenWrongType = errors.New("token is not a device credential")
	ErrForbidden      = errors.New("insufficient permissions")
)

// DeviceIdentity is what a display credential asserts about its holder.
type DeviceIdentity struct {
	DisplayID        string
	DeviceIdentifier string
	OrganizationID   string
}

// Principal is the authenticated dashboard user behind a request.
type Principal struct {
	UserID         string
	OrganizationID string
	Role           Role
}
