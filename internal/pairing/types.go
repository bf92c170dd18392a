package pairing

import (
	"time"

	"github.com/Trivenidigital/Vizora-sub012/internal/display"
)

// Status is the externally visible state of a pairing code.
type Status string

const (
	StatusPending Status = "pending"
	StatusPaired  Status = "paired"
)

// Request is a live pairing attempt, keyed by its code.
// Requests are never mutated after creation.
type Request struct {
	Code             string         `json:"code"`
	DeviceIdentifier string         `json:"deviceIdentifier"`
	Nickname         string         `json:"nickname"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
	ExpiresAt        time.Time      `json:"expiresAt"`
	QRCode           string         `json:"qrCode,omitempty"`
}

// Expired reports whether the request is past its expiry at now.
func (r *Request) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// CodeResponse is returned to a device that asked for a code.
type CodeResponse struct {
	Code             string    `json:"code"`
	QRCode           string    `json:"qrCode,omitempty"`
	ExpiresAt        time.Time `json:"expiresAt"`
	ExpiresInSeconds int       `json:"expiresInSeconds"`
	PairingURL       string    `json:"pairingUrl"`
}

// StatusResponse is returned to a polling device. Pending responses carry
// ExpiresAt; paired responses carry the credential.
type StatusResponse struct {
	Status         Status     `json:"status"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
	DeviceToken    string     `json:"deviceToken,omitempty"`
	DisplayID      string     `json:"displayId,omitempty"`
	OrganizationID string     `json:"organizationId,omitempty"`
}

// CompleteResponse is returned to the operator who completed pairing.
type CompleteResponse struct {
	Success bool           `json:"success"`
	Display DisplaySummary `json:"display"`
}

// DisplaySummary is the subset of a display shown after pairing.
type DisplaySummary struct {
	ID               string         `json:"id"`
	Nickname         string         `json:"nickname"`
	DeviceIdentifier string         `json:"deviceIdentifier"`
	Status           display.Status `json:"status"`
}

// Summary describes an active pairing without exposing the device identifier.
type Summary struct {
	Code      string    `json:"code"`
	Nickname  string    `json:"nickname"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}
