package display

import (
	"maps"
	"time"
)

// Status is the connectivity state of a display.
type Status string

const (
	// StatusPairing is set when a credential has been issued but the
	// display has not yet opened its realtime link.
	StatusPairing Status = "pairing"
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusError   Status = "error"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPairing, StatusOnline, StatusOffline, StatusError:
		return true
	}
	return false
}

// DefaultNickname is used when neither the operator nor the device named the display.
const DefaultNickname = "Unnamed Display"

// Display is the durable record of a kiosk display.
//
// DeviceIdentifier is unique across the registry. Credential is empty until
// pairing completes.
type Display struct {
	ID                string         `json:"id"`
	DeviceIdentifier  string         `json:"deviceIdentifier"`
	OrganizationID    string         `json:"organizationId,omitempty"`
	Nickname          string         `json:"nickname"`
	Status            Status         `json:"status"`
	Credential        string         `json:"-"`
	PairedAt          *time.Time     `json:"pairedAt,omitempty"`
	LastHeartbeat     *time.Time     `json:"lastHeartbeat,omitempty"`
	CurrentPlaylistID string         `json:"currentPlaylistId,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

// IsPaired reports whether a credential has been issued.
func (d *Display) IsPaired() bool {
	return d.Credential != ""
}

// Clone returns a copy that shares no mutable state with d.
func (d *Display) Clone() *Display {
	if d == nil {
		return nil
	}
	c := *d
	if d.PairedAt != nil {
		t := *d.PairedAt
		c.PairedAt = &t
	}
	if d.LastHeartbeat != nil {
		t := *d.LastHeartbeat
		c.LastHeartbeat = &t
	}
	c.Metadata = maps.Clone(d.Metadata)
	return &c
}

// Impression records one playback reported by a display.
type Impression struct {
	ID                   int64     `json:"id"`
	OrganizationID       string    `json:"organizationId"`
	DisplayID            string    `json:"displayId"`
	ContentID            string    `json:"contentId"`
	PlaylistID           *string   `json:"playlistId"`
	Duration             *int      `json:"duration"`
	CompletionPercentage *float64  `json:"completionPercentage"`
	CreatedAt            time.Time `json:"createdAt"`
}
