package fleet

import (
	"errors"
	"time"

	"github.com/Trivenidigital/Vizora-sub012/internal/protocol"
)

// Live status values kept in the store. They mirror display.Status but
// also include StatusUnknown for store failures.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
	StatusUnknown = "unknown"
)

// Retention of short-lived telemetry.
const (
	HeartbeatTTL         = 5 * time.Minute
	ImpressionCounterTTL = 24 * time.Hour
	ErrorLogTTL          = time.Hour
	MaxErrorLog          = 10
	MaxQueuedCommands    = 100

	// OnlineWindow is how recent the last heartbeat must be for a display
	// to be reported online.
	OnlineWindow = 60 * time.Second

	recentErrorsShown = 5
)

var (
	// ErrNotFound is returned when the store holds no record for a display.
	ErrNotFound = errors.New("fleet: not found")

	// ErrInvalid is returned for malformed commands and reports.
	ErrInvalid = errors.New("fleet: invalid")
)

// StatusRecord is the live connection state of a display.
type StatusRecord struct {
	Status         string                   `json:"status"`
	LastHeartbeat  time.Time                `json:"lastHeartbeat"`
	ConnectionID   string                   `json:"socketId,omitempty"`
	OrganizationID string                   `json:"organizationId,omitempty"`
	Metrics        *protocol.Metrics        `json:"metrics,omitempty"`
	CurrentContent *protocol.CurrentContent `json:"currentContent,omitempty"`
}

// HeartbeatRecord is the most recent heartbeat of a display.
type HeartbeatRecord struct {
	DisplayID      string                   `json:"deviceId"`
	Timestamp      time.Time                `json:"timestamp"`
	Metrics        protocol.Metrics         `json:"metrics"`
	CurrentContent *protocol.CurrentContent `json:"currentContent,omitempty"`
}

// ErrorRecord is one entry of a display's recent content errors.
type ErrorRecord struct {
	DisplayID    string    `json:"deviceId"`
	ContentID    string    `json:"contentId"`
	ErrorType    string    `json:"errorType"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// DeviceStatus is the heartbeat-derived view of a display.
type DeviceStatus struct {
	Status         string                   `json:"status"`
	LastSeen       *time.Time               `json:"lastSeen"`
	Metrics        *protocol.Metrics        `json:"metrics,omitempty"`
	CurrentContent *protocol.CurrentContent `json:"currentContent,omitempty"`
	Error          string                   `json:"error,omitempty"`
}

// DeviceStats summarises today's playback and recent failures.
type DeviceStats struct {
	Impressions  int64         `json:"impressions"`
	Errors       int           `json:"errors"`
	RecentErrors []ErrorRecord `json:"recentErrors"`
}
