package protocol

import "time"

// Methods a display may invoke on the gateway.
const (
	MethodHeartbeat         = "heartbeat"
	MethodContentImpression = "content:impression"
	MethodContentError      = "content:error"
)

// Events pushed by the server.
const (
	EventCommand      = "command"
	EventConfig       = "config"
	EventError        = "error"
	EventDeviceStatus = "device:status"
)

// Error codes carried in ErrorShape.Code.
const (
	ErrCodeUnauthorized   = "UNAUTHORIZED"
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeUnknownMethod  = "UNKNOWN_METHOD"
	ErrCodeInternal       = "INTERNAL"
)

// Defaults advertised in the config event sent on connect.
const (
	DefaultHeartbeatIntervalMs = 15000
	DefaultCacheSizeBytes      = 500 * 1024 * 1024
)

// Metrics is the resource sample carried by each heartbeat.
type Metrics struct {
	CPUUsage    float64 `json:"cpuUsage"`
	MemoryUsage float64 `json:"memoryUsage"`
	StorageUsed int64   `json:"storageUsed"`
}

// CurrentContent names what the display is showing right now.
type CurrentContent struct {
	ContentID  string `json:"contentId"`
	PlaylistID string `json:"playlistId,omitempty"`
	Status     string `json:"status,omitempty"`
}

// Heartbeat is the params of the heartbeat method and the body of the
// legacy HTTP heartbeat.
type Heartbeat struct {
	Timestamp      time.Time       `json:"timestamp"`
	Metrics        Metrics         `json:"metrics"`
	CurrentContent *CurrentContent `json:"currentContent"`
	Status         string          `json:"status,omitempty"`
}

// Command is an instruction queued for or pushed to a display.
type Command struct {
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp,omitzero"`
}

// HeartbeatAck answers a heartbeat. Commands are drained from the queue
// and must be dispatched exactly as inline command events.
type HeartbeatAck struct {
	Success         bool      `json:"success"`
	NextHeartbeatIn int       `json:"nextHeartbeatIn,omitempty"`
	Commands        []Command `json:"commands"`
	Timestamp       time.Time `json:"timestamp,omitzero"`
	Error           string    `json:"error,omitempty"`
}

// ConfigEvent is sent once on connect.
type ConfigEvent struct {
	HeartbeatInterval int   `json:"heartbeatInterval"` // milliseconds
	CacheSize         int64 `json:"cacheSize"`         // bytes
	AutoUpdate        bool  `json:"autoUpdate"`
}

// DefaultConfigEvent returns the connect-time configuration.
func DefaultConfigEvent() ConfigEvent {
	return ConfigEvent{
		HeartbeatInterval: DefaultHeartbeatIntervalMs,
		CacheSize:         DefaultCacheSizeBytes,
		AutoUpdate:        true,
	}
}

// Impression reports one playback of a content item.
type Impression struct {
	ContentID            string   `json:"contentId"`
	PlaylistID           *string  `json:"playlistId,omitempty"`
	Duration             *int     `json:"duration,omitempty"`
	CompletionPercentage *float64 `json:"completionPercentage,omitempty"`
}

// ContentError reports a playback or download failure.
type ContentError struct {
	ContentID    string    `json:"contentId"`
	ErrorType    string    `json:"errorType"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	Timestamp    time.Time `json:"timestamp,omitzero"`
}

// Ack is the generic reply to impression and error reports.
type Ack struct {
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp,omitzero"`
	Error     string    `json:"error,omitempty"`
}

// StatusEvent is broadcast to dashboards when a display connects or drops.
type StatusEvent struct {
	DeviceID  string    `json:"deviceId"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorEvent is pushed before the gateway closes a rejected connection.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
