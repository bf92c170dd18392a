package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementHeartbeat    = "display_heartbeat"
	measurementImpression   = "content_impression"
	measurementContentError = "content_error"
)

// HeartbeatMetrics are the resource readings a display reports.
type HeartbeatMetrics struct {
	CPUUsage    float64
	MemoryUsage float64
	StorageUsed int64
}

// WriteHeartbeat records one heartbeat sample. Non-blocking; a nil or
// disconnected client drops the point.
func (c *Client) WriteHeartbeat(displayID, organizationID string, m HeartbeatMetrics, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(heartbeatPoint(displayID, organizationID, m, at))
}

// WriteImpression records a content playback.
func (c *Client) WriteImpression(displayID, organizationID, contentID string, durationSec int, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(impressionPoint(displayID, organizationID, contentID, durationSec, at))
}

// WriteContentError records a playback failure.
func (c *Client) WriteContentError(displayID, organizationID, contentID, errorType string, at time.Time) {
	if !c.IsConnected() {
		return
	}
	point := write.NewPoint(
		measurementContentError,
		displayTags(displayID, organizationID),
		map[string]any{
			"content_id": contentID,
			"error_type": errorType,
			"count":      1,
		},
		at,
	)
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}

func heartbeatPoint(displayID, organizationID string, m HeartbeatMetrics, at time.Time) *write.Point {
	return write.NewPoint(
		measurementHeartbeat,
		displayTags(displayID, organizationID),
		map[string]any{
			"cpu_usage":    m.CPUUsage,
			"memory_usage": m.MemoryUsage,
			"storage_used": m.StorageUsed,
		},
		at,
	)
}

func impressionPoint(displayID, organizationID, contentID string, durationSec int, at time.Time) *write.Point {
	// content_id is a field, not a tag: content libraries are unbounded.
	return write.NewPoint(
		measurementImpression,
		displayTags(displayID, organizationID),
		map[string]any{
			"content_id": contentID,
			"duration":   durationSec,
			"count":      1,
		},
		at,
	)
}

func displayTags(displayID, organizationID string) map[string]string {
	tags := map[string]string{"display_id": displayID}
	if organizationID != "" {
		tags["organization_id"] = organizationID
	}
	return tags
}
