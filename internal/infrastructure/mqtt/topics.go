package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is used when the config leaves topic_prefix empty.
const DefaultTopicPrefix = "fleet"

// Topic kinds under a display's subtree.
const (
	KindStatus    = "status"
	KindHeartbeat = "heartbeat"
	KindCommand   = "command"
	KindEvent     = "event"
)

// Topics builds fleet topic names under a common prefix:
//
//	{prefix}/system/status
//	{prefix}/display/{displayID}/{kind}
type Topics struct {
	prefix string
}

// NewTopics returns a builder rooted at prefix.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the root segment.
func (t Topics) Prefix() string {
	if t.prefix == "" {
		return DefaultTopicPrefix
	}
	return t.prefix
}

// SystemStatus is the retained fleetd online/offline topic (also the LWT).
//
// Example: fleet/system/status
func (t Topics) SystemStatus() string {
	return t.Prefix() + "/system/status"
}

// DisplayStatus carries device:status transitions for one display.
//
// Example: fleet/display/3f2a.../status
func (t Topics) DisplayStatus(displayID string) string {
	return t.display(displayID, KindStatus)
}

// DisplayHeartbeat carries processed heartbeat samples.
func (t Topics) DisplayHeartbeat(displayID string) string {
	return t.display(displayID, KindHeartbeat)
}

// DisplayCommand is where other services drop commands for a display.
func (t Topics) DisplayCommand(displayID string) string {
	return t.display(displayID, KindCommand)
}

// DisplayEvent carries impressions and content errors.
func (t Topics) DisplayEvent(displayID string) string {
	return t.display(displayID, KindEvent)
}

// AllDisplayCommands matches every display's command topic.
func (t Topics) AllDisplayCommands() string {
	return t.display("+", KindCommand)
}

// AllDisplayStatus matches every display's status topic.
func (t Topics) AllDisplayStatus() string {
	return t.display("+", KindStatus)
}

// ParseDisplayTopic splits {prefix}/display/{id}/{kind}.
func (t Topics) ParseDisplayTopic(topic string) (displayID, kind string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.Prefix()+"/display/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func (t Topics) display(displayID, kind string) string {
	return fmt.Sprintf("%s/display/%s/%s", t.Prefix(), displayID, kind)
}
