package mqtt

import "strings"

// DefaultTopicPrefix is used when the configuration leaves topic_prefix empty.
const DefaultTopicPrefix = "relayhub"

// Topics builds the topic names of one relay instance. Everything lives
// under {prefix}/{site} so several relays can share a broker.
//
//	NewTopics("relayhub", "relay-001").Event("DEVICE_STATUS_CHANGED")
//	// relayhub/relay-001/events/DEVICE_STATUS_CHANGED
type Topics struct {
	base string
}

// NewTopics returns the topic builder for prefix and siteID.
// An empty siteID omits the site segment.
func NewTopics(prefix, siteID string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	if siteID = strings.Trim(siteID, "/"); siteID != "" {
		return Topics{base: prefix + "/" + siteID}
	}
	return Topics{base: prefix}
}

// Event is where broadcasts of eventType are mirrored.
func (t Topics) Event(eventType string) string {
	return t.base + "/events/" + eventType
}

// AllEvents matches every mirrored event.
func (t Topics) AllEvents() string {
	return t.base + "/events/+"
}

// Status carries the relay's retained online/offline presence.
func (t Topics) Status() string {
	return t.base + "/system/status"
}

// Command is where upstream systems publish a command for deviceID.
func (t Topics) Command(deviceID string) string {
	return t.base + "/commands/" + deviceID
}

// CommandRequests matches a command for any device. Replies sit one
// level deeper and are not matched.
func (t Topics) CommandRequests() string {
	return t.base + "/commands/+"
}

// CommandReply is where the outcome of a command request is published.
func (t Topics) CommandReply(deviceID string) string {
	return t.Command(deviceID) + "/reply"
}

// DeviceFromCommand extracts the device ID from a command request topic.
func (t Topics) DeviceFromCommand(topic string) (string, bool) {
	id, ok := strings.CutPrefix(topic, t.base+"/commands/")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}
