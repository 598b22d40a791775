package mqtt

import "fmt"

// DefaultTopicPrefix is the root of every bridge topic.
const DefaultTopicPrefix = "idotmatrix"

// DefaultDiscoveryPrefix is Home Assistant's MQTT discovery root.
const DefaultDiscoveryPrefix = "homeassistant"

// Availability payloads. Home Assistant compares these literally.
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// Topics builds the bridge's MQTT topics under a configurable prefix.
//
//	topics := mqtt.NewTopics("idotmatrix", "homeassistant")
//	topics.State("3f2a...")   // "idotmatrix/state/3f2a..."
type Topics struct {
	Prefix          string
	DiscoveryPrefix string
}

// NewTopics returns topic builders, falling back to the defaults for empty prefixes.
func NewTopics(prefix, discoveryPrefix string) Topics {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	if discoveryPrefix == "" {
		discoveryPrefix = DefaultDiscoveryPrefix
	}
	return Topics{Prefix: prefix, DiscoveryPrefix: discoveryPrefix}
}

// Status is the bridge availability topic (retained, carries the LWT).
//
// Example: idotmatrix/bridge/status
func (t Topics) Status() string {
	return fmt.Sprintf("%s/bridge/status", t.Prefix)
}

// Health is the bridge health report topic.
//
// Example: idotmatrix/bridge/health
func (t Topics) Health() string {
	return fmt.Sprintf("%s/bridge/health", t.Prefix)
}

// Command is where commands for one display arrive.
//
// Example: idotmatrix/command/{display_id}
func (t Topics) Command(displayID string) string {
	return fmt.Sprintf("%s/command/%s", t.Prefix, displayID)
}

// Ack carries command acknowledgements for one display.
func (t Topics) Ack(displayID string) string {
	return fmt.Sprintf("%s/ack/%s", t.Prefix, displayID)
}

// State carries the retained optimistic state of one display.
func (t Topics) State(displayID string) string {
	return fmt.Sprintf("%s/state/%s", t.Prefix, displayID)
}

// Availability carries the retained online/offline flag of one display.
func (t Topics) Availability(displayID string) string {
	return fmt.Sprintf("%s/availability/%s", t.Prefix, displayID)
}

// Event carries one domain event emitted by a display session.
//
// Example: idotmatrix/event/{display_id}/brightness_changed
func (t Topics) Event(displayID, eventType string) string {
	return fmt.Sprintf("%s/event/%s/%s", t.Prefix, displayID, eventType)
}

// AllCommands matches commands for every display.
func (t Topics) AllCommands() string {
	return fmt.Sprintf("%s/command/+", t.Prefix)
}

// Discovery is the Home Assistant discovery config topic for one entity.
//
// Example: homeassistant/light/idotmatrix_aabbccddeeff/display/config
func (t Topics) Discovery(component, nodeID, objectID string) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", t.DiscoveryPrefix, component, nodeID, objectID)
}

// HomeAssistantStatus is where Home Assistant announces its own restarts.
func (t Topics) HomeAssistantStatus() string {
	return fmt.Sprintf("%s/status", t.DiscoveryPrefix)
}
