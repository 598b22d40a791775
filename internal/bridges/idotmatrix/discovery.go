package idotmatrix

import (
	"fmt"
	"strings"

	"github.com/nerrad567/idotmatrix-bridge/internal/display"
	"github.com/nerrad567/idotmatrix-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/idotmatrix-bridge/internal/session"
)

// Home Assistant MQTT discovery.
// See: https://www.home-assistant.io/integrations/mqtt/#mqtt-discovery

const (
	manufacturer = "iDotMatrix"
	model        = "Pixel Display"
)

// DiscoveryEntry is one Home Assistant entity config and where it goes.
type DiscoveryEntry struct {
	Component string
	ObjectID  string
	Config    EntityConfig
}

// EntityConfig is the discovery payload for one entity. Only the fields
// relevant to the entity's component are set.
type EntityConfig struct {
	Name             string         `json:"name"`
	UniqueID         string         `json:"unique_id"`
	Icon             string         `json:"icon,omitempty"`
	EntityCategory   string         `json:"entity_category,omitempty"`
	Device           DeviceInfo     `json:"device"`
	Availability     []Availability `json:"availability"`
	AvailabilityMode string         `json:"availability_mode"`

	CommandTopic    string `json:"command_topic"`
	CommandTemplate string `json:"command_template,omitempty"`
	StateTopic      string `json:"state_topic,omitempty"`
	ValueTemplate   string `json:"value_template,omitempty"`

	// switch
	PayloadOn  string `json:"payload_on,omitempty"`
	PayloadOff string `json:"payload_off,omitempty"`
	StateOn    string `json:"state_on,omitempty"`
	StateOff   string `json:"state_off,omitempty"`

	// button
	PayloadPress string `json:"payload_press,omitempty"`

	// light, template schema
	Schema             string `json:"schema,omitempty"`
	CommandOnTemplate  string `json:"command_on_template,omitempty"`
	CommandOffTemplate string `json:"command_off_template,omitempty"`
	StateTemplate      string `json:"state_template,omitempty"`
	BrightnessTemplate string `json:"brightness_template,omitempty"`

	// select
	Options []string `json:"options,omitempty"`

	// text
	Max int `json:"max,omitempty"`
}

// DeviceInfo groups a display's entities into one Home Assistant device.
type DeviceInfo struct {
	Identifiers  []string    `json:"identifiers"`
	Connections  [][2]string `json:"connections"`
	Name         string      `json:"name"`
	Manufacturer string      `json:"manufacturer"`
	Model        string      `json:"model"`
	ViaDevice    string      `json:"via_device,omitempty"`
}

// Availability is one availability topic; all must report online.
type Availability struct {
	Topic string `json:"topic"`
}

// NodeID is the discovery node of a display, derived from its MAC.
//
// Example: "AA:BB:CC:DD:EE:FF" → "idotmatrix_aabbccddeeff"
func NodeID(mac string) string {
	return "idotmatrix_" + strings.ToLower(strings.ReplaceAll(mac, ":", ""))
}

func commandJSON(command string) string {
	return fmt.Sprintf(`{"command":%q}`, command)
}

// DiscoveryEntries builds the Home Assistant entities of one display.
func DiscoveryEntries(topics mqtt.Topics, bridgeID string, d display.Display) []DiscoveryEntry {
	node := NodeID(d.MACAddress)
	cmdTopic := topics.Command(d.ID)
	stateTopic := topics.State(d.ID)

	base := func(objectID, name string) EntityConfig {
		return EntityConfig{
			Name:     name,
			UniqueID: node + "_" + objectID,
			Device: DeviceInfo{
				Identifiers:  []string{node},
				Connections:  [][2]string{{"bluetooth", d.MACAddress}},
				Name:         d.Name,
				Manufacturer: manufacturer,
				Model:        model,
				ViaDevice:    bridgeID,
			},
			Availability: []Availability{
				{Topic: topics.Status()},
				{Topic: topics.Availability(d.ID)},
			},
			AvailabilityMode: "all",
			CommandTopic:     cmdTopic,
		}
	}

	light := base("screen", "Screen")
	light.Schema = "template"
	light.Icon = "mdi:dots-grid"
	light.StateTopic = stateTopic
	light.CommandOnTemplate = `{% if brightness is defined %}` +
		`{"command":"set_brightness","parameters":{"brightness":{{ brightness }}}}` +
		`{% else %}{"command":"turn_on"}{% endif %}`
	light.CommandOffTemplate = commandJSON(session.CommandTurnOff)
	light.StateTemplate = `{{ 'on' if value_json.state.is_on else 'off' }}`
	light.BrightnessTemplate = `{{ value_json.state.brightness }}`

	flip := base("flip", "Flip screen")
	flip.Icon = "mdi:screen-rotation"
	flip.EntityCategory = "config"
	flip.StateTopic = stateTopic
	flip.PayloadOn = `{"command":"flip_screen","parameters":{"flipped":true}}`
	flip.PayloadOff = `{"command":"flip_screen","parameters":{"flipped":false}}`
	flip.ValueTemplate = `{{ 'ON' if value_json.state.screen_flipped else 'OFF' }}`
	flip.StateOn = "ON"
	flip.StateOff = "OFF"

	text := base("message", "Message")
	text.Icon = "mdi:message-text"
	text.StateTopic = stateTopic
	text.CommandTemplate = `{"command":"display_text","parameters":{"text":{{ value | tojson }}}}`
	text.ValueTemplate = `{{ value_json.state.last_message }}`
	text.Max = 255

	clock := base("clock_style", "Clock style")
	clock.Icon = "mdi:clock-digital"
	clock.StateTopic = stateTopic
	clock.Options = session.ClockStyles
	clock.CommandTemplate = `{"command":"set_clock_style","parameters":{"style":"{{ value }}"}}`
	clock.ValueTemplate = `{{ value_json.state.clock_style }}`

	effect := base("effect", "Effect")
	effect.Icon = "mdi:auto-fix"
	effect.StateTopic = stateTopic
	effect.Options = session.Effects
	effect.CommandTemplate = `{"command":"display_effect","parameters":{"effect":"{{ value }}"}}`
	effect.ValueTemplate = `{{ value_json.state.effect_mode }}`

	entries := []DiscoveryEntry{
		{Component: "light", ObjectID: "screen", Config: light},
		{Component: "switch", ObjectID: "flip", Config: flip},
		{Component: "text", ObjectID: "message", Config: text},
		{Component: "select", ObjectID: "clock_style", Config: clock},
		{Component: "select", ObjectID: "effect", Config: effect},
	}

	buttons := []struct {
		objectID, name, icon, payload string
	}{
		{"sync_time", "Sync time", "mdi:clock-check", commandJSON(session.CommandSyncTime)},
		{"freeze", "Freeze screen", "mdi:snowflake", commandJSON(session.CommandFreezeScreen)},
		{"reset", "Reset", "mdi:restart", commandJSON(session.CommandResetDevice)},
		{"chronograph_start", "Chronograph start", "mdi:timer-play", `{"command":"chronograph","parameters":{"action":"start"}}`},
		{"chronograph_stop", "Chronograph stop", "mdi:timer-pause", `{"command":"chronograph","parameters":{"action":"stop"}}`},
		{"chronograph_reset", "Chronograph reset", "mdi:timer-refresh", `{"command":"chronograph","parameters":{"action":"reset"}}`},
	}
	for _, btn := range buttons {
		cfg := base(btn.objectID, btn.name)
		cfg.Icon = btn.icon
		cfg.PayloadPress = btn.payload
		if btn.objectID == "reset" {
			cfg.EntityCategory = "config"
		}
		entries = append(entries, DiscoveryEntry{Component: "button", ObjectID: btn.objectID, Config: cfg})
	}
	return entries
}

// displayStub carries the identity of a display that no longer has a session.
func displayStub(e session.Event) display.Display {
	return display.Display{ID: e.DisplayID, MACAddress: e.MACAddress}
}
