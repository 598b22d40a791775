// Package mqtt provides MQTT client connectivity for the iDotMatrix bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support, restored on reconnect
//   - Last Will and Testament (LWT) so Home Assistant marks displays
//     unavailable when the bridge dies
//
// # Topic layout
//
//	idotmatrix/bridge/status             online|offline (retained, LWT)
//	idotmatrix/bridge/health             health report (retained)
//	idotmatrix/command/{display_id}      inbound commands
//	idotmatrix/ack/{display_id}          command acknowledgements
//	idotmatrix/state/{display_id}        optimistic display state (retained)
//	idotmatrix/availability/{display_id} online|offline (retained)
//	idotmatrix/event/{display_id}/{type} domain events
//	homeassistant/{component}/{node}/{object}/config  discovery (retained)
package mqtt
