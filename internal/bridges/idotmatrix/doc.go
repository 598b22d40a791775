// Package idotmatrix bridges iDotMatrix display sessions onto MQTT.
//
// # Architecture
//
//	┌─────────────────┐          ┌─────────────────┐          ┌──────────────┐
//	│ Home Assistant  │   MQTT   │ iDotMatrix      │   BLE    │ iDotMatrix   │
//	│ or other client │◄────────►│ Bridge (pkg)    │◄────────►│ panels       │
//	└─────────────────┘          └─────────────────┘          └──────────────┘
//
// # Key Responsibilities
//
//   - Receive commands on {prefix}/command/{display_id} and acknowledge them
//   - Publish retained state and availability for every display
//   - Forward every session event to {prefix}/event/{display_id}/{type}
//   - Publish Home Assistant discovery configs
//   - Publish bridge health; the MQTT LWT marks the bridge offline
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package idotmatrix
